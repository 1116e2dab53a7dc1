package docindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func TestIndexAndSearch(t *testing.T) {
	ix := newMemIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Index(ctx, []*Document{
		{ID: "c1", Path: "docs/auth.md", Heading: "Authentication", Content: "How login tokens are issued and refreshed."},
		{ID: "c2", Path: "docs/deploy.md", Heading: "Deployment", Content: "Rolling restarts and health checks."},
	}))

	hits, err := ix.Search(ctx, "login token", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "c1", hits[0].ID)
	assert.NotEmpty(t, hits[0].MatchedTerms)
}

func TestSearchCamelCaseIdentifiers(t *testing.T) {
	ix := newMemIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Index(ctx, []*Document{
		{ID: "c1", Path: "docs/api.md", Content: "The getUserById helper loads a user record."},
	}))

	// The code tokenizer splits camelCase, so sub-token queries hit.
	hits, err := ix.Search(ctx, "user", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ID)
}

func TestDelete(t *testing.T) {
	ix := newMemIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Index(ctx, []*Document{
		{ID: "c1", Path: "a.md", Content: "alpha content"},
		{ID: "c2", Path: "b.md", Content: "alpha content too"},
	}))
	require.NoError(t, ix.Delete(ctx, []string{"c1"}))

	hits, err := ix.Search(ctx, "alpha", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c2", hits[0].ID)
	assert.Equal(t, 1, ix.Count())
}

func TestEmptyQuery(t *testing.T) {
	ix := newMemIndex(t)
	hits, err := ix.Search(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestTokenizeCode(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"getUserById", []string{"get", "user", "by", "id"}},
		{"parse_http_request", []string{"parse", "http", "request"}},
		{"HTTPHandler", []string{"http", "handler"}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := TokenizeCode(tt.input)
			for _, want := range tt.want {
				assert.Contains(t, got, want)
			}
		})
	}
}
