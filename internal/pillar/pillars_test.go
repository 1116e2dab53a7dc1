package pillar_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UpRoot-Company/uprootmcp/internal/engine"
	"github.com/UpRoot-Company/uprootmcp/internal/pillar"
	"github.com/UpRoot-Company/uprootmcp/internal/search"
)

// newFixtureEngine boots a full engine over a temp workspace in test mode.
func newFixtureEngine(t *testing.T, files map[string]string) *engine.Engine {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}

	t.Setenv("UPROOTMCP_MODE", "test")
	t.Setenv("UPROOTMCP_STORAGE_DIR", filepath.Join(t.TempDir(), "storage"))
	t.Setenv("UPROOTMCP_EAGER_DOC_EMBED", "true")

	eng, err := engine.Init(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	require.NoError(t, eng.Coordinator.BuildAll(context.Background(), nil))
	return eng
}

var fixtureFiles = map[string]string{
	"auth.ts": `import { token } from "./token";

export function login(user: string): string {
  return token(user);
}
`,
	"token.ts": `export function token(user: string): string {
  return "tok-" + user;
}
`,
	"docs/auth.md": `# Auth

Login issues a token per user session.

## Tokens

Tokens are opaque strings prefixed with tok-.
`,
	".env": "SECRET_KEY=hunter2\n",
}

func TestExploreQueryReturnsClusters(t *testing.T) {
	eng := newFixtureEngine(t, fixtureFiles)

	resp := eng.Pillars.Explore(context.Background(), pillar.Request{
		Query:  "login token",
		Limits: pillar.Limits{MaxResults: 5},
	})

	require.True(t, resp.Success, "status=%s message=%s", resp.Status, resp.Message)
	assert.NotEmpty(t, resp.Data.Code)
	require.NotNil(t, resp.Pack)
	assert.NotEmpty(t, resp.Pack.ID)
}

// Scenario: explore(paths=["."], view="full") on a fixture containing
// .env must block.
func TestExploreFullViewBlocksSensitive(t *testing.T) {
	eng := newFixtureEngine(t, fixtureFiles)

	resp := eng.Pillars.Explore(context.Background(), pillar.Request{
		Paths: []string{"."},
		View:  "full",
	})

	assert.False(t, resp.Success)
	assert.Equal(t, pillar.StatusBlocked, resp.Status)
}

func TestExploreFullViewAllowSensitive(t *testing.T) {
	eng := newFixtureEngine(t, fixtureFiles)

	resp := eng.Pillars.Explore(context.Background(), pillar.Request{
		Paths:          []string{"."},
		View:           "full",
		AllowSensitive: true,
	})
	require.True(t, resp.Success)

	var sawEnv bool
	for _, item := range resp.Data.Code {
		if item.Path == ".env" {
			sawEnv = true
			assert.Contains(t, item.Preview, "SECRET_KEY")
		}
	}
	assert.True(t, sawEnv)
}

func TestExplorePreviewRedactsSensitive(t *testing.T) {
	eng := newFixtureEngine(t, fixtureFiles)

	resp := eng.Pillars.Explore(context.Background(), pillar.Request{
		Paths: []string{".env"},
		View:  "preview",
	})
	require.True(t, resp.Success)
	require.Len(t, resp.Data.Code, 1)
	assert.NotContains(t, resp.Data.Code[0].Preview, "hunter2")
}

// Scenario: cursor paging replays the stored pack without re-searching.
func TestExploreCursorPaging(t *testing.T) {
	eng := newFixtureEngine(t, fixtureFiles)
	ctx := context.Background()

	first := eng.Pillars.Explore(ctx, pillar.Request{
		Query:  "token",
		Limits: pillar.Limits{MaxResults: 1},
	})
	require.True(t, first.Success)
	require.NotNil(t, first.Pack)
	assert.False(t, first.Pack.Hit)

	if first.Next == nil || first.Next.ItemsCursor == nil {
		t.Skip("fixture produced a single item window; nothing to page")
	}

	second := eng.Pillars.Explore(ctx, pillar.Request{
		PackID: first.Pack.ID,
		Cursor: &search.Cursor{Items: *first.Next.ItemsCursor},
		Limits: pillar.Limits{MaxResults: 1},
	})
	require.True(t, second.Success, "status=%s message=%s", second.Status, second.Message)
	require.NotNil(t, second.Pack)
	assert.True(t, second.Pack.Hit)

	third := eng.Pillars.Explore(ctx, pillar.Request{
		PackID: first.Pack.ID,
		Cursor: &search.Cursor{Items: *first.Next.ItemsCursor},
		Limits: pillar.Limits{MaxResults: 1},
	})
	require.True(t, third.Success)
	assert.Equal(t, second.Data, third.Data)
}

func TestExploreInvalidArgs(t *testing.T) {
	eng := newFixtureEngine(t, fixtureFiles)
	resp := eng.Pillars.Explore(context.Background(), pillar.Request{})
	assert.False(t, resp.Success)
	assert.Equal(t, pillar.StatusInvalidArgs, resp.Status)
}

func TestChangeResolvesTarget(t *testing.T) {
	eng := newFixtureEngine(t, fixtureFiles)

	resp := eng.Pillars.Change(context.Background(), pillar.Request{
		Target:  "token.ts",
		Snippet: "export function token(user: string): string {",
	})
	require.True(t, resp.Success, "status=%s message=%s", resp.Status, resp.Message)
	assert.NotNil(t, resp.Data.Extra["match"])
}

func TestChangeNoMatch(t *testing.T) {
	eng := newFixtureEngine(t, fixtureFiles)

	resp := eng.Pillars.Change(context.Background(), pillar.Request{
		Target:  "token.ts",
		Snippet: "function missing() {}",
	})
	assert.False(t, resp.Success)
	assert.Equal(t, pillar.StatusFailed, resp.Status)
	assert.Contains(t, resp.Code, "NO_MATCH")
}

func TestManageStatus(t *testing.T) {
	eng := newFixtureEngine(t, fixtureFiles)

	resp := eng.Pillars.Manage(context.Background(), pillar.Request{Op: "status"})
	require.True(t, resp.Success)
	assert.Contains(t, resp.Data.Extra, "graph")
	assert.Contains(t, resp.Data.Extra, "promotions")
	assert.Contains(t, resp.Data.Extra, "activity")
}

func TestManageInvalidateCascade(t *testing.T) {
	eng := newFixtureEngine(t, fixtureFiles)
	ctx := context.Background()

	// Promote both files, then cascade-invalidate the dependency.
	_, err := eng.UCG.EnsureLOD(ctx, "auth.ts", 2)
	require.NoError(t, err)
	_, err = eng.UCG.EnsureLOD(ctx, "token.ts", 2)
	require.NoError(t, err)

	resp := eng.Pillars.Manage(ctx, pillar.Request{
		Op:      "invalidate",
		Paths:   []string{"token.ts"},
		Cascade: true,
	})
	require.True(t, resp.Success)

	assert.Zero(t, int(eng.UCG.CurrentLOD("token.ts")))
	assert.LessOrEqual(t, int(eng.UCG.CurrentLOD("auth.ts")), 1)
}

func TestIntentParsing(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		navigate bool
		depth    pillar.Depth
	}{
		{"plain", "token validation", false, pillar.DepthNormal},
		{"navigation", "where is the login handler", true, pillar.DepthNormal},
		{"deep", "how does the auth flow work end to end", false, pillar.DepthDeep},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := pillar.ParseIntent(pillar.CategoryExplore, tt.query, nil, pillar.Constraints{})
			assert.Equal(t, tt.navigate, intent.Navigate)
			assert.Equal(t, tt.depth, intent.Constraints.Depth)
		})
	}
}

// Token budget: exceeding the per-response budget degrades the response
// with a budget_exceeded reason instead of failing.
func TestExploreTokenBudgetDegrades(t *testing.T) {
	files := map[string]string{}
	for k, v := range fixtureFiles {
		files[k] = v
	}
	files[".uprootmcp.yaml"] = "search:\n  token_budget: 250\n"

	eng := newFixtureEngine(t, files)

	resp := eng.Pillars.Explore(context.Background(), pillar.Request{
		Query:  "token",
		Limits: pillar.Limits{MaxResults: 5},
	})
	require.True(t, resp.Success, "status=%s message=%s", resp.Status, resp.Message)
	assert.Equal(t, pillar.StatusDegraded, resp.Status)
	assert.Contains(t, resp.Message, "budget_exceeded")
}
