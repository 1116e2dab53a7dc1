package search

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "github.com/UpRoot-Company/uprootmcp/internal/errors"
	"github.com/UpRoot-Company/uprootmcp/internal/store"
	"github.com/UpRoot-Company/uprootmcp/internal/workspace"
)

func newPackStore(t *testing.T, ttl time.Duration) (*PackStore, *workspace.Workspace, string) {
	t.Helper()
	dir := t.TempDir()
	ws, err := workspace.New(dir, nil)
	require.NoError(t, err)

	st, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return NewPackStore(st, ws, ttl), ws, dir
}

func sampleItems() []PackItem {
	return []PackItem{
		{Role: RoleResult, Rank: 1, Path: "a.go", Preview: "func A()", Range: LineRange{Start: 1, End: 3}},
		{Role: RoleResult, Rank: 2, Path: "docs/a.md", Preview: "# A", IsDoc: true, ChunkID: "chunk-a"},
		{Role: RoleEvidence, Rank: 3, Path: "b.go", Preview: "func B()"},
		{Role: RoleResult, Rank: 4, Path: "c.go", Preview: "func C()"},
	}
}

func TestPackCreateAndGet(t *testing.T) {
	ps, _, _ := newPackStore(t, time.Minute)
	ctx := context.Background()

	pack, err := ps.Create(ctx, "auth", Options{MaxResults: 2}, sampleItems(), PackMeta{CodeHits: 3, DocHits: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, pack.PackID)

	loaded, err := ps.Get(ctx, pack.PackID)
	require.NoError(t, err)
	assert.Equal(t, "auth", loaded.Query)
	assert.Len(t, loaded.Items, 4)
}

func TestPackExpiry(t *testing.T) {
	ps, _, _ := newPackStore(t, time.Nanosecond)
	ctx := context.Background()

	pack, err := ps.Create(ctx, "q", Options{}, sampleItems(), PackMeta{})
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	_, err = ps.Get(ctx, pack.PackID)
	require.Error(t, err)
	assert.Equal(t, engerrors.KindNotFound, engerrors.KindOf(err))
}

func TestPackNotFound(t *testing.T) {
	ps, _, _ := newPackStore(t, time.Minute)
	_, err := ps.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, engerrors.ErrCodePackNotFound, engerrors.GetCode(err))
}

// Paging the same pack with the same cursors yields byte-identical items.
func TestPackCursorIdempotence(t *testing.T) {
	ps, _, _ := newPackStore(t, time.Minute)
	ctx := context.Background()

	pack, err := ps.Create(ctx, "q", Options{}, sampleItems(), PackMeta{})
	require.NoError(t, err)

	reloaded, err := ps.Get(ctx, pack.PackID)
	require.NoError(t, err)

	firstA, nextA := ps.Page(reloaded, 0, 2)
	firstB, nextB := ps.Page(reloaded, 0, 2)

	jsonA, _ := json.Marshal(firstA)
	jsonB, _ := json.Marshal(firstB)
	assert.Equal(t, jsonA, jsonB)
	require.NotNil(t, nextA)
	require.NotNil(t, nextB)
	assert.Equal(t, *nextA, *nextB)

	secondA, _ := ps.Page(reloaded, *nextA, 2)
	secondB, _ := ps.Page(reloaded, *nextB, 2)
	jsonA, _ = json.Marshal(secondA)
	jsonB, _ = json.Marshal(secondB)
	assert.Equal(t, jsonA, jsonB)
}

func TestPagePastEnd(t *testing.T) {
	ps, _, _ := newPackStore(t, time.Minute)
	pack := &EvidencePack{Items: sampleItems()}

	items, next := ps.Page(pack, 99, 2)
	assert.Empty(t, items)
	assert.Nil(t, next)

	items, next = ps.Page(pack, 2, 10)
	assert.Len(t, items, 2)
	assert.Nil(t, next)
}

func TestExpandContentCode(t *testing.T) {
	ps, ws, dir := newPackStore(t, time.Minute)
	ctx := context.Background()

	content := "line one\nline two\nline three\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte(content), 0o644))

	wanted := "line one\nline two"
	pack := &EvidencePack{
		RootFingerprint: ws.Fingerprint(),
		Items: []PackItem{{
			Role:        RoleResult,
			Path:        "a.go",
			Range:       LineRange{Start: 1, End: 2},
			ContentHash: workspace.HashContent([]byte(wanted)),
		}},
	}

	got, err := ps.ExpandContent(ctx, pack, 0, false)
	require.NoError(t, err)
	assert.Equal(t, wanted, got)
}

func TestExpandContentDriftDetected(t *testing.T) {
	ps, _, dir := newPackStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("changed content\n"), 0o644))

	pack := &EvidencePack{
		Items: []PackItem{{
			Role:        RoleResult,
			Path:        "a.go",
			Range:       LineRange{Start: 1, End: 1},
			ContentHash: "stale-hash",
		}},
	}

	_, err := ps.ExpandContent(ctx, pack, 0, false)
	require.Error(t, err)
	assert.Equal(t, engerrors.KindHashMismatch, engerrors.KindOf(err))
}

func TestExpandContentSensitiveBlocked(t *testing.T) {
	ps, _, dir := newPackStore(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SECRET=1\n"), 0o644))

	pack := &EvidencePack{
		Items: []PackItem{{Role: RoleResult, Path: ".env", Range: LineRange{Start: 1, End: 1}}},
	}

	_, err := ps.ExpandContent(ctx, pack, 0, false)
	require.Error(t, err)
	assert.Equal(t, engerrors.KindBlocked, engerrors.KindOf(err))

	// allowSensitive permits the read.
	got, err := ps.ExpandContent(ctx, pack, 0, true)
	require.NoError(t, err)
	assert.Contains(t, got, "SECRET")
}

func TestFingerprintMismatchForcesRegeneration(t *testing.T) {
	ps, _, _ := newPackStore(t, time.Minute)
	ctx := context.Background()

	pack, err := ps.Create(ctx, "q", Options{}, sampleItems(), PackMeta{})
	require.NoError(t, err)

	// Rewrite the stored payload with a foreign fingerprint.
	stale := *pack
	stale.RootFingerprint = "deadbeef00000000"
	payload, _ := json.Marshal(&stale)
	require.NoError(t, ps.store.SavePack(ctx, &store.PackRow{
		ID:        pack.PackID,
		CreatedAt: pack.CreatedAt,
		ExpiresAt: pack.ExpiresAt,
		Payload:   payload,
	}))

	_, err = ps.Get(ctx, pack.PackID)
	require.Error(t, err)
	assert.Equal(t, engerrors.ErrCodePackExpired, engerrors.GetCode(err))
}
