package trigram

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario: build over a two-file fixture, snapshot, reload, search.
func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	snapshotPath := filepath.Join(dir, "trigram-index.json")
	now := time.Now()

	ix := NewIndex(DefaultOptions())
	ix.Add("a.ts", []byte("export const foo = 1"), now)
	ix.Add("b.ts", []byte("function foobar() { return foo; }"), now)

	p := NewPersister(ix, snapshotPath, "/project")
	require.NoError(t, p.Flush())

	reloaded := NewIndex(DefaultOptions())
	p2 := NewPersister(reloaded, snapshotPath, "/project")
	require.NoError(t, p2.Load())

	matches := reloaded.Search("foo", 10)
	require.Len(t, matches, 2)
	assert.Equal(t, "a.ts", matches[0].Path)
	assert.Equal(t, "b.ts", matches[1].Path)
}

func TestLoadRejectsWrongRoot(t *testing.T) {
	dir := t.TempDir()
	snapshotPath := filepath.Join(dir, "trigram-index.json")

	ix := NewIndex(DefaultOptions())
	ix.Add("a.go", []byte("package main"), time.Now())
	require.NoError(t, NewPersister(ix, snapshotPath, "/project-a").Flush())

	other := NewIndex(DefaultOptions())
	require.NoError(t, NewPersister(other, snapshotPath, "/project-b").Load())
	assert.Zero(t, other.Len())

	// The stale snapshot is deleted so the next build starts clean.
	_, err := os.Stat(snapshotPath)
	assert.True(t, os.IsNotExist(err))
}

func TestLoadDeletesCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	snapshotPath := filepath.Join(dir, "trigram-index.json")
	require.NoError(t, os.WriteFile(snapshotPath, []byte("{not json"), 0o644))

	ix := NewIndex(DefaultOptions())
	require.NoError(t, NewPersister(ix, snapshotPath, "/project").Load())
	assert.Zero(t, ix.Len())

	_, err := os.Stat(snapshotPath)
	assert.True(t, os.IsNotExist(err))
}

func TestMarkDirtyDeferredDuringBuild(t *testing.T) {
	dir := t.TempDir()
	snapshotPath := filepath.Join(dir, "trigram-index.json")

	ix := NewIndex(DefaultOptions())
	p := NewPersister(ix, snapshotPath, "/project")

	ix.mu.Lock()
	ix.building = true
	ix.mu.Unlock()

	ix.Add("a.go", []byte("package main"), time.Now())
	p.MarkDirty()

	// Nothing written while the build runs.
	_, err := os.Stat(snapshotPath)
	assert.True(t, os.IsNotExist(err))

	ix.mu.Lock()
	ix.building = false
	ix.mu.Unlock()
	p.BuildFinished()

	_, err = os.Stat(snapshotPath)
	assert.NoError(t, err)
}
