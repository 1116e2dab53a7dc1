package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// SnapshotBackend replays recorded parse results from disk. It serves CI
// and tests that need deterministic parses without grammar binaries.
//
// Snapshot files live under <dir>/<xxhash-of-path>.json and contain a
// ParseResult plus the language id and content hash they were recorded for.
type SnapshotBackend struct {
	dir string
}

// snapshotRecord is the on-disk shape of one recorded parse.
type snapshotRecord struct {
	Path        string       `json:"path"`
	ContentHash string       `json:"content_hash,omitempty"`
	Result      *ParseResult `json:"result"`
}

// NewSnapshotBackend opens a snapshot directory.
// Returns ErrBackendUnavailable when the directory does not exist.
func NewSnapshotBackend(dir string) (*SnapshotBackend, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: snapshot dir %s", ErrBackendUnavailable, dir)
	}
	return &SnapshotBackend{dir: dir}, nil
}

// Name implements Backend.
func (b *SnapshotBackend) Name() string { return "snapshot" }

// Capabilities implements Backend. Snapshots replay whatever was recorded,
// including call sites, so structural queries are supported.
func (b *SnapshotBackend) Capabilities() Capabilities {
	return Capabilities{SupportsQueries: true}
}

// LanguageFor implements Backend.
func (b *SnapshotBackend) LanguageFor(path string) string {
	rec, err := b.load(path)
	if err != nil {
		return ""
	}
	return rec.Result.Language
}

// Parse implements Backend by replaying the recorded result. When the
// snapshot carries a content hash and the content drifted, the replay is
// rejected with a stale-snapshot error.
func (b *SnapshotBackend) Parse(ctx context.Context, path string, content []byte) (*ParseResult, error) {
	rec, err := b.load(path)
	if err != nil {
		return nil, err
	}
	if rec.ContentHash != "" {
		got := fmt.Sprintf("%016x", xxhash.Sum64(content))
		if got != rec.ContentHash {
			return nil, fmt.Errorf("snapshot stale for %s", path)
		}
	}
	return rec.Result, nil
}

// Record writes a parse result snapshot for later replay.
func (b *SnapshotBackend) Record(path string, content []byte, result *ParseResult) error {
	rec := snapshotRecord{
		Path:        path,
		ContentHash: fmt.Sprintf("%016x", xxhash.Sum64(content)),
		Result:      result,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(b.fileFor(path), data, 0o644)
}

// Close implements Backend.
func (b *SnapshotBackend) Close() error { return nil }

func (b *SnapshotBackend) fileFor(path string) string {
	sum := xxhash.Sum64String(strings.ToLower(path))
	return filepath.Join(b.dir, fmt.Sprintf("%016x.json", sum))
}

func (b *SnapshotBackend) load(path string) (*snapshotRecord, error) {
	data, err := os.ReadFile(b.fileFor(path))
	if err != nil {
		return nil, fmt.Errorf("%w: no snapshot for %s", ErrUnsupportedLanguage, path)
	}
	var rec snapshotRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt snapshot for %s: %w", path, err)
	}
	if rec.Result == nil {
		return nil, fmt.Errorf("corrupt snapshot for %s: empty result", path)
	}
	return &rec, nil
}

var _ Backend = (*SnapshotBackend)(nil)
