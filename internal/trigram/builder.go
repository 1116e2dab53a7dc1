package trigram

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/UpRoot-Company/uprootmcp/internal/scanner"
)

// Progress reports build progress to the caller.
type Progress func(scanned, indexed int)

// BuildStats summarizes one build.
type BuildStats struct {
	Scanned  int           `json:"scanned"`
	Indexed  int           `json:"indexed"`
	Skipped  int           `json:"skipped"`
	Pruned   int           `json:"pruned"`
	Dropped  int           `json:"dropped_trigrams"`
	Duration time.Duration `json:"duration"`
}

// Builder walks the workspace and (re)indexes changed files. A single
// builder lock serializes builds in-process; a flock serializes them
// across processes sharing the snapshot.
type Builder struct {
	index     *Index
	persister *Persister
	scanner   *scanner.Scanner
	root      string

	buildMu  sync.Mutex
	fileLock *flock.Flock
}

// NewBuilder creates a builder. lockPath guards the snapshot across
// processes; empty disables cross-process locking (tests).
func NewBuilder(index *Index, persister *Persister, sc *scanner.Scanner, root, lockPath string) *Builder {
	b := &Builder{
		index:     index,
		persister: persister,
		scanner:   sc,
		root:      root,
	}
	if lockPath != "" {
		b.fileLock = flock.New(lockPath)
	}
	return b
}

// Build walks the tree, re-indexing files whose mtime changed and pruning
// entries for files no longer present. The doc-frequency filter is applied
// last so it sees the final corpus.
func (b *Builder) Build(ctx context.Context, progress Progress) (*BuildStats, error) {
	b.buildMu.Lock()
	defer b.buildMu.Unlock()

	if b.fileLock != nil {
		locked, err := b.fileLock.TryLockContext(ctx, 250*time.Millisecond)
		if err != nil {
			return nil, fmt.Errorf("acquire builder lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("builder lock held by another process")
		}
		defer func() { _ = b.fileLock.Unlock() }()
	}

	b.index.mu.Lock()
	b.index.building = true
	b.index.mu.Unlock()
	defer func() {
		b.index.mu.Lock()
		b.index.building = false
		b.index.mu.Unlock()
		if b.persister != nil {
			b.persister.BuildFinished()
		}
	}()

	started := time.Now()
	stats := &BuildStats{}

	results, err := b.scanner.Scan(ctx, scanner.Options{
		RootDir:           b.root,
		MaxFileSize:       int64(b.index.opts.MaxFileBytes),
		IncludeExtensions: b.index.opts.IncludeExtensions,
	})
	if err != nil {
		return nil, err
	}

	visited := make(map[string]struct{})
	var visitedMu sync.Mutex

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.NumCPU())

	var progressMu sync.Mutex
	for result := range results {
		if result.Err != nil {
			continue
		}
		file := result.File

		visitedMu.Lock()
		visited[file.Path] = struct{}{}
		visitedMu.Unlock()

		progressMu.Lock()
		stats.Scanned++
		progressMu.Unlock()

		// Unchanged mtime means the snapshot entry is current.
		if mtime, ok := b.index.Contains(file.Path); ok && mtime.Equal(file.ModTime) {
			progressMu.Lock()
			stats.Skipped++
			progressMu.Unlock()
			continue
		}

		group.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			content, readErr := os.ReadFile(file.AbsPath)
			if readErr != nil {
				return nil // deleted mid-walk; prune pass handles it
			}
			b.index.Add(file.Path, content, file.ModTime)

			progressMu.Lock()
			stats.Indexed++
			scanned, indexed := stats.Scanned, stats.Indexed
			progressMu.Unlock()
			if progress != nil {
				progress(scanned, indexed)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	// Prune entries not seen this walk.
	for _, path := range b.index.Paths() {
		if _, ok := visited[path]; !ok {
			b.index.Remove(path)
			stats.Pruned++
		}
	}

	stats.Dropped = b.index.ApplyDocFreqFilter()
	stats.Duration = time.Since(started)

	if b.persister != nil {
		b.persister.MarkDirty()
	}
	return stats, nil
}
