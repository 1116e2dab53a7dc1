// Package scanner discovers indexable files in a workspace.
package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/UpRoot-Company/uprootmcp/internal/ignore"
)

// DefaultMaxFileSize caps files considered for indexing (5 MB).
const DefaultMaxFileSize = 5 * 1024 * 1024

// FileInfo describes one discovered file.
type FileInfo struct {
	// Path is normalized: root-relative, forward-slashed.
	Path    string
	AbsPath string
	Size    int64
	ModTime time.Time
}

// Result is either a discovered file or a walk error.
type Result struct {
	File FileInfo
	Err  error
}

// Options configures a scan.
type Options struct {
	// RootDir is the absolute workspace root.
	RootDir string
	// MaxFileSize skips larger files (default: DefaultMaxFileSize).
	MaxFileSize int64
	// IncludeExtensions whitelists extensions when non-empty (".go", ".md").
	IncludeExtensions []string
}

// Scanner walks the tree honoring ignore rules.
type Scanner struct {
	matcher *ignore.Matcher
}

// New creates a scanner for the given workspace root.
func New(absRoot string) (*Scanner, error) {
	matcher, err := ignore.NewMatcher(absRoot)
	if err != nil {
		return nil, err
	}
	return &Scanner{matcher: matcher}, nil
}

// Matcher exposes the ignore matcher for watcher-side filtering.
func (s *Scanner) Matcher() *ignore.Matcher {
	return s.matcher
}

// Scan streams discovered files. The channel closes when the walk ends or
// the context is cancelled.
func (s *Scanner) Scan(ctx context.Context, opts Options) (<-chan Result, error) {
	if opts.RootDir == "" {
		opts.RootDir = "."
	}
	absRoot, err := filepath.Abs(opts.RootDir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "scan", Path: absRoot, Err: fs.ErrInvalid}
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	extFilter := make(map[string]struct{}, len(opts.IncludeExtensions))
	for _, ext := range opts.IncludeExtensions {
		extFilter[strings.ToLower(ext)] = struct{}{}
	}

	results := make(chan Result, 64)

	go func() {
		defer close(results)

		walkErr := filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				results <- Result{Err: err}
				return nil
			}

			rel, relErr := filepath.Rel(absRoot, p)
			if relErr != nil || rel == "." {
				return nil
			}
			normalized := filepath.ToSlash(rel)

			if d.IsDir() {
				// Probe with a trailing pattern so directory ignores prune
				// the whole subtree in one check.
				if s.matcher.Ignored(normalized + "/") || s.matcher.Ignored(normalized) {
					return filepath.SkipDir
				}
				return nil
			}

			if !d.Type().IsRegular() {
				return nil
			}
			if s.matcher.Ignored(normalized) {
				return nil
			}
			if len(extFilter) > 0 {
				ext := strings.ToLower(filepath.Ext(normalized))
				if _, ok := extFilter[ext]; !ok {
					return nil
				}
			}

			fi, statErr := d.Info()
			if statErr != nil {
				results <- Result{Err: statErr}
				return nil
			}
			if fi.Size() > maxSize {
				return nil
			}

			select {
			case results <- Result{File: FileInfo{
				Path:    normalized,
				AbsPath: p,
				Size:    fi.Size(),
				ModTime: fi.ModTime(),
			}}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})

		if walkErr != nil && walkErr != ctx.Err() {
			results <- Result{Err: walkErr}
		}
	}()

	return results, nil
}
