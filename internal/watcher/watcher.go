package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/UpRoot-Company/uprootmcp/internal/ignore"
	"github.com/UpRoot-Company/uprootmcp/internal/workspace"
)

// DefaultDebounce is the event coalescing window.
const DefaultDebounce = 200 * time.Millisecond

// Options configures the watcher.
type Options struct {
	Debounce time.Duration
	// StableSizeChecks requires this many consecutive equal size reads
	// before a config-file change is delivered (editors write in bursts).
	StableSizeChecks int
	// ConfigFiles get the stable-size treatment.
	ConfigFiles []string
}

// Watcher wraps fsnotify with recursive directory registration, ignore
// filtering, and debounced delivery.
type Watcher struct {
	ws       *workspace.Workspace
	matcher  *ignore.Matcher
	fsw      *fsnotify.Watcher
	debounce *Debouncer
	opts     Options
	done     chan struct{}
}

// New creates a watcher for the workspace.
func New(ws *workspace.Workspace, matcher *ignore.Matcher, opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.StableSizeChecks <= 0 {
		opts.StableSizeChecks = 2
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		ws:       ws,
		matcher:  matcher,
		fsw:      fsw,
		debounce: NewDebouncer(opts.Debounce),
		opts:     opts,
		done:     make(chan struct{}),
	}, nil
}

// Events returns the debounced batch channel.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.debounce.Events()
}

// Start registers the directory tree and begins translating events.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.ws.Root()); err != nil {
		return err
	}

	go w.loop(ctx)
	return nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr == nil && rel != "." {
			normalized := filepath.ToSlash(rel)
			if w.matcher.Ignored(normalized + "/") {
				return filepath.SkipDir
			}
		}
		return w.fsw.Add(p)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	normalized, err := w.ws.Normalize(event.Name)
	if err != nil {
		return
	}
	if w.matcher.Ignored(normalized) {
		// Ignore-file edits invalidate cached rules for their directory.
		if isIgnoreFile(normalized) {
			w.matcher.Invalidate(dirOf(normalized))
		}
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		// New directories get registered for future events.
		if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
			_ = w.addRecursive(event.Name)
			return
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		op = OpDelete
	default:
		return
	}

	if op == OpModify && w.isConfigFile(normalized) && !w.sizeStable(event.Name) {
		return
	}

	w.debounce.Add(FileEvent{Path: normalized, Operation: op})
}

// sizeStable polls until StableSizeChecks consecutive equal sizes, so
// half-written config files don't trigger reloads.
func (w *Watcher) sizeStable(absPath string) bool {
	var lastSize int64 = -1
	stable := 0
	for i := 0; i < w.opts.StableSizeChecks*3; i++ {
		info, err := os.Stat(absPath)
		if err != nil {
			return false
		}
		if info.Size() == lastSize {
			stable++
			if stable >= w.opts.StableSizeChecks {
				return true
			}
		} else {
			stable = 0
			lastSize = info.Size()
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func (w *Watcher) isConfigFile(normalized string) bool {
	base := filepath.Base(normalized)
	for _, name := range w.opts.ConfigFiles {
		if base == name {
			return true
		}
	}
	return false
}

// Close stops watching and releases fsnotify resources.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	return w.fsw.Close()
}

func isIgnoreFile(normalized string) bool {
	base := filepath.Base(normalized)
	return base == ".gitignore" || base == ".mcpignore"
}

func dirOf(normalized string) string {
	dir := filepath.ToSlash(filepath.Dir(normalized))
	if dir == "." {
		return ""
	}
	return dir
}
