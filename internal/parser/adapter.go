package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Adapter selects and wraps the active backend. The selection order for
// "auto" is native, then snapshot; an explicitly requested backend that
// fails to initialize falls through to the next candidate, and the failed
// backend's resources are released.
type Adapter struct {
	backend Backend
}

// Options configures adapter initialization.
type Options struct {
	// Backend is auto, wasm, native, or snapshot.
	Backend string
	// SnapshotDir holds recorded parses for the snapshot backend.
	SnapshotDir string
}

// NewAdapter initializes the highest-priority available backend.
func NewAdapter(opts Options) (*Adapter, error) {
	var order []string
	switch opts.Backend {
	case "", "auto":
		order = []string{"native", "snapshot"}
	case "wasm":
		order = []string{"wasm", "native", "snapshot"}
	default:
		order = []string{opts.Backend}
	}

	var firstErr error
	for _, name := range order {
		backend, err := construct(name, opts)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if !errors.Is(err, ErrBackendUnavailable) {
				slog.Warn("parser_backend_init_failed",
					slog.String("backend", name),
					slog.String("error", err.Error()))
			}
			continue
		}
		slog.Debug("parser_backend_selected", slog.String("backend", name))
		return &Adapter{backend: backend}, nil
	}

	return nil, fmt.Errorf("no parser backend available: %w", firstErr)
}

func construct(name string, opts Options) (Backend, error) {
	switch name {
	case "native":
		return NewNativeBackend()
	case "snapshot":
		return NewSnapshotBackend(opts.SnapshotDir)
	case "wasm":
		// The wasm backend ships in builds that embed grammar modules;
		// this build does not, so the priority chain moves on.
		return nil, fmt.Errorf("%w: wasm grammars not embedded", ErrBackendUnavailable)
	default:
		return nil, fmt.Errorf("unknown parser backend %q", name)
	}
}

// BackendName reports the active backend.
func (a *Adapter) BackendName() string { return a.backend.Name() }

// Capabilities reports the active backend's capabilities.
func (a *Adapter) Capabilities() Capabilities { return a.backend.Capabilities() }

// LanguageFor maps a path to its language id, or "".
func (a *Adapter) LanguageFor(path string) string { return a.backend.LanguageFor(path) }

// Parse extracts the full structure of one file.
func (a *Adapter) Parse(ctx context.Context, path string, content []byte) (*ParseResult, error) {
	return a.backend.Parse(ctx, path, content)
}

// Close releases the active backend.
func (a *Adapter) Close() error { return a.backend.Close() }
