package pillar

import (
	"context"
	"log/slog"
	"time"

	engerrors "github.com/UpRoot-Company/uprootmcp/internal/errors"
)

// eagerLoadTimeout bounds the whole pre-load phase. Expiry during hot-spot
// detection fails Preload with ErrCodeEagerLoadFail; the profile and graph
// phases stop early and keep what they already loaded.
const eagerLoadTimeout = 3 * time.Second

// hotspotGraphThreshold triggers graph pre-loading when at least this many
// hot-spots exist.
const hotspotGraphThreshold = 5

// EagerLoadingStrategy pre-fetches per-intent context so the pillar's
// first tool call hits warm caches. The core analyzers stay lazy; only
// this strategy front-loads work, guarded by intent flags.
type EagerLoadingStrategy struct {
	registry *Registry
}

// NewEagerLoadingStrategy creates the strategy over the tool registry.
func NewEagerLoadingStrategy(registry *Registry) *EagerLoadingStrategy {
	return &EagerLoadingStrategy{registry: registry}
}

// PreloadResult reports what was warmed.
type PreloadResult struct {
	Hotspots []Hotspot     `json:"hotspots,omitempty"`
	Profiles []FileProfile `json:"profiles,omitempty"`
	// GraphsLoaded is set when dependency/call-graph analysis ran.
	GraphsLoaded bool `json:"graphs_loaded,omitempty"`
}

// Preload runs the eager phase for an intent:
//   - understand: hot-spots
//   - navigation queries: file profiles for the targets
//   - deep depth or >= 5 hot-spots: dependency/call graphs
//
// Explicit include/exclude constraint flags override the heuristics.
func (s *EagerLoadingStrategy) Preload(ctx context.Context, octx *Context, intent ParsedIntent) (*PreloadResult, error) {
	if !octx.Flags.AdaptiveFlowEnabled {
		return &PreloadResult{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, eagerLoadTimeout)
	defer cancel()

	result := &PreloadResult{}

	if intent.Category == CategoryUnderstand {
		raw, err := s.registry.Call(ctx, octx, "hotspot_detector", map[string]any{})
		if err != nil {
			if ctx.Err() != nil {
				return nil, engerrors.New(engerrors.ErrCodeEagerLoadFail, "eager load timed out", ctx.Err())
			}
			slog.Debug("eager_hotspots_failed", slog.String("error", err.Error()))
		} else if hotspots, ok := raw.([]Hotspot); ok {
			result.Hotspots = hotspots
		}
	}

	if intent.Navigate {
		for _, target := range intent.Targets {
			raw, err := s.registry.Call(ctx, octx, "file_profiler", map[string]any{"path": target})
			if err != nil {
				continue
			}
			if profile, ok := raw.(FileProfile); ok {
				result.Profiles = append(result.Profiles, profile)
			}
		}
	}

	wantGraphs := intent.Constraints.Depth == DepthDeep ||
		len(result.Hotspots) >= hotspotGraphThreshold
	if intent.Constraints.IncludeGraphs {
		wantGraphs = true
	}
	if intent.Constraints.ExcludeGraphs {
		wantGraphs = false
	}

	if wantGraphs {
		for _, hotspot := range result.Hotspots {
			if ctx.Err() != nil {
				break
			}
			_, err := s.registry.Call(ctx, octx, "analyze_relationship", map[string]any{
				"path":   hotspot.Path,
				"symbol": hotspot.Symbol,
			})
			if err != nil {
				continue
			}
			result.GraphsLoaded = true
		}
	}

	return result, nil
}
