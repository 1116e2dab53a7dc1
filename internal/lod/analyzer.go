package lod

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/UpRoot-Company/uprootmcp/internal/parser"
	"github.com/UpRoot-Company/uprootmcp/internal/workspace"
)

// Analyzer tracks per-file analysis levels and promotes them on demand.
// Promotion is lazy and additive: a file's LOD never decreases within a
// request; only Invalidate demotes.
type Analyzer struct {
	ws      *workspace.Workspace
	adapter *parser.Adapter
	sink    Sink

	mu     sync.Mutex
	levels map[string]Level

	statsMu    sync.Mutex
	steps      [transitionCount]StepStats
	fallbacks  int64
	promotions int64
}

// NewAnalyzer creates an analyzer writing artifacts into sink.
func NewAnalyzer(ws *workspace.Workspace, adapter *parser.Adapter, sink Sink) *Analyzer {
	return &Analyzer{
		ws:      ws,
		adapter: adapter,
		sink:    sink,
		levels:  make(map[string]Level),
	}
}

// CurrentLOD returns the file's current level (0 for unseen files).
func (a *Analyzer) CurrentLOD(path string) Level {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.levels[path]
}

// EnsureLOD promotes the file to at least minLOD. A current level at or
// above the request is a no-op. Structural doubt during any step forces a
// full-AST fallback and marks the result accordingly.
func (a *Analyzer) EnsureLOD(ctx context.Context, path string, minLOD Level) (*Result, error) {
	if minLOD < LevelUnknown || minLOD > LevelFullAST {
		return nil, fmt.Errorf("invalid LOD %d", minLOD)
	}

	a.mu.Lock()
	previous := a.levels[path]
	a.mu.Unlock()

	result := &Result{
		Path:         path,
		PreviousLOD:  previous,
		CurrentLOD:   previous,
		RequestedLOD: minLOD,
		Confidence:   confidenceFor(previous),
	}
	if previous >= minLOD {
		return result, nil
	}

	content, err := os.ReadFile(a.ws.Absolute(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	started := time.Now()
	current := previous

	for current < minLOD {
		next := current + 1
		stepStart := time.Now()

		var stepErr error
		var doubt bool
		switch next {
		case LevelTopology:
			doubt, stepErr = a.promoteTopology(path, content)
		case LevelSkeleton:
			stepErr = a.promoteSkeleton(ctx, path, content)
		case LevelFullAST:
			stepErr = a.promoteFullAST(ctx, path, content)
		}

		if stepErr != nil {
			return nil, stepErr
		}

		if doubt {
			// Structural doubt: the cheap extraction cannot be trusted.
			// Force the authoritative path from file contents.
			if err := a.fallbackToFullAST(ctx, path, content); err != nil {
				return nil, err
			}
			current = LevelFullAST
			result.FallbackUsed = true
			a.recordFallback()
			break
		}

		a.recordStep(transitionFor(next), time.Since(stepStart))
		current = next
	}

	a.mu.Lock()
	if current > a.levels[path] {
		a.levels[path] = current
	}
	a.mu.Unlock()

	result.CurrentLOD = current
	result.Promoted = current > previous
	result.DurationMs = float64(time.Since(started).Microseconds()) / 1000.0
	if result.FallbackUsed {
		result.Confidence = 1.0
	} else {
		result.Confidence = confidenceFor(current)
	}
	return result, nil
}

// promoteTopology runs the LOD-1 line scan. The returned bool reports
// structural doubt (extraction rejected by the safety predicate).
func (a *Analyzer) promoteTopology(path string, content []byte) (bool, error) {
	topo, safe := parser.ScanTopology(path, content)
	if !safe {
		// Unknown language is not doubt when the parser cannot help either;
		// such files stay at topology with an empty symbol set.
		if a.adapter.LanguageFor(path) == "" {
			a.sink.ApplyTopology(path, &parser.Topology{})
			return false, nil
		}
		return true, nil
	}
	a.sink.ApplyTopology(path, topo)
	return false, nil
}

// promoteSkeleton runs a full parse and installs the symbol table,
// resolved dependencies, and skeleton text.
func (a *Analyzer) promoteSkeleton(ctx context.Context, path string, content []byte) error {
	result, err := a.parseOrEmpty(ctx, path, content)
	if err != nil {
		return err
	}
	deps := ResolveImports(a.ws, path, result.Imports)
	a.sink.ApplySkeleton(path, result, deps, BuildSkeleton(result))
	return nil
}

// promoteFullAST parses and materializes call/type edges, then releases
// the parse result.
func (a *Analyzer) promoteFullAST(ctx context.Context, path string, content []byte) error {
	result, err := a.parseOrEmpty(ctx, path, content)
	if err != nil {
		return err
	}
	a.sink.ApplyFullAST(path, result)
	return nil
}

// fallbackToFullAST forces LOD 3 from file contents, installing every
// tier's artifacts from the authoritative parse.
func (a *Analyzer) fallbackToFullAST(ctx context.Context, path string, content []byte) error {
	result, err := a.parseOrEmpty(ctx, path, content)
	if err != nil {
		return err
	}
	topo := &parser.Topology{Language: result.Language, Imports: result.Imports, Symbols: result.Symbols}
	a.sink.ApplyTopology(path, topo)
	deps := ResolveImports(a.ws, path, result.Imports)
	a.sink.ApplySkeleton(path, result, deps, BuildSkeleton(result))
	a.sink.ApplyFullAST(path, result)

	slog.Debug("lod_fallback_full_ast", slog.String("path", path))
	return nil
}

// parseOrEmpty parses the file, treating unsupported languages as an empty
// result so plain-text files can still hold a level.
func (a *Analyzer) parseOrEmpty(ctx context.Context, path string, content []byte) (*parser.ParseResult, error) {
	if a.adapter.LanguageFor(path) == "" {
		return &parser.ParseResult{}, nil
	}
	return a.adapter.Parse(ctx, path, content)
}

// Demote sets the file's level without cascading. The unified context
// graph drives cascades; it calls Demote for each affected importer.
func (a *Analyzer) Demote(path string, level Level) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if current, ok := a.levels[path]; !ok || current > level {
		a.levels[path] = level
	}
}

// Invalidate resets the file to LOD 0.
func (a *Analyzer) Invalidate(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.levels[path] = LevelUnknown
}

// Forget drops a deleted file from the level table.
func (a *Analyzer) Forget(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.levels, path)
}

// PromotionStats returns per-transition counts and rolling averages.
func (a *Analyzer) PromotionStats() PromotionStats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()

	stats := PromotionStats{
		Topology:   a.steps[transition01],
		Skeleton:   a.steps[transition12],
		FullAST:    a.steps[transition23],
		Fallbacks:  a.fallbacks,
		Promotions: a.promotions,
	}
	if a.promotions > 0 {
		stats.FallbackRate = float64(a.fallbacks) / float64(a.promotions)
	}
	return stats
}

func (a *Analyzer) recordStep(t transition, d time.Duration) {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	step := &a.steps[t]
	step.Count++
	step.TotalTime += d
	step.AvgTime = step.TotalTime / time.Duration(step.Count)
	a.promotions++
}

func (a *Analyzer) recordFallback() {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	a.fallbacks++
	a.promotions++
}

func transitionFor(next Level) transition {
	switch next {
	case LevelTopology:
		return transition01
	case LevelSkeleton:
		return transition12
	default:
		return transition23
	}
}

func confidenceFor(level Level) float64 {
	switch level {
	case LevelTopology:
		return 0.8
	case LevelSkeleton, LevelFullAST:
		return 1.0
	default:
		return 0.0
	}
}

// BuildSkeleton renders the structural summary of a parse: signatures and
// docs without bodies.
func BuildSkeleton(result *parser.ParseResult) string {
	var b strings.Builder
	for _, sym := range result.Symbols {
		if sym.Doc != "" {
			b.WriteString(sym.Doc)
			b.WriteString("\n")
		}
		if sym.Signature != "" {
			b.WriteString(sym.Signature)
		} else {
			b.WriteString(string(sym.Kind))
			b.WriteString(" ")
			b.WriteString(sym.Name)
		}
		fmt.Fprintf(&b, "  # L%d-L%d\n", sym.Range.StartLine, sym.Range.EndLine)
	}
	return b.String()
}
