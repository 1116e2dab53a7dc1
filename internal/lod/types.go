// Package lod implements the adaptive level-of-detail analyzer: lazy,
// additive promotion of per-file analysis through four tiers.
//
//	LOD 0  unknown   — file known to exist, nothing analyzed
//	LOD 1  topology  — regex/line-scan imports and top-level symbols
//	LOD 2  skeleton  — symbol table, resolved deps, skeleton text
//	LOD 3  full AST  — call sites and type relations materialized
package lod

import (
	"time"

	"github.com/UpRoot-Company/uprootmcp/internal/parser"
)

// Level is the analysis tier of a file.
type Level int

const (
	LevelUnknown  Level = 0
	LevelTopology Level = 1
	LevelSkeleton Level = 2
	LevelFullAST  Level = 3
)

// Result reports one ensureLOD call.
type Result struct {
	Path         string  `json:"path"`
	PreviousLOD  Level   `json:"previous_lod"`
	CurrentLOD   Level   `json:"current_lod"`
	RequestedLOD Level   `json:"requested_lod"`
	Promoted     bool    `json:"promoted"`
	DurationMs   float64 `json:"duration_ms"`
	FallbackUsed bool    `json:"fallback_used"`
	// Confidence signals whether the result is authoritative. Fallback
	// results are always authoritative (1.0); topology-only results carry
	// heuristic confidence.
	Confidence float64 `json:"confidence"`
}

// ResolvedDep is one dependency edge produced during skeleton analysis.
type ResolvedDep struct {
	// Target is the normalized workspace path, or "" when unresolved.
	Target string
	// Specifier is the raw import string as written.
	Specifier string
	Line      int
}

// Sink receives analysis artifacts per promotion step. The unified
// context graph implements Sink and owns persistence of node state.
type Sink interface {
	// ApplyTopology installs LOD-1 artifacts.
	ApplyTopology(path string, topo *parser.Topology)

	// ApplySkeleton installs LOD-2 artifacts: the full symbol table,
	// resolved dependencies, and the skeleton text.
	ApplySkeleton(path string, result *parser.ParseResult, deps []ResolvedDep, skeleton string)

	// ApplyFullAST installs LOD-3 artifacts (call sites, type relations).
	// The parse result is released after this call returns.
	ApplyFullAST(path string, result *parser.ParseResult)
}

// transition indexes promotion statistics.
type transition int

const (
	transition01 transition = iota // 0 -> 1
	transition12                   // 1 -> 2
	transition23                   // 2 -> 3
	transitionCount
)

// StepStats aggregates one transition's history.
type StepStats struct {
	Count     int64         `json:"count"`
	AvgTime   time.Duration `json:"avg_time"`
	TotalTime time.Duration `json:"total_time"`
}

// PromotionStats is the observable statistics contract.
type PromotionStats struct {
	Topology     StepStats `json:"topology"`      // 0 -> 1
	Skeleton     StepStats `json:"skeleton"`      // 1 -> 2
	FullAST      StepStats `json:"full_ast"`      // 2 -> 3
	Fallbacks    int64     `json:"fallbacks"`
	Promotions   int64     `json:"promotions"`
	FallbackRate float64   `json:"fallback_rate"`
}
