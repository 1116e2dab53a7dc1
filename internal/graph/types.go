// Package graph implements the unified context graph: file and symbol
// nodes joined by import, call, and type edges, with cascade invalidation.
//
// One UCG instance exists per workspace root. Edges are keyed by path and
// symbol id; there are no owning references between nodes, so import
// cycles are plain data handled with visited sets on every traversal.
package graph

import (
	"context"
	"time"

	"github.com/UpRoot-Company/uprootmcp/internal/lod"
	"github.com/UpRoot-Company/uprootmcp/internal/parser"
)

// FileNode is the per-file graph node.
type FileNode struct {
	Path     string
	Language string
	LOD      lod.Level
	ModTime  time.Time
	// Skeleton is the LOD-2 structural summary (may be empty below LOD 2).
	Skeleton string
	// SkeletonHash supports dual-write validation against the legacy cache.
	SkeletonHash string
	Symbols      []parser.Symbol
}

// SymbolRef addresses a symbol globally.
type SymbolRef struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// ID returns the stable symbol id "path:name".
func (r SymbolRef) ID() string { return r.Path + ":" + r.Name }

// GhostSymbol remembers a symbol whose definition disappeared.
type GhostSymbol struct {
	Name      string    `json:"name"`
	LastPath  string    `json:"last_path"`
	Kind      string    `json:"kind"`
	Signature string    `json:"signature,omitempty"`
	DeletedAt time.Time `json:"deleted_at"`
}

// CallSignal feeds the BM25F call-graph boost for one symbol.
type CallSignal struct {
	Depth        int
	InDegree     int
	OutDegree    int
	IsEntryPoint bool
}

// Stats reports node and edge counts for observability.
type Stats struct {
	Files       int `json:"files"`
	Symbols     int `json:"symbols"`
	ImportEdges int `json:"import_edges"`
	CallEdges   int `json:"call_edges"`
	TypeEdges   int `json:"type_edges"`
	Ghosts      int `json:"ghosts"`
	Unresolved  int `json:"unresolved_specifiers"`
}

// Persistence receives graph state changes for durable storage. A nil
// Persistence keeps the graph memory-only (tests, ephemeral mode).
type Persistence interface {
	SaveFileNode(ctx context.Context, node *FileNode) error
	ReplaceSymbols(ctx context.Context, path string, symbols []parser.Symbol) error
	ReplaceDependencies(ctx context.Context, path string, deps []lod.ResolvedDep) error
	SaveGhosts(ctx context.Context, ghosts []GhostSymbol) error
	DeleteGhosts(ctx context.Context, names []string) error
	DeleteFileNode(ctx context.Context, path string) error
}
