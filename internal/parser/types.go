// Package parser is the capability-typed adapter over parse backends.
//
// The engine never talks to tree-sitter directly; it sees a Backend that
// reports its capabilities and produces ParseResults. Backends are tried
// in priority order at init and a failed backend is replaced and released.
package parser

import (
	"context"
	"errors"
)

// SymbolKind classifies an extracted symbol.
type SymbolKind string

const (
	KindFunction  SymbolKind = "function"
	KindMethod    SymbolKind = "method"
	KindClass     SymbolKind = "class"
	KindInterface SymbolKind = "interface"
	KindTypeAlias SymbolKind = "type_alias"
	KindVariable  SymbolKind = "variable"
	KindImport    SymbolKind = "import"
	KindExport    SymbolKind = "export"
)

// Range locates a symbol in its file. Lines are 1-based inclusive.
type Range struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
	StartByte int `json:"start_byte"`
	EndByte   int `json:"end_byte"`
}

// Symbol is one extracted definition.
type Symbol struct {
	Name      string     `json:"name"`
	Container string     `json:"container,omitempty"`
	Kind      SymbolKind `json:"kind"`
	Range     Range      `json:"range"`
	Signature string     `json:"signature,omitempty"`
	Doc       string     `json:"doc,omitempty"`
	Exported  bool       `json:"exported"`
}

// Import is one import/require with its raw specifier.
type Import struct {
	Specifier string `json:"specifier"`
	Line      int    `json:"line"`
}

// CallSite records caller symbol -> callee name occurrences.
type CallSite struct {
	Caller string `json:"caller"`
	Callee string `json:"callee"`
	Line   int    `json:"line"`
}

// TypeRelationKind is extends or implements.
type TypeRelationKind string

const (
	RelationExtends    TypeRelationKind = "extends"
	RelationImplements TypeRelationKind = "implements"
)

// TypeRelation records subtype -> supertype edges.
type TypeRelation struct {
	Subtype   string           `json:"subtype"`
	Supertype string           `json:"supertype"`
	Kind      TypeRelationKind `json:"kind"`
}

// ParseResult is the full extraction for one file.
type ParseResult struct {
	Language      string         `json:"language"`
	Symbols       []Symbol       `json:"symbols"`
	Imports       []Import       `json:"imports"`
	CallSites     []CallSite     `json:"call_sites"`
	TypeRelations []TypeRelation `json:"type_relations"`
	// HasErrors is set when the parse tree contains error nodes.
	HasErrors bool `json:"has_errors"`
}

// Capabilities describes what a backend can do.
type Capabilities struct {
	// SupportsQueries is set when the backend can answer structural
	// queries (call sites, type relations), not just symbol tables.
	SupportsQueries bool
}

// Backend is one parse engine variant.
type Backend interface {
	// Name identifies the backend (native, wasm, snapshot).
	Name() string

	// Capabilities reports what this backend supports.
	Capabilities() Capabilities

	// LanguageFor maps a normalized path to a language id, or "" when the
	// file is not parseable by this backend.
	LanguageFor(path string) string

	// Parse extracts symbols, imports, calls, and type relations.
	Parse(ctx context.Context, path string, content []byte) (*ParseResult, error)

	// Close releases backend resources.
	Close() error
}

// ErrBackendUnavailable is returned by backends that cannot initialize in
// the current build or environment.
var ErrBackendUnavailable = errors.New("parser backend unavailable")

// ErrUnsupportedLanguage is returned for files no grammar covers.
var ErrUnsupportedLanguage = errors.New("unsupported language")
