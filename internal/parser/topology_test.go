package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanTopologyGo(t *testing.T) {
	src := `package main

import (
	"fmt"
	"strings"
)

import "os"

func Hello(name string) string {
	return fmt.Sprintf("hi %s", name)
}

type Greeter struct {
	prefix string
}

type Speaker interface {
	Speak() string
}

var Default = Greeter{}
`
	topo, safe := ScanTopology("main.go", []byte(src))
	require.True(t, safe)
	assert.Equal(t, "go", topo.Language)

	var imports []string
	for _, imp := range topo.Imports {
		imports = append(imports, imp.Specifier)
	}
	assert.ElementsMatch(t, []string{"fmt", "strings", "os"}, imports)

	byName := map[string]SymbolKind{}
	for _, sym := range topo.Symbols {
		byName[sym.Name] = sym.Kind
	}
	assert.Equal(t, KindFunction, byName["Hello"])
	assert.Equal(t, KindClass, byName["Greeter"])
	assert.Equal(t, KindInterface, byName["Speaker"])
	assert.Equal(t, KindVariable, byName["Default"])
}

func TestScanTopologyTypeScript(t *testing.T) {
	src := `import { x } from "./x";
import "./side-effect";
const util = require("util");

export function handler(req: Request): Response {
  return new Response();
}

export class Controller {}
export interface Options {}
export type Alias = string;
export const limit = 10;
`
	topo, safe := ScanTopology("app.ts", []byte(src))
	require.True(t, safe)

	var imports []string
	for _, imp := range topo.Imports {
		imports = append(imports, imp.Specifier)
	}
	assert.ElementsMatch(t, []string{"./x", "./side-effect", "util"}, imports)

	byName := map[string]SymbolKind{}
	for _, sym := range topo.Symbols {
		byName[sym.Name] = sym.Kind
	}
	assert.Equal(t, KindFunction, byName["handler"])
	assert.Equal(t, KindClass, byName["Controller"])
	assert.Equal(t, KindInterface, byName["Options"])
	assert.Equal(t, KindTypeAlias, byName["Alias"])
	assert.Equal(t, KindVariable, byName["limit"])
}

// The fallback predicate: bracket imbalance and non-ASCII identifiers in
// ASCII-only languages reject regex extraction.
func TestTopologySafePredicate(t *testing.T) {
	tests := []struct {
		name string
		path string
		src  string
		safe bool
	}{
		{"balanced go", "a.go", "func f() {}\n", true},
		{"imbalanced braces", "a.ts", "function f() { if (x) {\n", false},
		{"imbalanced parens", "a.ts", "call(a, b\n", false},
		{"non-ascii ident in ts", "a.ts", "const café = 1\n", false},
		{"non-ascii in go ok", "a.go", "var café = 1\n", true},
		{"brackets inside strings ignored", "a.ts", "const s = \"({[\"\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, safe := ScanTopology(tt.path, []byte(tt.src))
			assert.Equal(t, tt.safe, safe)
		})
	}
}

func TestScanTopologyUnknownLanguage(t *testing.T) {
	topo, safe := ScanTopology("data.bin", []byte{0x00, 0x01})
	assert.False(t, safe)
	assert.Nil(t, topo)
}

func TestScanTopologyRoughRanges(t *testing.T) {
	src := `func First() {
	body()
}

func Second() {
	body()
}
`
	topo, safe := ScanTopology("a.go", []byte(src))
	require.True(t, safe)
	require.Len(t, topo.Symbols, 2)

	first := topo.Symbols[0]
	assert.Equal(t, 1, first.Range.StartLine)
	assert.GreaterOrEqual(t, first.Range.EndLine, first.Range.StartLine)
	assert.Less(t, first.Range.EndLine, topo.Symbols[1].Range.StartLine+1)
}
