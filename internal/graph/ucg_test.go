package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UpRoot-Company/uprootmcp/internal/lod"
	"github.com/UpRoot-Company/uprootmcp/internal/parser"
	"github.com/UpRoot-Company/uprootmcp/internal/workspace"
)

func newTestUCG(t *testing.T) *UCG {
	t.Helper()
	ws, err := workspace.New(t.TempDir(), nil)
	require.NoError(t, err)
	return New(ws, nil)
}

// skeleton installs a file at LOD 2 with the given symbols and deps.
func skeleton(g *UCG, path string, symbols []parser.Symbol, deps []lod.ResolvedDep) {
	g.ApplySkeleton(path, &parser.ParseResult{Language: "typescript", Symbols: symbols}, deps, "skel")
	if node := g.GetNode(path); node != nil && node.LOD < lod.LevelSkeleton {
		panic("skeleton not applied")
	}
}

func sym(name string) parser.Symbol {
	return parser.Symbol{Name: name, Kind: parser.KindFunction, Range: parser.Range{StartLine: 1, EndLine: 2}}
}

func TestCascadeInvalidate(t *testing.T) {
	g := newTestUCG(t)

	// a.ts <- b.ts <- c.ts
	skeleton(g, "a.ts", []parser.Symbol{sym("a")}, nil)
	skeleton(g, "b.ts", []parser.Symbol{sym("b")}, []lod.ResolvedDep{{Target: "a.ts", Specifier: "./a"}})
	skeleton(g, "c.ts", []parser.Symbol{sym("c")}, []lod.ResolvedDep{{Target: "b.ts", Specifier: "./b"}})

	g.Invalidate("a.ts", true)

	assert.Equal(t, lod.LevelUnknown, g.CurrentLOD("a.ts"))
	assert.LessOrEqual(t, g.CurrentLOD("b.ts"), lod.LevelTopology)
	assert.LessOrEqual(t, g.CurrentLOD("c.ts"), lod.LevelTopology)
}

func TestCascadeHandlesImportCycles(t *testing.T) {
	g := newTestUCG(t)

	skeleton(g, "x.ts", []parser.Symbol{sym("x")}, []lod.ResolvedDep{{Target: "y.ts", Specifier: "./y"}})
	skeleton(g, "y.ts", []parser.Symbol{sym("y")}, []lod.ResolvedDep{{Target: "x.ts", Specifier: "./x"}})

	// Must terminate despite the cycle.
	g.Invalidate("x.ts", true)
	assert.Equal(t, lod.LevelUnknown, g.CurrentLOD("x.ts"))
	assert.LessOrEqual(t, g.CurrentLOD("y.ts"), lod.LevelTopology)
}

func TestInvalidateWithoutCascade(t *testing.T) {
	g := newTestUCG(t)

	skeleton(g, "a.ts", []parser.Symbol{sym("a")}, nil)
	skeleton(g, "b.ts", []parser.Symbol{sym("b")}, []lod.ResolvedDep{{Target: "a.ts", Specifier: "./a"}})

	g.Invalidate("a.ts", false)
	assert.Equal(t, lod.LevelUnknown, g.CurrentLOD("a.ts"))
	assert.Equal(t, lod.LevelSkeleton, g.CurrentLOD("b.ts"))
}

func TestGhostSymbols(t *testing.T) {
	g := newTestUCG(t)

	skeleton(g, "a.ts", []parser.Symbol{sym("keep"), sym("drop")}, nil)
	skeleton(g, "a.ts", []parser.Symbol{sym("keep")}, nil)

	ghosts := g.Ghosts()
	require.Len(t, ghosts, 1)
	assert.Equal(t, "drop", ghosts[0].Name)
	assert.Equal(t, "a.ts", ghosts[0].LastPath)
}

// Ghosts and live symbols stay disjoint by name: reintroducing a symbol
// clears its ghost.
func TestGhostLiveDisjoint(t *testing.T) {
	g := newTestUCG(t)

	skeleton(g, "a.ts", []parser.Symbol{sym("f")}, nil)
	skeleton(g, "a.ts", nil, nil)
	require.Len(t, g.Ghosts(), 1)

	skeleton(g, "b.ts", []parser.Symbol{sym("f")}, nil)
	assert.Empty(t, g.Ghosts())
}

func TestGhostNotCreatedWhenLiveElsewhere(t *testing.T) {
	g := newTestUCG(t)

	skeleton(g, "a.ts", []parser.Symbol{sym("shared")}, nil)
	skeleton(g, "b.ts", []parser.Symbol{sym("shared")}, nil)
	skeleton(g, "a.ts", nil, nil)

	assert.Empty(t, g.Ghosts(), "symbol still defined in b.ts")
}

func TestPruneGhosts(t *testing.T) {
	g := newTestUCG(t)
	skeleton(g, "a.ts", []parser.Symbol{sym("old")}, nil)
	skeleton(g, "a.ts", nil, nil)

	assert.Zero(t, g.PruneGhosts(time.Hour))
	assert.Equal(t, 1, g.PruneGhosts(0))
	assert.Empty(t, g.Ghosts())
}

func TestCallEdges(t *testing.T) {
	g := newTestUCG(t)

	skeleton(g, "a.ts", []parser.Symbol{sym("caller")}, nil)
	skeleton(g, "b.ts", []parser.Symbol{sym("callee")}, nil)
	g.ApplyFullAST("a.ts", &parser.ParseResult{
		Symbols:   []parser.Symbol{sym("caller")},
		CallSites: []parser.CallSite{{Caller: "caller", Callee: "callee", Line: 1}},
	})

	callees := g.Callees(SymbolRef{Path: "a.ts", Name: "caller"})
	require.Len(t, callees, 1)
	assert.Equal(t, "b.ts", callees[0].Path)

	callers := g.Callers(SymbolRef{Path: "b.ts", Name: "callee"})
	require.Len(t, callers, 1)
	assert.Equal(t, "a.ts", callers[0].Path)
}

func TestInvalidateRemovesDerivedEdges(t *testing.T) {
	g := newTestUCG(t)

	skeleton(g, "a.ts", []parser.Symbol{sym("caller")}, nil)
	skeleton(g, "b.ts", []parser.Symbol{sym("callee")}, nil)
	g.ApplyFullAST("a.ts", &parser.ParseResult{
		Symbols:   []parser.Symbol{sym("caller")},
		CallSites: []parser.CallSite{{Caller: "caller", Callee: "callee", Line: 1}},
	})

	g.Invalidate("a.ts", false)
	assert.Empty(t, g.Callees(SymbolRef{Path: "a.ts", Name: "caller"}))
	assert.Empty(t, g.Callers(SymbolRef{Path: "b.ts", Name: "callee"}))
}

func TestCallSignals(t *testing.T) {
	g := newTestUCG(t)

	skeleton(g, "main.ts", []parser.Symbol{sym("main")}, nil)
	skeleton(g, "util.ts", []parser.Symbol{sym("helper")}, nil)
	g.ApplyFullAST("main.ts", &parser.ParseResult{
		Symbols:   []parser.Symbol{sym("main")},
		CallSites: []parser.CallSite{{Caller: "main", Callee: "helper", Line: 1}},
	})

	signals := g.CallSignals()
	mainSig := signals["main.ts:main"]
	assert.True(t, mainSig.IsEntryPoint)
	assert.Equal(t, 0, mainSig.Depth)

	helperSig := signals["util.ts:helper"]
	assert.Equal(t, 1, helperSig.InDegree)
	assert.Equal(t, 1, helperSig.Depth)
}

func TestSiblingsAndColocated(t *testing.T) {
	g := newTestUCG(t)

	skeleton(g, "pkg/a.ts", []parser.Symbol{sym("one"), sym("two")}, nil)
	skeleton(g, "pkg/b.ts", []parser.Symbol{sym("three")}, nil)
	skeleton(g, "other/c.ts", []parser.Symbol{sym("four")}, nil)

	assert.Equal(t, []string{"pkg/b.ts"}, g.Siblings("pkg/a.ts"))

	colocated := g.Colocated("pkg/a.ts", "one")
	require.Len(t, colocated, 1)
	assert.Equal(t, "two", colocated[0].Name)
}

func TestGetStats(t *testing.T) {
	g := newTestUCG(t)
	skeleton(g, "a.ts", []parser.Symbol{sym("a")}, []lod.ResolvedDep{
		{Target: "b.ts", Specifier: "./b"},
		{Specifier: "lodash"},
	})
	skeleton(g, "b.ts", []parser.Symbol{sym("b")}, nil)

	stats := g.GetStats()
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 2, stats.Symbols)
	assert.Equal(t, 1, stats.ImportEdges)
	assert.Equal(t, 1, stats.Unresolved)
}
