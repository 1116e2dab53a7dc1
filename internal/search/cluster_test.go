package search

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UpRoot-Company/uprootmcp/internal/graph"
	"github.com/UpRoot-Company/uprootmcp/internal/lod"
	"github.com/UpRoot-Company/uprootmcp/internal/parser"
	"github.com/UpRoot-Company/uprootmcp/internal/workspace"
)

func testGraph(t *testing.T) *graph.UCG {
	t.Helper()
	ws, err := workspace.New(t.TempDir(), nil)
	require.NoError(t, err)
	return graph.New(ws, nil)
}

func addFile(g *graph.UCG, path string, symbolNames ...string) {
	symbols := make([]parser.Symbol, len(symbolNames))
	for i, name := range symbolNames {
		symbols[i] = parser.Symbol{Name: name, Kind: parser.KindFunction, Range: parser.Range{StartLine: i + 1, EndLine: i + 2}}
	}
	g.ApplySkeleton(path, &parser.ParseResult{Symbols: symbols}, []lod.ResolvedDep{}, "")
}

func TestClusterCheapContainersEager(t *testing.T) {
	g := testGraph(t)
	addFile(g, "pkg/a.ts", "seedFn", "other")
	addFile(g, "pkg/b.ts", "neighbor")

	b := NewClusterBuilder(g)
	cluster := b.Build(Seed{Path: "pkg/a.ts", SymbolName: "seedFn", Score: 0.9}, false)

	assert.Equal(t, StateLoaded, cluster.Colocated.State)
	require.Len(t, cluster.Colocated.Items, 1)
	assert.Equal(t, "other", cluster.Colocated.Items[0].Symbol)

	assert.Equal(t, StateLoaded, cluster.Siblings.State)

	// Expensive containers stay unloaded and appear in hints.
	assert.Equal(t, StateNotLoaded, cluster.Callers.State)
	assert.Equal(t, StateNotLoaded, cluster.Callees.State)
	assert.Equal(t, StateNotLoaded, cluster.TypeFamily.State)

	hints := HintsFor([]*Cluster{cluster})
	assert.ElementsMatch(t,
		[]string{"callers", "callees", "typeFamily"},
		hints.RecommendedExpansions)
}

func TestClusterExpandLoadsCallGraph(t *testing.T) {
	g := testGraph(t)
	addFile(g, "a.ts", "caller")
	addFile(g, "b.ts", "seedFn")
	g.ApplyFullAST("a.ts", &parser.ParseResult{
		Symbols:   []parser.Symbol{{Name: "caller", Kind: parser.KindFunction}},
		CallSites: []parser.CallSite{{Caller: "caller", Callee: "seedFn", Line: 1}},
	})

	b := NewClusterBuilder(g)
	cluster := b.Build(Seed{Path: "b.ts", SymbolName: "seedFn", Score: 1}, true)

	assert.Equal(t, StateLoaded, cluster.Callers.State)
	require.Len(t, cluster.Callers.Items, 1)
	assert.Equal(t, "a.ts", cluster.Callers.Items[0].Path)
	// a.ts is also a sibling of b.ts, so call and module containers tie.
	assert.Equal(t, ClusterMixed, cluster.ClusterType)

	assert.Empty(t, HintsFor([]*Cluster{cluster}).RecommendedExpansions)
}

func TestContainerTruncation(t *testing.T) {
	g := testGraph(t)
	symbols := make([]string, 0, CapColocated+5)
	symbols = append(symbols, "seed")
	for i := 0; i < CapColocated+4; i++ {
		symbols = append(symbols, fmt.Sprintf("fn%02d", i))
	}
	addFile(g, "big.ts", symbols...)

	b := NewClusterBuilder(g)
	cluster := b.Build(Seed{Path: "big.ts", SymbolName: "seed", Score: 1}, false)

	assert.Equal(t, StateTruncated, cluster.Colocated.State)
	assert.Len(t, cluster.Colocated.Items, CapColocated)
	assert.Equal(t, CapColocated+4, cluster.Colocated.TotalCount)
}

func TestClusterRanking(t *testing.T) {
	clusters := []*Cluster{
		{ID: "bbb", RelevanceScore: 0.5, ClusterType: ClusterMixed},
		{ID: "aaa", RelevanceScore: 0.5, ClusterType: ClusterMixed},
		{ID: "ccc", RelevanceScore: 0.5, ClusterType: ClusterFunctionChain},
		{ID: "ddd", RelevanceScore: 0.9, ClusterType: ClusterMixed},
	}
	Rank(clusters)

	assert.Equal(t, "ddd", clusters[0].ID) // highest relevance
	assert.Equal(t, "ccc", clusters[1].ID) // type weight beats id
	assert.Equal(t, "aaa", clusters[2].ID) // id tie-break
	assert.Equal(t, "bbb", clusters[3].ID)
}

func TestClusterIDStable(t *testing.T) {
	first := ClusterID("pkg/a.ts", "seedFn")
	assert.Equal(t, first, ClusterID("pkg/a.ts", "seedFn"))
	assert.NotEqual(t, first, ClusterID("pkg/a.ts", "otherFn"))
	assert.Len(t, first, 12)
}

func TestTokenEstimate(t *testing.T) {
	cluster := &Cluster{
		Callers:   Container{State: StateLoaded, Items: make([]RelatedItem, 3)},
		Colocated: Container{State: StateLoaded, Items: make([]RelatedItem, 2)},
		Siblings:  Container{State: StateEmpty},
	}
	got := estimateTokens(cluster)
	want := tokensSeed + 3*tokensPerRelation + 2*tokensPerColocated
	assert.Equal(t, want, got)
}
