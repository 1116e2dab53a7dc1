package trigram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UpRoot-Company/uprootmcp/internal/graph"
)

func TestBM25FFieldWeights(t *testing.T) {
	ranker := NewBM25F(DefaultBM25FConfig())

	docs := []RankDoc{
		{ID: "filename", Field: FieldFilename, Text: "auth handler login"},
		{ID: "symbol", Field: FieldSymbol, Text: "auth handler login"},
		{ID: "content", Field: FieldContent, Text: "auth handler login"},
	}

	ranked := ranker.Rank("auth login", docs, nil)
	require.Len(t, ranked, 3)
	assert.Equal(t, "filename", ranked[0].ID)
	assert.Equal(t, "symbol", ranked[1].ID)
	assert.Equal(t, "content", ranked[2].ID)
}

func TestBM25FCallGraphBoost(t *testing.T) {
	ranker := NewBM25F(DefaultBM25FConfig())

	docs := []RankDoc{
		{ID: "hot", Field: FieldSymbol, Text: "process request", SymbolID: "a.go:Process"},
		{ID: "cold", Field: FieldSymbol, Text: "process request", SymbolID: "b.go:process"},
	}
	signals := map[string]graph.CallSignal{
		"a.go:Process": {InDegree: 12, OutDegree: 3, IsEntryPoint: false},
		"b.go:process": {InDegree: 0, OutDegree: 0, Depth: 5},
	}

	ranked := ranker.Rank("process request", docs, signals)
	require.Len(t, ranked, 2)
	assert.Equal(t, "hot", ranked[0].ID)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
}

// The structural boost must stay bounded so it never dominates content.
func TestBM25FBoostBounded(t *testing.T) {
	cfg := DefaultBM25FConfig()
	ranker := NewBM25F(cfg)

	extreme := map[string]graph.CallSignal{
		"x": {InDegree: 1 << 20, IsEntryPoint: true},
		"y": {Depth: 100, InDegree: 0},
	}
	assert.LessOrEqual(t, ranker.callGraphBoost("x", extreme), cfg.BoostCeil)
	assert.GreaterOrEqual(t, ranker.callGraphBoost("y", extreme), cfg.BoostFloor)
	assert.Equal(t, 1.0, ranker.callGraphBoost("unknown", extreme))
	assert.Equal(t, 1.0, ranker.callGraphBoost("", nil))
}

func TestBM25FEmptyInputs(t *testing.T) {
	ranker := NewBM25F(DefaultBM25FConfig())
	assert.Nil(t, ranker.Rank("", []RankDoc{{ID: "a", Text: "x"}}, nil))
	assert.Nil(t, ranker.Rank("query", nil, nil))
}
