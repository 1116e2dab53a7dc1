package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRRFBothListsWin(t *testing.T) {
	lexical := []Candidate{
		{ID: "a", Path: "a.go", Score: 5},
		{ID: "b", Path: "b.go", Score: 4},
	}
	semantic := []Candidate{
		{ID: "b", Path: "b.go", Score: 0.9},
		{ID: "c", Path: "c.go", Score: 0.8},
	}

	fused := RRF(lexical, semantic, 60, 50)
	require.Len(t, fused, 3)
	// b appears in both lists, so it fuses highest.
	assert.Equal(t, "b", fused[0].ID)
	assert.True(t, fused[0].InBothLists)
	assert.InDelta(t, 1.0, fused[0].RRFScore, 1e-9)
}

func TestRRFEmptyLists(t *testing.T) {
	assert.Empty(t, RRF(nil, nil, 60, 50))

	fused := RRF([]Candidate{{ID: "a", Path: "a.go", Score: 1}}, nil, 60, 50)
	require.Len(t, fused, 1)
	assert.Equal(t, "a", fused[0].ID)
}

func TestRRFDepthTruncation(t *testing.T) {
	var lexical []Candidate
	for i := 0; i < 100; i++ {
		lexical = append(lexical, Candidate{ID: string(rune('a' + i%26)), Path: "p", Score: float64(100 - i)})
	}
	fused := RRF(lexical, nil, 60, 10)
	assert.LessOrEqual(t, len(fused), 10)
}

func TestRRFDeterministicTieBreak(t *testing.T) {
	lexical := []Candidate{{ID: "z", Path: "z.go", Score: 1}}
	semantic := []Candidate{{ID: "a", Path: "a.go", Score: 1}}

	first := RRF(lexical, semantic, 60, 50)
	second := RRF(lexical, semantic, 60, 50)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
	// Equal fused scores break on the higher lexical score, then by id.
	assert.Equal(t, "z", first[0].ID)
}

func TestMMRDiversifiesPaths(t *testing.T) {
	candidates := []*Fused{
		{ID: "1", Path: "pkg/auth/login.go", RRFScore: 1.0},
		{ID: "2", Path: "pkg/auth/login_test.go", RRFScore: 0.95},
		{ID: "3", Path: "docs/guide.md", RRFScore: 0.9},
	}

	diversified := MMR(candidates, 0.5, 2)
	require.Len(t, diversified, 2)
	assert.Equal(t, "1", diversified[0].ID)
	// The doc result displaces the near-duplicate path.
	assert.Equal(t, "3", diversified[1].ID)
}

func TestMMRLambdaDisabled(t *testing.T) {
	candidates := []*Fused{
		{ID: "1", Path: "a.go", RRFScore: 1.0},
		{ID: "2", Path: "b.go", RRFScore: 0.9},
	}
	// Lambda outside (0,1) disables re-ranking.
	out := MMR(candidates, 0, 2)
	assert.Equal(t, candidates, out)
}
