package search

import "sort"

// DefaultRRFK is the standard RRF smoothing parameter; k=60 is the
// empirically validated cross-domain default.
const DefaultRRFK = 60

// Candidate is one ranked entry from a single search source.
type Candidate struct {
	ID    string
	Path  string
	Score float64
}

// Fused is one candidate after reciprocal-rank fusion.
type Fused struct {
	ID          string
	Path        string
	RRFScore    float64
	Lexical     float64
	LexicalRank int
	Semantic    float64
	SemRank     int
	InBothLists bool
}

// RRF combines a lexical list and a semantic list:
//
//	score(d) = Σ 1 / (k + rank_i)
//
// Documents missing from a list contribute at missing_rank =
// max(len(lex), len(sem)) + 1. Both lists are truncated to depth first.
func RRF(lexical, semantic []Candidate, k, depth int) []*Fused {
	if k <= 0 {
		k = DefaultRRFK
	}
	if depth > 0 {
		if len(lexical) > depth {
			lexical = lexical[:depth]
		}
		if len(semantic) > depth {
			semantic = semantic[:depth]
		}
	}
	if len(lexical) == 0 && len(semantic) == 0 {
		return []*Fused{}
	}

	fused := make(map[string]*Fused, len(lexical)+len(semantic))
	get := func(id, path string) *Fused {
		if f, ok := fused[id]; ok {
			return f
		}
		f := &Fused{ID: id, Path: path}
		fused[id] = f
		return f
	}

	for rank, c := range lexical {
		f := get(c.ID, c.Path)
		f.Lexical = c.Score
		f.LexicalRank = rank + 1
		f.RRFScore += 1 / float64(k+rank+1)
	}
	for rank, c := range semantic {
		f := get(c.ID, c.Path)
		f.Semantic = c.Score
		f.SemRank = rank + 1
		f.RRFScore += 1 / float64(k+rank+1)
		if f.LexicalRank > 0 {
			f.InBothLists = true
		}
	}

	missingRank := len(lexical)
	if len(semantic) > missingRank {
		missingRank = len(semantic)
	}
	missingRank++
	for _, f := range fused {
		if f.LexicalRank == 0 && f.SemRank > 0 {
			f.RRFScore += 1 / float64(k+missingRank)
		}
		if f.SemRank == 0 && f.LexicalRank > 0 {
			f.RRFScore += 1 / float64(k+missingRank)
		}
	}

	results := make([]*Fused, 0, len(fused))
	for _, f := range fused {
		results = append(results, f)
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.RRFScore != b.RRFScore {
			return a.RRFScore > b.RRFScore
		}
		if a.InBothLists != b.InBothLists {
			return a.InBothLists
		}
		if a.Lexical != b.Lexical {
			return a.Lexical > b.Lexical
		}
		return a.ID < b.ID
	})

	// Normalize to 0-1 with the max as reference.
	if len(results) > 0 && results[0].RRFScore > 0 {
		max := results[0].RRFScore
		for _, f := range results {
			f.RRFScore /= max
		}
	}
	return results
}
