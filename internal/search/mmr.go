package search

import "strings"

// MMR re-ranks fused candidates with maximal marginal relevance:
//
//	mmr(d) = lambda*relevance(d) - (1-lambda)*max_{s in selected} sim(d, s)
//
// Similarity is the Jaccard overlap of path-segment token sets, so results
// from the same file or directory diversify away from each other.
func MMR(candidates []*Fused, lambda float64, limit int) []*Fused {
	if lambda <= 0 || lambda >= 1 || len(candidates) <= 1 {
		if limit > 0 && len(candidates) > limit {
			return candidates[:limit]
		}
		return candidates
	}
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}

	tokenSets := make([]map[string]struct{}, len(candidates))
	for i, c := range candidates {
		tokenSets[i] = pathTokens(c.Path)
	}

	selected := make([]*Fused, 0, limit)
	selectedIdx := make([]int, 0, limit)
	remaining := make([]int, len(candidates))
	for i := range candidates {
		remaining[i] = i
	}

	for len(selected) < limit && len(remaining) > 0 {
		bestPos := -1
		bestScore := -1.0
		for pos, idx := range remaining {
			maxSim := 0.0
			for _, sel := range selectedIdx {
				if sim := jaccard(tokenSets[idx], tokenSets[sel]); sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*candidates[idx].RRFScore - (1-lambda)*maxSim
			if score > bestScore {
				bestScore = score
				bestPos = pos
			}
		}
		idx := remaining[bestPos]
		selected = append(selected, candidates[idx])
		selectedIdx = append(selectedIdx, idx)
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}

	return selected
}

func pathTokens(path string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, seg := range strings.FieldsFunc(strings.ToLower(path), func(r rune) bool {
		return r == '/' || r == '.' || r == '_' || r == '-'
	}) {
		tokens[seg] = struct{}{}
	}
	return tokens
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
