package trigram

import (
	"math"
	"sort"
	"strings"

	"github.com/UpRoot-Company/uprootmcp/internal/graph"
)

// FieldType tags a candidate document for field-weighted scoring.
type FieldType string

const (
	FieldFilename FieldType = "filename"
	FieldSymbol   FieldType = "symbol-definition"
	FieldContent  FieldType = "content"
)

// RankDoc is one candidate for BM25F ranking.
type RankDoc struct {
	ID    string
	Field FieldType
	Text  string
	// SymbolID links the doc to the call-graph signal map ("path:name").
	SymbolID string
}

// RankedDoc is a scored candidate.
type RankedDoc struct {
	ID    string
	Score float64
}

// BM25FConfig holds the ranker parameters.
type BM25FConfig struct {
	K1 float64
	B  float64
	// Field weights: filename > symbol-definition > content.
	FilenameWeight float64
	SymbolWeight   float64
	ContentWeight  float64
	// BoostFloor and BoostCeil bound the call-graph multiplier so the
	// structural signal never dominates content relevance.
	BoostFloor float64
	BoostCeil  float64
}

// DefaultBM25FConfig returns the shipped defaults.
func DefaultBM25FConfig() BM25FConfig {
	return BM25FConfig{
		K1:             1.2,
		B:              0.75,
		FilenameWeight: 3.0,
		SymbolWeight:   2.0,
		ContentWeight:  1.0,
		BoostFloor:     0.8,
		BoostCeil:      1.5,
	}
}

// BM25F ranks candidate documents with per-field weights and an optional
// call-graph boost.
type BM25F struct {
	cfg BM25FConfig
}

// NewBM25F creates a ranker.
func NewBM25F(cfg BM25FConfig) *BM25F {
	if cfg.K1 <= 0 {
		cfg.K1 = 1.2
	}
	if cfg.B <= 0 {
		cfg.B = 0.75
	}
	if cfg.BoostCeil <= 0 {
		cfg.BoostCeil = 1.5
	}
	if cfg.BoostFloor <= 0 {
		cfg.BoostFloor = 0.8
	}
	return &BM25F{cfg: cfg}
}

// Rank scores docs against the query. signals may be nil to disable the
// call-graph boost.
func (r *BM25F) Rank(query string, docs []RankDoc, signals map[string]graph.CallSignal) []RankedDoc {
	queryTerms := normalizeTokens(query)
	if len(queryTerms) == 0 || len(docs) == 0 {
		return nil
	}

	// Per-doc token stats and corpus-wide document frequencies.
	docTokens := make([][]string, len(docs))
	termDF := make(map[string]int)
	var totalLen float64
	for i, doc := range docs {
		tokens := normalizeTokens(doc.Text)
		docTokens[i] = tokens
		totalLen += float64(len(tokens))
		seen := make(map[string]struct{})
		for _, tok := range tokens {
			if _, dup := seen[tok]; !dup {
				seen[tok] = struct{}{}
				termDF[tok]++
			}
		}
	}
	avgLen := totalLen / float64(len(docs))
	if avgLen == 0 {
		avgLen = 1
	}

	n := float64(len(docs))
	scores := make(map[string]float64)

	for i, doc := range docs {
		tokens := docTokens[i]
		if len(tokens) == 0 {
			continue
		}
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}

		docLen := float64(len(tokens))
		var score float64
		for _, term := range queryTerms {
			f := float64(tf[term])
			if f == 0 {
				// Partial credit for substring hits (identifier fragments).
				for tok, count := range tf {
					if strings.Contains(tok, term) {
						f += 0.5 * float64(count)
					}
				}
				if f == 0 {
					continue
				}
			}
			df := float64(termDF[term])
			if df == 0 {
				df = 1
			}
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			score += idf * (f * (r.cfg.K1 + 1)) /
				(f + r.cfg.K1*(1-r.cfg.B+r.cfg.B*docLen/avgLen))
		}

		score *= r.fieldWeight(doc.Field)
		score *= r.callGraphBoost(doc.SymbolID, signals)
		scores[doc.ID] += score
	}

	ranked := make([]RankedDoc, 0, len(scores))
	for id, score := range scores {
		ranked = append(ranked, RankedDoc{ID: id, Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ID < ranked[j].ID
	})
	return ranked
}

func (r *BM25F) fieldWeight(field FieldType) float64 {
	switch field {
	case FieldFilename:
		return r.cfg.FilenameWeight
	case FieldSymbol:
		return r.cfg.SymbolWeight
	default:
		return r.cfg.ContentWeight
	}
}

// callGraphBoost maps structural signals to a bounded multiplier: entry
// points and high in-degree symbols rank up, deep leaf symbols neutral or
// slightly down.
func (r *BM25F) callGraphBoost(symbolID string, signals map[string]graph.CallSignal) float64 {
	if symbolID == "" || signals == nil {
		return 1.0
	}
	sig, ok := signals[symbolID]
	if !ok {
		return 1.0
	}

	boost := 1.0
	if sig.IsEntryPoint {
		boost += 0.2
	}
	// In-degree saturates: log2(1+in)/10 adds up to ~0.3 for in=7.
	boost += math.Log2(1+float64(sig.InDegree)) / 10
	if sig.Depth > 3 && sig.InDegree == 0 {
		boost -= 0.1
	}

	return math.Min(r.cfg.BoostCeil, math.Max(r.cfg.BoostFloor, boost))
}
