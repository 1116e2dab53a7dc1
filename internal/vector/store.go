package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// Result is one nearest-neighbor hit.
type Result struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"` // cosine similarity, higher is better
}

// StoreConfig configures search over a pack.
type StoreConfig struct {
	// HNSW enables graph search; exact cosine scan otherwise.
	HNSW           bool
	M              int
	EfConstruction int
	EfSearch       int
}

// Store searches vectors held in a Pack, using an HNSW graph when enabled
// or an exact cosine scan otherwise.
type Store struct {
	pack *Pack
	cfg  StoreConfig

	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
	closed  bool
}

// NewStore creates a search layer over the pack. Existing pack contents
// are loaded into the graph when HNSW is enabled.
func NewStore(pack *Pack, cfg StoreConfig) (*Store, error) {
	s := &Store{pack: pack, cfg: cfg}

	if cfg.HNSW {
		graph := hnsw.NewGraph[uint64]()
		graph.Distance = hnsw.CosineDistance
		if cfg.M > 0 {
			graph.M = cfg.M
		}
		if cfg.EfSearch > 0 {
			graph.EfSearch = cfg.EfSearch
		}
		s.graph = graph
		s.idMap = make(map[string]uint64)
		s.keyMap = make(map[uint64]string)

		for _, id := range pack.IDs() {
			vec, err := pack.Get(id)
			if err != nil {
				continue
			}
			s.addToGraphLocked(id, vec)
		}
	}

	return s, nil
}

// Add upserts vectors into the pack and the graph.
func (s *Store) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.pack.Upsert(id, vectors[i]); err != nil {
			return err
		}
		if s.graph != nil {
			// Lazy deletion: orphan the old key rather than removing the
			// node, matching coder/hnsw's delete limitations.
			if oldKey, exists := s.idMap[id]; exists {
				delete(s.keyMap, oldKey)
				delete(s.idMap, id)
			}
			s.addToGraphLocked(id, vectors[i])
		}
	}
	return nil
}

func (s *Store) addToGraphLocked(id string, vec []float32) {
	key := s.nextKey
	s.nextKey++
	normalized := make([]float32, len(vec))
	copy(normalized, vec)
	normalizeInPlace(normalized)
	s.graph.Add(hnsw.MakeNode(key, normalized))
	s.idMap[id] = key
	s.keyMap[key] = id
}

// Delete tombstones vectors; graph nodes are orphaned lazily.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	for _, id := range ids {
		s.pack.Delete(id)
		if s.graph != nil {
			if key, exists := s.idMap[id]; exists {
				delete(s.keyMap, key)
				delete(s.idMap, id)
			}
		}
	}
	return nil
}

// Search returns the k most similar live vectors.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]*Result, error) {
	if k <= 0 {
		k = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	if s.graph != nil {
		return s.searchGraph(query, k), nil
	}
	return s.searchExact(ctx, query, k)
}

func (s *Store) searchGraph(query []float32, k int) []*Result {
	if s.graph.Len() == 0 {
		return []*Result{}
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	// Over-fetch to compensate for orphaned (lazily deleted) nodes.
	nodes := s.graph.Search(normalized, k*2)
	results := make([]*Result, 0, k)
	for _, node := range nodes {
		id, live := s.keyMap[node.Key]
		if !live || !s.pack.Contains(id) {
			continue
		}
		results = append(results, &Result{
			ID:    id,
			Score: CosineSimilarity(normalized, node.Value),
		})
		if len(results) == k {
			break
		}
	}
	return results
}

func (s *Store) searchExact(ctx context.Context, query []float32, k int) ([]*Result, error) {
	var results []*Result
	for _, id := range s.pack.IDs() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := s.pack.Get(id)
		if err != nil {
			continue
		}
		results = append(results, &Result{ID: id, Score: CosineSimilarity(query, vec)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Count returns the number of live vectors.
func (s *Store) Count() int {
	return s.pack.Count()
}

// Close releases the graph; the pack is closed by its owner.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

func normalizeInPlace(v []float32) {
	norm := L2Norm(v)
	if norm == 0 {
		return
	}
	inv := 1 / norm
	for i := range v {
		v[i] *= inv
	}
}
