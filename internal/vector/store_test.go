package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, useHNSW bool) *Store {
	t.Helper()
	pack, err := Open(t.TempDir(), Options{Dims: 4, Format: FormatF32, Shards: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pack.Close() })

	s, err := NewStore(pack, StoreConfig{HNSW: useHNSW, M: 16, EfSearch: 32})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreSearch(t *testing.T) {
	for _, mode := range []struct {
		name string
		hnsw bool
	}{
		{"exact", false},
		{"hnsw", true},
	} {
		t.Run(mode.name, func(t *testing.T) {
			s := newTestStore(t, mode.hnsw)
			ctx := context.Background()

			require.NoError(t, s.Add(ctx,
				[]string{"x", "y", "z"},
				[][]float32{
					{1, 0, 0, 0},
					{0, 1, 0, 0},
					{0.9, 0.1, 0, 0},
				}))

			results, err := s.Search(ctx, []float32{1, 0, 0, 0}, 2)
			require.NoError(t, err)
			require.Len(t, results, 2)
			assert.Equal(t, "x", results[0].ID)
			assert.Equal(t, "z", results[1].ID)
			assert.Greater(t, results[0].Score, results[1].Score)
		})
	}
}

func TestStoreDeleteHidesResults(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx,
		[]string{"a", "b"},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}))
	require.NoError(t, s.Delete(ctx, []string{"a"}))

	results, err := s.Search(ctx, []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}
	assert.Equal(t, 1, s.Count())
}

func TestStoreUpdateVector(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []string{"a"}, [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, s.Add(ctx, []string{"a"}, [][]float32{{0, 0, 0, 1}}))

	results, err := s.Search(ctx, []float32{0, 0, 0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-3)
}

func TestStoreEmpty(t *testing.T) {
	s := newTestStore(t, true)
	results, err := s.Search(context.Background(), []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}
