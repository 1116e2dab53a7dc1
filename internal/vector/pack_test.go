package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestPack(t *testing.T, opts Options) *Pack {
	t.Helper()
	if opts.Dims == 0 {
		opts.Dims = 4
	}
	p, err := Open(t.TempDir(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPackRoundTripF32(t *testing.T) {
	p := openTestPack(t, Options{Format: FormatF32})

	vec := []float32{1, 0, -1, 0.5}
	require.NoError(t, p.Upsert("chunk-1", vec))

	got, err := p.Get("chunk-1")
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

// q8 fidelity: every component within one scale unit, norm within 1%.
func TestPackQ8Fidelity(t *testing.T) {
	p := openTestPack(t, Options{Format: FormatQ8})

	vec := []float32{1, 0, -1, 0.5}
	require.NoError(t, p.Upsert("chunk-1", vec))

	// Clear the cache so Get decodes from the q8 record.
	p.cache.Purge()

	got, err := p.Get("chunk-1")
	require.NoError(t, err)
	require.Len(t, got, 4)

	scale := float32(1.0 / 127.0)
	for i := range vec {
		assert.InDelta(t, vec[i], got[i], float64(scale), "component %d", i)
	}
	assert.InDelta(t, float64(L2Norm(vec)), float64(L2Norm(got)), 0.01*float64(L2Norm(vec)))
}

func TestQuantizeQ8(t *testing.T) {
	tests := []struct {
		name      string
		vec       []float32
		wantScale float32
	}{
		{"unit components", []float32{1, 0, -1, 0.5}, 1.0 / 127},
		{"zero vector", []float32{0, 0, 0}, 0},
		{"large values", []float32{254, -127}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scale, q := QuantizeQ8(tt.vec)
			assert.InDelta(t, tt.wantScale, scale, 1e-6)
			back := DequantizeQ8(scale, q)
			for i := range tt.vec {
				assert.InDelta(t, tt.vec[i], back[i], float64(scale)+1e-6)
			}
		})
	}
}

func TestPackUpsertReplaces(t *testing.T) {
	p := openTestPack(t, Options{Format: FormatBoth})

	require.NoError(t, p.Upsert("id", []float32{1, 2, 3, 4}))
	require.NoError(t, p.Upsert("id", []float32{4, 3, 2, 1}))

	got, err := p.Get("id")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 3, 2, 1}, got)
	assert.Equal(t, 1, p.Count())
}

func TestPackTombstones(t *testing.T) {
	p := openTestPack(t, Options{Format: FormatBoth})

	require.NoError(t, p.Upsert("a", []float32{1, 0, 0, 0}))
	require.NoError(t, p.Upsert("b", []float32{0, 1, 0, 0}))
	p.Delete("a")

	assert.False(t, p.Contains("a"))
	assert.True(t, p.Contains("b"))
	assert.Equal(t, 1, p.Count())

	_, err := p.Get("a")
	assert.Error(t, err)

	// Re-upserting clears the tombstone.
	require.NoError(t, p.Upsert("a", []float32{1, 1, 0, 0}))
	assert.True(t, p.Contains("a"))
}

func TestPackCompact(t *testing.T) {
	p := openTestPack(t, Options{Format: FormatBoth, Shards: 2})

	require.NoError(t, p.Upsert("a", []float32{1, 0, 0, 0}))
	require.NoError(t, p.Upsert("b", []float32{0, 1, 0, 0}))
	p.Delete("a")

	require.NoError(t, p.Compact())

	assert.False(t, p.Contains("a"))
	got, err := p.Get("b")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0, 0}, got)

	p.mu.RLock()
	assert.Empty(t, p.tombstones)
	p.mu.RUnlock()
}

func TestPackPersistence(t *testing.T) {
	dir := t.TempDir()

	p, err := Open(dir, Options{Dims: 4, Format: FormatBoth, Shards: 2})
	require.NoError(t, err)
	require.NoError(t, p.Upsert("a", []float32{0.25, -0.5, 0.75, -1}))
	require.NoError(t, p.Close())

	p2, err := Open(dir, Options{Dims: 4, Format: FormatBoth, Shards: 2})
	require.NoError(t, err)
	defer func() { _ = p2.Close() }()

	got, err := p2.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -0.5, 0.75, -1}, got)

	degraded, _ := p2.Degraded()
	assert.False(t, degraded)
}

func TestPackDegradedOnMismatch(t *testing.T) {
	dir := t.TempDir()

	p, err := Open(dir, Options{Dims: 4, Format: FormatF32, Shards: 2})
	require.NoError(t, err)
	require.NoError(t, p.Upsert("a", []float32{1, 0, 0, 0}))
	require.NoError(t, p.Close())

	p2, err := Open(dir, Options{Dims: 8, Format: FormatF32, Shards: 4})
	require.NoError(t, err)
	defer func() { _ = p2.Close() }()

	degraded, reason := p2.Degraded()
	assert.True(t, degraded)
	assert.NotEmpty(t, reason)
}

func TestShardAssignmentStable(t *testing.T) {
	p := openTestPack(t, Options{Format: FormatF32, Shards: 4})
	first := p.ShardFor("some-chunk-id")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, p.ShardFor("some-chunk-id"))
	}
	assert.Less(t, first, 4)
	assert.GreaterOrEqual(t, first, 0)
}

func TestPackDimensionMismatch(t *testing.T) {
	p := openTestPack(t, Options{Format: FormatF32})
	err := p.Upsert("bad", []float32{1, 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestL2Norm(t *testing.T) {
	assert.InDelta(t, math.Sqrt(2), float64(L2Norm([]float32{1, 1})), 1e-6)
	assert.Zero(t, L2Norm([]float32{0, 0}))
}
