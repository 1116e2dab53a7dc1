package trigram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrigramFrequencies(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]int
	}{
		{
			name: "single token",
			text: "hello",
			want: map[string]int{"hel": 1, "ell": 1, "llo": 1},
		},
		{
			name: "normalization lowercases and splits on punctuation",
			text: "Foo.Bar",
			want: map[string]int{"foo": 1, "bar": 1},
		},
		{
			name: "short tokens produce no trigrams",
			text: "a bb",
			want: map[string]int{},
		},
		{
			name: "repeated trigrams count",
			text: "aaaa",
			want: map[string]int{"aaa": 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TrigramFrequencies(tt.text))
		})
	}
}

// Postings and per-file frequencies must agree: postings[t] contains
// exactly the paths whose frequency map has t with a nonzero count.
func TestPostingsFrequencyAgreement(t *testing.T) {
	ix := NewIndex(DefaultOptions())
	now := time.Now()

	ix.Add("a.ts", []byte("export const foo = 1"), now)
	ix.Add("b.ts", []byte("function foobar() { return foo; }"), now)
	ix.Add("c.ts", []byte("unrelated"), now)
	ix.Remove("c.ts")

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	for gram, posting := range ix.postings {
		for path, count := range posting {
			entry, ok := ix.files[path]
			require.True(t, ok, "posting references unknown file %s", path)
			assert.Equal(t, entry.TrigramFreq[gram], count)
			assert.NotZero(t, count)
		}
	}
	for path, entry := range ix.files {
		for gram, count := range entry.TrigramFreq {
			assert.Equal(t, count, ix.postings[gram][path],
				"file %s gram %s missing from postings", path, gram)
		}
	}
}

func TestSearchRanksOverlapRatio(t *testing.T) {
	ix := NewIndex(DefaultOptions())
	now := time.Now()

	ix.Add("a.ts", []byte("export const foo = 1"), now)
	ix.Add("b.ts", []byte("function foobar() { return foo; }"), now)

	matches := ix.Search("foo", 10)
	require.Len(t, matches, 2)
	// a.ts is smaller, so its foo-trigram share is higher.
	assert.Equal(t, "a.ts", matches[0].Path)
	assert.Equal(t, "b.ts", matches[1].Path)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestSearchShortQueryFallsBackToSubstring(t *testing.T) {
	ix := NewIndex(DefaultOptions())
	now := time.Now()
	ix.Add("src/db/conn.go", []byte("package db"), now)
	ix.Add("src/api/handler.go", []byte("package api"), now)

	matches := ix.Search("db", 10)
	require.Len(t, matches, 1)
	assert.Equal(t, "src/db/conn.go", matches[0].Path)
}

func TestApplyDocFreqFilter(t *testing.T) {
	ix := NewIndex(Options{MaxDocFreq: 0.5, MaxTrigramsPerFile: 1000, MaxFileBytes: 1 << 20})
	now := time.Now()

	// "common" appears in all four files, "rare" in one.
	ix.Add("a.go", []byte("common rare"), now)
	ix.Add("b.go", []byte("common"), now)
	ix.Add("c.go", []byte("common"), now)
	ix.Add("d.go", []byte("common"), now)

	dropped := ix.ApplyDocFreqFilter()
	assert.Greater(t, dropped, 0)

	assert.Empty(t, ix.Search("common", 10))
	require.Len(t, ix.Search("rare", 10), 1)
}

func TestPerFileTrigramCap(t *testing.T) {
	ix := NewIndex(Options{MaxTrigramsPerFile: 2, MaxDocFreq: 1.0, MaxFileBytes: 1 << 20})
	ix.Add("a.go", []byte("alpha beta gamma delta"), time.Now())

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	assert.LessOrEqual(t, len(ix.files["a.go"].TrigramFreq), 2)
}
