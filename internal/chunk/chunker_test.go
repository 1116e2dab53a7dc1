package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureDoc = `# Guide

Intro paragraph with enough text to stand on its own as a section body
for the structural splitter to keep.

## Install

Run the installer:

` + "```bash\nmake install\n```" + `

| OS | Supported |
|----|-----------|
| linux | yes |
| macos | yes |

- step one
- step two
- step three

## Usage

Call the binary with a query.
`

func TestChunkerDeterminism(t *testing.T) {
	c := New(DefaultOptions())

	first := c.Chunk("docs/guide.md", KindMarkdown, []byte(fixtureDoc))
	second := c.Chunk("docs/guide.md", KindMarkdown, []byte(fixtureDoc))

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Text, second[i].Text)
		assert.Equal(t, first[i].ContentHash, second[i].ContentHash)
	}
}

func TestChunkerSectionPaths(t *testing.T) {
	c := New(DefaultOptions())
	chunks := c.Chunk("docs/guide.md", KindMarkdown, []byte(fixtureDoc))
	require.NotEmpty(t, chunks)

	var paths []string
	for _, ch := range chunks {
		paths = append(paths, ch.SectionPath)
	}
	assert.Contains(t, paths, "Guide")
	assert.Contains(t, paths, "Guide > Install")
	assert.Contains(t, paths, "Guide > Usage")
}

func TestChunkerKeepsCodeFencesIntact(t *testing.T) {
	opts := DefaultOptions()
	opts.MinSectionChars = 1
	opts.TargetChunkChars = 10 // force minimal packing
	c := New(opts)

	chunks := c.Chunk("docs/guide.md", KindMarkdown, []byte(fixtureDoc))

	found := false
	for _, ch := range chunks {
		if strings.Contains(ch.Text, "```bash") {
			assert.Contains(t, ch.Text, "make install")
			assert.Contains(t, ch.Text, "```", "fence must close within the chunk")
			found = true
		}
	}
	assert.True(t, found, "expected a chunk containing the code fence")
}

func TestChunkerLineRanges(t *testing.T) {
	c := New(DefaultOptions())
	chunks := c.Chunk("docs/guide.md", KindMarkdown, []byte(fixtureDoc))

	lines := strings.Split(fixtureDoc, "\n")
	for _, ch := range chunks {
		require.GreaterOrEqual(t, ch.StartLine, 1)
		require.LessOrEqual(t, ch.EndLine, len(lines))
		require.LessOrEqual(t, ch.StartLine, ch.EndLine)
	}
}

func TestChunkerFixedStrategy(t *testing.T) {
	opts := DefaultOptions()
	opts.Strategy = StrategyFixed
	opts.TargetChunkChars = 80
	c := New(opts)

	chunks := c.Chunk("notes.txt", KindText, []byte(fixtureDoc))
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Text), 160, "fixed chunks stay near target")
	}
}

func TestChunkerMDXNormalization(t *testing.T) {
	mdx := "# Title\n\n<Callout type=\"info\">hello</Callout>\n\nBody text after the component.\n"
	c := New(DefaultOptions())
	chunks := c.Chunk("page.mdx", KindMDX, []byte(mdx))
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.NotContains(t, ch.Text, "<Callout")
	}
}

func TestChunkerEmptyContent(t *testing.T) {
	c := New(DefaultOptions())
	assert.Nil(t, c.Chunk("empty.md", KindMarkdown, []byte("   \n\n  ")))
}

func TestLineOffsets(t *testing.T) {
	text := "one\ntwo\nthree"
	lo := NewLineOffsets(text)

	assert.Equal(t, 3, lo.LineCount())
	assert.Equal(t, 0, lo.ByteOf(1))
	assert.Equal(t, 4, lo.ByteOf(2))
	assert.Equal(t, 8, lo.ByteOf(3))

	assert.Equal(t, 1, lo.LineOf(0))
	assert.Equal(t, 1, lo.LineOf(3))
	assert.Equal(t, 2, lo.LineOf(4))
	assert.Equal(t, 3, lo.LineOf(12))
}

func TestSampleHeadTail(t *testing.T) {
	content := []byte(strings.Repeat("a", 1000))
	sampled := Sample(content, SampleOptions{MaxBytes: 500, HeadBytes: 200, TailBytes: 100})

	assert.Less(t, len(sampled), 1000)
	assert.Contains(t, string(sampled), "[... truncated ...]")
	assert.True(t, strings.HasPrefix(string(sampled), "aaa"))
	assert.True(t, strings.HasSuffix(string(sampled), "aaa"))

	small := []byte("tiny")
	assert.Equal(t, small, Sample(small, SampleOptions{MaxBytes: 500}))
}
