package chunk

import "sort"

// LineOffsets maps between byte offsets and 1-based line numbers in O(1)
// for line starts and O(log n) for arbitrary bytes.
type LineOffsets struct {
	// starts[i] is the byte offset where line i+1 begins.
	starts []int
	size   int
}

// NewLineOffsets computes the offset table for text.
func NewLineOffsets(text string) *LineOffsets {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineOffsets{starts: starts, size: len(text)}
}

// LineCount returns the number of lines.
func (lo *LineOffsets) LineCount() int {
	return len(lo.starts)
}

// ByteOf returns the byte offset where the 1-based line begins.
func (lo *LineOffsets) ByteOf(line int) int {
	if line < 1 {
		return 0
	}
	if line > len(lo.starts) {
		return lo.size
	}
	return lo.starts[line-1]
}

// LineOf returns the 1-based line containing the byte offset.
func (lo *LineOffsets) LineOf(offset int) int {
	if offset < 0 {
		return 1
	}
	if offset >= lo.size && lo.size > 0 {
		return len(lo.starts)
	}
	// First line start strictly greater than offset; the line is the
	// predecessor.
	idx := sort.SearchInts(lo.starts, offset+1)
	return idx
}
