package chunk

import (
	"regexp"
	"strings"
)

// Chunker splits one document into chunks.
type Chunker struct {
	opts Options
}

// New creates a chunker, defaulting unset options.
func New(opts Options) *Chunker {
	def := DefaultOptions()
	if opts.Strategy == "" {
		opts.Strategy = def.Strategy
	}
	if opts.TargetChunkChars <= 0 {
		opts.TargetChunkChars = def.TargetChunkChars
	}
	if opts.MaxBlockChars <= 0 {
		opts.MaxBlockChars = def.MaxBlockChars
	}
	if opts.MinSectionChars <= 0 {
		opts.MinSectionChars = def.MinSectionChars
	}
	return &Chunker{opts: opts}
}

var (
	headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	fencePattern   = regexp.MustCompile("^(```|~~~)")
	tableRowRe     = regexp.MustCompile(`^\s*\|.*\|\s*$`)
	listItemRe     = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
	// mdxComponentRe matches JSX-ish component tags normalized away before
	// chunking so they don't break heading or fence detection.
	mdxComponentRe = regexp.MustCompile(`</?[A-Z][A-Za-z0-9]*(?:\s[^>]*)?/?>`)
	htmlTagRe      = regexp.MustCompile(`<[^>]+>`)
)

// section is one heading's body.
type section struct {
	heading      string
	headingLevel int
	sectionPath  string
	startLine    int // 1-based, the heading line (or 1 for preamble)
	lines        []string
}

// segment is a structural piece of a section's body.
type segment struct {
	kind      string // code, table, list, text
	startLine int
	lines     []string
}

func (s *segment) text() string { return strings.Join(s.lines, "\n") }

// Chunk splits content into deterministic chunks. Chunking the same
// (file, options, content) twice yields identical ids.
func (c *Chunker) Chunk(filePath string, kind Kind, content []byte) []*Chunk {
	text := string(content)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	switch kind {
	case KindMDX:
		text = mdxComponentRe.ReplaceAllString(text, " ")
	case KindHTML:
		text = htmlTagRe.ReplaceAllString(text, " ")
	}

	lines := strings.Split(text, "\n")
	offsets := NewLineOffsets(text)

	if c.opts.Strategy == StrategyFixed {
		return c.fixedChunks(filePath, kind, lines, offsets)
	}

	sections := parseSections(lines)
	var chunks []*Chunk
	ordinal := 0
	for _, sec := range sections {
		var segments []*segment
		if c.opts.Strategy == StrategyStructural {
			segments = c.segmentStructural(sec)
		} else {
			segments = []*segment{{kind: "text", startLine: sec.startLine, lines: sec.lines}}
		}

		segments = c.pack(segments)

		for _, seg := range segments {
			body := seg.text()
			if strings.TrimSpace(body) == "" {
				continue
			}
			startLine := seg.startLine
			endLine := seg.startLine + len(seg.lines) - 1
			chunks = append(chunks, &Chunk{
				ID:           chunkID(filePath, sec.sectionPath, startLine, endLine, ordinal),
				FilePath:     filePath,
				Kind:         kind,
				SectionPath:  sec.sectionPath,
				Heading:      sec.heading,
				HeadingLevel: sec.headingLevel,
				StartLine:    startLine,
				EndLine:      endLine,
				StartByte:    offsets.ByteOf(startLine),
				EndByte:      offsets.ByteOf(endLine+1) - 1,
				Text:         body,
				ContentHash:  HashText(body),
			})
			ordinal++
		}
	}
	return chunks
}

// parseSections splits lines on headings, maintaining the heading stack
// that yields each section's path.
func parseSections(lines []string) []*section {
	var sections []*section
	stack := make([]string, 6)

	current := &section{startLine: 1}
	flush := func() {
		if len(current.lines) > 0 || current.heading != "" {
			sections = append(sections, current)
		}
	}

	inFence := false
	for i, line := range lines {
		if fencePattern.MatchString(line) {
			inFence = !inFence
		}
		match := headingPattern.FindStringSubmatch(line)
		if match == nil || inFence {
			current.lines = append(current.lines, line)
			continue
		}

		flush()
		level := len(match[1])
		title := strings.TrimSpace(match[2])
		stack[level-1] = title
		for j := level; j < 6; j++ {
			stack[j] = ""
		}
		var parts []string
		for j := 0; j < level; j++ {
			if stack[j] != "" {
				parts = append(parts, stack[j])
			}
		}
		current = &section{
			heading:      title,
			headingLevel: level,
			sectionPath:  strings.Join(parts, " > "),
			startLine:    i + 1,
			lines:        []string{line},
		}
	}
	flush()
	return sections
}

// segmentStructural splits a section body using three detectors: fenced
// code blocks, pipe tables, and list runs. Everything else is free text.
func (c *Chunker) segmentStructural(sec *section) []*segment {
	var segments []*segment
	var current *segment

	start := func(kind string, lineIdx int) {
		if current != nil {
			segments = append(segments, current)
		}
		current = &segment{kind: kind, startLine: sec.startLine + lineIdx}
	}

	inFence := false
	for i, line := range sec.lines {
		switch {
		case fencePattern.MatchString(line):
			if !inFence {
				if c.opts.IncludeCodeBlocks {
					start("code", i)
				} else if current == nil || current.kind != "text" {
					start("text", i)
				}
				inFence = true
			} else {
				inFence = false
				current.lines = append(current.lines, line)
				segments = append(segments, current)
				current = nil
				continue
			}

		case inFence:
			// inside a fence: accumulate into the code segment

		case c.opts.IncludeTables && tableRowRe.MatchString(line):
			if current == nil || current.kind != "table" {
				start("table", i)
			}

		case c.opts.IncludeLists && listItemRe.MatchString(line):
			if current == nil || current.kind != "list" {
				start("list", i)
			}

		default:
			// A blank line ends table/list runs; free text continues.
			if current != nil && (current.kind == "table" || current.kind == "list") && strings.TrimSpace(line) == "" {
				segments = append(segments, current)
				current = nil
			}
			if current == nil || (current.kind != "text" && current.kind != "code") {
				if current != nil {
					segments = append(segments, current)
				}
				current = &segment{kind: "text", startLine: sec.startLine + i}
			}
		}
		if current != nil {
			current.lines = append(current.lines, line)
		}
	}
	if current != nil {
		segments = append(segments, current)
	}
	return segments
}

// pack applies minSectionChars merging and targetChunkChars packing:
// consecutive segments combine while under target; undersized tails merge
// into their predecessor; oversized blocks split at MaxBlockChars.
func (c *Chunker) pack(segments []*segment) []*segment {
	if len(segments) == 0 {
		return nil
	}

	// Split oversized blocks first so packing sees bounded pieces.
	var bounded []*segment
	for _, seg := range segments {
		bounded = append(bounded, c.splitOversized(seg)...)
	}

	var packed []*segment
	for _, seg := range bounded {
		if len(packed) > 0 {
			prev := packed[len(packed)-1]
			combined := len(prev.text()) + 1 + len(seg.text())
			if combined <= c.opts.TargetChunkChars ||
				len(seg.text()) < c.opts.MinSectionChars {
				prev.lines = append(prev.lines, seg.lines...)
				continue
			}
		}
		packed = append(packed, seg)
	}
	return packed
}

// splitOversized chops a segment into MaxBlockChars pieces along line
// boundaries. Code fences are kept intact up to twice the limit.
func (c *Chunker) splitOversized(seg *segment) []*segment {
	limit := c.opts.MaxBlockChars
	if seg.kind == "code" {
		limit *= 2
	}
	if len(seg.text()) <= limit {
		return []*segment{seg}
	}

	var out []*segment
	current := &segment{kind: seg.kind, startLine: seg.startLine}
	size := 0
	for i, line := range seg.lines {
		if size+len(line) > limit && len(current.lines) > 0 {
			out = append(out, current)
			current = &segment{kind: seg.kind, startLine: seg.startLine + i}
			size = 0
		}
		current.lines = append(current.lines, line)
		size += len(line) + 1
	}
	if len(current.lines) > 0 {
		out = append(out, current)
	}
	return out
}

// fixedChunks packs fixed-size character windows along line boundaries.
func (c *Chunker) fixedChunks(filePath string, kind Kind, lines []string, offsets *LineOffsets) []*Chunk {
	var chunks []*Chunk
	ordinal := 0
	current := &segment{kind: "text", startLine: 1}
	size := 0

	emit := func(seg *segment) {
		body := seg.text()
		if strings.TrimSpace(body) == "" {
			return
		}
		startLine := seg.startLine
		endLine := seg.startLine + len(seg.lines) - 1
		chunks = append(chunks, &Chunk{
			ID:          chunkID(filePath, "", startLine, endLine, ordinal),
			FilePath:    filePath,
			Kind:        kind,
			StartLine:   startLine,
			EndLine:     endLine,
			StartByte:   offsets.ByteOf(startLine),
			EndByte:     offsets.ByteOf(endLine+1) - 1,
			Text:        body,
			ContentHash: HashText(body),
		})
		ordinal++
	}

	for i, line := range lines {
		if size+len(line) > c.opts.TargetChunkChars && len(current.lines) > 0 {
			emit(current)
			current = &segment{kind: "text", startLine: i + 1}
			size = 0
		}
		current.lines = append(current.lines, line)
		size += len(line) + 1
	}
	emit(current)
	return chunks
}

// KindForPath maps extensions to chunk kinds; "" means not a document.
func KindForPath(path string) Kind {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".md"), strings.HasSuffix(lower, ".markdown"):
		return KindMarkdown
	case strings.HasSuffix(lower, ".mdx"):
		return KindMDX
	case strings.HasSuffix(lower, ".html"), strings.HasSuffix(lower, ".htm"):
		return KindHTML
	case strings.HasSuffix(lower, ".txt"), strings.HasSuffix(lower, ".rst"):
		return KindText
	case strings.HasSuffix(lower, ".pdf"), strings.HasSuffix(lower, ".xlsx"), strings.HasSuffix(lower, ".docx"):
		return KindText
	default:
		return ""
	}
}
