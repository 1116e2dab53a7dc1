// Package edit resolves edit targets: locating a snippet inside a file
// before a patch is planned. The patch applicator itself lives outside
// the engine; this resolver only answers "where, exactly?".
package edit

import (
	"fmt"
	"os"
	"strings"

	engerrors "github.com/UpRoot-Company/uprootmcp/internal/errors"
	"github.com/UpRoot-Company/uprootmcp/internal/workspace"
)

// Match is one resolved location.
type Match struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"` // 1-based inclusive
	EndLine   int    `json:"end_line"`
	// ContentHash snapshots the matched lines so apply can detect drift.
	ContentHash string `json:"content_hash"`
}

// Resolver locates target snippets in workspace files.
type Resolver struct {
	ws *workspace.Workspace
}

// NewResolver creates a resolver.
func NewResolver(ws *workspace.Workspace) *Resolver {
	return &Resolver{ws: ws}
}

// Resolve finds the snippet in the file. Zero candidates yield no_match
// with a guidance snippet of the closest line; multiple candidates yield
// ambiguous_match with a narrower line-range suggestion.
func (r *Resolver) Resolve(path, snippet string) (*Match, error) {
	if strings.TrimSpace(snippet) == "" {
		return nil, engerrors.InvalidArgs("edit snippet must not be empty")
	}

	data, err := os.ReadFile(r.ws.Absolute(path))
	if err != nil {
		return nil, engerrors.NotFound("file", path)
	}

	lines := strings.Split(string(data), "\n")
	target := strings.Split(strings.TrimRight(snippet, "\n"), "\n")

	var matches []Match
	for i := 0; i+len(target) <= len(lines); i++ {
		if linesEqual(lines[i:i+len(target)], target) {
			matched := strings.Join(lines[i:i+len(target)], "\n")
			matches = append(matches, Match{
				Path:        path,
				StartLine:   i + 1,
				EndLine:     i + len(target),
				ContentHash: workspace.HashContent([]byte(matched)),
			})
		}
	}

	switch len(matches) {
	case 1:
		return &matches[0], nil
	case 0:
		return nil, engerrors.New(engerrors.ErrCodeNoMatch,
			"snippet not found in "+path, nil).
			WithDetail("guidance", r.closestLine(lines, target[0])).
			WithSuggestion("re-read the file; the snippet may have drifted")
	default:
		ranges := make([]string, 0, len(matches))
		for _, m := range matches {
			ranges = append(ranges, fmt.Sprintf("L%d-L%d", m.StartLine, m.EndLine))
		}
		return nil, engerrors.New(engerrors.ErrCodeAmbiguousMatch,
			fmt.Sprintf("snippet matches %d locations in %s", len(matches), path), nil).
			WithDetail("candidates", strings.Join(ranges, ", ")).
			WithSuggestion("narrow the edit to one of: " + strings.Join(ranges, ", "))
	}
}

// Verify re-checks a resolved match against the current file contents,
// returning hash_mismatch when the file drifted between plan and apply.
func (r *Resolver) Verify(m *Match) error {
	data, err := os.ReadFile(r.ws.Absolute(m.Path))
	if err != nil {
		return engerrors.NotFound("file", m.Path)
	}
	lines := strings.Split(string(data), "\n")
	if m.StartLine < 1 || m.EndLine > len(lines) {
		return engerrors.New(engerrors.ErrCodeHashMismatch,
			"file shrank since plan: "+m.Path, nil)
	}
	current := strings.Join(lines[m.StartLine-1:m.EndLine], "\n")
	if workspace.HashContent([]byte(current)) != m.ContentHash {
		return engerrors.New(engerrors.ErrCodeHashMismatch,
			"file drifted since plan: "+m.Path, nil).
			WithSuggestion("refresh the plan against the current file")
	}
	return nil
}

// linesEqual compares with trailing-whitespace tolerance.
func linesEqual(a, b []string) bool {
	for i := range a {
		if strings.TrimRight(a[i], " \t") != strings.TrimRight(b[i], " \t") {
			return false
		}
	}
	return true
}

// closestLine finds the line most similar to the snippet's first line as
// a guidance hint.
func (r *Resolver) closestLine(lines []string, first string) string {
	needle := strings.TrimSpace(first)
	if needle == "" {
		return ""
	}
	for i, line := range lines {
		if strings.Contains(strings.TrimSpace(line), needle) ||
			strings.Contains(needle, strings.TrimSpace(line)) && strings.TrimSpace(line) != "" {
			return fmt.Sprintf("closest match near L%d: %s", i+1, strings.TrimSpace(line))
		}
	}
	return "no similar line found"
}
