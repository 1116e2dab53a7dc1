// Package ignore implements .gitignore/.mcpignore matching for workspace
// scans. Ignore files are discovered per subdirectory and their patterns
// apply relative to the directory that declares them.
package ignore

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	gitignore "github.com/sabhiram/go-gitignore"
)

// ignoreFileNames are recognized in every directory, in order.
var ignoreFileNames = []string{".gitignore", ".mcpignore"}

// defaultExcludePatterns are always excluded regardless of ignore files.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// matcherCacheSize bounds the per-directory matcher cache so long-running
// processes don't grow without bound.
const matcherCacheSize = 1000

// Matcher answers "is this workspace-relative path ignored?".
type Matcher struct {
	root  string
	cache *lru.Cache[string, *gitignore.GitIgnore]
}

// NewMatcher creates a matcher for the workspace rooted at absRoot.
func NewMatcher(absRoot string) (*Matcher, error) {
	cache, err := lru.New[string, *gitignore.GitIgnore](matcherCacheSize)
	if err != nil {
		return nil, err
	}
	return &Matcher{root: absRoot, cache: cache}, nil
}

// Ignored reports whether the normalized (forward-slashed, root-relative)
// path should be excluded from indexing.
func (m *Matcher) Ignored(normalized string) bool {
	for _, pattern := range defaultExcludePatterns {
		if ok, _ := doublestar.Match(pattern, normalized); ok {
			return true
		}
	}

	// Walk ancestor directories from the root down; a match in any of their
	// ignore files excludes the path, and a negation in a deeper file does
	// not re-include it.
	dir := ""
	segments := strings.Split(normalized, "/")
	for i := 0; i < len(segments); i++ {
		if ign := m.matcherFor(dir); ign != nil {
			rel := normalized
			if dir != "" {
				rel = strings.TrimPrefix(normalized, dir+"/")
			}
			if ign.MatchesPath(rel) {
				return true
			}
		}
		if i < len(segments)-1 {
			dir = path.Join(dir, segments[i])
		}
	}
	return false
}

// matcherFor loads (or returns cached) ignore rules declared in the given
// root-relative directory. Returns nil when no ignore file exists there.
func (m *Matcher) matcherFor(relDir string) *gitignore.GitIgnore {
	if cached, ok := m.cache.Get(relDir); ok {
		return cached
	}

	var lines []string
	for _, name := range ignoreFileNames {
		p := filepath.Join(m.root, filepath.FromSlash(relDir), name)
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		lines = append(lines, strings.Split(string(data), "\n")...)
	}

	var ign *gitignore.GitIgnore
	if len(lines) > 0 {
		ign = gitignore.CompileIgnoreLines(lines...)
	}
	m.cache.Add(relDir, ign)
	return ign
}

// Invalidate drops the cached rules for a directory, e.g. when the watcher
// reports an ignore-file edit.
func (m *Matcher) Invalidate(relDir string) {
	m.cache.Remove(relDir)
}
