// Package workspace provides path identity, root fingerprinting, and the
// sensitive-file policy shared by every component.
//
// A file's identity is its normalized path: relative to the workspace root
// and forward-slashed on every platform.
package workspace

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
)

// fingerprintSchema is bumped whenever index layouts change incompatibly,
// so stale evidence packs stop validating.
const fingerprintSchema = "v1"

// Workspace identifies one indexed source tree.
type Workspace struct {
	root        string
	fingerprint string
	sensitive   []string
}

// defaultSensitivePatterns deny full reads unless explicitly allowed.
var defaultSensitivePatterns = []string{
	"**/.env",
	"**/.env.*",
	"**/*.pem",
	"**/*.key",
	"**/*_rsa",
	"**/*credential*",
	"**/*credential*/**",
	"**/*secret*",
	"**/*secret*/**",
	"**/id_dsa",
	"**/.netrc",
	"**/.npmrc",
}

// New creates a workspace rooted at rootPath (made absolute).
// extraSensitive extends the built-in sensitive-file deny list.
func New(rootPath string, extraSensitive []string) (*Workspace, error) {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}

	patterns := make([]string, 0, len(defaultSensitivePatterns)+len(extraSensitive))
	patterns = append(patterns, defaultSensitivePatterns...)
	patterns = append(patterns, extraSensitive...)

	return &Workspace{
		root:        abs,
		fingerprint: computeFingerprint(abs),
		sensitive:   patterns,
	}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string {
	return w.root
}

// Fingerprint returns the stable workspace fingerprint. Evidence packs
// record it at creation; a mismatch forces regeneration.
func (w *Workspace) Fingerprint() string {
	return w.fingerprint
}

// Normalize converts any path (absolute or relative) to the canonical
// workspace-relative forward-slashed form.
func (w *Workspace) Normalize(path string) (string, error) {
	p := path
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(w.root, p)
		if err != nil {
			return "", fmt.Errorf("path outside workspace: %s", path)
		}
		p = rel
	}
	p = filepath.ToSlash(filepath.Clean(p))
	if p == "." {
		return "", fmt.Errorf("path resolves to workspace root: %s", path)
	}
	if strings.HasPrefix(p, "../") || p == ".." {
		return "", fmt.Errorf("path outside workspace: %s", path)
	}
	return p, nil
}

// Absolute converts a normalized path back to an absolute filesystem path.
func (w *Workspace) Absolute(normalized string) string {
	return filepath.Join(w.root, filepath.FromSlash(normalized))
}

// IsSensitive reports whether the normalized path matches the sensitive
// deny list (.env files, keys, credential-looking names).
func (w *Workspace) IsSensitive(normalized string) bool {
	lower := strings.ToLower(normalized)
	for _, pattern := range w.sensitive {
		if ok, _ := doublestar.Match(pattern, lower); ok {
			return true
		}
	}
	return false
}

// computeFingerprint derives a short stable id from the root and schema.
func computeFingerprint(absRoot string) string {
	h := xxhash.New()
	_, _ = h.WriteString(fingerprintSchema)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(filepath.ToSlash(absRoot))
	return fmt.Sprintf("%016x", h.Sum64())
}

// HashContent returns the stable content hash used for drift detection.
func HashContent(content []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(content))
}
