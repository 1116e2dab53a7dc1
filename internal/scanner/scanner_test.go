package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return dir
}

func scanPaths(t *testing.T, dir string, opts Options) []string {
	t.Helper()
	s, err := New(dir)
	require.NoError(t, err)
	opts.RootDir = dir

	results, err := s.Scan(context.Background(), opts)
	require.NoError(t, err)

	var paths []string
	for r := range results {
		if r.Err == nil {
			paths = append(paths, r.File.Path)
		}
	}
	return paths
}

func TestScanHonorsGitignore(t *testing.T) {
	dir := writeTree(t, map[string]string{
		".gitignore":      "*.log\nbuild/\n",
		"main.go":         "package main",
		"debug.log":       "noise",
		"build/out.txt":   "artifact",
		"src/app.go":      "package src",
		"src/.gitignore":  "generated_*\n",
		"src/generated_x": "machine output",
	})

	paths := scanPaths(t, dir, Options{})
	assert.Contains(t, paths, "main.go")
	assert.Contains(t, paths, "src/app.go")
	assert.NotContains(t, paths, "debug.log")
	assert.NotContains(t, paths, "build/out.txt")
	assert.NotContains(t, paths, "src/generated_x", "subdirectory ignore rules apply to their subtree")
}

func TestScanDefaultExcludes(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"main.go":                 "package main",
		"node_modules/pkg/x.js":   "junk",
		"vendor/dep/dep.go":       "package dep",
		"app.min.js":              "minified",
	})

	paths := scanPaths(t, dir, Options{})
	assert.Equal(t, []string{"main.go"}, paths)
}

func TestScanExtensionWhitelist(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"a.go": "package a",
		"b.md": "# b",
		"c.ts": "export {}",
	})

	paths := scanPaths(t, dir, Options{IncludeExtensions: []string{".go", ".md"}})
	assert.ElementsMatch(t, []string{"a.go", "b.md"}, paths)
}

func TestScanMaxFileSize(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"small.txt": "ok",
		"large.txt": string(make([]byte, 2048)),
	})

	paths := scanPaths(t, dir, Options{MaxFileSize: 1024})
	assert.Equal(t, []string{"small.txt"}, paths)
}
