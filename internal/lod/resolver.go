package lod

import (
	"os"
	"path"

	"github.com/UpRoot-Company/uprootmcp/internal/parser"
	"github.com/UpRoot-Company/uprootmcp/internal/workspace"
)

// resolveCandidates are tried in order when a relative specifier has no
// extension, mirroring common module resolution.
var resolveCandidates = []string{
	"", ".ts", ".tsx", ".js", ".jsx", ".mjs", ".py", ".go",
	"/index.ts", "/index.tsx", "/index.js",
}

// ResolveImports maps raw import specifiers to workspace paths. Relative
// specifiers resolve against the importing file's directory; anything else
// (packages, stdlib) stays as an unresolved specifier with Target == "".
func ResolveImports(ws *workspace.Workspace, fromPath string, imports []parser.Import) []ResolvedDep {
	deps := make([]ResolvedDep, 0, len(imports))
	fromDir := path.Dir(fromPath)

	for _, imp := range imports {
		dep := ResolvedDep{Specifier: imp.Specifier, Line: imp.Line}
		if len(imp.Specifier) > 0 && imp.Specifier[0] == '.' {
			base := path.Clean(path.Join(fromDir, imp.Specifier))
			for _, suffix := range resolveCandidates {
				candidate := base + suffix
				if fileExists(ws.Absolute(candidate)) {
					dep.Target = candidate
					break
				}
			}
		}
		deps = append(deps, dep)
	}
	return deps
}

func fileExists(abs string) bool {
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}
