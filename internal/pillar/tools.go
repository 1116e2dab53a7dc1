package pillar

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/UpRoot-Company/uprootmcp/internal/edit"
	engerrors "github.com/UpRoot-Company/uprootmcp/internal/errors"
	"github.com/UpRoot-Company/uprootmcp/internal/graph"
	"github.com/UpRoot-Company/uprootmcp/internal/lod"
	"github.com/UpRoot-Company/uprootmcp/internal/search"
	"github.com/UpRoot-Company/uprootmcp/internal/workspace"
)

// Hotspot is one frequently-referenced symbol.
type Hotspot struct {
	Path     string `json:"path"`
	Symbol   string `json:"symbol"`
	InDegree int    `json:"in_degree"`
}

// FileProfile summarizes one file for navigation.
type FileProfile struct {
	Path        string   `json:"path"`
	Language    string   `json:"language"`
	LOD         int      `json:"lod"`
	SymbolCount int      `json:"symbol_count"`
	Exports     []string `json:"exports,omitempty"`
	Importers   []string `json:"importers,omitempty"`
}

// RegisterTools installs the engine-backed internal tools.
func RegisterTools(reg *Registry, ws *workspace.Workspace, engine *search.Engine, ucg *graph.UCG, resolver *edit.Resolver) {
	reg.Register("search_project", func(ctx context.Context, octx *Context, args map[string]any) (any, error) {
		query, _ := args["query"].(string)
		opts := search.Options{IncludeDocs: true}
		if expand, ok := args["expand_relationships"].(bool); ok {
			opts.ExpandRelationships = expand
		}
		if allow, ok := args["allow_sensitive"].(bool); ok {
			opts.AllowSensitive = allow
		}
		if max, ok := args["max_results"].(float64); ok {
			opts.MaxResults = int(max)
		}
		return engine.Search(ctx, query, opts)
	})

	reg.Register("doc_search", func(ctx context.Context, octx *Context, args map[string]any) (any, error) {
		query, _ := args["query"].(string)
		limit := 10
		if n, ok := args["limit"].(float64); ok {
			limit = int(n)
		}
		return engine.DocSearch(ctx, query, limit)
	})

	reg.Register("read_code", func(ctx context.Context, octx *Context, args map[string]any) (any, error) {
		rawPath, _ := args["path"].(string)
		path, err := ws.Normalize(rawPath)
		if err != nil {
			return nil, engerrors.InvalidArgs(err.Error())
		}
		allow, _ := args["allow_sensitive"].(bool)
		if ws.IsSensitive(path) && !allow {
			return nil, engerrors.Blocked("sensitive file read denied: " + path)
		}
		data, err := os.ReadFile(ws.Absolute(path))
		if err != nil {
			return nil, engerrors.NotFound("file", path)
		}
		return string(data), nil
	})

	reg.Register("analyze_relationship", func(ctx context.Context, octx *Context, args map[string]any) (any, error) {
		rawPath, _ := args["path"].(string)
		symbol, _ := args["symbol"].(string)
		path, err := ws.Normalize(rawPath)
		if err != nil {
			return nil, engerrors.InvalidArgs(err.Error())
		}
		if _, err := ucg.EnsureLOD(ctx, path, lod.LevelFullAST); err != nil {
			return nil, err
		}
		ref := graph.SymbolRef{Path: path, Name: symbol}
		return map[string]any{
			"callers":     ucg.Callers(ref),
			"callees":     ucg.Callees(ref),
			"type_family": ucg.TypeFamily(symbol),
		}, nil
	})

	reg.Register("file_profiler", func(ctx context.Context, octx *Context, args map[string]any) (any, error) {
		rawPath, _ := args["path"].(string)
		path, err := ws.Normalize(rawPath)
		if err != nil {
			return nil, engerrors.InvalidArgs(err.Error())
		}
		if _, err := ucg.EnsureLOD(ctx, path, lod.LevelSkeleton); err != nil {
			return nil, err
		}
		node := ucg.GetNode(path)
		if node == nil {
			return nil, engerrors.NotFound("file", path)
		}
		profile := FileProfile{
			Path:        node.Path,
			Language:    node.Language,
			LOD:         int(node.LOD),
			SymbolCount: len(node.Symbols),
			Importers:   ucg.Importers(path),
		}
		for _, sym := range node.Symbols {
			if sym.Exported {
				profile.Exports = append(profile.Exports, sym.Name)
			}
		}
		return profile, nil
	})

	reg.Register("hotspot_detector", func(ctx context.Context, octx *Context, args map[string]any) (any, error) {
		limit := 10
		if n, ok := args["limit"].(float64); ok {
			limit = int(n)
		}
		return DetectHotspots(ucg, limit), nil
	})

	reg.Register("edit_coordinator", func(ctx context.Context, octx *Context, args map[string]any) (any, error) {
		rawPath, _ := args["path"].(string)
		snippet, _ := args["snippet"].(string)
		path, err := ws.Normalize(rawPath)
		if err != nil {
			return nil, engerrors.InvalidArgs(err.Error())
		}
		return resolver.Resolve(path, snippet)
	})
}

// DetectHotspots ranks symbols by call-graph in-degree.
func DetectHotspots(ucg *graph.UCG, limit int) []Hotspot {
	if limit <= 0 {
		limit = 10
	}
	signals := ucg.CallSignals()
	hotspots := make([]Hotspot, 0, len(signals))
	for id, sig := range signals {
		if sig.InDegree == 0 {
			continue
		}
		idx := strings.LastIndexByte(id, ':')
		if idx < 0 {
			continue
		}
		hotspots = append(hotspots, Hotspot{
			Path:     id[:idx],
			Symbol:   id[idx+1:],
			InDegree: sig.InDegree,
		})
	}
	sort.Slice(hotspots, func(i, j int) bool {
		if hotspots[i].InDegree != hotspots[j].InDegree {
			return hotspots[i].InDegree > hotspots[j].InDegree
		}
		return hotspots[i].Path+":"+hotspots[i].Symbol < hotspots[j].Path+":"+hotspots[j].Symbol
	})
	if len(hotspots) > limit {
		hotspots = hotspots[:limit]
	}
	return hotspots
}
