package pillar

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/UpRoot-Company/uprootmcp/internal/async"
	"github.com/UpRoot-Company/uprootmcp/internal/config"
	"github.com/UpRoot-Company/uprootmcp/internal/edit"
	engerrors "github.com/UpRoot-Company/uprootmcp/internal/errors"
	"github.com/UpRoot-Company/uprootmcp/internal/graph"
	"github.com/UpRoot-Company/uprootmcp/internal/lod"
	"github.com/UpRoot-Company/uprootmcp/internal/search"
	"github.com/UpRoot-Company/uprootmcp/internal/workspace"
)

// Statuses are the boundary exit codes.
const (
	StatusOK          = "ok"
	StatusInvalidArgs = "invalid_args"
	StatusBlocked     = "blocked"
	StatusDegraded    = "degraded"
	StatusFailed      = "failed"
)

// Limits bound a pillar response.
type Limits struct {
	MaxChars     int `json:"max_chars,omitempty"`
	MaxResults   int `json:"max_results,omitempty"`
	MaxItemChars int `json:"max_item_chars,omitempty"`
}

// Include toggles response content classes.
type Include struct {
	Docs     bool `json:"docs,omitempty"`
	Comments bool `json:"comments,omitempty"`
}

// Request is the shared pillar input shape.
type Request struct {
	Query  string         `json:"query,omitempty"`
	Paths  []string       `json:"paths,omitempty"`
	View   string         `json:"view,omitempty"` // preview | full
	Limits Limits         `json:"limits,omitempty"`
	Include Include       `json:"include,omitempty"`
	Cursor *search.Cursor `json:"cursor,omitempty"`
	PackID string         `json:"pack_id,omitempty"`

	ExpandRelationships bool `json:"expand_relationships,omitempty"`
	AllowSensitive      bool `json:"allow_sensitive,omitempty"`

	// Change/write inputs.
	Target  string `json:"target,omitempty"`
	Snippet string `json:"snippet,omitempty"`

	// Manage inputs.
	Op      string `json:"op,omitempty"` // status | invalidate | prune_ghosts | compact_packs
	Cascade bool   `json:"cascade,omitempty"`
}

// Data is the response payload: document and code items.
type Data struct {
	Docs []search.PackItem `json:"docs"`
	Code []search.PackItem `json:"code"`
	// Extra carries verb-specific payloads (stats, profiles, matches).
	Extra map[string]any `json:"extra,omitempty"`
}

// Response is the shared pillar output shape.
type Response struct {
	Success  bool             `json:"success"`
	Status   string           `json:"status"`
	Message  string           `json:"message,omitempty"`
	Code     string           `json:"code,omitempty"`
	Data     Data             `json:"data"`
	Pack     *search.PackInfo `json:"pack,omitempty"`
	Next     *search.Next     `json:"next,omitempty"`
	Guidance *Guidance        `json:"guidance,omitempty"`
}

// Pillars hosts the agent-facing verbs.
type Pillars struct {
	ws       *workspace.Workspace
	engine   *search.Engine
	ucg      *graph.UCG
	analyzer *lod.Analyzer
	queue    *async.Indexer
	resolver *edit.Resolver
	registry *Registry
	eager    *EagerLoadingStrategy
	guidance *GuidanceGenerator
	rollout  config.RolloutConfig
	ghostMaxAge time.Duration
}

// New wires the pillar layer.
func New(ws *workspace.Workspace, engine *search.Engine, ucg *graph.UCG, analyzer *lod.Analyzer, queue *async.Indexer, resolver *edit.Resolver, cfg *config.Config) *Pillars {
	registry := NewRegistry()
	RegisterTools(registry, ws, engine, ucg, resolver)
	ghostMaxAge := cfg.Storage.GhostMaxAge
	if ghostMaxAge <= 0 {
		ghostMaxAge = 30 * 24 * time.Hour
	}
	return &Pillars{
		ws:          ws,
		engine:      engine,
		ucg:         ucg,
		analyzer:    analyzer,
		queue:       queue,
		resolver:    resolver,
		registry:    registry,
		eager:       NewEagerLoadingStrategy(registry),
		guidance:    NewGuidanceGenerator(),
		rollout:     cfg.Rollout,
		ghostMaxAge: ghostMaxAge,
	}
}

// Registry exposes the internal tool registry (tests, server wiring).
func (p *Pillars) Registry() *Registry { return p.registry }

func (p *Pillars) newContext() *Context {
	flags, err := p.rollout.FlagsForRequest("")
	if err != nil {
		flags = config.Flags{}
	}
	return NewContext(flags)
}

// Explore serves discovery: query search, path listing/reading, and
// cursor-paged pack follow-ups.
func (p *Pillars) Explore(ctx context.Context, req Request) *Response {
	octx := p.newContext()

	if req.PackID != "" && req.Cursor != nil {
		return p.pageResponse(ctx, req)
	}

	switch {
	case strings.TrimSpace(req.Query) != "":
		return p.exploreQuery(ctx, octx, req)
	case len(req.Paths) > 0:
		return p.explorePaths(ctx, req)
	default:
		return failure(engerrors.InvalidArgs("explore requires query or paths"))
	}
}

func (p *Pillars) exploreQuery(ctx context.Context, octx *Context, req Request) *Response {
	intent := ParseIntent(CategoryExplore, req.Query, req.Paths, Constraints{
		MaxResults: req.Limits.MaxResults,
	})
	if _, err := p.eager.Preload(ctx, octx, intent); err != nil {
		return failure(err)
	}

	raw, err := p.registry.Call(ctx, octx, "search_project", map[string]any{
		"query":                req.Query,
		"expand_relationships": req.ExpandRelationships,
		"allow_sensitive":      req.AllowSensitive,
		"max_results":          float64(req.Limits.MaxResults),
	})
	if err != nil {
		return failure(err)
	}
	result := raw.(*search.Response)

	resp := successResponse(result, req.Limits)
	guidance := p.guidance.Generate(octx, intent, nil)
	resp.Guidance = &guidance
	return resp
}

// explorePaths lists or reads the requested paths. Full view of a
// sensitive file without allowSensitive blocks the whole request.
func (p *Pillars) explorePaths(ctx context.Context, req Request) *Response {
	resp := &Response{Success: true, Status: StatusOK}
	full := req.View == "full"

	for _, raw := range req.Paths {
		var normalized string
		if raw == "." || raw == "" {
			normalized = ""
		} else {
			var err error
			normalized, err = p.ws.Normalize(raw)
			if err != nil {
				return failure(engerrors.InvalidArgs(err.Error()))
			}
		}

		abs := p.ws.Root()
		if normalized != "" {
			abs = p.ws.Absolute(normalized)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return failure(engerrors.NotFound("path", raw))
		}

		if info.IsDir() {
			entries, err := os.ReadDir(abs)
			if err != nil {
				return failure(engerrors.Wrap(engerrors.ErrCodeStorageFailed, err))
			}
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				childPath := entry.Name()
				if normalized != "" {
					childPath = normalized + "/" + entry.Name()
				}
				item, blocked := p.pathItem(childPath, full, req.AllowSensitive)
				if blocked != nil {
					return failure(blocked)
				}
				resp.Data.Code = append(resp.Data.Code, item)
			}
			continue
		}

		item, blocked := p.pathItem(normalized, full, req.AllowSensitive)
		if blocked != nil {
			return failure(blocked)
		}
		resp.Data.Code = append(resp.Data.Code, item)
	}

	return resp
}

// pathItem builds one item for a path; the error return is a policy block.
func (p *Pillars) pathItem(normalized string, full, allowSensitive bool) (search.PackItem, *engerrors.EngineError) {
	item := search.PackItem{
		Role: search.RoleResult,
		Path: normalized,
	}

	sensitive := p.ws.IsSensitive(normalized)
	if sensitive && full && !allowSensitive {
		return item, engerrors.Blocked("sensitive file in full view: " + normalized).
			WithSuggestion("pass allowSensitive=true or use view=preview")
	}

	if full && (!sensitive || allowSensitive) {
		data, err := os.ReadFile(p.ws.Absolute(normalized))
		if err == nil {
			item.Preview = string(data)
			lineCount := strings.Count(item.Preview, "\n") + 1
			item.Range = search.LineRange{Start: 1, End: lineCount}
			item.ContentHash = workspace.HashContent(data)
		}
	} else if sensitive {
		item.Preview = "[sensitive file: content withheld]"
	}
	return item, nil
}

// Understand serves comprehension queries with hot-spot pre-loading.
func (p *Pillars) Understand(ctx context.Context, req Request) *Response {
	if strings.TrimSpace(req.Query) == "" {
		return failure(engerrors.InvalidArgs("understand requires a query"))
	}
	octx := p.newContext()

	intent := ParseIntent(CategoryUnderstand, req.Query, req.Paths, Constraints{
		MaxResults: req.Limits.MaxResults,
	})
	preload, err := p.eager.Preload(ctx, octx, intent)
	if err != nil {
		return failure(err)
	}

	raw, err := p.registry.Call(ctx, octx, "search_project", map[string]any{
		"query":                req.Query,
		"expand_relationships": true,
		"allow_sensitive":      req.AllowSensitive,
		"max_results":          float64(req.Limits.MaxResults),
	})
	if err != nil {
		return failure(err)
	}
	result := raw.(*search.Response)

	resp := successResponse(result, req.Limits)
	resp.Data.Extra = map[string]any{"hotspots": preload.Hotspots}
	guidance := p.guidance.Generate(octx, intent, preload.Hotspots)
	resp.Guidance = &guidance
	return resp
}

// Change resolves an edit target without applying anything.
func (p *Pillars) Change(ctx context.Context, req Request) *Response {
	if req.Target == "" || req.Snippet == "" {
		return failure(engerrors.InvalidArgs("change requires target and snippet"))
	}
	octx := p.newContext()

	raw, err := p.registry.Call(ctx, octx, "edit_coordinator", map[string]any{
		"path":    req.Target,
		"snippet": req.Snippet,
	})
	if err != nil {
		resp := failure(err)
		intent := ParseIntent(CategoryChange, req.Query, []string{req.Target}, Constraints{})
		guidance := p.guidance.Generate(octx, intent, DetectHotspots(p.ucg, 10))
		resp.Guidance = &guidance
		return resp
	}

	match := raw.(*edit.Match)
	resp := &Response{Success: true, Status: StatusOK}
	resp.Data.Extra = map[string]any{"match": match}
	intent := ParseIntent(CategoryChange, req.Query, []string{req.Target}, Constraints{})
	guidance := p.guidance.Generate(octx, intent, DetectHotspots(p.ucg, 10))
	resp.Guidance = &guidance
	return resp
}

// Write verifies a previously resolved match is still valid before the
// caller applies its patch.
func (p *Pillars) Write(ctx context.Context, req Request) *Response {
	if req.Target == "" || req.Snippet == "" {
		return failure(engerrors.InvalidArgs("write requires target and snippet"))
	}
	octx := p.newContext()

	raw, err := p.registry.Call(ctx, octx, "edit_coordinator", map[string]any{
		"path":    req.Target,
		"snippet": req.Snippet,
	})
	if err != nil {
		return failure(err)
	}
	match := raw.(*edit.Match)
	if err := p.resolver.Verify(match); err != nil {
		return failure(err)
	}

	resp := &Response{Success: true, Status: StatusOK}
	resp.Data.Extra = map[string]any{"match": match}
	return resp
}

// Manage serves maintenance operations and observability.
func (p *Pillars) Manage(ctx context.Context, req Request) *Response {
	switch req.Op {
	case "", "status":
		resp := &Response{Success: true, Status: StatusOK}
		resp.Data.Extra = map[string]any{
			"graph":      p.ucg.GetStats(),
			"promotions": p.analyzer.PromotionStats(),
			"activity":   p.queue.GetActivitySnapshot(),
		}
		return resp

	case "invalidate":
		if len(req.Paths) == 0 {
			return failure(engerrors.InvalidArgs("invalidate requires paths"))
		}
		for _, raw := range req.Paths {
			normalized, err := p.ws.Normalize(raw)
			if err != nil {
				return failure(engerrors.InvalidArgs(err.Error()))
			}
			p.ucg.Invalidate(normalized, req.Cascade)
		}
		return &Response{Success: true, Status: StatusOK}

	case "prune_ghosts":
		pruned := p.ucg.PruneGhosts(p.ghostMaxAge)
		resp := &Response{Success: true, Status: StatusOK}
		resp.Data.Extra = map[string]any{"pruned": pruned}
		return resp

	case "compact_packs":
		n, err := p.engine.Packs().CleanupExpired(ctx)
		if err != nil {
			return failure(err)
		}
		resp := &Response{Success: true, Status: StatusOK}
		resp.Data.Extra = map[string]any{"deleted": n}
		return resp

	default:
		return failure(engerrors.InvalidArgs("unknown manage op: " + req.Op))
	}
}

// pageResponse serves a pack cursor follow-up.
func (p *Pillars) pageResponse(ctx context.Context, req Request) *Response {
	result, err := p.engine.Page(ctx, req.PackID, *req.Cursor, search.Options{
		MaxResults:     req.Limits.MaxResults,
		AllowSensitive: req.AllowSensitive,
	})
	if err != nil {
		return failure(err)
	}
	return successResponse(result, req.Limits)
}

// successResponse converts an engine response to the boundary shape,
// splitting items into docs and code.
func successResponse(result *search.Response, limits Limits) *Response {
	resp := &Response{Success: true, Status: StatusOK}
	if result.Degraded {
		resp.Status = StatusDegraded
		resp.Message = strings.Join(result.DegradedReasons, ", ")
	}

	for _, item := range result.Items {
		if limits.MaxItemChars > 0 && len(item.Preview) > limits.MaxItemChars {
			item.Preview = item.Preview[:limits.MaxItemChars]
		}
		if item.IsDoc {
			resp.Data.Docs = append(resp.Data.Docs, item)
		} else {
			resp.Data.Code = append(resp.Data.Code, item)
		}
	}

	if result.Pack.ID != "" || result.Pack.Hit {
		pack := result.Pack
		resp.Pack = &pack
	}
	if result.Next.ItemsCursor != nil {
		next := result.Next
		resp.Next = &next
	}
	return resp
}

// failure maps an error to the boundary status shape.
func failure(err error) *Response {
	resp := &Response{Success: false}
	var ee *engerrors.EngineError
	if errors.As(err, &ee) {
		resp.Code = ee.Code
		resp.Message = ee.Message
		if ee.Suggestion != "" {
			resp.Guidance = &Guidance{Recovery: ee.Suggestion}
		}
		switch ee.Kind {
		case engerrors.KindInvalidArgs:
			resp.Status = StatusInvalidArgs
		case engerrors.KindBlocked:
			resp.Status = StatusBlocked
		case engerrors.KindIndexStale, engerrors.KindFallbackUsed:
			resp.Status = StatusDegraded
		default:
			resp.Status = StatusFailed
		}
		return resp
	}
	resp.Status = StatusFailed
	resp.Message = err.Error()
	return resp
}
