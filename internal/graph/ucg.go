package graph

import (
	"context"
	"log/slog"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/UpRoot-Company/uprootmcp/internal/lod"
	"github.com/UpRoot-Company/uprootmcp/internal/parser"
	"github.com/UpRoot-Company/uprootmcp/internal/workspace"
)

// UCG is the unified context graph for one workspace root.
type UCG struct {
	ws      *workspace.Workspace
	persist Persistence

	mu    sync.RWMutex
	files map[string]*FileNode

	// imports maps source path -> set of target paths; reverseImports is
	// its inverse and drives cascade invalidation.
	imports        map[string]map[string]struct{}
	reverseImports map[string]map[string]struct{}
	unresolved     map[string][]string // source path -> raw specifiers

	// calls maps caller symbol id -> callee symbol ids; reverseCalls is
	// its inverse.
	calls        map[string]map[string]struct{}
	reverseCalls map[string]map[string]struct{}

	// typeEdges maps subtype name -> supertype names with relation kinds.
	typeEdges        map[string]map[string]parser.TypeRelationKind
	reverseTypeEdges map[string]map[string]struct{}

	// symbolsByName indexes live symbols for callee resolution.
	symbolsByName map[string][]SymbolRef

	ghosts map[string]GhostSymbol

	analyzer *lod.Analyzer
}

// New creates an empty graph. persist may be nil for memory-only mode.
func New(ws *workspace.Workspace, persist Persistence) *UCG {
	return &UCG{
		ws:               ws,
		persist:          persist,
		files:            make(map[string]*FileNode),
		imports:          make(map[string]map[string]struct{}),
		reverseImports:   make(map[string]map[string]struct{}),
		unresolved:       make(map[string][]string),
		calls:            make(map[string]map[string]struct{}),
		reverseCalls:     make(map[string]map[string]struct{}),
		typeEdges:        make(map[string]map[string]parser.TypeRelationKind),
		reverseTypeEdges: make(map[string]map[string]struct{}),
		symbolsByName:    make(map[string][]SymbolRef),
		ghosts:           make(map[string]GhostSymbol),
	}
}

// AttachAnalyzer wires the LOD analyzer after construction (the analyzer
// needs the graph as its sink, so the two are created in sequence).
func (g *UCG) AttachAnalyzer(a *lod.Analyzer) { g.analyzer = a }

// GetNode returns the file node, or nil when unknown.
func (g *UCG) GetNode(p string) *FileNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.files[p]
	if !ok {
		return nil
	}
	clone := *node
	return &clone
}

// EnsureLOD delegates to the analyzer and persists the resulting state.
func (g *UCG) EnsureLOD(ctx context.Context, p string, minLOD lod.Level) (*lod.Result, error) {
	result, err := g.analyzer.EnsureLOD(ctx, p, minLOD)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	node := g.ensureNodeLocked(p)
	if result.CurrentLOD > node.LOD {
		node.LOD = result.CurrentLOD
	}
	clone := *node
	g.mu.Unlock()

	if g.persist != nil {
		if err := g.persist.SaveFileNode(ctx, &clone); err != nil {
			slog.Warn("ucg_persist_failed", slog.String("path", p), slog.String("error", err.Error()))
		}
	}
	return result, nil
}

// CurrentLOD returns the node's level (0 for unknown files).
func (g *UCG) CurrentLOD(p string) lod.Level {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if node, ok := g.files[p]; ok {
		return node.LOD
	}
	return lod.LevelUnknown
}

// Observe registers a file's existence at LOD 0 (watcher create events,
// scanner discovery).
func (g *UCG) Observe(p string, modTime time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	node := g.ensureNodeLocked(p)
	node.ModTime = modTime
}

// Invalidate sets the file to LOD 0 and removes call/type edges touching
// it. With cascade, every transitive importer is demoted to at most LOD 1
// so resolution re-runs on next EnsureLOD. Each node is demoted at most
// once per call; import cycles are cut by the visited set.
func (g *UCG) Invalidate(p string, cascade bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.removeDerivedEdgesLocked(p)
	if node, ok := g.files[p]; ok {
		node.LOD = lod.LevelUnknown
		node.Skeleton = ""
		node.SkeletonHash = ""
	}
	if g.analyzer != nil {
		g.analyzer.Invalidate(p)
	}

	if !cascade {
		return
	}

	visited := map[string]struct{}{p: {}}
	var walk func(target string)
	walk = func(target string) {
		for importer := range g.reverseImports[target] {
			if _, seen := visited[importer]; seen {
				continue
			}
			visited[importer] = struct{}{}
			if node, ok := g.files[importer]; ok && node.LOD > lod.LevelTopology {
				node.LOD = lod.LevelTopology
				node.Skeleton = ""
				node.SkeletonHash = ""
			}
			if g.analyzer != nil {
				g.analyzer.Demote(importer, lod.LevelTopology)
			}
			g.removeDerivedEdgesLocked(importer)
			walk(importer)
		}
	}
	walk(p)
}

// Remove deletes a file from the graph, ghosting its symbols.
func (g *UCG) Remove(ctx context.Context, p string) {
	g.mu.Lock()
	node := g.files[p]
	var ghosts []GhostSymbol
	if node != nil {
		ghosts = g.ghostSymbolsLocked(node, nil)
	}
	g.removeDerivedEdgesLocked(p)
	for target := range g.imports[p] {
		delete(g.reverseImports[target], p)
	}
	delete(g.imports, p)
	delete(g.unresolved, p)
	if node != nil {
		g.dropSymbolIndexLocked(node.Symbols, p)
	}
	delete(g.files, p)
	g.mu.Unlock()

	if g.analyzer != nil {
		g.analyzer.Forget(p)
	}
	if g.persist != nil {
		if err := g.persist.DeleteFileNode(ctx, p); err != nil {
			slog.Warn("ucg_delete_failed", slog.String("path", p), slog.String("error", err.Error()))
		}
		if len(ghosts) > 0 {
			_ = g.persist.SaveGhosts(ctx, ghosts)
		}
	}
}

// ApplyTopology implements lod.Sink.
func (g *UCG) ApplyTopology(p string, topo *parser.Topology) {
	g.mu.Lock()
	defer g.mu.Unlock()

	node := g.ensureNodeLocked(p)
	if topo.Language != "" {
		node.Language = topo.Language
	}
	g.replaceSymbolsLocked(node, topo.Symbols)
	if node.LOD < lod.LevelTopology {
		node.LOD = lod.LevelTopology
	}
}

// ApplySkeleton implements lod.Sink.
func (g *UCG) ApplySkeleton(p string, result *parser.ParseResult, deps []lod.ResolvedDep, skeleton string) {
	g.mu.Lock()
	node := g.ensureNodeLocked(p)
	if result.Language != "" {
		node.Language = result.Language
	}
	ghosts := g.ghostSymbolsLocked(node, result.Symbols)
	g.replaceSymbolsLocked(node, result.Symbols)
	node.Skeleton = skeleton
	node.SkeletonHash = workspace.HashContent([]byte(skeleton))
	if node.LOD < lod.LevelSkeleton {
		node.LOD = lod.LevelSkeleton
	}

	// Replace dependency edges whole-cloth for this source file.
	for target := range g.imports[p] {
		delete(g.reverseImports[target], p)
	}
	g.imports[p] = make(map[string]struct{})
	g.unresolved[p] = nil
	for _, dep := range deps {
		if dep.Target == "" {
			g.unresolved[p] = append(g.unresolved[p], dep.Specifier)
			continue
		}
		g.imports[p][dep.Target] = struct{}{}
		if g.reverseImports[dep.Target] == nil {
			g.reverseImports[dep.Target] = make(map[string]struct{})
		}
		g.reverseImports[dep.Target][p] = struct{}{}
	}
	g.mu.Unlock()

	if g.persist != nil {
		ctx := context.Background()
		_ = g.persist.ReplaceSymbols(ctx, p, result.Symbols)
		_ = g.persist.ReplaceDependencies(ctx, p, deps)
		if len(ghosts) > 0 {
			_ = g.persist.SaveGhosts(ctx, ghosts)
		}
	}
}

// ApplyFullAST implements lod.Sink: materialize call and type edges.
func (g *UCG) ApplyFullAST(p string, result *parser.ParseResult) {
	g.mu.Lock()
	defer g.mu.Unlock()

	node := g.ensureNodeLocked(p)
	g.removeDerivedEdgesLocked(p)

	for _, site := range result.CallSites {
		if site.Caller == "" || site.Callee == "" {
			continue
		}
		caller := SymbolRef{Path: p, Name: site.Caller}.ID()
		for _, callee := range g.resolveCalleeLocked(p, site.Callee) {
			calleeID := callee.ID()
			if g.calls[caller] == nil {
				g.calls[caller] = make(map[string]struct{})
			}
			g.calls[caller][calleeID] = struct{}{}
			if g.reverseCalls[calleeID] == nil {
				g.reverseCalls[calleeID] = make(map[string]struct{})
			}
			g.reverseCalls[calleeID][caller] = struct{}{}
		}
	}

	for _, rel := range result.TypeRelations {
		if g.typeEdges[rel.Subtype] == nil {
			g.typeEdges[rel.Subtype] = make(map[string]parser.TypeRelationKind)
		}
		g.typeEdges[rel.Subtype][rel.Supertype] = rel.Kind
		if g.reverseTypeEdges[rel.Supertype] == nil {
			g.reverseTypeEdges[rel.Supertype] = make(map[string]struct{})
		}
		g.reverseTypeEdges[rel.Supertype][rel.Subtype] = struct{}{}
	}

	if node.LOD < lod.LevelFullAST {
		node.LOD = lod.LevelFullAST
	}
}

// Callers returns symbols calling the given symbol.
func (g *UCG) Callers(ref SymbolRef) []SymbolRef {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return refsFromIDs(g.reverseCalls[ref.ID()])
}

// Callees returns symbols the given symbol calls.
func (g *UCG) Callees(ref SymbolRef) []SymbolRef {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return refsFromIDs(g.calls[ref.ID()])
}

// TypeFamily returns supertypes and subtypes of a type name.
func (g *UCG) TypeFamily(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]struct{})
	var family []string
	for super := range g.typeEdges[name] {
		if _, ok := seen[super]; !ok {
			seen[super] = struct{}{}
			family = append(family, super)
		}
	}
	for sub := range g.reverseTypeEdges[name] {
		if _, ok := seen[sub]; !ok {
			seen[sub] = struct{}{}
			family = append(family, sub)
		}
	}
	sort.Strings(family)
	return family
}

// Colocated returns the other symbols defined in the same file.
func (g *UCG) Colocated(p string, except string) []parser.Symbol {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.files[p]
	if !ok {
		return nil
	}
	out := make([]parser.Symbol, 0, len(node.Symbols))
	for _, sym := range node.Symbols {
		if sym.Name != except {
			out = append(out, sym)
		}
	}
	return out
}

// Siblings returns other known files in the same directory.
func (g *UCG) Siblings(p string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	dir := path.Dir(p)
	var out []string
	for other := range g.files {
		if other != p && path.Dir(other) == dir {
			out = append(out, other)
		}
	}
	sort.Strings(out)
	return out
}

// Importers returns files that import p directly.
func (g *UCG) Importers(p string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.reverseImports[p]))
	for importer := range g.reverseImports[p] {
		out = append(out, importer)
	}
	sort.Strings(out)
	return out
}

// CallSignals computes the per-symbol signal map feeding the BM25F boost:
// in/out degree, depth from entry points, and entry-point detection
// (callers == 0 with callees > 0).
func (g *UCG) CallSignals() map[string]CallSignal {
	g.mu.RLock()
	defer g.mu.RUnlock()

	signals := make(map[string]CallSignal)
	ids := make(map[string]struct{})
	for id := range g.calls {
		ids[id] = struct{}{}
	}
	for id := range g.reverseCalls {
		ids[id] = struct{}{}
	}

	for id := range ids {
		in := len(g.reverseCalls[id])
		out := len(g.calls[id])
		signals[id] = CallSignal{
			InDegree:     in,
			OutDegree:    out,
			IsEntryPoint: in == 0 && out > 0,
		}
	}

	// BFS from entry points assigns call depth.
	queue := make([]string, 0)
	for id, sig := range signals {
		if sig.IsEntryPoint {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)
	depth := make(map[string]int, len(queue))
	for _, id := range queue {
		depth[id] = 0
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for callee := range g.calls[id] {
			if _, seen := depth[callee]; seen {
				continue
			}
			depth[callee] = depth[id] + 1
			queue = append(queue, callee)
		}
	}
	for id, d := range depth {
		sig := signals[id]
		sig.Depth = d
		signals[id] = sig
	}

	return signals
}

// Ghosts returns the current ghost symbols.
func (g *UCG) Ghosts() []GhostSymbol {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]GhostSymbol, 0, len(g.ghosts))
	for _, ghost := range g.ghosts {
		out = append(out, ghost)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PruneGhosts drops ghosts older than maxAge.
func (g *UCG) PruneGhosts(maxAge time.Duration) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	pruned := 0
	for name, ghost := range g.ghosts {
		if ghost.DeletedAt.Before(cutoff) {
			delete(g.ghosts, name)
			pruned++
		}
	}
	return pruned
}

// GetStats returns node/edge counts.
func (g *UCG) GetStats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := Stats{Files: len(g.files), Ghosts: len(g.ghosts)}
	for _, node := range g.files {
		stats.Symbols += len(node.Symbols)
	}
	for _, targets := range g.imports {
		stats.ImportEdges += len(targets)
	}
	for _, callees := range g.calls {
		stats.CallEdges += len(callees)
	}
	for _, supers := range g.typeEdges {
		stats.TypeEdges += len(supers)
	}
	for _, specs := range g.unresolved {
		stats.Unresolved += len(specs)
	}
	return stats
}

// ValidateDualWrite compares the UCG skeleton hash against the legacy
// cache's hash, logging mismatches without failing the request.
func (g *UCG) ValidateDualWrite(p string, legacyHash string) bool {
	g.mu.RLock()
	node, ok := g.files[p]
	g.mu.RUnlock()
	if !ok || legacyHash == "" {
		return true
	}
	if node.SkeletonHash != legacyHash {
		slog.Warn("dual_write_skeleton_mismatch",
			slog.String("path", p),
			slog.String("ucg_hash", node.SkeletonHash),
			slog.String("legacy_hash", legacyHash))
		return false
	}
	return true
}

// --- internals (callers hold g.mu) ---

func (g *UCG) ensureNodeLocked(p string) *FileNode {
	node, ok := g.files[p]
	if !ok {
		node = &FileNode{Path: p}
		g.files[p] = node
	}
	return node
}

// ghostSymbolsLocked returns ghosts for symbols in node that are absent
// from next, and records them.
func (g *UCG) ghostSymbolsLocked(node *FileNode, next []parser.Symbol) []GhostSymbol {
	nextNames := make(map[string]struct{}, len(next))
	for _, sym := range next {
		nextNames[sym.Name] = struct{}{}
	}
	var ghosts []GhostSymbol
	now := time.Now()
	for _, sym := range node.Symbols {
		if _, stillLive := nextNames[sym.Name]; stillLive {
			continue
		}
		if g.liveElsewhereLocked(sym.Name, node.Path) {
			continue
		}
		ghost := GhostSymbol{
			Name:      sym.Name,
			LastPath:  node.Path,
			Kind:      string(sym.Kind),
			Signature: sym.Signature,
			DeletedAt: now,
		}
		g.ghosts[sym.Name] = ghost
		ghosts = append(ghosts, ghost)
	}
	return ghosts
}

func (g *UCG) liveElsewhereLocked(name, exceptPath string) bool {
	for _, ref := range g.symbolsByName[name] {
		if ref.Path != exceptPath {
			return true
		}
	}
	return false
}

func (g *UCG) replaceSymbolsLocked(node *FileNode, symbols []parser.Symbol) {
	g.dropSymbolIndexLocked(node.Symbols, node.Path)
	node.Symbols = symbols
	for _, sym := range symbols {
		ref := SymbolRef{Path: node.Path, Name: sym.Name}
		g.symbolsByName[sym.Name] = append(g.symbolsByName[sym.Name], ref)
		// Live symbols and ghosts are disjoint by name.
		delete(g.ghosts, sym.Name)
	}
}

func (g *UCG) dropSymbolIndexLocked(symbols []parser.Symbol, p string) {
	for _, sym := range symbols {
		refs := g.symbolsByName[sym.Name]
		kept := refs[:0]
		for _, ref := range refs {
			if ref.Path != p {
				kept = append(kept, ref)
			}
		}
		if len(kept) == 0 {
			delete(g.symbolsByName, sym.Name)
		} else {
			g.symbolsByName[sym.Name] = kept
		}
	}
}

// removeDerivedEdgesLocked removes call and type edges touching a file.
func (g *UCG) removeDerivedEdgesLocked(p string) {
	prefix := p + ":"
	for caller, callees := range g.calls {
		if hasPrefix(caller, prefix) {
			for callee := range callees {
				delete(g.reverseCalls[callee], caller)
			}
			delete(g.calls, caller)
			continue
		}
		for callee := range callees {
			if hasPrefix(callee, prefix) {
				delete(callees, callee)
				delete(g.reverseCalls[callee], caller)
			}
		}
	}
	for callee := range g.reverseCalls {
		if hasPrefix(callee, prefix) {
			delete(g.reverseCalls, callee)
		}
	}

	if node, ok := g.files[p]; ok {
		for _, sym := range node.Symbols {
			for super := range g.typeEdges[sym.Name] {
				delete(g.reverseTypeEdges[super], sym.Name)
			}
			delete(g.typeEdges, sym.Name)
			for sub := range g.reverseTypeEdges[sym.Name] {
				delete(g.typeEdges[sub], sym.Name)
			}
			delete(g.reverseTypeEdges, sym.Name)
		}
	}
}

// resolveCalleeLocked finds live symbols matching a callee name, preferring
// same-file definitions, then imported files, then any known definition.
func (g *UCG) resolveCalleeLocked(fromPath, callee string) []SymbolRef {
	refs := g.symbolsByName[callee]
	if len(refs) == 0 {
		return nil
	}
	for _, ref := range refs {
		if ref.Path == fromPath {
			return []SymbolRef{ref}
		}
	}
	imports := g.imports[fromPath]
	for _, ref := range refs {
		if _, imported := imports[ref.Path]; imported {
			return []SymbolRef{ref}
		}
	}
	return []SymbolRef{refs[0]}
}

func refsFromIDs(ids map[string]struct{}) []SymbolRef {
	out := make([]SymbolRef, 0, len(ids))
	for id := range ids {
		for i := len(id) - 1; i >= 0; i-- {
			if id[i] == ':' {
				out = append(out, SymbolRef{Path: id[:i], Name: id[i+1:]})
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
