package search

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/UpRoot-Company/uprootmcp/internal/chunk"
	"github.com/UpRoot-Company/uprootmcp/internal/config"
	"github.com/UpRoot-Company/uprootmcp/internal/docindex"
	"github.com/UpRoot-Company/uprootmcp/internal/embed"
	engerrors "github.com/UpRoot-Company/uprootmcp/internal/errors"
	"github.com/UpRoot-Company/uprootmcp/internal/graph"
	"github.com/UpRoot-Company/uprootmcp/internal/lod"
	"github.com/UpRoot-Company/uprootmcp/internal/store"
	"github.com/UpRoot-Company/uprootmcp/internal/trigram"
	"github.com/UpRoot-Company/uprootmcp/internal/vector"
	"github.com/UpRoot-Company/uprootmcp/internal/workspace"
)

// previewLines caps how many lines a preview carries.
const previewLines = 8

// Engine combines the lexical index, the vector store, and the context
// graph into ranked, clustered, token-budgeted responses.
type Engine struct {
	ws       *workspace.Workspace
	cfg      config.SearchConfig
	index    *trigram.Index
	ranker   *trigram.BM25F
	ucg      *graph.UCG
	vectors  *vector.Store // nil disables semantic search
	embedder embed.Embedder
	docs     *docindex.Index // nil disables doc search
	store    store.Store
	clusters *ClusterBuilder
	packs    *PackStore
	// vectorDegraded is set when the pack reported a meta mismatch.
	vectorDegraded string
}

// EngineDeps wires the engine's collaborators.
type EngineDeps struct {
	Workspace *workspace.Workspace
	Config    config.SearchConfig
	Index     *trigram.Index
	UCG       *graph.UCG
	Vectors   *vector.Store
	Embedder  embed.Embedder
	Docs      *docindex.Index
	Store     store.Store
	Packs     *PackStore
	// VectorDegraded carries a pack degradation reason ("" when healthy).
	VectorDegraded string
}

// NewEngine creates the hybrid engine.
func NewEngine(deps EngineDeps) *Engine {
	ranker := trigram.NewBM25F(trigram.BM25FConfig{
		K1:             1.2,
		B:              0.75,
		FilenameWeight: deps.Config.FilenameWeight,
		SymbolWeight:   deps.Config.SymbolWeight,
		ContentWeight:  deps.Config.ContentWeight,
	})
	return &Engine{
		ws:             deps.Workspace,
		cfg:            deps.Config,
		index:          deps.Index,
		ranker:         ranker,
		ucg:            deps.UCG,
		vectors:        deps.Vectors,
		embedder:       deps.Embedder,
		docs:           deps.Docs,
		store:          deps.Store,
		clusters:       NewClusterBuilder(deps.UCG),
		packs:          deps.Packs,
		vectorDegraded: deps.VectorDegraded,
	}
}

// Packs exposes the pack store for cursor follow-ups.
func (e *Engine) Packs() *PackStore { return e.packs }

// Search runs one hybrid query end to end.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, engerrors.New(engerrors.ErrCodeQueryEmpty, "query must not be empty", nil)
	}
	opts = e.defaultOptions(opts)

	resp := &Response{Query: query}
	if e.vectorDegraded != "" {
		resp.Degraded = true
		resp.DegradedReasons = append(resp.DegradedReasons, ReasonVectorDegraded)
	}

	lexical := e.lexicalCandidates(ctx, query, opts)
	semantic := e.semanticCandidates(ctx, query, opts)

	fused := RRF(lexical, semantic, opts.RRFK, opts.RRFDepth)
	fused = MMR(fused, opts.MMRLambda, opts.RRFDepth)

	// Build clusters around the top seeds under the token budget.
	var clusters []*Cluster
	budgetUsed := 0
	for _, f := range fused {
		if len(clusters) == opts.MaxResults {
			break
		}
		seed := e.seedFor(ctx, query, f, opts)
		cluster := e.clusters.Build(seed, opts.ExpandRelationships)
		if budgetUsed+cluster.TokenEstimate > opts.TokenBudget && len(clusters) > 0 {
			resp.Degraded = true
			resp.DegradedReasons = appendUnique(resp.DegradedReasons, ReasonBudgetExceeded)
			break
		}
		budgetUsed += cluster.TokenEstimate
		clusters = append(clusters, cluster)
	}
	Rank(clusters)
	resp.Clusters = clusters
	resp.EstimatedTokens = budgetUsed
	resp.Hints = HintsFor(clusters)

	items := e.buildItems(ctx, query, clusters, opts)
	meta := PackMeta{Clusters: len(clusters)}
	for _, item := range items {
		if item.IsDoc {
			meta.DocHits++
		} else {
			meta.CodeHits++
		}
	}

	pack, err := e.packs.Create(ctx, query, opts, items, meta)
	if err != nil {
		// The response still serves without a durable pack.
		slog.Warn("evidence_pack_create_failed", slog.String("error", err.Error()))
		resp.Items = items
		return resp, nil
	}
	resp.Pack = PackInfo{ID: pack.PackID}

	window, next := e.packs.Page(pack, 0, itemWindow(opts))
	resp.Items = window
	resp.Next = Next{ItemsCursor: next}
	return resp, nil
}

// Page serves a cursor follow-up against a stored pack without re-running
// the underlying search tools.
func (e *Engine) Page(ctx context.Context, packID string, cursor Cursor, opts Options) (*Response, error) {
	pack, err := e.packs.Get(ctx, packID)
	if err != nil {
		return nil, err
	}
	opts = e.defaultOptions(opts)

	resp := &Response{
		Query: pack.Query,
		Pack:  PackInfo{ID: pack.PackID, Hit: true},
	}

	if cursor.ContentDoc > 0 || cursor.ContentCode > 0 {
		index := cursor.ContentDoc
		if cursor.ContentCode > 0 {
			index = cursor.ContentCode
		}
		content, err := e.packs.ExpandContent(ctx, pack, index-1, opts.AllowSensitive)
		if err != nil {
			return nil, err
		}
		item := pack.Items[index-1]
		item.Preview = content
		resp.Items = []PackItem{item}
		return resp, nil
	}

	window, next := e.packs.Page(pack, cursor.Items, itemWindow(opts))
	resp.Items = window
	resp.Next = Next{ItemsCursor: next}
	return resp, nil
}

// lexicalCandidates runs the trigram index and re-ranks the hits with
// BM25F over filename, symbol-definition, and content fields.
func (e *Engine) lexicalCandidates(ctx context.Context, query string, opts Options) []Candidate {
	matches := e.index.Search(query, opts.RRFDepth)
	if len(matches) == 0 {
		return nil
	}

	var docs []trigram.RankDoc
	pathOf := make(map[string]string)
	for _, m := range matches {
		// Symbol fields need at least the topology tier.
		if _, err := e.ucg.EnsureLOD(ctx, m.Path, lod.LevelTopology); err != nil {
			slog.Debug("lexical_lod_failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		}

		fileID := "file:" + m.Path
		pathOf[fileID] = m.Path
		docs = append(docs, trigram.RankDoc{
			ID:    fileID,
			Field: trigram.FieldFilename,
			Text:  m.Path,
		})

		if node := e.ucg.GetNode(m.Path); node != nil {
			for _, sym := range node.Symbols {
				symID := fmt.Sprintf("sym:%s:%s", m.Path, sym.Name)
				pathOf[symID] = m.Path
				text := sym.Name
				if sym.Signature != "" {
					text = sym.Signature
				}
				docs = append(docs, trigram.RankDoc{
					ID:       symID,
					Field:    trigram.FieldSymbol,
					Text:     text,
					SymbolID: m.Path + ":" + sym.Name,
				})
			}
		}

		if preview := e.readPreview(m.Path, LineRange{Start: 1, End: 40}, opts.AllowSensitive); preview != "" {
			contentID := "content:" + m.Path
			pathOf[contentID] = m.Path
			docs = append(docs, trigram.RankDoc{
				ID:    contentID,
				Field: trigram.FieldContent,
				Text:  preview,
			})
		}
	}

	ranked := e.ranker.Rank(query, docs, e.ucg.CallSignals())

	// Collapse field docs back to per-path candidates keeping best scores.
	best := make(map[string]float64)
	var order []string
	for _, rd := range ranked {
		p := pathOf[rd.ID]
		if p == "" {
			continue
		}
		if _, seen := best[p]; !seen {
			order = append(order, p)
		}
		if rd.Score > best[p] {
			best[p] = rd.Score
		}
	}

	candidates := make([]Candidate, 0, len(order))
	for _, p := range order {
		candidates = append(candidates, Candidate{ID: p, Path: p, Score: best[p]})
	}
	return candidates
}

// semanticCandidates embeds the query and searches the vector store.
func (e *Engine) semanticCandidates(ctx context.Context, query string, opts Options) []Candidate {
	if e.vectors == nil || e.embedder == nil {
		return nil
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("query_embed_failed", slog.String("error", err.Error()))
		return nil
	}
	hits, err := e.vectors.Search(ctx, vec, opts.RRFDepth)
	if err != nil {
		slog.Warn("vector_search_failed", slog.String("error", err.Error()))
		return nil
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, hit := range hits {
		path := hit.ID
		if c, err := e.store.GetChunk(ctx, hit.ID); err == nil && c != nil {
			path = c.FilePath
		}
		candidates = append(candidates, Candidate{ID: hit.ID, Path: path, Score: float64(hit.Score)})
	}
	return candidates
}

// DocSearch runs the keyword index over document chunks (doc_search tool).
func (e *Engine) DocSearch(ctx context.Context, query string, limit int) ([]PackItem, error) {
	if e.docs == nil {
		return nil, nil
	}
	hits, err := e.docs.Search(ctx, query, limit)
	if err != nil {
		return nil, engerrors.Wrap(engerrors.ErrCodeSearchFailed, err)
	}

	items := make([]PackItem, 0, len(hits))
	for rank, hit := range hits {
		c, err := e.store.GetChunk(ctx, hit.ID)
		if err != nil || c == nil {
			continue
		}
		items = append(items, PackItem{
			Role:        RoleResult,
			Rank:        rank + 1,
			ChunkID:     c.ID,
			Path:        c.FilePath,
			Preview:     e.chunkPreview(ctx, c),
			Range:       LineRange{Start: c.StartLine, End: c.EndLine},
			ContentHash: c.ContentHash,
			Scores:      ScoreBreakdown{Lexical: hit.Score, Fused: hit.Score},
			IsDoc:       true,
		})
	}
	return items, nil
}

// chunkPreview serves the cached preview summary for a chunk, recomputing
// it when the content hash drifted.
func (e *Engine) chunkPreview(ctx context.Context, c *chunk.Chunk) string {
	if cached, err := e.store.GetSummary(ctx, c.ID, store.StylePreview); err == nil && cached != nil {
		if cached.ContentHash == c.ContentHash {
			return cached.Text
		}
	}

	preview := headLines(c.Text, previewLines)
	if c.Heading != "" && !strings.HasPrefix(preview, "#") {
		preview = c.SectionPath + "\n" + preview
	}
	_ = e.store.SaveSummary(ctx, &store.Summary{
		ChunkID:     c.ID,
		Style:       store.StylePreview,
		Text:        preview,
		ContentHash: c.ContentHash,
	})
	return preview
}

// seedFor derives the cluster seed from a fused candidate: the best
// query-matching symbol in the file anchors the cluster.
func (e *Engine) seedFor(ctx context.Context, query string, f *Fused, opts Options) Seed {
	seed := Seed{Path: f.Path, Score: f.RRFScore}
	if strings.Contains(f.ID, ":") && !strings.HasPrefix(f.ID, "file:") && !strings.HasPrefix(f.ID, "content:") {
		seed.ChunkID = f.ID
	}

	if node := e.ucg.GetNode(f.Path); node != nil {
		queryLower := strings.ToLower(query)
		bestOverlap := 0
		for _, sym := range node.Symbols {
			overlap := nameOverlap(queryLower, strings.ToLower(sym.Name))
			if overlap > bestOverlap {
				bestOverlap = overlap
				seed.SymbolName = sym.Name
			}
		}
		if seed.SymbolName == "" && len(node.Symbols) > 0 {
			seed.SymbolName = node.Symbols[0].Name
		}
	}

	seed.Preview = e.readPreview(f.Path, LineRange{Start: 1, End: previewLines}, opts.AllowSensitive)
	return seed
}

// buildItems materializes the evidence pack items: one result per cluster
// seed plus evidence entries for loaded relationships, then doc results.
func (e *Engine) buildItems(ctx context.Context, query string, clusters []*Cluster, opts Options) []PackItem {
	var items []PackItem
	rank := 1

	var docItems []PackItem
	if opts.IncludeDocs {
		docItems, _ = e.DocSearch(ctx, query, opts.MaxResults)
	}

	for i, cluster := range clusters {
		seedRange := e.symbolRange(cluster.Seed)
		preview := cluster.Seed.Preview
		if preview == "" {
			preview = e.readPreview(cluster.Seed.Path, seedRange, opts.AllowSensitive)
		}
		items = append(items, PackItem{
			Role:        RoleResult,
			Rank:        rank,
			ChunkID:     cluster.Seed.ChunkID,
			Path:        cluster.Seed.Path,
			Preview:     preview,
			Range:       seedRange,
			ContentHash: e.rangeHash(cluster.Seed.Path, seedRange),
			Scores:      ScoreBreakdown{Fused: cluster.RelevanceScore},
			IsDoc:       false,
		})
		rank++

		// Interleave doc results so paging yields doc+code windows.
		if i < len(docItems) {
			doc := docItems[i]
			doc.Rank = rank
			items = append(items, doc)
			rank++
		}

		for _, container := range []Container{cluster.Callers, cluster.Callees, cluster.Colocated} {
			if container.State != StateLoaded && container.State != StateTruncated {
				continue
			}
			for _, rel := range container.Items {
				items = append(items, PackItem{
					Role:    RoleEvidence,
					Rank:    rank,
					Path:    rel.Path,
					Preview: rel.Symbol,
					Scores:  ScoreBreakdown{Fused: cluster.RelevanceScore / 2},
					IsDoc:   false,
				})
				rank++
			}
		}
	}

	// Remaining doc hits after the interleave.
	for i := len(clusters); i < len(docItems); i++ {
		doc := docItems[i]
		doc.Rank = rank
		items = append(items, doc)
		rank++
	}

	return items
}

func (e *Engine) symbolRange(seed Seed) LineRange {
	if node := e.ucg.GetNode(seed.Path); node != nil {
		for _, sym := range node.Symbols {
			if sym.Name == seed.SymbolName {
				return LineRange{Start: sym.Range.StartLine, End: sym.Range.EndLine}
			}
		}
	}
	return LineRange{Start: 1, End: previewLines}
}

// readPreview reads a line range from a file; sensitive files yield a
// redaction marker unless allowed.
func (e *Engine) readPreview(path string, r LineRange, allowSensitive bool) string {
	if e.ws.IsSensitive(path) && !allowSensitive {
		return "[sensitive file: content withheld]"
	}
	content, _, err := readFileRange(e.ws, path, r)
	if err != nil {
		return ""
	}
	return headLines(content, previewLines)
}

func (e *Engine) rangeHash(path string, r LineRange) string {
	content, _, err := readFileRange(e.ws, path, r)
	if err != nil {
		return ""
	}
	return workspace.HashContent([]byte(content))
}

func (e *Engine) defaultOptions(opts Options) Options {
	if opts.MaxResults <= 0 {
		opts.MaxResults = e.cfg.MaxResults
	}
	if opts.TokenBudget <= 0 {
		opts.TokenBudget = e.cfg.TokenBudget
	}
	if opts.RRFK <= 0 {
		opts.RRFK = e.cfg.RRFK
	}
	if opts.RRFDepth <= 0 {
		opts.RRFDepth = e.cfg.RRFDepth
	}
	if opts.MMRLambda <= 0 {
		opts.MMRLambda = e.cfg.MMRLambda
	}
	return opts
}

// itemWindow derives the paging window: one doc plus one code item per
// requested result.
func itemWindow(opts Options) int {
	if opts.MaxResults <= 0 {
		return 2
	}
	return opts.MaxResults * 2
}

// readFileRange reads the 1-based inclusive line range of a workspace file.
func readFileRange(ws *workspace.Workspace, path string, r LineRange) (string, string, error) {
	data, err := os.ReadFile(ws.Absolute(path))
	if err != nil {
		return "", "", engerrors.NotFound("file", path)
	}
	lines := strings.Split(string(data), "\n")
	start := r.Start
	if start < 1 {
		start = 1
	}
	end := r.End
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) {
		return "", "", engerrors.New(engerrors.ErrCodeInvalidInput,
			fmt.Sprintf("range start %d beyond end of %s", start, path), nil)
	}
	span := fmt.Sprintf("L%d-L%d", start, end)
	return strings.Join(lines[start-1:end], "\n"), span, nil
}

func headLines(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

func nameOverlap(query, name string) int {
	overlap := 0
	for _, token := range strings.Fields(query) {
		if strings.Contains(name, token) {
			overlap += len(token)
		}
	}
	return overlap
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
