// Package indexer coordinates full and incremental indexing: the trigram
// build, document chunking and keyword indexing, optional eager
// embedding, and graph bookkeeping for watcher events.
package indexer

import (
	"context"
	"log/slog"
	"os"

	"github.com/UpRoot-Company/uprootmcp/internal/async"
	"github.com/UpRoot-Company/uprootmcp/internal/chunk"
	"github.com/UpRoot-Company/uprootmcp/internal/config"
	"github.com/UpRoot-Company/uprootmcp/internal/docindex"
	"github.com/UpRoot-Company/uprootmcp/internal/embed"
	"github.com/UpRoot-Company/uprootmcp/internal/graph"
	"github.com/UpRoot-Company/uprootmcp/internal/lod"
	"github.com/UpRoot-Company/uprootmcp/internal/scanner"
	"github.com/UpRoot-Company/uprootmcp/internal/store"
	"github.com/UpRoot-Company/uprootmcp/internal/trigram"
	"github.com/UpRoot-Company/uprootmcp/internal/vector"
	"github.com/UpRoot-Company/uprootmcp/internal/watcher"
	"github.com/UpRoot-Company/uprootmcp/internal/workspace"
)

// Coordinator owns the indexing pipeline for one workspace.
type Coordinator struct {
	ws      *workspace.Workspace
	cfg     *config.Config
	scanner *scanner.Scanner
	builder *trigram.Builder
	index   *trigram.Index
	chunker *chunk.Chunker
	docs    *docindex.Index
	embed   embed.Embedder
	vectors *vector.Store
	store   store.Store
	ucg     *graph.UCG
	queue   *async.Indexer
	flags   config.Flags
}

// Deps wires the coordinator.
type Deps struct {
	Workspace *workspace.Workspace
	Config    *config.Config
	Scanner   *scanner.Scanner
	Builder   *trigram.Builder
	Index     *trigram.Index
	Chunker   *chunk.Chunker
	Docs      *docindex.Index
	Embedder  embed.Embedder
	Vectors   *vector.Store
	Store     store.Store
	UCG       *graph.UCG
	Queue     *async.Indexer
}

// New creates a coordinator.
func New(deps Deps) *Coordinator {
	flags, err := config.ResolvePreset(deps.Config.Rollout.Preset)
	if err != nil {
		flags = config.Flags{}
	}
	return &Coordinator{
		ws:      deps.Workspace,
		cfg:     deps.Config,
		scanner: deps.Scanner,
		builder: deps.Builder,
		index:   deps.Index,
		chunker: deps.Chunker,
		docs:    deps.Docs,
		embed:   deps.Embedder,
		vectors: deps.Vectors,
		store:   deps.Store,
		ucg:     deps.UCG,
		queue:   deps.Queue,
		flags:   flags,
	}
}

// BuildAll runs the full pipeline: trigram build over source, then
// document chunking with keyword indexing and (optionally eager) embedding.
func (c *Coordinator) BuildAll(ctx context.Context, progress trigram.Progress) error {
	stats, err := c.builder.Build(ctx, progress)
	if err != nil {
		return err
	}
	slog.Info("trigram_build_complete",
		slog.Int("scanned", stats.Scanned),
		slog.Int("indexed", stats.Indexed),
		slog.Int("pruned", stats.Pruned),
		slog.Duration("duration", stats.Duration))

	return c.indexDocuments(ctx)
}

// indexDocuments chunks every document file and refreshes the keyword
// index; embedding happens eagerly when configured, lazily otherwise.
func (c *Coordinator) indexDocuments(ctx context.Context) error {
	results, err := c.scanner.Scan(ctx, scanner.Options{
		RootDir:     c.ws.Root(),
		MaxFileSize: int64(c.cfg.Documents.MaxBytes),
	})
	if err != nil {
		return err
	}

	count := 0
	for result := range results {
		if result.Err != nil {
			continue
		}
		file := result.File
		kind := chunk.KindForPath(file.Path)
		if kind == "" {
			c.ucg.Observe(file.Path, file.ModTime)
			continue
		}
		if err := c.indexDocument(ctx, file.Path, file.AbsPath); err != nil {
			slog.Warn("doc_index_failed",
				slog.String("path", file.Path),
				slog.String("error", err.Error()))
			continue
		}
		count++
	}
	slog.Info("doc_index_complete", slog.Int("documents", count))
	return nil
}

// indexDocument chunks one document and updates the stores.
func (c *Coordinator) indexDocument(ctx context.Context, path, absPath string) error {
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return err
	}

	extracted, err := chunk.ExtractText(path, raw)
	if err != nil {
		return err
	}
	extracted = chunk.Sample(extracted, chunk.SampleOptions{
		MaxBytes:  c.cfg.Documents.MaxBytes,
		HeadBytes: c.cfg.Documents.HeadBytes,
		TailBytes: c.cfg.Documents.TailBytes,
	})

	chunks := c.chunker.Chunk(path, chunk.KindForPath(path), extracted)

	if err := c.store.ReplaceChunks(ctx, path, chunks); err != nil {
		return err
	}

	if c.docs != nil {
		docs := make([]*docindex.Document, 0, len(chunks))
		for _, ch := range chunks {
			docs = append(docs, &docindex.Document{
				ID:      ch.ID,
				Path:    ch.FilePath,
				Heading: ch.Heading,
				Content: ch.Text,
			})
		}
		if err := c.docs.Index(ctx, docs); err != nil {
			return err
		}
	}

	if c.cfg.Embeddings.EagerDocuments {
		return c.embedChunks(ctx, chunks)
	}
	return nil
}

// embedChunks embeds chunk texts and upserts vectors with their metadata.
func (c *Coordinator) embedChunks(ctx context.Context, chunks []*chunk.Chunk) error {
	if c.embed == nil || c.vectors == nil || len(chunks) == 0 {
		return nil
	}

	batchSize := c.cfg.Embeddings.BatchSize
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}

	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		ids := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Text
			ids[i] = ch.ID
		}

		vecs, err := c.embed.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if err := c.vectors.Add(ctx, ids, vecs); err != nil {
			return err
		}

		meta := make([]store.EmbeddingMeta, len(batch))
		for i, ch := range batch {
			meta[i] = store.EmbeddingMeta{
				ChunkID:  ch.ID,
				Provider: c.cfg.Embeddings.Provider,
				Model:    c.cfg.Embeddings.Model,
				Dims:     c.embed.Dimensions(),
				Norm:     vector.L2Norm(vecs[i]),
			}
		}
		if err := c.store.SaveEmbeddingMeta(ctx, meta); err != nil {
			return err
		}
	}
	return nil
}

// HandleEvents consumes watcher batches, enqueuing per-file re-index
// tasks: modifications at high priority, deletions immediate.
func (c *Coordinator) HandleEvents(ctx context.Context, events <-chan []watcher.FileEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-events:
			if !ok {
				return
			}
			for _, event := range batch {
				c.handleEvent(ctx, event)
			}
		}
	}
}

func (c *Coordinator) handleEvent(ctx context.Context, event watcher.FileEvent) {
	path := event.Path
	switch event.Operation {
	case watcher.OpDelete:
		// Collect chunk ids before the graph removal cascades the rows.
		var ids []string
		if chunks, err := c.store.GetChunksByFile(ctx, path); err == nil {
			for _, ch := range chunks {
				ids = append(ids, ch.ID)
			}
		}
		c.ucg.Remove(ctx, path)
		c.index.Remove(path)
		if len(ids) > 0 {
			if c.vectors != nil {
				_ = c.vectors.Delete(ctx, ids)
			}
			if c.docs != nil {
				_ = c.docs.Delete(ctx, ids)
			}
		}
		_ = c.store.DeleteChunksByFile(ctx, path)

	case watcher.OpCreate, watcher.OpModify:
		priority := async.PriorityHigh
		if event.Operation == watcher.OpCreate {
			priority = async.PriorityMedium
		}
		c.queue.Enqueue(&async.Task{
			Path:     path,
			Priority: priority,
			Run: func(taskCtx context.Context) error {
				return c.reindexFile(taskCtx, path)
			},
		})
	}
}

// reindexFile re-runs the pipeline for one changed file.
func (c *Coordinator) reindexFile(ctx context.Context, path string) error {
	absPath := c.ws.Absolute(path)
	info, err := os.Stat(absPath)
	if err != nil {
		// Deleted between event and task; treat as removal.
		c.ucg.Remove(ctx, path)
		c.index.Remove(path)
		return nil
	}

	// The previously persisted skeleton is the legacy-cache side of
	// dual-write validation; capture it before invalidation clears it.
	var legacySkeleton string
	if c.flags.DualWriteValidation {
		if row, rowErr := c.store.GetFile(ctx, path); rowErr == nil && row != nil {
			legacySkeleton = row.Skeleton
		}
	}

	c.ucg.Invalidate(path, true)
	c.ucg.Observe(path, info.ModTime())

	content, err := os.ReadFile(absPath)
	if err != nil {
		return err
	}
	c.index.Add(path, content, info.ModTime())

	if c.flags.DualWriteValidation && legacySkeleton != "" {
		if _, err := c.ucg.EnsureLOD(ctx, path, lod.LevelSkeleton); err == nil {
			c.ucg.ValidateDualWrite(path, workspace.HashContent([]byte(legacySkeleton)))
		}
	}

	if chunk.KindForPath(path) != "" {
		return c.indexDocument(ctx, path, absPath)
	}
	return nil
}
