// Package engine assembles the per-workspace component graph: storage,
// parser adapter, LOD analyzer, unified context graph, indexes, search,
// and the pillar layer, with an explicit init/dispose lifecycle.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/UpRoot-Company/uprootmcp/internal/async"
	"github.com/UpRoot-Company/uprootmcp/internal/chunk"
	"github.com/UpRoot-Company/uprootmcp/internal/config"
	"github.com/UpRoot-Company/uprootmcp/internal/docindex"
	"github.com/UpRoot-Company/uprootmcp/internal/edit"
	"github.com/UpRoot-Company/uprootmcp/internal/embed"
	"github.com/UpRoot-Company/uprootmcp/internal/graph"
	"github.com/UpRoot-Company/uprootmcp/internal/indexer"
	"github.com/UpRoot-Company/uprootmcp/internal/lod"
	"github.com/UpRoot-Company/uprootmcp/internal/parser"
	"github.com/UpRoot-Company/uprootmcp/internal/pillar"
	"github.com/UpRoot-Company/uprootmcp/internal/scanner"
	"github.com/UpRoot-Company/uprootmcp/internal/search"
	"github.com/UpRoot-Company/uprootmcp/internal/store"
	"github.com/UpRoot-Company/uprootmcp/internal/trigram"
	"github.com/UpRoot-Company/uprootmcp/internal/vector"
	"github.com/UpRoot-Company/uprootmcp/internal/watcher"
	"github.com/UpRoot-Company/uprootmcp/internal/workspace"
)

// Engine is the per-workspace component graph.
type Engine struct {
	Config      *config.Config
	Workspace   *workspace.Workspace
	Store       store.Store
	UCG         *graph.UCG
	Analyzer    *lod.Analyzer
	Adapter     *parser.Adapter
	Scanner     *scanner.Scanner
	Trigram     *trigram.Index
	Persister   *trigram.Persister
	Builder     *trigram.Builder
	Pack        *vector.Pack
	Vectors     *vector.Store
	Embedder    embed.Embedder
	Docs        *docindex.Index
	Search      *search.Engine
	Queue       *async.Indexer
	Coordinator *indexer.Coordinator
	Watcher     *watcher.Watcher
	Pillars     *pillar.Pillars
}

// Init builds the component graph for the workspace rooted at rootPath.
func Init(rootPath string) (*Engine, error) {
	cfg, err := config.Load(rootPath)
	if err != nil {
		return nil, err
	}

	ws, err := workspace.New(rootPath, cfg.Sensitive.ExtraPatterns)
	if err != nil {
		return nil, err
	}

	if cfg.Storage.Dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		cfg.Storage.Dir = filepath.Join(home, ".uprootmcp", ws.Fingerprint())
	}
	storageRoot := cfg.StorageRoot()
	if err := os.MkdirAll(storageRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	sqlitePath := cfg.Storage.SQLitePath
	if sqlitePath == "" && cfg.Mode != config.ModeTest {
		sqlitePath = filepath.Join(storageRoot, "metadata.db")
	}
	st, err := store.Open(sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	e := &Engine{Config: cfg, Workspace: ws, Store: st}

	e.UCG = graph.New(ws, st)
	e.Adapter, err = parser.NewAdapter(parser.Options{
		Backend:     cfg.Parser.Backend,
		SnapshotDir: filepath.Join(storageRoot, "parse-snapshots"),
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	e.Analyzer = lod.NewAnalyzer(ws, e.Adapter, e.UCG)
	e.UCG.AttachAnalyzer(e.Analyzer)

	e.Scanner, err = scanner.New(ws.Root())
	if err != nil {
		return nil, err
	}

	e.Trigram = trigram.NewIndex(trigram.Options{
		MaxFileBytes:       cfg.Search.TrigramMaxFileBytes,
		MaxDocFreq:         cfg.Search.TrigramMaxDocFreq,
		MaxTrigramsPerFile: cfg.Search.TrigramMaxPerFile,
	})
	snapshotPath := filepath.Join(storageRoot, "trigram-index.json")
	e.Persister = trigram.NewPersister(e.Trigram, snapshotPath, ws.Root())
	if err := e.Persister.Load(); err != nil {
		slog.Warn("trigram_snapshot_load_failed", slog.String("error", err.Error()))
	}
	e.Builder = trigram.NewBuilder(e.Trigram, e.Persister, e.Scanner, ws.Root(),
		filepath.Join(storageRoot, "trigram.lock"))

	static := embed.NewStaticEmbedder()
	e.Embedder, err = embed.NewCachedEmbedder(static, 8192)
	if err != nil {
		return nil, err
	}

	packFormat := vector.FormatBoth
	switch cfg.Vector.Format {
	case "float32":
		packFormat = vector.FormatF32
	case "q8":
		packFormat = vector.FormatQ8
	}
	packDir := filepath.Join(storageRoot, "embeddings", cfg.Embeddings.Provider, cfg.Embeddings.Model)
	e.Pack, err = vector.Open(packDir, vector.Options{
		Dims:       e.Embedder.Dimensions(),
		Format:     packFormat,
		Shards:     cfg.Vector.Shards,
		CacheBytes: cfg.Vector.CacheBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("open embedding pack: %w", err)
	}

	var vectorDegraded string
	if degraded, reason := e.Pack.Degraded(); degraded {
		slog.Warn("embedding_pack_degraded", slog.String("reason", reason))
		vectorDegraded = reason
	}

	e.Vectors, err = vector.NewStore(e.Pack, vector.StoreConfig{
		HNSW:           cfg.Vector.HNSW,
		M:              cfg.Vector.HNSWM,
		EfConstruction: cfg.Vector.EfConstruction,
		EfSearch:       cfg.Vector.EfSearch,
	})
	if err != nil {
		return nil, err
	}

	docPath := ""
	if cfg.Mode != config.ModeTest {
		docPath = filepath.Join(storageRoot, "docindex")
	}
	e.Docs, err = docindex.Open(docPath)
	if err != nil {
		return nil, err
	}

	packs := search.NewPackStore(st, ws, cfg.Storage.PackTTL)
	e.Search = search.NewEngine(search.EngineDeps{
		Workspace:      ws,
		Config:         cfg.Search,
		Index:          e.Trigram,
		UCG:            e.UCG,
		Vectors:        e.Vectors,
		Embedder:       e.Embedder,
		Docs:           e.Docs,
		Store:          st,
		Packs:          packs,
		VectorDegraded: vectorDegraded,
	})

	e.Queue = async.NewIndexer(0)

	chunker := chunk.New(chunk.Options{
		Strategy:          chunk.StrategyStructural,
		IncludeCodeBlocks: true,
		IncludeTables:     true,
		IncludeLists:      true,
		TargetChunkChars:  cfg.Documents.TargetChunkChars,
		MaxBlockChars:     cfg.Documents.MaxBlockChars,
		MinSectionChars:   cfg.Documents.MinSectionChars,
	})
	e.Coordinator = indexer.New(indexer.Deps{
		Workspace: ws,
		Config:    cfg,
		Scanner:   e.Scanner,
		Builder:   e.Builder,
		Index:     e.Trigram,
		Chunker:   chunker,
		Docs:      e.Docs,
		Embedder:  e.Embedder,
		Vectors:   e.Vectors,
		Store:     st,
		UCG:       e.UCG,
		Queue:     e.Queue,
	})

	resolver := edit.NewResolver(ws)
	e.Pillars = pillar.New(ws, e.Search, e.UCG, e.Analyzer, e.Queue, resolver, cfg)

	return e, nil
}

// StartWatching begins file watching and event handling.
func (e *Engine) StartWatching(ctx context.Context) error {
	w, err := watcher.New(e.Workspace, e.Scanner.Matcher(), watcher.Options{
		Debounce:         e.Config.Watcher.Debounce,
		StableSizeChecks: e.Config.Watcher.StableSizeChecks,
		ConfigFiles:      []string{config.ConfigFileName},
	})
	if err != nil {
		return err
	}
	e.Watcher = w
	if err := w.Start(ctx); err != nil {
		return err
	}

	e.Queue.Start(ctx)
	go e.Coordinator.HandleEvents(ctx, w.Events())
	return nil
}

// Close disposes components in reverse dependency order. Safe for tests'
// async teardown: every component tolerates double-close.
func (e *Engine) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if e.Watcher != nil {
		record(e.Watcher.Close())
	}
	if e.Queue != nil {
		e.Queue.Stop()
	}
	if e.Docs != nil {
		record(e.Docs.Close())
	}
	if e.Vectors != nil {
		record(e.Vectors.Close())
	}
	if e.Pack != nil {
		record(e.Pack.Close())
	}
	if e.Embedder != nil {
		record(e.Embedder.Close())
	}
	if e.Persister != nil {
		record(e.Persister.Close())
	}
	if e.Adapter != nil {
		record(e.Adapter.Close())
	}
	if e.Store != nil {
		record(e.Store.Close())
	}
	return firstErr
}
