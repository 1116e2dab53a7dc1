package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/UpRoot-Company/uprootmcp/internal/chunk"
	"github.com/UpRoot-Company/uprootmcp/internal/graph"
	"github.com/UpRoot-Company/uprootmcp/internal/lod"
	"github.com/UpRoot-Company/uprootmcp/internal/parser"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	path TEXT PRIMARY KEY,
	language TEXT NOT NULL DEFAULT '',
	lod INTEGER NOT NULL DEFAULT 0,
	mod_time INTEGER NOT NULL DEFAULT 0,
	skeleton TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS symbols (
	path TEXT NOT NULL,
	name TEXT NOT NULL,
	container TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	start_byte INTEGER NOT NULL DEFAULT 0,
	end_byte INTEGER NOT NULL DEFAULT 0,
	signature TEXT NOT NULL DEFAULT '',
	doc TEXT NOT NULL DEFAULT '',
	exported INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (path, name, container)
);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);

CREATE TABLE IF NOT EXISTS ghost_symbols (
	name TEXT PRIMARY KEY,
	last_path TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT '',
	signature TEXT NOT NULL DEFAULT '',
	deleted_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dependencies (
	source TEXT NOT NULL,
	target TEXT NOT NULL DEFAULT '',
	specifier TEXT NOT NULL,
	line INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (source, specifier)
);
CREATE INDEX IF NOT EXISTS idx_deps_target ON dependencies(target);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL,
	kind TEXT NOT NULL,
	section_path TEXT NOT NULL DEFAULT '',
	heading TEXT NOT NULL DEFAULT '',
	heading_level INTEGER NOT NULL DEFAULT 0,
	start_line INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	start_byte INTEGER NOT NULL DEFAULT 0,
	end_byte INTEGER NOT NULL DEFAULT 0,
	text TEXT NOT NULL,
	content_hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);

CREATE TABLE IF NOT EXISTS embeddings (
	chunk_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	dims INTEGER NOT NULL,
	norm REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (chunk_id, provider, model)
);

CREATE TABLE IF NOT EXISTS chunk_summaries (
	chunk_id TEXT NOT NULL,
	style TEXT NOT NULL,
	text TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	PRIMARY KEY (chunk_id, style)
);

CREATE TABLE IF NOT EXISTS evidence_packs (
	id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	payload BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteStore implements Store on mattn/go-sqlite3.
type SQLiteStore struct {
	db        *sql.DB
	ephemeral bool
}

// Open opens (or creates) the database at path. Unrecoverable open errors
// demote to an in-memory database rather than failing the engine.
func Open(path string) (*SQLiteStore, error) {
	db, ephemeral, err := openDB(path)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db, ephemeral: ephemeral}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := s.SetState(context.Background(), "schema_version", fmt.Sprint(SchemaVersion)); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func openDB(path string) (*sql.DB, bool, error) {
	if path == "" || path == ":memory:" {
		db, err := sql.Open("sqlite3", ":memory:")
		return db, true, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
		dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
		db, err := sql.Open("sqlite3", dsn)
		if err == nil {
			if pingErr := db.Ping(); pingErr == nil {
				return db, false, nil
			}
			_ = db.Close()
		}
	}

	slog.Error("store_demoted_to_memory", slog.String("path", path))
	db, err := sql.Open("sqlite3", ":memory:")
	return db, true, err
}

// Ephemeral implements Store.
func (s *SQLiteStore) Ephemeral() bool { return s.ephemeral }

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// --- graph.Persistence ---

// SaveFileNode implements graph.Persistence.
func (s *SQLiteStore) SaveFileNode(ctx context.Context, node *graph.FileNode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (path, language, lod, mod_time, skeleton)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			language = excluded.language,
			lod = excluded.lod,
			mod_time = excluded.mod_time,
			skeleton = excluded.skeleton`,
		node.Path, node.Language, int(node.LOD), node.ModTime.UnixNano(), node.Skeleton)
	return err
}

// ReplaceSymbols implements graph.Persistence: the file's symbol rows are
// replaced atomically.
func (s *SQLiteStore) ReplaceSymbols(ctx context.Context, path string, symbols []parser.Symbol) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE path = ?`, path); err != nil {
		return err
	}
	for _, sym := range symbols {
		exported := 0
		if sym.Exported {
			exported = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO symbols
			(path, name, container, kind, start_line, end_line, start_byte, end_byte, signature, doc, exported)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			path, sym.Name, sym.Container, string(sym.Kind),
			sym.Range.StartLine, sym.Range.EndLine, sym.Range.StartByte, sym.Range.EndByte,
			sym.Signature, sym.Doc, exported); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReplaceDependencies implements graph.Persistence.
func (s *SQLiteStore) ReplaceDependencies(ctx context.Context, path string, deps []lod.ResolvedDep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE source = ?`, path); err != nil {
		return err
	}
	for _, dep := range deps {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO dependencies (source, target, specifier, line)
			VALUES (?, ?, ?, ?)`,
			path, dep.Target, dep.Specifier, dep.Line); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveGhosts implements graph.Persistence.
func (s *SQLiteStore) SaveGhosts(ctx context.Context, ghosts []graph.GhostSymbol) error {
	for _, ghost := range ghosts {
		if _, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO ghost_symbols (name, last_path, kind, signature, deleted_at)
			VALUES (?, ?, ?, ?, ?)`,
			ghost.Name, ghost.LastPath, ghost.Kind, ghost.Signature, ghost.DeletedAt.UnixNano()); err != nil {
			return err
		}
	}
	return nil
}

// DeleteGhosts implements graph.Persistence.
func (s *SQLiteStore) DeleteGhosts(ctx context.Context, names []string) error {
	for _, name := range names {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM ghost_symbols WHERE name = ?`, name); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFileNode implements graph.Persistence, cascading to symbols,
// dependencies, chunks, and embeddings.
func (s *SQLiteStore) DeleteFileNode(ctx context.Context, path string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM embeddings WHERE chunk_id IN (SELECT id FROM chunks WHERE path = ?)`,
		`DELETE FROM chunk_summaries WHERE chunk_id IN (SELECT id FROM chunks WHERE path = ?)`,
		`DELETE FROM chunks WHERE path = ?`,
		`DELETE FROM symbols WHERE path = ?`,
		`DELETE FROM dependencies WHERE source = ?`,
		`DELETE FROM files WHERE path = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, path); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- file and symbol reads ---

// GetFile implements Store.
func (s *SQLiteStore) GetFile(ctx context.Context, path string) (*FileRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT path, language, lod, mod_time, skeleton FROM files WHERE path = ?`, path)
	var f FileRow
	var modNanos int64
	if err := row.Scan(&f.Path, &f.Language, &f.LOD, &modNanos, &f.Skeleton); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	f.ModTime = time.Unix(0, modNanos)
	return &f, nil
}

// ListFiles implements Store.
func (s *SQLiteStore) ListFiles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM files ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// SymbolsByFile implements Store.
func (s *SQLiteStore) SymbolsByFile(ctx context.Context, path string) ([]parser.Symbol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, container, kind, start_line, end_line, start_byte, end_byte, signature, doc, exported
		FROM symbols WHERE path = ? ORDER BY start_line`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []parser.Symbol
	for rows.Next() {
		var sym parser.Symbol
		var kind string
		var exported int
		if err := rows.Scan(&sym.Name, &sym.Container, &kind,
			&sym.Range.StartLine, &sym.Range.EndLine, &sym.Range.StartByte, &sym.Range.EndByte,
			&sym.Signature, &sym.Doc, &exported); err != nil {
			return nil, err
		}
		sym.Kind = parser.SymbolKind(kind)
		sym.Exported = exported == 1
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// SearchSymbols implements Store with a prefix match on symbol names.
func (s *SQLiteStore) SearchSymbols(ctx context.Context, name string, limit int) ([]graph.SymbolRef, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, name FROM symbols WHERE name LIKE ? ORDER BY name, path LIMIT ?`,
		name+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []graph.SymbolRef
	for rows.Next() {
		var ref graph.SymbolRef
		if err := rows.Scan(&ref.Path, &ref.Name); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// --- chunks ---

// ReplaceChunks implements Store. Embeddings and summaries of chunks that
// no longer exist are cascade-deleted.
func (s *SQLiteStore) ReplaceChunks(ctx context.Context, path string, chunks []*chunk.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Delete rows for this path not present in the new set.
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE path = ?`, path)
	if err != nil {
		return err
	}
	existing := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		existing[id] = struct{}{}
	}
	rows.Close()
	for _, c := range chunks {
		delete(existing, c.ID)
	}
	for id := range existing {
		for _, stmt := range []string{
			`DELETE FROM embeddings WHERE chunk_id = ?`,
			`DELETE FROM chunk_summaries WHERE chunk_id = ?`,
			`DELETE FROM chunks WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return err
			}
		}
	}

	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO chunks
			(id, path, kind, section_path, heading, heading_level, start_line, end_line, start_byte, end_byte, text, content_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.FilePath, string(c.Kind), c.SectionPath, c.Heading, c.HeadingLevel,
			c.StartLine, c.EndLine, c.StartByte, c.EndByte, c.Text, c.ContentHash); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetChunk implements Store.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*chunk.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, path, kind, section_path, heading, heading_level, start_line, end_line, start_byte, end_byte, text, content_hash
		FROM chunks WHERE id = ?`, id)
	return scanChunk(row)
}

// GetChunksByFile implements Store.
func (s *SQLiteStore) GetChunksByFile(ctx context.Context, path string) ([]*chunk.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, kind, section_path, heading, heading_level, start_line, end_line, start_byte, end_byte, text, content_hash
		FROM chunks WHERE path = ? ORDER BY start_line`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*chunk.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteChunksByFile implements Store.
func (s *SQLiteStore) DeleteChunksByFile(ctx context.Context, path string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range []string{
		`DELETE FROM embeddings WHERE chunk_id IN (SELECT id FROM chunks WHERE path = ?)`,
		`DELETE FROM chunk_summaries WHERE chunk_id IN (SELECT id FROM chunks WHERE path = ?)`,
		`DELETE FROM chunks WHERE path = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, path); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanChunk(row rowScanner) (*chunk.Chunk, error) {
	var c chunk.Chunk
	var kind string
	if err := row.Scan(&c.ID, &c.FilePath, &kind, &c.SectionPath, &c.Heading, &c.HeadingLevel,
		&c.StartLine, &c.EndLine, &c.StartByte, &c.EndByte, &c.Text, &c.ContentHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	c.Kind = chunk.Kind(kind)
	return &c, nil
}

// --- embeddings ---

// SaveEmbeddingMeta implements Store.
func (s *SQLiteStore) SaveEmbeddingMeta(ctx context.Context, meta []EmbeddingMeta) error {
	for _, m := range meta {
		if _, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO embeddings (chunk_id, provider, model, dims, norm)
			VALUES (?, ?, ?, ?, ?)`,
			m.ChunkID, m.Provider, m.Model, m.Dims, m.Norm); err != nil {
			return err
		}
	}
	return nil
}

// EmbeddedChunkIDs implements Store.
func (s *SQLiteStore) EmbeddedChunkIDs(ctx context.Context, provider, model string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id FROM embeddings WHERE provider = ? AND model = ?`, provider, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- summaries ---

// GetSummary implements Store.
func (s *SQLiteStore) GetSummary(ctx context.Context, chunkID string, style SummaryStyle) (*Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chunk_id, style, text, content_hash FROM chunk_summaries WHERE chunk_id = ? AND style = ?`,
		chunkID, string(style))
	var sum Summary
	var styleStr string
	if err := row.Scan(&sum.ChunkID, &styleStr, &sum.Text, &sum.ContentHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	sum.Style = SummaryStyle(styleStr)
	return &sum, nil
}

// SaveSummary implements Store.
func (s *SQLiteStore) SaveSummary(ctx context.Context, sum *Summary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO chunk_summaries (chunk_id, style, text, content_hash)
		VALUES (?, ?, ?, ?)`,
		sum.ChunkID, string(sum.Style), sum.Text, sum.ContentHash)
	return err
}

// --- evidence packs ---

// SavePack implements Store.
func (s *SQLiteStore) SavePack(ctx context.Context, row *PackRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO evidence_packs (id, created_at, expires_at, payload)
		VALUES (?, ?, ?, ?)`,
		row.ID, row.CreatedAt.UnixNano(), row.ExpiresAt.UnixNano(), row.Payload)
	return err
}

// GetPack implements Store.
func (s *SQLiteStore) GetPack(ctx context.Context, id string) (*PackRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, expires_at, payload FROM evidence_packs WHERE id = ?`, id)
	var pr PackRow
	var created, expires int64
	if err := row.Scan(&pr.ID, &created, &expires, &pr.Payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	pr.CreatedAt = time.Unix(0, created)
	pr.ExpiresAt = time.Unix(0, expires)
	return &pr, nil
}

// DeleteExpiredPacks implements Store.
func (s *SQLiteStore) DeleteExpiredPacks(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM evidence_packs WHERE expires_at < ?`, now.UnixNano())
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// --- ghosts and state ---

// PruneGhosts implements Store.
func (s *SQLiteStore) PruneGhosts(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).UnixNano()
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM ghost_symbols WHERE deleted_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// GetState implements Store.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// SetState implements Store.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)`, key, value)
	return err
}

// MarshalPackPayload is a convenience for callers persisting evidence packs.
func MarshalPackPayload(v any) ([]byte, error) { return json.Marshal(v) }

var _ Store = (*SQLiteStore)(nil)
