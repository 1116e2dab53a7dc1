package search

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	engerrors "github.com/UpRoot-Company/uprootmcp/internal/errors"
	"github.com/UpRoot-Company/uprootmcp/internal/store"
	"github.com/UpRoot-Company/uprootmcp/internal/workspace"
)

// PackStore persists evidence packs and serves cursor-paged follow-ups.
type PackStore struct {
	store store.Store
	ws    *workspace.Workspace
	ttl   time.Duration
}

// NewPackStore creates a pack store with the given TTL.
func NewPackStore(st store.Store, ws *workspace.Workspace, ttl time.Duration) *PackStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &PackStore{store: st, ws: ws, ttl: ttl}
}

// Create persists a new pack for the finished response.
func (ps *PackStore) Create(ctx context.Context, query string, opts Options, items []PackItem, meta PackMeta) (*EvidencePack, error) {
	now := time.Now().UTC()
	pack := &EvidencePack{
		PackID:          uuid.NewString(),
		Query:           query,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ps.ttl),
		RootFingerprint: ps.ws.Fingerprint(),
		Options:         opts,
		Meta:            meta,
		Items:           items,
	}

	payload, err := json.Marshal(pack)
	if err != nil {
		return nil, engerrors.Internal("encode evidence pack", err)
	}
	row := &store.PackRow{
		ID:        pack.PackID,
		CreatedAt: pack.CreatedAt,
		ExpiresAt: pack.ExpiresAt,
		Payload:   payload,
	}
	if err := ps.store.SavePack(ctx, row); err != nil {
		return nil, engerrors.Wrap(engerrors.ErrCodeStorageFailed, err)
	}
	return pack, nil
}

// Get loads a pack, enforcing expiry and the root-fingerprint invariant:
// a pack created against a different workspace state must be regenerated.
func (ps *PackStore) Get(ctx context.Context, id string) (*EvidencePack, error) {
	row, err := ps.store.GetPack(ctx, id)
	if err != nil {
		return nil, engerrors.Wrap(engerrors.ErrCodeStorageFailed, err)
	}
	if row == nil {
		return nil, engerrors.New(engerrors.ErrCodePackNotFound, "evidence pack not found: "+id, nil)
	}
	if time.Now().After(row.ExpiresAt) {
		return nil, engerrors.New(engerrors.ErrCodePackExpired, "evidence pack expired: "+id, nil).
			WithSuggestion("re-run the query to regenerate the pack")
	}

	var pack EvidencePack
	if err := json.Unmarshal(row.Payload, &pack); err != nil {
		return nil, engerrors.New(engerrors.ErrCodeCorruptIndex, "evidence pack corrupt: "+id, err)
	}
	if pack.RootFingerprint != ps.ws.Fingerprint() {
		return nil, engerrors.New(engerrors.ErrCodePackExpired,
			"workspace changed since pack creation: "+id, nil).
			WithDetail("pack_fingerprint", pack.RootFingerprint).
			WithDetail("current_fingerprint", ps.ws.Fingerprint()).
			WithSuggestion("re-run the query to regenerate the pack")
	}
	return &pack, nil
}

// Page returns the items window starting at offset. Paging the same pack
// with the same cursor is byte-identical: the stored items never change.
func (ps *PackStore) Page(pack *EvidencePack, offset, limit int) ([]PackItem, *int) {
	if offset < 0 || offset >= len(pack.Items) {
		return []PackItem{}, nil
	}
	if limit <= 0 {
		limit = len(pack.Items)
	}
	end := offset + limit
	if end > len(pack.Items) {
		end = len(pack.Items)
	}
	items := pack.Items[offset:end]
	if end < len(pack.Items) {
		next := end
		return items, &next
	}
	return items, nil
}

// ExpandContent resolves one item to full content without re-running the
// search: doc items read their stored chunk, code items read the live
// file range (with a drift check against the recorded content hash).
func (ps *PackStore) ExpandContent(ctx context.Context, pack *EvidencePack, index int, allowSensitive bool) (string, error) {
	if index < 0 || index >= len(pack.Items) {
		return "", engerrors.New(engerrors.ErrCodeInvalidCursor, "content cursor out of range", nil)
	}
	item := pack.Items[index]

	if ps.ws.IsSensitive(item.Path) && !allowSensitive {
		return "", engerrors.Blocked("sensitive file content denied: " + item.Path).
			WithSuggestion("pass allowSensitive=true to read sensitive files")
	}

	if item.IsDoc && item.ChunkID != "" {
		c, err := ps.store.GetChunk(ctx, item.ChunkID)
		if err != nil {
			return "", engerrors.Wrap(engerrors.ErrCodeStorageFailed, err)
		}
		if c == nil {
			return "", engerrors.New(engerrors.ErrCodePackNotFound, "chunk gone: "+item.ChunkID, nil)
		}
		return c.Text, nil
	}

	content, lines, err := readFileRange(ps.ws, item.Path, item.Range)
	if err != nil {
		return "", err
	}
	if item.ContentHash != "" && workspace.HashContent([]byte(content)) != item.ContentHash {
		return "", engerrors.New(engerrors.ErrCodeHashMismatch,
			"file drifted since pack creation: "+item.Path, nil).
			WithDetail("lines", lines).
			WithSuggestion("refresh the pack by re-running the query")
	}
	return content, nil
}

// CleanupExpired drops expired pack rows.
func (ps *PackStore) CleanupExpired(ctx context.Context) (int, error) {
	return ps.store.DeleteExpiredPacks(ctx, time.Now())
}
