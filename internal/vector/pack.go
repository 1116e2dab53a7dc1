package vector

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Format selects which binary encodings a pack maintains.
type Format string

const (
	FormatF32  Format = "float32"
	FormatQ8   Format = "q8"
	FormatBoth Format = "both"
)

// flushDebounce delays index/meta rewrites so bursts of upserts coalesce.
const flushDebounce = 2 * time.Second

// Meta is the pack's meta.json.
type Meta struct {
	Dims      int       `json:"dims"`
	Count     int       `json:"count"`
	Format    Format    `json:"format"`
	Shards    int       `json:"shards"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// offset locates one record inside a shard file.
type offset struct {
	Shard  int   `json:"shard"`
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// offsetIndex is embeddings.index.json: one table per format.
type offsetIndex struct {
	F32 map[string]offset `json:"f32,omitempty"`
	Q8  map[string]offset `json:"q8,omitempty"`
}

// Pack is the on-disk embedding store for one (provider, model).
//
// Writes append to the shard files and never rewrite existing bytes;
// index, meta, and tombstones are swapped with rename-atomic writes, so
// concurrent readers of an older generation stay consistent.
type Pack struct {
	dir    string
	format Format
	dims   int
	shards int

	mu         sync.RWMutex
	index      offsetIndex
	tombstones map[string]struct{}
	meta       Meta
	f32Files   []*os.File
	q8Files    []*os.File
	dirty      bool
	closed     bool
	flushTimer *time.Timer

	cache *lru.Cache[string, []float32]
	// cacheBudget and cacheUsed track the decoded-vector cache bytes.
	cacheBudget int64
	cacheUsed   int64
	cacheMu     sync.Mutex
}

// Options configures a pack.
type Options struct {
	Dims       int
	Format     Format
	Shards     int
	CacheBytes int64
}

// Open creates or opens a pack directory.
func Open(dir string, opts Options) (*Pack, error) {
	if opts.Dims <= 0 {
		return nil, fmt.Errorf("pack dims must be positive")
	}
	if opts.Shards <= 0 {
		opts.Shards = 1
	}
	if opts.Format == "" {
		opts.Format = FormatBoth
	}
	if opts.CacheBytes <= 0 {
		opts.CacheBytes = 64 << 20
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create pack dir: %w", err)
	}

	p := &Pack{
		dir:         dir,
		format:      opts.Format,
		dims:        opts.Dims,
		shards:      opts.Shards,
		tombstones:  make(map[string]struct{}),
		cacheBudget: opts.CacheBytes,
	}
	p.index.F32 = make(map[string]offset)
	p.index.Q8 = make(map[string]offset)

	// Entry count is bounded by budget/vector-size; the byte budget is
	// enforced separately on insert.
	maxEntries := int(opts.CacheBytes / int64(opts.Dims*4))
	if maxEntries < 16 {
		maxEntries = 16
	}
	cache, err := lru.New[string, []float32](maxEntries)
	if err != nil {
		return nil, err
	}
	p.cache = cache

	if err := p.load(); err != nil {
		return nil, err
	}
	if err := p.openShardFiles(); err != nil {
		return nil, err
	}
	return p, nil
}

// load reads meta, index, and tombstones, healing corrupt JSON by reset.
func (p *Pack) load() error {
	p.meta = Meta{
		Dims:      p.dims,
		Format:    p.format,
		Shards:    p.shards,
		CreatedAt: time.Now().UTC(),
	}

	if data, err := os.ReadFile(filepath.Join(p.dir, "meta.json")); err == nil {
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			slog.Warn("pack_meta_corrupt", slog.String("dir", p.dir))
		} else {
			p.meta = meta
		}
	}

	if data, err := os.ReadFile(filepath.Join(p.dir, "embeddings.index.json")); err == nil {
		var idx offsetIndex
		if err := json.Unmarshal(data, &idx); err != nil {
			slog.Warn("pack_index_corrupt", slog.String("dir", p.dir))
		} else {
			if idx.F32 == nil {
				idx.F32 = make(map[string]offset)
			}
			if idx.Q8 == nil {
				idx.Q8 = make(map[string]offset)
			}
			p.index = idx
		}
	}

	if data, err := os.ReadFile(filepath.Join(p.dir, "tombstones.json")); err == nil {
		var ids []string
		if err := json.Unmarshal(data, &ids); err == nil {
			for _, id := range ids {
				p.tombstones[id] = struct{}{}
			}
		}
	}

	return nil
}

// Degraded reports whether the pack's on-disk meta disagrees with the
// configured shard count or dimensions.
func (p *Pack) Degraded() (bool, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.meta.Dims != 0 && p.meta.Dims != p.dims {
		return true, fmt.Sprintf("dims mismatch: meta=%d config=%d", p.meta.Dims, p.dims)
	}
	if p.meta.Shards != 0 && p.meta.Shards != p.shards {
		return true, fmt.Sprintf("shard mismatch: meta=%d config=%d", p.meta.Shards, p.shards)
	}
	return false, ""
}

func (p *Pack) openShardFiles() error {
	open := func(name string, shard int) (*os.File, error) {
		path := filepath.Join(p.dir, fmt.Sprintf("%s.%d.bin", name, shard))
		return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	}
	if p.format == FormatF32 || p.format == FormatBoth {
		p.f32Files = make([]*os.File, p.shards)
		for i := 0; i < p.shards; i++ {
			f, err := open("embeddings.f32", i)
			if err != nil {
				return err
			}
			p.f32Files[i] = f
		}
	}
	if p.format == FormatQ8 || p.format == FormatBoth {
		p.q8Files = make([]*os.File, p.shards)
		for i := 0; i < p.shards; i++ {
			f, err := open("embeddings.q8", i)
			if err != nil {
				return err
			}
			p.q8Files[i] = f
		}
	}
	return nil
}

// ShardFor maps a chunk id to its shard by stable hash.
func (p *Pack) ShardFor(id string) int {
	return int(xxhash.Sum64String(id) % uint64(p.shards))
}

// Upsert appends a record for id in every maintained format and schedules
// an index flush. An existing id is superseded: the offset table points at
// the new record; old bytes stay until compaction.
func (p *Pack) Upsert(id string, vec []float32) error {
	if len(vec) != p.dims {
		return fmt.Errorf("dimension mismatch: expected %d, got %d", p.dims, len(vec))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("pack is closed")
	}

	shard := p.ShardFor(id)

	if p.f32Files != nil {
		record := encodeF32Record(id, vec)
		off, err := appendRecord(p.f32Files[shard], record)
		if err != nil {
			return fmt.Errorf("append f32 record: %w", err)
		}
		p.index.F32[id] = offset{Shard: shard, Offset: off, Length: int64(len(record))}
	}
	if p.q8Files != nil {
		scale, q := QuantizeQ8(vec)
		record := encodeQ8Record(id, scale, q)
		off, err := appendRecord(p.q8Files[shard], record)
		if err != nil {
			return fmt.Errorf("append q8 record: %w", err)
		}
		p.index.Q8[id] = offset{Shard: shard, Offset: off, Length: int64(len(record))}
	}

	delete(p.tombstones, id)
	p.meta.Count = len(p.index.F32)
	if p.f32Files == nil {
		p.meta.Count = len(p.index.Q8)
	}
	p.meta.UpdatedAt = time.Now().UTC()
	p.dirty = true
	p.scheduleFlushLocked()

	p.cachePut(id, vec)
	return nil
}

// Delete tombstones an id; reads skip it until compaction rewrites the pack.
func (p *Pack) Delete(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.tombstones[id] = struct{}{}
	p.dirty = true
	p.scheduleFlushLocked()
	p.cacheRemove(id)
}

// Contains reports whether id has a live (non-tombstoned) record.
func (p *Pack) Contains(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, dead := p.tombstones[id]; dead {
		return false
	}
	_, okF := p.index.F32[id]
	_, okQ := p.index.Q8[id]
	return okF || okQ
}

// IDs returns all live ids.
func (p *Pack) IDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	table := p.index.F32
	if len(table) == 0 {
		table = p.index.Q8
	}
	ids := make([]string, 0, len(table))
	for id := range table {
		if _, dead := p.tombstones[id]; !dead {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count returns the number of live vectors.
func (p *Pack) Count() int {
	return len(p.IDs())
}

// Get decodes the vector for id, preferring the f32 record and falling
// back to q8 dequantization. Decoded vectors go through the LRU cache.
func (p *Pack) Get(id string) ([]float32, error) {
	if v, ok := p.cache.Get(id); ok {
		return v, nil
	}

	p.mu.RLock()
	if _, dead := p.tombstones[id]; dead {
		p.mu.RUnlock()
		return nil, fmt.Errorf("vector %s not found (tombstoned)", id)
	}
	offF32, okF := p.index.F32[id]
	offQ8, okQ := p.index.Q8[id]
	p.mu.RUnlock()

	var vec []float32
	switch {
	case okF:
		record, err := readRecord(p.f32Files[offF32.Shard], offF32)
		if err != nil {
			return nil, err
		}
		_, _, vec, err = decodeF32Record(record)
		if err != nil {
			return nil, err
		}
	case okQ:
		record, err := readRecord(p.q8Files[offQ8.Shard], offQ8)
		if err != nil {
			return nil, err
		}
		_, scale, q, err := decodeQ8Record(record)
		if err != nil {
			return nil, err
		}
		vec = DequantizeQ8(scale, q)
	default:
		return nil, fmt.Errorf("vector %s not found", id)
	}

	p.cachePut(id, vec)
	return vec, nil
}

// Compact rewrites the shard files keeping only live records, then clears
// the tombstone list. Manual; call from the compact CLI or maintenance.
func (p *Pack) Compact() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("pack is closed")
	}

	live := make(map[string][]float32)
	for id := range p.index.F32 {
		if _, dead := p.tombstones[id]; dead {
			continue
		}
		off := p.index.F32[id]
		record, err := readRecord(p.f32Files[off.Shard], off)
		if err != nil {
			return fmt.Errorf("compact read %s: %w", id, err)
		}
		_, _, vec, err := decodeF32Record(record)
		if err != nil {
			return fmt.Errorf("compact decode %s: %w", id, err)
		}
		live[id] = vec
	}
	if p.f32Files == nil {
		for id := range p.index.Q8 {
			if _, dead := p.tombstones[id]; dead {
				continue
			}
			off := p.index.Q8[id]
			record, err := readRecord(p.q8Files[off.Shard], off)
			if err != nil {
				return fmt.Errorf("compact read %s: %w", id, err)
			}
			_, scale, q, err := decodeQ8Record(record)
			if err != nil {
				return fmt.Errorf("compact decode %s: %w", id, err)
			}
			live[id] = DequantizeQ8(scale, q)
		}
	}

	// Truncate shard files and rewrite.
	for _, files := range [][]*os.File{p.f32Files, p.q8Files} {
		for _, f := range files {
			if f == nil {
				continue
			}
			if err := f.Truncate(0); err != nil {
				return err
			}
			if _, err := f.Seek(0, 0); err != nil {
				return err
			}
		}
	}
	p.index.F32 = make(map[string]offset)
	p.index.Q8 = make(map[string]offset)

	for id, vec := range live {
		shard := p.ShardFor(id)
		if p.f32Files != nil {
			record := encodeF32Record(id, vec)
			off, err := appendRecord(p.f32Files[shard], record)
			if err != nil {
				return err
			}
			p.index.F32[id] = offset{Shard: shard, Offset: off, Length: int64(len(record))}
		}
		if p.q8Files != nil {
			scale, q := QuantizeQ8(vec)
			record := encodeQ8Record(id, scale, q)
			off, err := appendRecord(p.q8Files[shard], record)
			if err != nil {
				return err
			}
			p.index.Q8[id] = offset{Shard: shard, Offset: off, Length: int64(len(record))}
		}
	}

	p.tombstones = make(map[string]struct{})
	p.meta.Count = len(live)
	p.meta.UpdatedAt = time.Now().UTC()
	p.dirty = true
	return p.flushLocked()
}

// Flush forces the pending index/meta/tombstone write.
func (p *Pack) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked()
}

// Close flushes and releases file handles.
func (p *Pack) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	if p.flushTimer != nil {
		p.flushTimer.Stop()
	}
	if err := p.flushLocked(); err != nil {
		return err
	}
	p.closed = true
	for _, files := range [][]*os.File{p.f32Files, p.q8Files} {
		for _, f := range files {
			if f != nil {
				_ = f.Close()
			}
		}
	}
	return nil
}

func (p *Pack) scheduleFlushLocked() {
	if p.flushTimer != nil {
		p.flushTimer.Stop()
	}
	p.flushTimer = time.AfterFunc(flushDebounce, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.flushLocked(); err != nil {
			slog.Warn("pack_flush_failed", slog.String("dir", p.dir), slog.String("error", err.Error()))
		}
	})
}

// flushLocked writes index, tombstones, meta, and ready.json atomically.
func (p *Pack) flushLocked() error {
	if !p.dirty || p.closed {
		return nil
	}

	for _, files := range [][]*os.File{p.f32Files, p.q8Files} {
		for _, f := range files {
			if f != nil {
				_ = f.Sync()
			}
		}
	}

	if err := writeJSONAtomic(filepath.Join(p.dir, "embeddings.index.json"), p.index); err != nil {
		return err
	}
	tombs := make([]string, 0, len(p.tombstones))
	for id := range p.tombstones {
		tombs = append(tombs, id)
	}
	if err := writeJSONAtomic(filepath.Join(p.dir, "tombstones.json"), tombs); err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(p.dir, "meta.json"), p.meta); err != nil {
		return err
	}
	ready := map[string]any{"ready": true, "at": time.Now().UTC()}
	if err := writeJSONAtomic(filepath.Join(p.dir, "ready.json"), ready); err != nil {
		return err
	}

	p.dirty = false
	return nil
}

func (p *Pack) cachePut(id string, vec []float32) {
	cost := int64(len(vec) * 4)
	p.cacheMu.Lock()
	for p.cacheUsed+cost > p.cacheBudget && p.cache.Len() > 0 {
		if _, old, ok := p.cache.RemoveOldest(); ok {
			p.cacheUsed -= int64(len(old) * 4)
		}
	}
	p.cacheUsed += cost
	p.cacheMu.Unlock()
	p.cache.Add(id, vec)
}

func (p *Pack) cacheRemove(id string) {
	if old, ok := p.cache.Peek(id); ok {
		p.cacheMu.Lock()
		p.cacheUsed -= int64(len(old) * 4)
		p.cacheMu.Unlock()
		p.cache.Remove(id)
	}
}

// --- record encoding ---
// Layout: [id-length u32 LE][id utf8][norm-or-scale f32 LE][vector bytes]

func encodeF32Record(id string, vec []float32) []byte {
	buf := make([]byte, 4+len(id)+4+len(vec)*4)
	binary.LittleEndian.PutUint32(buf, uint32(len(id)))
	copy(buf[4:], id)
	pos := 4 + len(id)
	binary.LittleEndian.PutUint32(buf[pos:], math.Float32bits(L2Norm(vec)))
	pos += 4
	for _, x := range vec {
		binary.LittleEndian.PutUint32(buf[pos:], math.Float32bits(x))
		pos += 4
	}
	return buf
}

func decodeF32Record(buf []byte) (id string, norm float32, vec []float32, err error) {
	if len(buf) < 8 {
		return "", 0, nil, fmt.Errorf("record too short")
	}
	idLen := int(binary.LittleEndian.Uint32(buf))
	if len(buf) < 4+idLen+4 {
		return "", 0, nil, fmt.Errorf("record truncated")
	}
	id = string(buf[4 : 4+idLen])
	pos := 4 + idLen
	norm = math.Float32frombits(binary.LittleEndian.Uint32(buf[pos:]))
	pos += 4
	n := (len(buf) - pos) / 4
	vec = make([]float32, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[pos:]))
		pos += 4
	}
	return id, norm, vec, nil
}

func encodeQ8Record(id string, scale float32, q []int8) []byte {
	buf := make([]byte, 4+len(id)+4+len(q))
	binary.LittleEndian.PutUint32(buf, uint32(len(id)))
	copy(buf[4:], id)
	pos := 4 + len(id)
	binary.LittleEndian.PutUint32(buf[pos:], math.Float32bits(scale))
	pos += 4
	for _, x := range q {
		buf[pos] = byte(x)
		pos++
	}
	return buf
}

func decodeQ8Record(buf []byte) (id string, scale float32, q []int8, err error) {
	if len(buf) < 8 {
		return "", 0, nil, fmt.Errorf("record too short")
	}
	idLen := int(binary.LittleEndian.Uint32(buf))
	if len(buf) < 4+idLen+4 {
		return "", 0, nil, fmt.Errorf("record truncated")
	}
	id = string(buf[4 : 4+idLen])
	pos := 4 + idLen
	scale = math.Float32frombits(binary.LittleEndian.Uint32(buf[pos:]))
	pos += 4
	q = make([]int8, len(buf)-pos)
	for i := range q {
		q[i] = int8(buf[pos+i])
	}
	return id, scale, q, nil
}

func appendRecord(f *os.File, record []byte) (int64, error) {
	off, err := f.Seek(0, 2)
	if err != nil {
		return 0, err
	}
	if _, err := f.Write(record); err != nil {
		return 0, err
	}
	return off, nil
}

func readRecord(f *os.File, off offset) ([]byte, error) {
	buf := make([]byte, off.Length)
	if _, err := f.ReadAt(buf, off.Offset); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp-%d-%d", path, os.Getpid(), time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
