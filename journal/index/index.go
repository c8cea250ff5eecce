// Package index is a derived, rebuildable side index mapping a
// journal's snapshot ids to their on-disk offsets. It is never
// consulted for correctness: a missing or stale index only costs a
// linear scan, never a wrong answer. See SPEC_FULL.md §4.5.
package index

import (
	"encoding/binary"
	"fmt"

	"github.com/VictoriaMetrics/fastcache"
	lru "github.com/hashicorp/golang-lru"
	"github.com/syndtr/goleveldb/leveldb"
)

const defaultLRUSize = 128

const defaultBlobCacheBytes = 32 * 1024 * 1024

// Entry is what the index stores per snapshot id.
type Entry struct {
	Offset    uint64
	Timestamp int64
	PageSize  *uint32
}

// Index is a goleveldb-backed id -> Entry map for a single journal
// file, fronted by an in-memory LRU of recently looked-up entries and
// an optional byte cache for blob payloads.
type Index struct {
	db        *leveldb.DB
	lru       *lru.Cache
	blobCache *fastcache.Cache
	built     uint64 // snapshot_counter as recorded by the last SetBuilt; kept in memory only
}

// Dir returns the sibling index directory for a journal at path.
func Dir(journalPath string) string { return journalPath + ".idx" }

// Open opens (creating if absent) the index directory sibling to
// journalPath.
func Open(journalPath string) (*Index, error) {
	db, err := leveldb.OpenFile(Dir(journalPath), nil)
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", Dir(journalPath), err)
	}
	cache, err := lru.New(defaultLRUSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Index{
		db:        db,
		lru:       cache,
		blobCache: fastcache.New(defaultBlobCacheBytes),
	}, nil
}

// Close releases the underlying leveldb handle.
func (idx *Index) Close() error { return idx.db.Close() }

// SnapshotsIndexed returns the snapshot_counter value recorded by the
// last SetBuilt call. It is not persisted, so a freshly opened Index
// reports 0.
func (idx *Index) SnapshotsIndexed() uint64 { return idx.built }

// Put records a snapshot's offset and metadata, overwriting any
// existing entry for the same id.
func (idx *Index) Put(id uint64, e Entry) error {
	key := idKey(id)
	val := marshalEntry(e)
	if err := idx.db.Put(key, val, nil); err != nil {
		return fmt.Errorf("index: put %d: %w", id, err)
	}
	idx.lru.Add(id, e)
	return nil
}

// Lookup returns the entry for id, if present.
func (idx *Index) Lookup(id uint64) (Entry, bool) {
	if v, ok := idx.lru.Get(id); ok {
		return v.(Entry), true
	}
	val, err := idx.db.Get(idKey(id), nil)
	if err != nil {
		return Entry{}, false
	}
	e, ok := unmarshalEntry(val)
	if !ok {
		return Entry{}, false
	}
	idx.lru.Add(id, e)
	return e, true
}

// SetBuilt records the snapshot_counter as of a completed rebuild.
func (idx *Index) SetBuilt(counter uint64) { idx.built = counter }

// CacheBlob stores payload bytes for (snapshotID, blobNum) in the
// optional byte cache. Safe to call even when nothing will ever read
// it back; entries are evicted under memory pressure with no
// correctness impact.
func (idx *Index) CacheBlob(snapshotID uint64, blobNum uint32, payload []byte) {
	idx.blobCache.Set(blobKey(snapshotID, blobNum), payload)
}

// LookupBlob returns cached payload bytes for (snapshotID, blobNum),
// if present. The returned slice is owned by the cache and must be
// copied before the caller retains it past the current read.
func (idx *Index) LookupBlob(snapshotID uint64, blobNum uint32) ([]byte, bool) {
	buf, ok := idx.blobCache.HasGet(nil, blobKey(snapshotID, blobNum))
	if !ok {
		return nil, false
	}
	return buf, true
}

func idKey(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

func blobKey(snapshotID uint64, blobNum uint32) []byte {
	var b [12]byte
	binary.BigEndian.PutUint64(b[0:8], snapshotID)
	binary.BigEndian.PutUint32(b[8:12], blobNum)
	return b[:]
}

// marshalEntry/unmarshalEntry use a tiny fixed layout of their own
// rather than the journal's block codec: this index is a throwaway,
// rebuildable cache, not part of the durable on-disk format the block
// codec exists to stabilize.
func marshalEntry(e Entry) []byte {
	buf := make([]byte, 21)
	binary.BigEndian.PutUint64(buf[0:8], e.Offset)
	binary.BigEndian.PutUint64(buf[8:16], uint64(e.Timestamp))
	if e.PageSize != nil {
		buf[16] = 1
		binary.BigEndian.PutUint32(buf[17:21], *e.PageSize)
	}
	return buf
}

func unmarshalEntry(buf []byte) (Entry, bool) {
	if len(buf) != 21 {
		return Entry{}, false
	}
	e := Entry{
		Offset:    binary.BigEndian.Uint64(buf[0:8]),
		Timestamp: int64(binary.BigEndian.Uint64(buf[8:16])),
	}
	if buf[16] == 1 {
		ps := binary.BigEndian.Uint32(buf[17:21])
		e.PageSize = &ps
	}
	return e, true
}
