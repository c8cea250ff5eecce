package journal

import (
	"github.com/turbine-db/pagejournal/journal/index"
)

// Index lazily opens (and, if stale or absent, rebuilds) the snapshot
// side index for j. The returned Index is owned by j; callers must not
// close it directly.
func (j *Journal) Index() (*index.Index, error) {
	if j.idx != nil {
		if err := j.ensureIndexFresh(); err != nil {
			return nil, err
		}
		return j.idx, nil
	}
	idx, err := index.Open(j.path)
	if err != nil {
		return nil, errIO(err)
	}
	j.idx = idx
	if err := j.ensureIndexFresh(); err != nil {
		return nil, err
	}
	return j.idx, nil
}

func (j *Journal) ensureIndexFresh() error {
	if err := j.updateHeaderLocked(); err != nil {
		return err
	}
	if j.idx.SnapshotsIndexed() >= j.header.SnapshotCounter {
		return nil
	}
	return j.rebuildIndex()
}

// rebuildIndex makes a single pass over the journal, tracking the
// on-disk offset of each snapshot header as it goes so it never opens
// a second iterator over the same journal (the journal's file cursor
// is exclusively owned by whichever iterator is active). The pass also
// warms the blob byte cache (via the iterator's own cache wiring, see
// iterator.go's readPayload), so a later traversal of the same journal
// — the index lookups in SeekSnapshot, or a second Iterate from a
// caller like journaldump's verify command — reads blob payloads from
// memory instead of disk.
func (j *Journal) rebuildIndex() error {
	it := j.Iterate()
	var lastID *uint64
	var nextID uint64
	pos := int64(HeaderSize)
	for it.Next() {
		item := it.Item()
		if item.Blob.BlobNum == 0 {
			if lastID != nil && *lastID != item.Snapshot.ID {
				pos += BlobHeaderSize // previous snapshot's sentinel
			}
			if lastID == nil || *lastID != item.Snapshot.ID {
				// Snapshots committed without blobs yield no items but
				// still occupy a snapshot header and a sentinel each.
				pos += int64(item.Snapshot.ID-nextID) * (SnapshotHeaderSize + BlobHeaderSize)
				nextID = item.Snapshot.ID + 1
				if err := j.idx.Put(item.Snapshot.ID, index.Entry{
					Offset:    uint64(pos),
					Timestamp: item.Snapshot.Timestamp,
					PageSize:  item.Snapshot.PageSize,
				}); err != nil {
					return errIO(err)
				}
				id := item.Snapshot.ID
				lastID = &id
				pos += SnapshotHeaderSize
			}
		}
		pos += BlobHeaderSize + int64(item.Blob.BlobSize)
	}
	if err := it.Err(); err != nil {
		return err
	}
	j.idx.SetBuilt(j.header.SnapshotCounter)
	return nil
}

// SeekSnapshot returns an iterator beginning at snapshot id, using the
// index to jump straight to its on-disk offset when available and
// falling back to a full linear scan (via SkipSnapshots) otherwise.
// Correctness never depends on the index: a stale or empty index just
// costs the linear scan.
func (j *Journal) SeekSnapshot(id uint64) (*Iterator, error) {
	idx, err := j.Index()
	if err != nil {
		log.Warn("snapshot index unavailable, falling back to linear scan", "path", j.path, "err", err)
		return j.Iterate().SkipSnapshots(id), nil
	}
	entry, ok := idx.Lookup(id)
	if !ok {
		return j.Iterate().SkipSnapshots(id), nil
	}
	off := int64(entry.Offset)
	it := j.Iterate()
	it.startOffset = &off
	it.skipBelow = id
	return it, nil
}
