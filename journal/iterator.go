package journal

import "io"

// Item is one (snapshot header, blob header, payload) tuple yielded by
// an Iterator.
type Item struct {
	Snapshot SnapshotHeader
	Blob     BlobHeader
	Payload  []byte
}

// Iterator performs a lazy, finite, non-restartable traversal of a
// journal's committed snapshots in order, yielding all blobs of
// snapshot 0, then 1, and so on up to (but not including) the current
// snapshot counter. It borrows the Journal exclusively for its
// lifetime; restarting iteration means calling Iterate again.
type Iterator struct {
	j           *Journal
	initialized bool
	eoi         bool
	current     *SnapshotHeader
	item        Item
	err         error
	skipBelow   uint64

	// startOffset, when non-nil, begins the scan at this on-disk offset
	// instead of byte HeaderSize — used by SeekSnapshot to jump straight
	// to a snapshot header found via the index.
	startOffset *int64
}

// Iterate returns a fresh iterator over j's committed snapshots.
func (j *Journal) Iterate() *Iterator {
	return &Iterator{j: j}
}

// SkipSnapshots restricts the iterator to snapshots whose id is at
// least k, without changing the underlying traversal order.
func (it *Iterator) SkipSnapshots(k uint64) *Iterator {
	it.skipBelow = k
	return it
}

// Next advances the iterator. It returns false at end of iteration or
// on the first error; check Err to distinguish the two.
func (it *Iterator) Next() bool {
	for {
		if it.err != nil || it.eoi {
			return false
		}
		if !it.initialized {
			if err := it.j.updateHeaderLocked(); err != nil {
				it.fail(err)
				return false
			}
			if it.j.header.SnapshotCounter == 0 {
				it.eoi = true
				return false
			}
			start := int64(HeaderSize)
			if it.startOffset != nil {
				start = *it.startOffset
			}
			if _, err := it.j.fd.Seek(start, io.SeekStart); err != nil {
				it.fail(errIO(err))
				return false
			}
			if err := it.j.fd.asReader(it.j.bufferSize); err != nil {
				it.fail(errIO(err))
				return false
			}
			it.initialized = true
		}

		if it.current == nil {
			buf, err := readExact(it.j.fd, SnapshotHeaderSize)
			if err != nil {
				it.fail(err)
				return false
			}
			sh, err := UnmarshalSnapshotHeader(buf)
			if err != nil {
				it.fail(err)
				return false
			}
			it.current = &sh
		}

		bbuf, err := readExact(it.j.fd, BlobHeaderSize)
		if err != nil {
			it.fail(err)
			return false
		}
		bh, err := UnmarshalBlobHeader(bbuf)
		if err != nil {
			it.fail(err)
			return false
		}

		if bh.IsSentinel() {
			lastSnapshot := it.current.ID+1 == it.j.header.SnapshotCounter
			it.current = nil
			if lastSnapshot {
				it.eoi = true
				return false
			}
			continue
		}

		payload, err := it.readPayload(bh)
		if err != nil {
			it.fail(err)
			return false
		}
		sh := *it.current
		it.item = Item{Snapshot: sh, Blob: bh, Payload: payload}
		if sh.ID < it.skipBelow {
			continue
		}
		return true
	}
}

// readPayload returns bh's payload bytes, consulting the journal's
// snapshot index byte cache first (if one is open) so a second
// traversal of the same journal doesn't re-read bytes already read by
// an earlier pass (see journal/index's LookupBlob/CacheBlob). A cache
// hit skips the disk read entirely by seeking past the payload instead
// of reading it; a miss reads normally and populates the cache for the
// next pass.
func (it *Iterator) readPayload(bh BlobHeader) ([]byte, error) {
	if it.j.idx != nil {
		if cached, ok := it.j.idx.LookupBlob(it.current.ID, bh.BlobNum); ok {
			payload := make([]byte, len(cached))
			copy(payload, cached)
			if _, err := it.j.fd.Seek(int64(bh.BlobSize), io.SeekCurrent); err != nil {
				return nil, errIO(err)
			}
			if err := it.j.fd.asReader(it.j.bufferSize); err != nil {
				return nil, errIO(err)
			}
			return payload, nil
		}
	}
	payload, err := readExact(it.j.fd, int(bh.BlobSize))
	if err != nil {
		return nil, err
	}
	if it.j.idx != nil {
		it.j.idx.CacheBlob(it.current.ID, bh.BlobNum, payload)
	}
	return payload, nil
}

func (it *Iterator) fail(err error) {
	it.err = err
	it.eoi = true
}

// Item returns the tuple produced by the most recent successful Next.
func (it *Iterator) Item() Item { return it.item }

// Err returns the error, if any, that stopped iteration early.
func (it *Iterator) Err() error { return it.err }
