// Package journal implements a durable, append-only log of snapshots:
// ordered groups of byte blobs, each blob a (offset, payload) pair
// describing a mutation at a byte position in some reconstructed
// artifact. See SPEC_FULL.md for the on-disk format.
package journal

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/turbine-db/pagejournal/codec"
	"github.com/turbine-db/pagejournal/internal/rlog"
	"github.com/turbine-db/pagejournal/journal/index"
)

const defaultBufferSize = 65536

var log = rlog.New("pkg", "journal")

// Journal owns a single backing file handle exclusively. Sharing one
// file across multiple Journal instances is supported only when callers
// serialize the full new-snapshot-to-commit sequence with an external
// lock; see SPEC_FULL.md §4.1.
type Journal struct {
	header Header
	fd     *fd

	// blobCount tracks the in-progress snapshot: nil means no snapshot
	// is open, Some(n) means n blobs have been appended to it.
	blobCount *uint32

	bufferSize int
	path       string

	idx *index.Index
}

// Create creates (truncating if present) a journal file at path, writes
// the default header, and returns a ready-to-use handle.
func Create(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errIO(err)
	}
	j := &Journal{
		header:     DefaultHeader(),
		fd:         newFD(f),
		bufferSize: defaultBufferSize,
		path:       path,
	}
	if err := j.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	log.Debug("created journal", "path", path)
	return j, nil
}

// Open opens an existing journal file at path, validating its header.
// A missing file surfaces an *Error whose IsAbsent() is true.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errIO(err)
		}
		return nil, errIO(err)
	}
	j := &Journal{
		fd:         newFD(f),
		bufferSize: defaultBufferSize,
		path:       path,
	}
	if err := j.updateHeaderLocked(); err != nil {
		f.Close()
		return nil, err
	}
	if j.header.Magic != Magic {
		f.Close()
		return nil, errIO(fmt.Errorf("bad magic: got %#08x, want %#08x", j.header.Magic, Magic))
	}
	if j.header.Version != Version {
		f.Close()
		return nil, ErrUnexpectedVersion(j.header.Version, Version)
	}
	log.Debug("opened journal", "path", path, "snapshots", j.header.SnapshotCounter, "eof", j.header.EOF)
	return j, nil
}

// Close releases the underlying file handle. It does not flush or
// commit a partially-built snapshot.
func (j *Journal) Close() error {
	if j.idx != nil {
		j.idx.Close()
	}
	return j.fd.Close()
}

// Path returns the path the journal was created or opened with.
func (j *Journal) Path() string { return j.path }

// SetBufferSize is an advisory hint for internal I/O buffer sizing. It
// never affects correctness, only throughput.
func (j *Journal) SetBufferSize(n int) {
	if n > 0 {
		j.bufferSize = n
	}
}

// GetHeader returns the journal's in-memory header as of the last read
// or write (see UpdateHeader to refresh it from disk).
func (j *Journal) GetHeader() Header { return j.header }

// CurrentSnapshot returns nil if no snapshot has ever been committed,
// else the number of committed snapshots (equivalently, the id the next
// snapshot will receive).
func (j *Journal) CurrentSnapshot() *uint64 {
	if j.header.SnapshotCounter == 0 {
		return nil
	}
	v := j.header.SnapshotCounter
	return &v
}

// UpdateHeader re-reads the header from disk. Call this before trusting
// GetHeader when another writer may have advanced the journal.
func (j *Journal) UpdateHeader() error { return j.updateHeaderLocked() }

func (j *Journal) updateHeaderLocked() error {
	if _, err := j.fd.Seek(0, io.SeekStart); err != nil {
		return errIO(err)
	}
	if err := j.fd.asReader(j.bufferSize); err != nil {
		return errIO(err)
	}
	buf, err := readExact(j.fd, HeaderSize)
	if err != nil {
		return err
	}
	h, err := UnmarshalHeader(buf)
	if err != nil {
		return err
	}
	j.header = h
	return nil
}

func (j *Journal) writeHeader() error {
	if _, err := j.fd.Seek(0, io.SeekStart); err != nil {
		return errIO(err)
	}
	buf, err := j.header.MarshalBlock()
	if err != nil {
		return err
	}
	if _, err := j.fd.Write(buf); err != nil {
		return errIO(err)
	}
	if err := j.fd.Flush(); err != nil {
		return errIO(err)
	}
	return nil
}

// NewSnapshot opens a new snapshot for appending blobs. If a snapshot is
// already open this is a no-op. Otherwise it refreshes the header from
// disk, seeks to EOF, and writes a snapshot header whose id is the
// journal's current snapshot counter.
func (j *Journal) NewSnapshot(pageSize *uint32) error {
	if j.blobCount != nil {
		return nil
	}
	if err := j.updateHeaderLocked(); err != nil {
		return err
	}
	sh := SnapshotHeader{
		ID:        j.header.SnapshotCounter,
		Timestamp: time.Now().UnixMicro(),
		PageSize:  pageSize,
	}
	return j.writeSnapshot(sh)
}

// writeSnapshot assumes the in-memory header is up to date and writes
// sh at the journal's current EOF.
func (j *Journal) writeSnapshot(sh SnapshotHeader) error {
	if sh.ID != j.header.SnapshotCounter {
		return errOutOfOrderSnapshot(sh.ID, j.header.SnapshotCounter)
	}
	if _, err := j.fd.Seek(int64(j.header.EOF), io.SeekStart); err != nil {
		return errIO(err)
	}
	if err := j.fd.asWriter(j.bufferSize); err != nil {
		return errIO(err)
	}
	buf, err := sh.MarshalBlock()
	if err != nil {
		return err
	}
	if _, err := j.fd.Write(buf); err != nil {
		return errIO(err)
	}
	zero := uint32(0)
	j.blobCount = &zero
	return nil
}

// AddSnapshot appends a caller-constructed snapshot header, used when
// replaying a stream onto a local journal. It re-syncs the header from
// disk first.
func (j *Journal) AddSnapshot(sh SnapshotHeader) error {
	if err := j.updateHeaderLocked(); err != nil {
		return err
	}
	return j.writeSnapshot(sh)
}

// NewBlob appends a blob to the currently open snapshot, assigning it
// the next blob_num automatically.
func (j *Journal) NewBlob(offset uint64, data []byte) error {
	if j.blobCount == nil {
		return errSnapshotNotStarted()
	}
	bh := BlobHeader{Offset: offset, BlobNum: *j.blobCount, BlobSize: uint32(len(data))}
	return j.AddBlob(bh, data)
}

// AddBlob appends a caller-constructed blob header and payload. The
// header's BlobNum must equal the number of blobs already appended to
// the current snapshot. A header equal to the all-zero sentinel is
// rejected: callers must never construct the terminator themselves.
func (j *Journal) AddBlob(bh BlobHeader, data []byte) error {
	if bh.IsSentinel() {
		return errCodec(errors.New("blob header collides with the all-zero sentinel terminator; a zero-length blob at offset 0 as the first blob of a snapshot is unrepresentable by this format"))
	}
	if j.blobCount == nil || bh.BlobNum != *j.blobCount {
		return errOutOfOrderBlob(bh.BlobNum, j.blobCount)
	}
	buf, err := bh.MarshalBlock()
	if err != nil {
		return err
	}
	if _, err := j.fd.Write(buf); err != nil {
		return errIO(err)
	}
	if _, err := j.fd.Write(data); err != nil {
		return errIO(err)
	}
	n := *j.blobCount + 1
	j.blobCount = &n
	return nil
}

// Commit finalizes the open snapshot: it appends the sentinel blob
// header, records the new EOF, increments the snapshot counter, and
// rewrites the journal header in a single write at offset 0. It does
// not fsync — durability past the OS page cache is the caller's
// responsibility (see SPEC_FULL.md §9 Open Question (a)). If no
// snapshot is open this is a no-op.
func (j *Journal) Commit() error {
	if j.blobCount == nil {
		return nil
	}
	buf, err := sentinelBlobHeader.MarshalBlock()
	if err != nil {
		return err
	}
	if _, err := j.fd.Write(buf); err != nil {
		return errIO(err)
	}
	j.blobCount = nil

	pos, err := j.fd.Position()
	if err != nil {
		return errIO(err)
	}
	j.header.SnapshotCounter++
	j.header.EOF = uint64(pos)

	if err := j.writeHeader(); err != nil {
		return err
	}
	if err := j.fd.asRaw(); err != nil {
		return errIO(err)
	}
	log.Debug("committed snapshot", "path", j.path, "snapshot", j.header.SnapshotCounter-1, "eof", j.header.EOF)
	return nil
}

// Stat summarizes a journal for tooling.
type Stat struct {
	Path            string
	SnapshotCounter uint64
	EOF             uint64
	Size            int64
}

// Stat reports the journal's current on-disk statistics, re-reading the
// header first.
func (j *Journal) Stat() (Stat, error) {
	if err := j.updateHeaderLocked(); err != nil {
		return Stat{}, err
	}
	info, err := j.fd.file.Stat()
	if err != nil {
		return Stat{}, errIO(err)
	}
	return Stat{
		Path:            j.path,
		SnapshotCounter: j.header.SnapshotCounter,
		EOF:             j.header.EOF,
		Size:            info.Size(),
	}, nil
}

// readExact reads exactly n bytes, reporting a malformed/truncated
// journal as KindCodec and any other failure (disk, permissions, ...)
// as KindIO.
func readExact(r io.Reader, n int) ([]byte, error) {
	buf, err := codec.ReadBlock(r, n)
	if err != nil {
		if errors.Is(err, codec.ErrShortBlock) {
			return nil, errCodec(err)
		}
		return nil, errIO(err)
	}
	return buf, nil
}
