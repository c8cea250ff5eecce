package journal

import (
	"github.com/turbine-db/pagejournal/codec"
)

// Magic identifies a page journal file. It must match on open.
const Magic uint32 = 0x00907A70

// Version is the only wire/disk format version this package speaks.
const Version uint32 = 1

// HeaderSize is the fixed on-disk size of the journal header block.
const HeaderSize = 128

// SnapshotHeaderSize is the fixed on-disk size of a snapshot header
// block.
const SnapshotHeaderSize = 32

// BlobHeaderSize is the fixed on-disk size of a blob header block.
const BlobHeaderSize = 16

// Header is the 128-byte record at offset 0 of a journal file.
type Header struct {
	Magic           uint32
	Version         uint32
	SnapshotCounter uint64
	EOF             uint64
}

// DefaultHeader returns the header written into a freshly created
// journal: no snapshots committed yet, EOF pointing just past the
// header block.
func DefaultHeader() Header {
	return Header{
		Magic:           Magic,
		Version:         Version,
		SnapshotCounter: 0,
		EOF:             HeaderSize,
	}
}

// MarshalBlock serializes h into the fixed 128-byte header block.
func (h Header) MarshalBlock() ([]byte, error) {
	w := codec.NewBlockWriter(HeaderSize)
	w.Uint32(h.Magic)
	w.Uint32(h.Version)
	w.Uint64(h.SnapshotCounter)
	w.Uint64(h.EOF)
	b, err := w.Bytes()
	if err != nil {
		return nil, errCodec(err)
	}
	return b, nil
}

// UnmarshalHeader parses a 128-byte header block.
func UnmarshalHeader(buf []byte) (Header, error) {
	r, err := codec.NewBlockReader(buf, HeaderSize)
	if err != nil {
		return Header{}, errCodec(err)
	}
	h := Header{
		Magic:           r.Uint32(),
		Version:         r.Uint32(),
		SnapshotCounter: r.Uint64(),
		EOF:             r.Uint64(),
	}
	if r.Err() != nil {
		return Header{}, errCodec(r.Err())
	}
	return h, nil
}

// SnapshotHeader begins one committed group of blobs.
type SnapshotHeader struct {
	// ID must equal the journal's snapshot counter at the time the
	// snapshot is appended; snapshots are strictly sequential and
	// gap-free, starting at 0.
	ID uint64
	// Timestamp is microseconds since the Unix epoch.
	Timestamp int64
	// PageSize is optional; absent serializes as zero.
	PageSize *uint32
}

// MarshalBlock serializes s into the fixed 32-byte snapshot header block.
func (s SnapshotHeader) MarshalBlock() ([]byte, error) {
	w := codec.NewBlockWriter(SnapshotHeaderSize)
	w.Uint64(s.ID)
	w.Int64(s.Timestamp)
	w.OptionUint32(s.PageSize)
	b, err := w.Bytes()
	if err != nil {
		return nil, errCodec(err)
	}
	return b, nil
}

// UnmarshalSnapshotHeader parses a 32-byte snapshot header block.
func UnmarshalSnapshotHeader(buf []byte) (SnapshotHeader, error) {
	r, err := codec.NewBlockReader(buf, SnapshotHeaderSize)
	if err != nil {
		return SnapshotHeader{}, errCodec(err)
	}
	s := SnapshotHeader{
		ID:        r.Uint64(),
		Timestamp: r.Int64(),
	}
	s.PageSize = r.OptionUint32()
	if r.Err() != nil {
		return SnapshotHeader{}, errCodec(r.Err())
	}
	return s, nil
}

// BlobHeader precedes BlobSize raw payload bytes within a snapshot.
type BlobHeader struct {
	// Offset is the target position in the reconstructed artifact.
	Offset uint64
	// BlobNum is the blob's position within the current snapshot,
	// starting at 0.
	BlobNum uint32
	// BlobSize is the payload length in bytes.
	BlobSize uint32
}

// sentinelBlobHeader terminates a snapshot on disk. Callers must never
// construct one directly; IsSentinel/blob-append paths enforce the ban.
var sentinelBlobHeader = BlobHeader{}

// IsSentinel reports whether h is the all-zero terminator, which is
// ambiguous with a legitimate zero-length blob at offset 0 — a hard
// constraint of the format, not a bug.
func (h BlobHeader) IsSentinel() bool { return h == sentinelBlobHeader }

// MarshalBlock serializes h into the fixed 16-byte blob header block.
func (h BlobHeader) MarshalBlock() ([]byte, error) {
	w := codec.NewBlockWriter(BlobHeaderSize)
	w.Uint64(h.Offset)
	w.Uint32(h.BlobNum)
	w.Uint32(h.BlobSize)
	b, err := w.Bytes()
	if err != nil {
		return nil, errCodec(err)
	}
	return b, nil
}

// UnmarshalBlobHeader parses a 16-byte blob header block.
func UnmarshalBlobHeader(buf []byte) (BlobHeader, error) {
	r, err := codec.NewBlockReader(buf, BlobHeaderSize)
	if err != nil {
		return BlobHeader{}, errCodec(err)
	}
	h := BlobHeader{
		Offset:   r.Uint64(),
		BlobNum:  r.Uint32(),
		BlobSize: r.Uint32(),
	}
	if r.Err() != nil {
		return BlobHeader{}, errCodec(r.Err())
	}
	return h, nil
}
