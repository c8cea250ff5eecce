// Package stream implements the wire framing that turns a journal's
// iteration sequence into a flat byte stream and back: a small,
// self-delimiting protocol layered directly on top of the journal's own
// fixed block encodings. See SPEC_FULL.md §4.3 for the frame vocabulary.
package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/turbine-db/pagejournal/journal"
)

// Frame tags, sent big-endian as a 4-byte prefix ahead of every frame.
const (
	TagJournalVersion uint32 = 0
	TagSnapshotHeader uint32 = 1
	TagBlobHeader     uint32 = 2
	TagEndOfStream    uint32 = 3
)

const tagSize = 4

// ErrProtocol reports a frame appearing out of the order the decoder
// expects (a second version frame, a blob before any snapshot, ...).
var ErrProtocol = errors.New("stream: protocol error")

func putTag(buf *bytes.Buffer, tag uint32) {
	var t [tagSize]byte
	binary.BigEndian.PutUint32(t[:], tag)
	buf.Write(t[:])
}

// Encoder adapts a journal iterator into an io.Reader over the
// concatenation of a version frame, per-snapshot/per-blob frames
// (snapshot headers coalesced: emitted only when the snapshot id
// changes), and a trailing end-of-stream frame. It supports arbitrarily
// small read buffers, including zero-length ones.
type Encoder struct {
	it          *journal.Iterator
	version     uint32
	started     bool
	done        bool
	lastSnapID  *uint64
	pending     bytes.Buffer
}

// NewEncoder returns an Encoder over it, emitting version as the
// preamble frame.
func NewEncoder(it *journal.Iterator, version uint32) *Encoder {
	return &Encoder{it: it, version: version}
}

// Read implements io.Reader. Once the end-of-stream frame has been
// fully emitted, every subsequent call returns (0, io.EOF).
func (e *Encoder) Read(p []byte) (int, error) {
	for e.pending.Len() == 0 {
		if e.done {
			return 0, io.EOF
		}
		if !e.started {
			putTag(&e.pending, TagJournalVersion)
			var v [4]byte
			binary.BigEndian.PutUint32(v[:], e.version)
			e.pending.Write(v[:])
			e.started = true
			break
		}
		if !e.it.Next() {
			if err := e.it.Err(); err != nil {
				return 0, err
			}
			putTag(&e.pending, TagEndOfStream)
			e.done = true
			break
		}
		item := e.it.Item()
		if e.lastSnapID == nil || *e.lastSnapID != item.Snapshot.ID {
			putTag(&e.pending, TagSnapshotHeader)
			shb, err := item.Snapshot.MarshalBlock()
			if err != nil {
				return 0, err
			}
			e.pending.Write(shb)
			id := item.Snapshot.ID
			e.lastSnapID = &id
		}
		putTag(&e.pending, TagBlobHeader)
		bhb, err := item.Blob.MarshalBlock()
		if err != nil {
			return 0, err
		}
		e.pending.Write(bhb)
		e.pending.Write(item.Payload)
	}
	return e.pending.Read(p)
}

// Decoder drives a target journal from a framed byte stream, enforcing
// the frame ordering rules and finishing with a commit on EndOfStream.
type Decoder struct {
	r       io.Reader
	target  *journal.Journal
	version uint32

	sawVersion bool
	sawEOS     bool
	inSnapshot bool
}

// NewDecoder returns a Decoder that reads frames from r and applies
// them to target. version is the journal version the preamble must
// match.
func NewDecoder(r io.Reader, target *journal.Journal, version uint32) *Decoder {
	return &Decoder{r: r, target: target, version: version}
}

// Run consumes r to completion, applying every frame to the target
// journal. It returns nil only after observing EndOfStream and
// committing the final snapshot (a no-op commit if none was open).
func (d *Decoder) Run() error {
	for {
		done, err := d.step()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (d *Decoder) step() (bool, error) {
	tag, err := d.readTag()
	if err != nil {
		return false, err
	}

	switch tag {
	case TagJournalVersion:
		if d.sawVersion {
			return false, fmt.Errorf("%w: duplicate journal version frame", ErrProtocol)
		}
		buf := make([]byte, 4)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return false, err
		}
		got := binary.BigEndian.Uint32(buf)
		if got != d.version {
			return false, journal.ErrUnexpectedVersion(got, d.version)
		}
		d.sawVersion = true
		return false, nil

	case TagSnapshotHeader:
		if !d.sawVersion {
			return false, fmt.Errorf("%w: snapshot header before journal version", ErrProtocol)
		}
		if d.inSnapshot {
			if err := d.target.Commit(); err != nil {
				return false, err
			}
		}
		buf := make([]byte, journal.SnapshotHeaderSize)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return false, err
		}
		sh, err := journal.UnmarshalSnapshotHeader(buf)
		if err != nil {
			return false, err
		}
		if err := d.target.AddSnapshot(sh); err != nil {
			return false, err
		}
		d.inSnapshot = true
		return false, nil

	case TagBlobHeader:
		if !d.inSnapshot {
			return false, fmt.Errorf("%w: blob header before any snapshot header", ErrProtocol)
		}
		buf := make([]byte, journal.BlobHeaderSize)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return false, err
		}
		bh, err := journal.UnmarshalBlobHeader(buf)
		if err != nil {
			return false, err
		}
		payload := make([]byte, bh.BlobSize)
		if bh.BlobSize > 0 {
			if _, err := io.ReadFull(d.r, payload); err != nil {
				return false, err
			}
		}
		if err := d.target.AddBlob(bh, payload); err != nil {
			return false, err
		}
		return false, nil

	case TagEndOfStream:
		if !d.sawVersion {
			return false, fmt.Errorf("%w: end of stream before journal version", ErrProtocol)
		}
		if err := d.target.Commit(); err != nil {
			return false, err
		}
		d.sawEOS = true
		return true, nil

	default:
		return false, fmt.Errorf("%w: unknown frame tag %d", ErrProtocol, tag)
	}
}

func (d *Decoder) readTag() (uint32, error) {
	buf := make([]byte, tagSize)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}
