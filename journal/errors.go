package journal

import (
	"errors"
	"fmt"
	"io/fs"
)

// Kind enumerates the exhaustive error taxonomy a journal operation can
// surface. There are no hidden categories beyond these seven.
type Kind int

const (
	// KindIO wraps a failure from the underlying file or channel.
	KindIO Kind = iota
	// KindOutOfMemory reports a failed allocation for a payload buffer.
	KindOutOfMemory
	// KindCodec reports a short read, a write overflow, or an
	// unsupported construct while (de)serializing a record.
	KindCodec
	// KindOutOfOrderSnapshot reports add_snapshot called with a
	// snapshot id other than the journal's current counter.
	KindOutOfOrderSnapshot
	// KindSnapshotNotStarted reports new_blob called with no open
	// snapshot.
	KindSnapshotNotStarted
	// KindOutOfOrderBlob reports add_blob called with a blob_num other
	// than the expected next one (including "no snapshot open", which
	// has no expected number).
	KindOutOfOrderBlob
	// KindUnexpectedVersion reports a stream preamble whose journal
	// version does not match what the decoder expects.
	KindUnexpectedVersion
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindOutOfMemory:
		return "out of memory"
	case KindCodec:
		return "codec error"
	case KindOutOfOrderSnapshot:
		return "out of order snapshot"
	case KindSnapshotNotStarted:
		return "snapshot not started"
	case KindOutOfOrderBlob:
		return "out of order blob"
	case KindUnexpectedVersion:
		return "unexpected journal version"
	default:
		return "unknown"
	}
}

// Error is the error type returned by the Journal's operations (Close
// passes the file's own error through unwrapped). Callers branch on
// Kind, not on the concrete Go type.
type Error struct {
	Kind Kind
	Err  error

	// KindOutOfOrderSnapshot
	AttemptedSnapshotID uint64
	ExpectedSnapshotID  uint64

	// KindOutOfOrderBlob. ExpectedBlobNum is nil when no snapshot is
	// open (there is no "expected next blob" in that case).
	AttemptedBlobNum uint32
	ExpectedBlobNum  *uint32

	// KindUnexpectedVersion
	GotVersion  uint32
	WantVersion uint32
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindOutOfOrderSnapshot:
		return fmt.Sprintf("journal: out of order snapshot: attempted id %d, expected %d", e.AttemptedSnapshotID, e.ExpectedSnapshotID)
	case KindOutOfOrderBlob:
		if e.ExpectedBlobNum == nil {
			return fmt.Sprintf("journal: out of order blob: attempted num %d, no snapshot open", e.AttemptedBlobNum)
		}
		return fmt.Sprintf("journal: out of order blob: attempted num %d, expected %d", e.AttemptedBlobNum, *e.ExpectedBlobNum)
	case KindSnapshotNotStarted:
		return "journal: no snapshot is open"
	case KindUnexpectedVersion:
		return fmt.Sprintf("journal: unexpected journal version: got %d, want %d", e.GotVersion, e.WantVersion)
	default:
		if e.Err != nil {
			return fmt.Sprintf("journal: %s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("journal: %s", e.Kind)
	}
}

// Unwrap exposes the wrapped underlying error, if any, to errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// IsAbsent reports whether the error means "the journal file does not
// exist", distinguishing it from other I/O failures.
func (e *Error) IsAbsent() bool {
	return e.Kind == KindIO && errors.Is(e.Err, fs.ErrNotExist)
}

func errIO(err error) error { return &Error{Kind: KindIO, Err: err} }

func errOutOfMemory(err error) error { return &Error{Kind: KindOutOfMemory, Err: err} }

func errCodec(err error) error { return &Error{Kind: KindCodec, Err: err} }

func errOutOfOrderSnapshot(attempted, expected uint64) error {
	return &Error{Kind: KindOutOfOrderSnapshot, AttemptedSnapshotID: attempted, ExpectedSnapshotID: expected}
}

func errSnapshotNotStarted() error { return &Error{Kind: KindSnapshotNotStarted} }

func errOutOfOrderBlob(attempted uint32, expected *uint32) error {
	return &Error{Kind: KindOutOfOrderBlob, AttemptedBlobNum: attempted, ExpectedBlobNum: expected}
}

// ErrUnexpectedVersion reports a stream preamble version mismatch. It is
// exported because the stream/asyncbridge packages raise it directly
// against a journal.Error without going through an internal constructor.
func ErrUnexpectedVersion(got, want uint32) error {
	return &Error{Kind: KindUnexpectedVersion, GotVersion: got, WantVersion: want}
}
