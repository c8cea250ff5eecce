// Package codec implements the fixed-width, big-endian, block-oriented
// binary format shared by the on-disk journal and the wire stream.
//
// Unlike a general-purpose serializer (RLP, protobuf, ...) every record
// kind here declares a fixed block size up front: encoding pads the
// remainder of the block with zeros, decoding consumes exactly that many
// bytes. There is no support for strings, byte sequences, maps, or
// generic options — the only supported "optional" is the zero-as-none
// convention implemented by OptionUint32.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrShortBlock is returned when fewer bytes than the declared block size
// are available to satisfy a read.
var ErrShortBlock = errors.New("codec: short block read")

// ErrBlockOverflow is returned when a write would exceed the declared
// block size.
var ErrBlockOverflow = errors.New("codec: write exceeds block size")

// BlockWriter accumulates fixed-width big-endian fields into a buffer no
// larger than size. The first field error short-circuits all subsequent
// writes; call Bytes to retrieve the zero-padded block or the error.
type BlockWriter struct {
	size int
	buf  []byte
	err  error
}

// NewBlockWriter returns a writer that will produce exactly size bytes.
func NewBlockWriter(size int) *BlockWriter {
	return &BlockWriter{size: size, buf: make([]byte, 0, size)}
}

func (w *BlockWriter) reserve(n int) bool {
	if w.err != nil {
		return false
	}
	if len(w.buf)+n > w.size {
		w.err = fmt.Errorf("%w: have %d bytes, want %d more of %d", ErrBlockOverflow, len(w.buf), n, w.size)
		return false
	}
	return true
}

// Bool writes a single byte, 1 for true and 0 for false.
func (w *BlockWriter) Bool(v bool) {
	if v {
		w.Uint8(1)
	} else {
		w.Uint8(0)
	}
}

// Uint8 writes a single byte.
func (w *BlockWriter) Uint8(v uint8) {
	if w.reserve(1) {
		w.buf = append(w.buf, v)
	}
}

// Int8 writes a single byte.
func (w *BlockWriter) Int8(v int8) { w.Uint8(uint8(v)) }

// Uint16 writes a big-endian uint16.
func (w *BlockWriter) Uint16(v uint16) {
	if !w.reserve(2) {
		return
	}
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Int16 writes a big-endian int16.
func (w *BlockWriter) Int16(v int16) { w.Uint16(uint16(v)) }

// Uint32 writes a big-endian uint32.
func (w *BlockWriter) Uint32(v uint32) {
	if !w.reserve(4) {
		return
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Int32 writes a big-endian int32.
func (w *BlockWriter) Int32(v int32) { w.Uint32(uint32(v)) }

// Uint64 writes a big-endian uint64.
func (w *BlockWriter) Uint64(v uint64) {
	if !w.reserve(8) {
		return
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Int64 writes a big-endian int64.
func (w *BlockWriter) Int64(v int64) { w.Uint64(uint64(v)) }

// Float32 writes an IEEE-754 big-endian single-precision float.
func (w *BlockWriter) Float32(v float32) { w.Uint32(math.Float32bits(v)) }

// Float64 writes an IEEE-754 big-endian double-precision float.
func (w *BlockWriter) Float64(v float64) { w.Uint64(math.Float64bits(v)) }

// Char writes a rune as a big-endian uint32.
func (w *BlockWriter) Char(v rune) { w.Uint32(uint32(v)) }

// OptionUint32 serializes an optional uint32 using the zero-as-none
// convention: absent (nil) encodes as 0.
func (w *BlockWriter) OptionUint32(v *uint32) {
	if v == nil {
		w.Uint32(0)
	} else {
		w.Uint32(*v)
	}
}

// Raw appends len(b) raw bytes, still subject to the size bound.
func (w *BlockWriter) Raw(b []byte) {
	if w.reserve(len(b)) {
		w.buf = append(w.buf, b...)
	}
}

// Bytes returns the block, zero-padded to the declared size, or the first
// error encountered while writing.
func (w *BlockWriter) Bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	out := make([]byte, w.size)
	copy(out, w.buf)
	return out, nil
}

// BlockReader consumes fixed-width big-endian fields from a buffer that
// must be exactly the declared block size.
type BlockReader struct {
	buf []byte
	pos int
	err error
}

// NewBlockReader wraps buf, which must be exactly size bytes.
func NewBlockReader(buf []byte, size int) (*BlockReader, error) {
	if len(buf) != size {
		return nil, fmt.Errorf("%w: have %d bytes, want %d", ErrShortBlock, len(buf), size)
	}
	return &BlockReader{buf: buf}, nil
}

func (r *BlockReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.buf) {
		r.err = ErrShortBlock
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

// Bool reads a single byte, true if it equals 1.
func (r *BlockReader) Bool() bool { return r.Uint8() == 1 }

// Uint8 reads a single byte.
func (r *BlockReader) Uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Int8 reads a single byte.
func (r *BlockReader) Int8() int8 { return int8(r.Uint8()) }

// Uint16 reads a big-endian uint16.
func (r *BlockReader) Uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

// Int16 reads a big-endian int16.
func (r *BlockReader) Int16() int16 { return int16(r.Uint16()) }

// Uint32 reads a big-endian uint32.
func (r *BlockReader) Uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// Int32 reads a big-endian int32.
func (r *BlockReader) Int32() int32 { return int32(r.Uint32()) }

// Uint64 reads a big-endian uint64.
func (r *BlockReader) Uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Int64 reads a big-endian int64.
func (r *BlockReader) Int64() int64 { return int64(r.Uint64()) }

// Float32 reads an IEEE-754 big-endian single-precision float.
func (r *BlockReader) Float32() float32 { return math.Float32frombits(r.Uint32()) }

// Float64 reads an IEEE-754 big-endian double-precision float.
func (r *BlockReader) Float64() float64 { return math.Float64frombits(r.Uint64()) }

// Char reads a big-endian uint32 as a rune.
func (r *BlockReader) Char() rune { return rune(r.Uint32()) }

// OptionUint32 reads a uint32 using the zero-as-none convention: a zero
// value decodes as nil.
func (r *BlockReader) OptionUint32() *uint32 {
	v := r.Uint32()
	if r.err != nil || v == 0 {
		return nil
	}
	return &v
}

// Raw reads n raw bytes.
func (r *BlockReader) Raw(n int) []byte { return r.take(n) }

// Err returns the first error encountered while reading, if any.
func (r *BlockReader) Err() error { return r.err }

// ReadBlock reads exactly size bytes from r, translating a short read
// into ErrShortBlock.
func ReadBlock(r io.Reader, size int) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %v", ErrShortBlock, err)
		}
		return nil, err
	}
	return buf, nil
}

// WriteBlock writes b verbatim to w.
func WriteBlock(w io.Writer, b []byte) error {
	_, err := w.Write(b)
	return err
}
