package codec_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbine-db/pagejournal/codec"
)

func TestBlockWriterPadsToDeclaredSize(t *testing.T) {
	w := codec.NewBlockWriter(8)
	w.Uint32(0x01020304)
	b, err := w.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0, 0, 0, 0}, b)
}

func TestBlockWriterOverflowIsAnError(t *testing.T) {
	w := codec.NewBlockWriter(2)
	w.Uint32(1)
	_, err := w.Bytes()
	assert.ErrorIs(t, err, codec.ErrBlockOverflow)
}

func TestBlockReaderShortReadIsAnError(t *testing.T) {
	_, err := codec.NewBlockReader([]byte{1, 2, 3}, 4)
	assert.ErrorIs(t, err, codec.ErrShortBlock)
}

func TestRoundTripScalars(t *testing.T) {
	w := codec.NewBlockWriter(32)
	w.Bool(true)
	w.Uint8(200)
	w.Int16(-7)
	w.Uint32(42)
	w.Int64(-123456789)
	w.Float64(3.5)
	w.Char('Z')
	buf, err := w.Bytes()
	require.NoError(t, err)

	r, err := codec.NewBlockReader(buf, 32)
	require.NoError(t, err)
	assert.True(t, r.Bool())
	assert.EqualValues(t, 200, r.Uint8())
	assert.EqualValues(t, -7, r.Int16())
	assert.EqualValues(t, 42, r.Uint32())
	assert.EqualValues(t, -123456789, r.Int64())
	assert.InDelta(t, 3.5, r.Float64(), 0)
	assert.Equal(t, 'Z', r.Char())
	assert.NoError(t, r.Err())
}

func TestOptionUint32ZeroAsNone(t *testing.T) {
	w := codec.NewBlockWriter(4)
	w.OptionUint32(nil)
	buf, err := w.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, buf)

	r, err := codec.NewBlockReader(buf, 4)
	require.NoError(t, err)
	assert.Nil(t, r.OptionUint32())

	v := uint32(9)
	w2 := codec.NewBlockWriter(4)
	w2.OptionUint32(&v)
	buf2, err := w2.Bytes()
	require.NoError(t, err)
	r2, err := codec.NewBlockReader(buf2, 4)
	require.NoError(t, err)
	got := r2.OptionUint32()
	require.NotNil(t, got)
	assert.EqualValues(t, 9, *got)
}

func TestReadBlockShortReadError(t *testing.T) {
	_, err := codec.ReadBlock(bytes.NewReader([]byte{1, 2}), 4)
	assert.ErrorIs(t, err, codec.ErrShortBlock)
}

func TestReadWriteBlockRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, codec.WriteBlock(&buf, []byte{1, 2, 3, 4}))
	got, err := codec.ReadBlock(&buf, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
}
