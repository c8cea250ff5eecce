package stream_test

import (
	"bytes"
	"io"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbine-db/pagejournal/journal"
	"github.com/turbine-db/pagejournal/stream"
)

func newJournal(t *testing.T, name string) *journal.Journal {
	t.Helper()
	j, err := journal.Create(filepath.Join(t.TempDir(), name))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func buildSample(t *testing.T, j *journal.Journal) {
	t.Helper()
	groups := [][][]byte{
		{{1}, {2, 3}},
		{{9, 9, 9, 9}},
	}
	for _, blobs := range groups {
		require.NoError(t, j.NewSnapshot(nil))
		for i, b := range blobs {
			require.NoError(t, j.NewBlob(uint64(i*10), b))
		}
		require.NoError(t, j.Commit())
	}
}

func iterAll(t *testing.T, j *journal.Journal) []journal.Item {
	t.Helper()
	it := j.Iterate()
	var items []journal.Item
	for it.Next() {
		items = append(items, it.Item())
	}
	require.NoError(t, it.Err())
	return items
}

func TestEncodeEmptyJournalIsTwelveBytes(t *testing.T) {
	j := newJournal(t, "empty.dat")
	enc := stream.NewEncoder(j.Iterate(), journal.Version)
	out, err := io.ReadAll(enc)
	require.NoError(t, err)
	assert.Len(t, out, 12)

	n, err := enc.Read(make([]byte, 16))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestRebuildRoundTrip(t *testing.T) {
	src := newJournal(t, "src.dat")
	buildSample(t, src)

	var buf bytes.Buffer
	enc := stream.NewEncoder(src.Iterate(), journal.Version)
	_, err := io.Copy(&buf, enc)
	require.NoError(t, err)

	dst := newJournal(t, "dst.dat")
	dec := stream.NewDecoder(&buf, dst, journal.Version)
	require.NoError(t, dec.Run())

	require.NoError(t, src.UpdateHeader())
	require.NoError(t, dst.UpdateHeader())
	assert.Equal(t, src.GetHeader(), dst.GetHeader())
	assert.Equal(t, iterAll(t, src), iterAll(t, dst))
}

func TestRebuildRoundTripRandomReadBufferSizes(t *testing.T) {
	src := newJournal(t, "src.dat")
	buildSample(t, src)

	var full bytes.Buffer
	enc := stream.NewEncoder(src.Iterate(), journal.Version)
	r := rand.New(rand.NewSource(1))
	for {
		buf := make([]byte, r.Intn(101))
		n, err := enc.Read(buf)
		full.Write(buf[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	dst := newJournal(t, "dst.dat")
	dec := stream.NewDecoder(&full, dst, journal.Version)
	require.NoError(t, dec.Run())

	require.NoError(t, src.UpdateHeader())
	require.NoError(t, dst.UpdateHeader())
	assert.Equal(t, src.GetHeader(), dst.GetHeader())
	assert.Equal(t, iterAll(t, src), iterAll(t, dst))
}

func TestSkipSnapshotsStream(t *testing.T) {
	src := newJournal(t, "src.dat")
	buildSample(t, src)

	var buf bytes.Buffer
	enc := stream.NewEncoder(src.Iterate().SkipSnapshots(1), journal.Version)
	_, err := io.Copy(&buf, enc)
	require.NoError(t, err)

	data := buf.Bytes()
	require.GreaterOrEqual(t, len(data), 8)
	assert.EqualValues(t, stream.TagJournalVersion, beUint32(data[0:4]))
	assert.EqualValues(t, stream.TagSnapshotHeader, beUint32(data[8:12]))

	sh, err := journal.UnmarshalSnapshotHeader(data[12 : 12+journal.SnapshotHeaderSize])
	require.NoError(t, err)
	assert.EqualValues(t, 1, sh.ID)
}

func TestVersionMismatchLeavesTargetUnchanged(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(tagBytes(stream.TagJournalVersion))
	buf.Write(u32Bytes(2))
	buf.Write(tagBytes(stream.TagEndOfStream))

	dst := newJournal(t, "dst.dat")
	dec := stream.NewDecoder(&buf, dst, journal.Version)
	err := dec.Run()
	require.Error(t, err)

	var je *journal.Error
	require.ErrorAs(t, err, &je)
	assert.Equal(t, journal.KindUnexpectedVersion, je.Kind)
	assert.EqualValues(t, 2, je.GotVersion)
	assert.EqualValues(t, 1, je.WantVersion)

	require.NoError(t, dst.UpdateHeader())
	assert.Nil(t, dst.CurrentSnapshot())
}

func TestBlobBeforeSnapshotIsProtocolError(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(tagBytes(stream.TagJournalVersion))
	buf.Write(u32Bytes(journal.Version))
	buf.Write(tagBytes(stream.TagBlobHeader))

	dst := newJournal(t, "dst.dat")
	dec := stream.NewDecoder(&buf, dst, journal.Version)
	err := dec.Run()
	require.Error(t, err)
	assert.ErrorIs(t, err, stream.ErrProtocol)
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func tagBytes(tag uint32) []byte { return u32Bytes(tag) }

func u32Bytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
