package asyncbridge_test

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbine-db/pagejournal/asyncbridge"
	"github.com/turbine-db/pagejournal/journal"
	"github.com/turbine-db/pagejournal/stream"
)

func buildSource(t *testing.T, path string) {
	t.Helper()
	j, err := journal.Create(path)
	require.NoError(t, err)
	defer j.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, j.NewSnapshot(nil))
		require.NoError(t, j.NewBlob(uint64(i), []byte{byte(i), byte(i), byte(i)}))
		require.NoError(t, j.Commit())
	}
}

// readAllNonBlocking drains a ReadHandle to EOF, treating ErrPending as
// "try again shortly" the way a cooperative scheduler would after being
// woken.
func readAllNonBlocking(t *testing.T, h *asyncbridge.ReadHandle, bufSize int) []byte {
	t.Helper()
	var out bytes.Buffer
	buf := make([]byte, bufSize)
	deadline := time.Now().Add(5 * time.Second)
	for {
		n, err := h.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if err == nil {
			continue
		}
		if err == io.EOF {
			return out.Bytes()
		}
		if errors.Is(err, asyncbridge.ErrPending) {
			if time.Now().After(deadline) {
				t.Fatal("timed out waiting for read handle to make progress")
			}
			time.Sleep(time.Millisecond)
			continue
		}
		require.NoError(t, err)
	}
}

func TestReadHandleMatchesSynchronousEncode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "src.dat")
	buildSource(t, path)

	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()
	var want bytes.Buffer
	_, err = io.Copy(&want, stream.NewEncoder(j.Iterate(), journal.Version))
	require.NoError(t, err)

	h, err := asyncbridge.SpawnReader(path, asyncbridge.ReaderOptions{})
	require.NoError(t, err)
	defer h.Close()

	got := readAllNonBlocking(t, h, 7)
	assert.Equal(t, want.Bytes(), got)
}

func TestReadHandleZeroSizedPolls(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "src.dat")
	buildSource(t, path)

	h, err := asyncbridge.SpawnReader(path, asyncbridge.ReaderOptions{})
	require.NoError(t, err)
	defer h.Close()

	n, err := h.Read(nil)
	assert.Equal(t, 0, n)
	assert.True(t, err == nil || errors.Is(err, asyncbridge.ErrPending))

	_ = readAllNonBlocking(t, h, 1)
}

func TestReadHandleCancellation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "src.dat")
	buildSource(t, path)

	h, err := asyncbridge.SpawnReader(path, asyncbridge.ReaderOptions{})
	require.NoError(t, err)

	buf := make([]byte, 10)
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := h.Read(buf)
		if n > 0 || err == io.EOF {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out reading first bytes")
		}
		time.Sleep(time.Millisecond)
	}

	done := make(chan error, 1)
	go func() { done <- h.Close() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit within bounded time after cancellation")
	}
}

func TestWriteHandleRoundTrip(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.dat")
	buildSource(t, srcPath)

	src, err := journal.Open(srcPath)
	require.NoError(t, err)
	defer src.Close()
	var encoded bytes.Buffer
	_, err = io.Copy(&encoded, stream.NewEncoder(src.Iterate(), journal.Version))
	require.NoError(t, err)

	dstPath := filepath.Join(dir, "dst.dat")
	wh, err := asyncbridge.SpawnWriter(dstPath)
	require.NoError(t, err)

	data := encoded.Bytes()
	for len(data) > 0 {
		n, err := wh.Write(data)
		if errors.Is(err, asyncbridge.ErrPending) {
			time.Sleep(time.Millisecond)
			continue
		}
		require.NoError(t, err)
		data = data[n:]
	}
	require.NoError(t, wh.Wait())

	dst, err := journal.Open(dstPath)
	require.NoError(t, err)
	defer dst.Close()

	require.NoError(t, src.UpdateHeader())
	assert.Equal(t, src.GetHeader(), dst.GetHeader())
}

func TestWriteHandleVersionMismatchLeavesJournalUnchanged(t *testing.T) {
	dir := t.TempDir()
	dstPath := filepath.Join(dir, "dst.dat")

	wh, err := asyncbridge.SpawnWriter(dstPath)
	require.NoError(t, err)

	var frame bytes.Buffer
	frame.Write([]byte{0, 0, 0, 0}) // TagJournalVersion
	frame.Write([]byte{0, 0, 0, 2}) // version 2
	frame.Write([]byte{0, 0, 0, 3}) // TagEndOfStream

	data := frame.Bytes()
	for len(data) > 0 {
		n, werr := wh.Write(data)
		if errors.Is(werr, asyncbridge.ErrPending) {
			time.Sleep(time.Millisecond)
			continue
		}
		require.NoError(t, werr)
		data = data[n:]
	}

	err = wh.Wait()
	require.Error(t, err)
	var je *journal.Error
	require.ErrorAs(t, err, &je)
	assert.Equal(t, journal.KindUnexpectedVersion, je.Kind)

	dst, err := journal.Open(dstPath)
	require.NoError(t, err)
	defer dst.Close()
	assert.Nil(t, dst.CurrentSnapshot())
}
