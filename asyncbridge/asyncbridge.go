// Package asyncbridge bridges the blocking journal/stream types to a
// cooperative, non-blocking byte interface: one worker goroutine owns
// all blocking I/O, one handle on the caller's side presents Read/Write
// methods that never block, instead reporting ErrPending. See
// SPEC_FULL.md §4.4 for the adapter contracts this implements.
package asyncbridge

import (
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/turbine-db/pagejournal/journal"
	"github.com/turbine-db/pagejournal/stream"
)

// maxReadChunk bounds a single worker read from the stream encoder.
const maxReadChunk = 64 * 1024

// ErrPending is returned by a handle's non-blocking Read/Write when the
// operation cannot complete immediately. The caller should retry after
// the worker has made progress; there is no explicit waker object in
// this port, since Go's channel receive already parks the goroutine
// the way a waker would.
var ErrPending = errors.New("asyncbridge: operation would block")

// ReaderOptions configures SpawnReader.
type ReaderOptions struct {
	// Skip restricts the stream to snapshots with id >= Skip.
	Skip uint64
	// Follow keeps the worker alive past EndOfStream, watching the
	// source journal for further commits instead of terminating.
	Follow bool
}

// ReadHandle is the non-blocking, single-owner read side of the async
// bridge. It is not safe for concurrent use from multiple goroutines.
type ReadHandle struct {
	buffers chan []byte
	wakers  chan struct{}
	g       *errgroup.Group
	cancel  context.CancelFunc

	mu     sync.Mutex
	cached []byte
	eof    bool
	closed bool
}

// SpawnReader opens path and starts a worker goroutine streaming its
// committed snapshots through the wire codec. The worker is fully
// started (the journal has been opened) by the time SpawnReader
// returns.
func SpawnReader(path string, opts ReaderOptions) (*ReadHandle, error) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &ReadHandle{
		buffers: make(chan []byte, 1),
		wakers:  make(chan struct{}, 1),
		cancel:  cancel,
	}
	g, gctx := errgroup.WithContext(ctx)
	h.g = g

	ready := make(chan error, 1)
	g.Go(func() error {
		defer close(h.buffers)
		return h.run(gctx, path, opts, ready)
	})

	if err := <-ready; err != nil {
		cancel()
		h.g.Wait()
		return nil, err
	}
	return h, nil
}

func (h *ReadHandle) run(ctx context.Context, path string, opts ReaderOptions, ready chan<- error) error {
	j, err := journal.Open(path)
	if err != nil {
		ready <- err
		return err
	}
	defer j.Close()

	var follower *journal.FollowReader
	if opts.Follow {
		follower, err = journal.NewFollowReader(j)
		if err != nil {
			ready <- err
			return err
		}
		defer follower.Close()
	}
	ready <- nil

	it := j.Iterate().SkipSnapshots(opts.Skip)
	enc := stream.NewEncoder(it, journal.Version)

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-h.wakers:
			if !ok {
				return nil
			}
		}

		buf := make([]byte, maxReadChunk)
		n, rerr := enc.Read(buf)
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return rerr
		}
		if errors.Is(rerr, io.EOF) {
			if !opts.Follow {
				select {
				case h.buffers <- nil:
				case <-ctx.Done():
				}
				return nil
			}
			have := j.GetHeader().SnapshotCounter
			if waitErr := follower.Wait(ctx, have); waitErr != nil {
				if errors.Is(waitErr, context.Canceled) {
					return nil
				}
				return waitErr
			}
			it = j.Iterate().SkipSnapshots(have)
			enc = stream.NewEncoder(it, journal.Version)
			continue
		}

		select {
		case h.buffers <- buf[:n]:
		case <-ctx.Done():
			return nil
		}
	}
}

// Read performs a non-blocking read, mirroring the handle algorithm in
// SPEC_FULL.md §4.4: a cached buffer is drained first; otherwise a
// pending buffer is picked up without blocking; an empty buffer or a
// closed channel both mean EOF; anything else arms the worker and
// reports ErrPending.
func (h *ReadHandle) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		if len(h.cached) > 0 {
			n := copy(p, h.cached)
			h.cached = h.cached[n:]
			return n, nil
		}
		if h.eof {
			return 0, io.EOF
		}
		select {
		case buf, ok := <-h.buffers:
			if !ok || len(buf) == 0 {
				h.eof = true
				return 0, io.EOF
			}
			h.cached = buf
			continue
		default:
			h.arm()
			return 0, ErrPending
		}
	}
}

func (h *ReadHandle) arm() {
	select {
	case h.wakers <- struct{}{}:
	default:
	}
}

// Close signals cancellation and waits for the worker to exit. Safe to
// call more than once.
func (h *ReadHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	if err := h.g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
