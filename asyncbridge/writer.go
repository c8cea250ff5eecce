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

type writeMsg struct {
	buf      []byte
	shutdown bool
}

// WriteHandle is the non-blocking, single-owner write side of the
// async bridge. It is not safe for concurrent use from multiple
// goroutines.
type WriteHandle struct {
	msgs   chan writeMsg
	done   chan struct{} // closed once the worker goroutine has returned, for any reason
	g      *errgroup.Group
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// SpawnWriter creates (truncating) a journal at path and starts a
// worker goroutine that decodes a wire stream fed through Write into
// it.
func SpawnWriter(path string) (*WriteHandle, error) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &WriteHandle{
		msgs:   make(chan writeMsg, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	g, gctx := errgroup.WithContext(ctx)
	h.g = g

	ready := make(chan error, 1)
	g.Go(func() error {
		defer close(h.done)
		return h.run(gctx, path, ready)
	})

	if err := <-ready; err != nil {
		cancel()
		h.g.Wait()
		return nil, err
	}
	return h, nil
}

func (h *WriteHandle) run(ctx context.Context, path string, ready chan<- error) error {
	j, err := journal.Create(path)
	if err != nil {
		ready <- err
		return err
	}
	defer j.Close()
	ready <- nil

	cr := &chanReader{ctx: ctx, msgs: h.msgs}
	dec := stream.NewDecoder(cr, j, journal.Version)
	err = dec.Run()
	cr.drain()
	return err
}

// Write enqueues a copy of p for the worker to consume. It never
// blocks: if the single-slot channel is already full it returns
// ErrPending, matching the back-pressure described in SPEC_FULL.md
// §4.4. Once the worker has exited, for any reason, Write fails
// instead of silently queuing into a channel nobody will ever drain.
func (h *WriteHandle) Write(p []byte) (int, error) {
	select {
	case <-h.done:
		return 0, io.ErrClosedPipe
	default:
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case h.msgs <- writeMsg{buf: cp}:
		return len(p), nil
	default:
		return 0, ErrPending
	}
}

// Flush is a no-op: the worker's decoder consumes bytes as they
// arrive, there is no internal buffering to flush.
func (h *WriteHandle) Flush() error { return nil }

// Shutdown enqueues an end-of-input signal. The worker commits only on
// an EndOfStream frame: if the signal reaches the decoder before one,
// the worker exits with io.EOF and any open snapshot stays uncommitted.
// Call Wait (or Close) to observe the result.
func (h *WriteHandle) Shutdown() error {
	select {
	case <-h.done:
		return io.ErrClosedPipe
	default:
	}
	select {
	case h.msgs <- writeMsg{shutdown: true}:
		return nil
	default:
		return ErrPending
	}
}

// Wait blocks until the worker has exited, returning its error (if
// any). Unlike Read/Write this is a blocking call; it is meant for the
// caller that issued Shutdown, not for the cooperative scheduler loop.
func (h *WriteHandle) Wait() error { return h.g.Wait() }

// Close cancels the worker if it hasn't finished and waits for it to
// exit. Safe to call more than once.
func (h *WriteHandle) Close() error {
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

// chanReader adapts the bounded message channel into a blocking
// io.Reader for the worker-side decoder.
type chanReader struct {
	ctx  context.Context
	msgs <-chan writeMsg
	buf  []byte
}

func (r *chanReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		select {
		case <-r.ctx.Done():
			return 0, r.ctx.Err()
		case m := <-r.msgs:
			if m.shutdown {
				return 0, io.EOF
			}
			r.buf = m.buf
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// drain unblocks any message left in the channel after the worker has
// stopped reading, so a caller that raced Write against Shutdown/Close
// never observes a permanently full channel.
func (r *chanReader) drain() {
	for {
		select {
		case <-r.msgs:
		default:
			return
		}
	}
}
