package journal

import (
	"context"

	"github.com/rjeczalik/notify"
)

// FollowReader watches a journal path for external writes, letting a
// caller block until the on-disk snapshot_counter has advanced past a
// known value instead of polling update_header in a tight loop. It is
// the mechanism behind the async bridge's Follow read mode (see
// SPEC_FULL.md §4.4); it never substitutes for update_header as the
// source of truth, only for the wakeup.
type FollowReader struct {
	j      *Journal
	events chan notify.EventInfo
}

// NewFollowReader registers a filesystem watch on j's backing file.
func NewFollowReader(j *Journal) (*FollowReader, error) {
	events := make(chan notify.EventInfo, 8)
	if err := notify.Watch(j.Path(), events, notify.Write); err != nil {
		return nil, errIO(err)
	}
	return &FollowReader{j: j, events: events}, nil
}

// Close stops the filesystem watch.
func (f *FollowReader) Close() {
	notify.Stop(f.events)
}

// Wait blocks until update_header reports a snapshot_counter greater
// than have, or ctx is done. A write notification only triggers a
// re-check; the header read remains the sole source of truth, so a
// notification racing ahead of the actual write never yields a false
// wakeup.
func (f *FollowReader) Wait(ctx context.Context, have uint64) error {
	for {
		if err := f.j.UpdateHeader(); err != nil {
			return err
		}
		if f.j.GetHeader().SnapshotCounter > have {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.events:
		}
	}
}
