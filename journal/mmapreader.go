package journal

import (
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// OpenMapped opens an existing journal read-only, memory-mapping the
// file so iteration and SeekSnapshot reads are served from the mapping
// instead of repeated read syscalls. Writes to the returned handle
// fail; use Open for a writable handle. Falls back to a plain file
// handle for a zero-length file, since mapping an empty file is not
// portable.
func OpenMapped(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0644)
	if err != nil {
		return nil, errIO(err)
	}
	j := &Journal{
		fd:         newFD(f),
		bufferSize: defaultBufferSize,
		path:       path,
	}

	info, err := f.Stat()
	if err != nil {
		j.Close()
		return nil, errIO(err)
	}
	if info.Size() > 0 {
		m, err := mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			j.Close()
			return nil, errIO(err)
		}
		j.fd.mapped = m
	}

	if err := j.updateHeaderLocked(); err != nil {
		j.Close()
		return nil, err
	}
	if j.header.Magic != Magic {
		j.Close()
		return nil, errIO(fmt.Errorf("bad magic: got %#08x, want %#08x", j.header.Magic, Magic))
	}
	if j.header.Version != Version {
		j.Close()
		return nil, ErrUnexpectedVersion(j.header.Version, Version)
	}
	log.Debug("opened mapped journal", "path", path, "snapshots", j.header.SnapshotCounter)
	return j, nil
}
