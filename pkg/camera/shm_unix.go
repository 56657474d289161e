//go:build darwin || linux

package camera

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mappedSegment is a read-only shared mapping of a segment file.
type mappedSegment struct {
	data []byte
}

func openSegment(path string) (segment, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("opening segment: %w", err)
	}
	defer unix.Close(fd)

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return nil, fmt.Errorf("stating segment: %w", err)
	}
	if stat.Size < shmHeaderSize {
		return nil, fmt.Errorf("segment is %d bytes, smaller than its header", stat.Size)
	}

	// The mapping outlives the descriptor.
	data, err := unix.Mmap(fd, 0, int(stat.Size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("memory-mapping segment: %w", err)
	}
	return &mappedSegment{data: data}, nil
}

func (m *mappedSegment) Bytes() []byte {
	return m.data
}

func (m *mappedSegment) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}
