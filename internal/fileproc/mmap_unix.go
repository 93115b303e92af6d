//go:build unix

package fileproc

import (
	"os"

	"golang.org/x/sys/unix"
)

// mapFile maps path read-only. The returned func unmaps; the content
// must not be used after calling it.
func mapFile(path string, size int64) ([]byte, func(), error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = file.Close() }()

	if size == 0 {
		return nil, func() {}, nil
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}

	// Content is scanned front to back once.
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)

	unmap := func() { _ = unix.Munmap(data) }
	return data, unmap, nil
}
