//go:build !unix

package fileproc

import (
	"os"
)

// mapFile falls back to a plain read where mmap is unavailable.
func mapFile(path string, size int64) ([]byte, func(), error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return data, func() {}, nil
}
