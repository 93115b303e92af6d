package pool

import (
	"sync"
)

// BytePool provides bucketed pooling for the byte slices the file
// processor reads file contents into. Unlike the object pools above it
// is built on sync.Pool: read buffers are high-churn and short-lived,
// so GC-integrated pooling fits better than a hard capacity bound.
type BytePool struct {
	pools map[int]*sync.Pool
	sizes []int
}

// NewBytePool creates a byte pool with size buckets covering typical
// source-file sizes up to the mmap threshold.
func NewBytePool() *BytePool {
	sizes := []int{
		1024,     // 1KB
		4096,     // 4KB
		16384,    // 16KB
		65536,    // 64KB
		262144,   // 256KB
		1048576,  // 1MB
		4194304,  // 4MB
		10485760, // 10MB
	}

	pools := make(map[int]*sync.Pool)
	for _, size := range sizes {
		size := size
		pools[size] = &sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		}
	}

	return &BytePool{
		pools: pools,
		sizes: sizes,
	}
}

// Get retrieves a byte slice of at least the specified size. Requests
// larger than the biggest bucket are allocated directly.
func (p *BytePool) Get(size int) []byte {
	for _, bucketSize := range p.sizes {
		if bucketSize >= size {
			buf := p.pools[bucketSize].Get().([]byte)
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns a byte slice to its bucket. Slices that do not match a
// bucket capacity are left for the GC.
func (p *BytePool) Put(buf []byte) {
	if buf == nil {
		return
	}

	capacity := cap(buf)
	if pool, exists := p.pools[capacity]; exists {
		buf = buf[:capacity]
		for i := range buf {
			buf[i] = 0
		}
		// nolint:staticcheck // SA6002: slice allocation on Put is expected here
		pool.Put(buf)
	}
}
