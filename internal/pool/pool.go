package pool

import (
	"sync"

	"github.com/scanguard/scanguard/pkg/types"
)

// Pool size validation bounds. Sizes outside this range fall back to the
// per-pool default rather than failing construction.
const (
	minPoolSize = 1
	maxPoolSize = 1_000_000

	// Strings longer than this are never interned.
	maxInternedStringLength = 10_000
)

// Default pool capacities.
const (
	DefaultFindingPoolSize = 1000
	DefaultStringPoolSize  = 5000
	DefaultPathPoolSize    = 500
	DefaultMapPoolSize     = 200
)

// Stats tracks pool performance counters.
type Stats struct {
	Allocated uint64 `json:"allocated"`
	Reused    uint64 `json:"reused"`
	Returned  uint64 `json:"returned"`
	Discarded uint64 `json:"discarded"`
	Evicted   uint64 `json:"evicted"`
}

// ReuseRate returns the fraction of get requests served from the pool.
func (s Stats) ReuseRate() float64 {
	total := s.Allocated + s.Reused
	if total == 0 {
		return 0
	}
	return float64(s.Reused) / float64(total)
}

// Utilization describes the current fill level of a pool.
type Utilization struct {
	CurrentSize int     `json:"current_size"`
	MaxSize     int     `json:"max_size"`
	ReuseRate   float64 `json:"reuse_rate"`
}

// Percentage returns the fill level as a percentage of capacity.
func (u Utilization) Percentage() float64 {
	if u.MaxSize == 0 {
		return 0
	}
	return float64(u.CurrentSize) / float64(u.MaxSize) * 100.0
}

func validateSize(size, fallback int) int {
	if size < minPoolSize || size > maxPoolSize {
		return fallback
	}
	return size
}

// FindingPool recycles Finding records.
type FindingPool struct {
	mu      sync.Mutex
	free    []*types.Finding
	maxSize int
	stats   Stats
}

// NewFindingPool creates a finding pool with the given capacity.
func NewFindingPool(maxSize int) *FindingPool {
	size := validateSize(maxSize, DefaultFindingPoolSize)
	return &FindingPool{
		free:    make([]*types.Finding, 0, size),
		maxSize: size,
	}
}

// Get returns a reset Finding, reusing a pooled instance when available.
func (p *FindingPool) Get() *types.Finding {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		f := p.free[n-1]
		p.free = p.free[:n-1]
		p.stats.Reused++
		return f
	}
	p.stats.Allocated++
	return &types.Finding{Metadata: make(map[string]string)}
}

// Put returns a Finding to the pool. The finding is reset before it is
// retained so stale data never leaks into a later analysis. Instances
// beyond capacity are dropped for the GC.
func (p *FindingPool) Put(f *types.Finding) {
	if f == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) < p.maxSize {
		f.Reset()
		p.free = append(p.free, f)
		p.stats.Returned++
	} else {
		p.stats.Discarded++
	}
}

// Stats returns a snapshot of the pool counters.
func (p *FindingPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Utilization returns the current fill level.
func (p *FindingPool) Utilization() Utilization {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Utilization{
		CurrentSize: len(p.free),
		MaxSize:     p.maxSize,
		ReuseRate:   p.stats.ReuseRate(),
	}
}

// StringPool interns common strings so repeated rule names, messages,
// and categories share storage across cache entries.
type StringPool struct {
	mu         sync.Mutex
	strings    map[string]string
	maxEntries int
	stats      Stats
}

// NewStringPool creates a string interning pool with the given capacity.
func NewStringPool(maxEntries int) *StringPool {
	size := validateSize(maxEntries, DefaultStringPoolSize)
	return &StringPool{
		strings:    make(map[string]string, size),
		maxEntries: size,
	}
}

// Intern returns a canonical copy of s. Oversized strings bypass the
// pool entirely.
func (p *StringPool) Intern(s string) string {
	if len(s) > maxInternedStringLength {
		return s
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if interned, ok := p.strings[s]; ok {
		p.stats.Reused++
		return interned
	}

	if len(p.strings) >= p.maxEntries {
		// Drop one arbitrary entry to stay bounded. Map iteration
		// order gives a cheap approximation of random eviction.
		for k := range p.strings {
			delete(p.strings, k)
			p.stats.Evicted++
			break
		}
	}

	p.strings[s] = s
	p.stats.Allocated++
	return s
}

// Stats returns a snapshot of the pool counters.
func (p *StringPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Utilization returns the current fill level.
func (p *StringPool) Utilization() Utilization {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Utilization{
		CurrentSize: len(p.strings),
		MaxSize:     p.maxEntries,
		ReuseRate:   p.stats.ReuseRate(),
	}
}

// PathPool recycles path byte buffers used while canonicalizing and
// joining candidate file paths.
type PathPool struct {
	mu      sync.Mutex
	free    [][]byte
	maxSize int
	stats   Stats
}

// NewPathPool creates a path buffer pool with the given capacity.
func NewPathPool(maxSize int) *PathPool {
	size := validateSize(maxSize, DefaultPathPoolSize)
	return &PathPool{
		free:    make([][]byte, 0, size),
		maxSize: size,
	}
}

// Get returns an empty path buffer with retained capacity.
func (p *PathPool) Get() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		buf := p.free[n-1]
		p.free = p.free[:n-1]
		p.stats.Reused++
		return buf[:0]
	}
	p.stats.Allocated++
	return make([]byte, 0, 256)
}

// Put returns a path buffer to the pool.
func (p *PathPool) Put(buf []byte) {
	if buf == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) < p.maxSize {
		p.free = append(p.free, buf[:0])
		p.stats.Returned++
	} else {
		p.stats.Discarded++
	}
}

// Stats returns a snapshot of the pool counters.
func (p *PathPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Utilization returns the current fill level.
func (p *PathPool) Utilization() Utilization {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Utilization{
		CurrentSize: len(p.free),
		MaxSize:     p.maxSize,
		ReuseRate:   p.stats.ReuseRate(),
	}
}

// MapPool recycles string-keyed metadata maps.
type MapPool struct {
	mu      sync.Mutex
	free    []map[string]string
	maxSize int
	stats   Stats
}

// NewMapPool creates a metadata map pool with the given capacity.
func NewMapPool(maxSize int) *MapPool {
	size := validateSize(maxSize, DefaultMapPoolSize)
	return &MapPool{
		free:    make([]map[string]string, 0, size),
		maxSize: size,
	}
}

// Get returns an empty map, reusing a pooled instance when available.
func (p *MapPool) Get() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		m := p.free[n-1]
		p.free = p.free[:n-1]
		p.stats.Reused++
		return m
	}
	p.stats.Allocated++
	return make(map[string]string)
}

// Put clears the map and returns it to the pool.
func (p *MapPool) Put(m map[string]string) {
	if m == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) < p.maxSize {
		for k := range m {
			delete(m, k)
		}
		p.free = append(p.free, m)
		p.stats.Returned++
	} else {
		p.stats.Discarded++
	}
}

// Stats returns a snapshot of the pool counters.
func (p *MapPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Utilization returns the current fill level.
func (p *MapPool) Utilization() Utilization {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Utilization{
		CurrentSize: len(p.free),
		MaxSize:     p.maxSize,
		ReuseRate:   p.stats.ReuseRate(),
	}
}
