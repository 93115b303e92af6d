package pool

import (
	"unsafe"

	"github.com/scanguard/scanguard/pkg/types"
)

// Manager bundles the four object pools behind one handle so the pooled
// cache strategy can be handed a single dependency.
type Manager struct {
	findings *FindingPool
	strings  *StringPool
	paths    *PathPool
	maps     *MapPool
}

// ManagerConfig sizes the individual pools.
type ManagerConfig struct {
	FindingsPoolSize int
	StringsPoolSize  int
	PathsPoolSize    int
	MapsPoolSize     int
}

// DefaultManagerConfig returns the default pool sizing.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		FindingsPoolSize: DefaultFindingPoolSize,
		StringsPoolSize:  DefaultStringPoolSize,
		PathsPoolSize:    DefaultPathPoolSize,
		MapsPoolSize:     DefaultMapPoolSize,
	}
}

// NewManager creates a pool manager with the given sizing.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		findings: NewFindingPool(cfg.FindingsPoolSize),
		strings:  NewStringPool(cfg.StringsPoolSize),
		paths:    NewPathPool(cfg.PathsPoolSize),
		maps:     NewMapPool(cfg.MapsPoolSize),
	}
	m.warmStringPool()
	return m
}

// Common strings analyzers emit constantly. Interning them up front
// means the first scan already reuses storage.
func (m *Manager) warmStringPool() {
	common := []string{
		"security", "performance", "duplicates",
		"critical", "high", "medium", "low", "info",
		"hardcoded_secret", "blocking_io", "duplicate_block",
	}
	for _, s := range common {
		m.strings.Intern(s)
	}
}

// Findings returns the finding pool.
func (m *Manager) Findings() *FindingPool { return m.findings }

// Strings returns the string interning pool.
func (m *Manager) Strings() *StringPool { return m.strings }

// Paths returns the path buffer pool.
func (m *Manager) Paths() *PathPool { return m.paths }

// Maps returns the metadata map pool.
func (m *Manager) Maps() *MapPool { return m.maps }

// ManagerStats aggregates the per-pool counters.
type ManagerStats struct {
	Findings Stats `json:"findings"`
	Strings  Stats `json:"strings"`
	Paths    Stats `json:"paths"`
	Maps     Stats `json:"maps"`
}

// OverallReuseRate returns the reuse rate across all pools combined.
func (s ManagerStats) OverallReuseRate() float64 {
	reused := s.Findings.Reused + s.Strings.Reused + s.Paths.Reused + s.Maps.Reused
	allocated := s.Findings.Allocated + s.Strings.Allocated + s.Paths.Allocated + s.Maps.Allocated

	total := reused + allocated
	if total == 0 {
		return 0
	}
	return float64(reused) / float64(total)
}

// Stats returns a snapshot of all pool counters.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		Findings: m.findings.Stats(),
		Strings:  m.strings.Stats(),
		Paths:    m.paths.Stats(),
		Maps:     m.maps.Stats(),
	}
}

// MemorySavings estimates bytes avoided through reuse versus naive
// allocation.
type MemorySavings struct {
	TotalMB    float64 `json:"total_mb"`
	FindingsMB float64 `json:"findings_mb"`
	StringsMB  float64 `json:"strings_mb"`
	PathsMB    float64 `json:"paths_mb"`
	MapsMB     float64 `json:"maps_mb"`
}

const bytesPerMB = 1024.0 * 1024.0

// MemorySavings estimates the allocation volume avoided by pooling.
// Per-object sizes are rough averages; the estimate is for reporting,
// not accounting.
func (m *Manager) MemorySavings() MemorySavings {
	stats := m.Stats()

	findingSize := float64(unsafe.Sizeof(types.Finding{}))
	const avgStringSize = 32.0
	const avgPathSize = 256.0
	const avgMapSize = 64.0

	findings := float64(stats.Findings.Reused) * findingSize / bytesPerMB
	strings := float64(stats.Strings.Reused) * avgStringSize / bytesPerMB
	paths := float64(stats.Paths.Reused) * avgPathSize / bytesPerMB
	maps := float64(stats.Maps.Reused) * avgMapSize / bytesPerMB

	return MemorySavings{
		TotalMB:    findings + strings + paths + maps,
		FindingsMB: findings,
		StringsMB:  strings,
		PathsMB:    paths,
		MapsMB:     maps,
	}
}
