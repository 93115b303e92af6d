package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/scanguard/scanguard/internal/config"
	"github.com/scanguard/scanguard/internal/pool"
	"github.com/scanguard/scanguard/pkg/types"
	"github.com/scanguard/scanguard/pkg/utils"
)

// UnifiedCache is the analysis result cache. A single RWMutex guards
// the active strategy and the statistics; the strategy can be swapped
// at runtime, dropping all entries.
type UnifiedCache struct {
	mu         sync.RWMutex
	strategy   Strategy
	configHash string
	cfg        config.CacheConfig
	pools      *poolSet
	poolMgr    *pool.Manager
	stats      types.CacheStats
	logger     *utils.StructuredLogger
}

// New constructs a unified cache using the strategy named in cfg. The
// fingerprint identifies the analysis configuration; entries written
// under a different fingerprint will never validate.
func New(cfg config.CacheConfig, fingerprint string, poolMgr *pool.Manager, logger *utils.StructuredLogger) (*UnifiedCache, error) {
	pools := newPoolSet(poolMgr)
	strategy, err := NewStrategy(StrategyKind(cfg.Strategy), cfg.MaxEntries, pools)
	if err != nil {
		return nil, err
	}

	return &UnifiedCache{
		strategy:   strategy,
		configHash: fingerprint,
		cfg:        cfg,
		pools:      pools,
		poolMgr:    poolMgr,
		logger:     logger.WithComponent("cache"),
	}, nil
}

// Get looks up the cached result for path and validates it against the
// current file metadata. On a valid hit the findings are returned as
// copies. A stale entry stays in place; the caller is expected to
// re-analyze and overwrite it.
func (c *UnifiedCache) Get(path string, current FileMetadata) ([]types.Finding, MissCause, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.TotalRequests++

	entry, ok := c.strategy.Get(path)
	if !ok {
		c.stats.Misses++
		return nil, MissAbsent, false
	}

	switch cause := entry.Validate(c.configHash, current); cause {
	case MissConfigChanged:
		c.stats.Misses++
		c.stats.ConfigMisses++
		return nil, cause, false
	case MissFileChanged:
		c.stats.Misses++
		c.stats.FileChangedMisses++
		return nil, cause, false
	}

	entry.Touch()
	c.stats.Hits++
	c.stats.HitTimeSavedMs += uint64(entry.AnalysisDuration.Milliseconds())

	return entry.CopyFindings(), MissNone, true
}

// NoteFileError records a lookup that could not be validated because
// the file itself was unreadable.
func (c *UnifiedCache) NoteFileError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.TotalRequests++
	c.stats.Misses++
	c.stats.FileErrorMisses++
}

// Put stores the analysis result for path, overwriting any stale entry
// under the same key.
func (c *UnifiedCache) Put(path string, meta FileMetadata, findings []types.Finding, analysisDuration time.Duration) {
	now := time.Now()
	entry := &Entry{
		FilePath:         path,
		ConfigHash:       c.configHash,
		Metadata:         meta,
		CreatedAt:        now,
		LastAccess:       now,
		AccessCount:      1,
		AnalysisDuration: analysisDuration,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := c.strategy.Put(path, entry, findings)
	c.stats.EntriesAdded++
	c.stats.EntriesEvicted += uint64(evicted)
}

// Remove drops the entry for path if present.
func (c *UnifiedCache) Remove(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strategy.Remove(path)
}

// SwitchStrategy replaces the active strategy at runtime. The switch is
// lossy: all current entries are dropped (pooled payloads return to
// their pools) and the new strategy starts empty.
func (c *UnifiedCache) SwitchStrategy(kind StrategyKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.strategy.Kind() == kind {
		return nil
	}

	next, err := NewStrategy(kind, c.cfg.MaxEntries, c.pools)
	if err != nil {
		return err
	}

	dropped := c.strategy.Len()
	c.strategy.Clear()
	c.strategy = next

	c.logger.Info("cache strategy switched", map[string]interface{}{
		"strategy":        string(kind),
		"entries_dropped": dropped,
	})
	return nil
}

// StrategyKind returns the kind of the active strategy.
func (c *UnifiedCache) StrategyKind() StrategyKind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.strategy.Kind()
}

// Cleanup removes entries idle for longer than the configured maximum
// age and returns how many were dropped.
func (c *UnifiedCache) Cleanup() int {
	maxAge := time.Duration(c.cfg.MaxAgeHours) * time.Hour

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.strategy.Cleanup(time.Now(), maxAge)
	c.stats.EntriesExpired += uint64(removed)
	if removed > 0 {
		c.logger.Debug("cache cleanup completed", map[string]interface{}{
			"removed": removed,
		})
	}
	return removed
}

// Clear drops every entry.
func (c *UnifiedCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategy.Clear()
}

// Len returns the number of live entries.
func (c *UnifiedCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.strategy.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *UnifiedCache) Stats() types.CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Utilization describes how full the cache is.
type Utilization struct {
	Entries       int     `json:"entries"`
	MaxEntries    int     `json:"max_entries"`
	Percent       float64 `json:"percent"`
	MemoryMB      float64 `json:"memory_mb"`
	MaxMemoryMB   int     `json:"max_memory_mb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// Per-object sizes for the memory estimate. Rough averages, for
// reporting only.
const (
	entryOverheadBytes   = 256.0
	findingEstimateBytes = 512.0
)

// Utilization returns the current fill level, with an estimated
// memory footprint.
func (c *UnifiedCache) Utilization() Utilization {
	c.mu.RLock()
	defer c.mu.RUnlock()

	u := Utilization{
		Entries:     c.strategy.Len(),
		MaxEntries:  c.strategy.MaxEntries(),
		MaxMemoryMB: c.cfg.MaxMemoryMB,
	}
	if u.MaxEntries > 0 {
		u.Percent = float64(u.Entries) / float64(u.MaxEntries) * 100
	}

	var estimated float64
	for _, key := range c.strategy.Keys() {
		entry, ok := c.strategy.Get(key)
		if !ok {
			continue
		}
		estimated += entryOverheadBytes + float64(len(entry.Findings))*findingEstimateBytes
	}
	u.MemoryMB = estimated / (1024 * 1024)
	if u.MaxMemoryMB > 0 {
		u.MemoryPercent = u.MemoryMB / float64(u.MaxMemoryMB) * 100
	}
	return u
}

// PoolStats returns memory pool counters when the pooled strategy is
// active; ok is false under the basic strategy.
func (c *UnifiedCache) PoolStats() (pool.ManagerStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.strategy.Kind() != StrategyPooled {
		return pool.ManagerStats{}, false
	}
	return c.poolMgr.Stats(), true
}

// Report renders a human-readable summary of cache effectiveness.
func (c *UnifiedCache) Report() string {
	c.mu.RLock()
	stats := c.stats
	kind := c.strategy.Kind()
	entries := c.strategy.Len()
	maxEntries := c.strategy.MaxEntries()
	c.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Cache strategy: %s\n", kind)
	fmt.Fprintf(&b, "Entries: %d / %d\n", entries, maxEntries)
	fmt.Fprintf(&b, "Requests: %d (hits %d, misses %d, hit rate %.1f%%)\n",
		stats.TotalRequests, stats.Hits, stats.Misses, stats.HitRate()*100)
	fmt.Fprintf(&b, "Miss causes: config %d, file changed %d, file error %d\n",
		stats.ConfigMisses, stats.FileChangedMisses, stats.FileErrorMisses)
	fmt.Fprintf(&b, "Entries added: %d, evicted: %d, expired: %d\n",
		stats.EntriesAdded, stats.EntriesEvicted, stats.EntriesExpired)
	fmt.Fprintf(&b, "Analysis time saved: %s\n", stats.TimeSaved())

	if kind == StrategyPooled {
		poolStats := c.poolMgr.Stats()
		savings := c.poolMgr.MemorySavings()
		fmt.Fprintf(&b, "Pool reuse rate: %.1f%%\n", poolStats.OverallReuseRate()*100)
		fmt.Fprintf(&b, "Estimated allocation savings: %.2f MB\n", savings.TotalMB)
	}

	return b.String()
}

// Snapshot returns a detached copy of every entry, suitable for
// handing to an external store.
func (c *UnifiedCache) Snapshot() []*Entry {
	return c.snapshotEntries()
}

// Restore loads externally stored entries into the cache and returns
// how many were accepted. Entries recorded under a different config
// fingerprint are skipped.
func (c *UnifiedCache) Restore(entries []*Entry) int {
	return c.restoreEntries(entries)
}

// Fingerprint returns the config fingerprint the cache validates
// entries against.
func (c *UnifiedCache) Fingerprint() string {
	return c.configHash
}

// snapshotEntries returns entries for persistence. Findings are copied
// so the snapshot stays valid after the lock is released.
func (c *UnifiedCache) snapshotEntries() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Entry, 0, c.strategy.Len())
	for _, key := range c.strategy.Keys() {
		entry, ok := c.strategy.Get(key)
		if !ok {
			continue
		}
		snap := *entry
		findings := entry.CopyFindings()
		snap.Findings = make([]*types.Finding, len(findings))
		for i := range findings {
			snap.Findings[i] = &findings[i]
		}
		out = append(out, &snap)
	}
	return out
}

// restoreEntries loads persisted entries through the active strategy.
// Entries recorded under a different config fingerprint are skipped.
func (c *UnifiedCache) restoreEntries(entries []*Entry) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	restored := 0
	for _, entry := range entries {
		if entry.ConfigHash != c.configHash {
			continue
		}
		findings := entry.CopyFindings()
		stored := *entry
		stored.Findings = nil
		c.strategy.Put(entry.FilePath, &stored, findings)
		restored++
	}
	return restored
}
