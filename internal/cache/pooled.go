package cache

import (
	"time"

	"github.com/scanguard/scanguard/internal/pool"
	"github.com/scanguard/scanguard/pkg/types"
)

// poolSet bundles the pools the pooled strategy draws from. Kept
// separate from pool.Manager so tests can inject small pools.
type poolSet struct {
	findings *pool.FindingPool
	strings  *pool.StringPool
	maps     *pool.MapPool
}

func newPoolSet(mgr *pool.Manager) *poolSet {
	return &poolSet{
		findings: mgr.Findings(),
		strings:  mgr.Strings(),
		maps:     mgr.Maps(),
	}
}

// pooledStrategy stores entry payloads in pool-backed objects. Finding
// structs and metadata maps come from the pools and go back on
// eviction; short repeated strings are interned so identical rule and
// analyzer names share storage across entries.
type pooledStrategy struct {
	entries    map[string]*Entry
	maxEntries int
	pools      *poolSet
}

func newPooledStrategy(maxEntries int, pools *poolSet) *pooledStrategy {
	return &pooledStrategy{
		entries:    make(map[string]*Entry, maxEntries),
		maxEntries: maxEntries,
		pools:      pools,
	}
}

func (s *pooledStrategy) Kind() StrategyKind { return StrategyPooled }

func (s *pooledStrategy) Get(key string) (*Entry, bool) {
	entry, ok := s.entries[key]
	return entry, ok
}

func (s *pooledStrategy) Put(key string, entry *Entry, findings []types.Finding) int {
	entry.Findings = make([]*types.Finding, len(findings))
	for i := range findings {
		f := s.pools.findings.Get()
		src := &findings[i]

		f.ID = src.ID
		f.Analyzer = s.pools.strings.Intern(src.Analyzer)
		f.Rule = s.pools.strings.Intern(src.Rule)
		f.Severity = types.Severity(s.pools.strings.Intern(string(src.Severity)))
		f.Category = s.pools.strings.Intern(src.Category)
		f.File = src.File
		f.Line = src.Line
		f.Column = src.Column
		f.Message = src.Message
		f.Description = src.Description
		f.Suggestion = src.Suggestion

		if len(src.Metadata) > 0 {
			md := s.pools.maps.Get()
			for k, v := range src.Metadata {
				md[s.pools.strings.Intern(k)] = v
			}
			f.Metadata = md
		}

		entry.Findings[i] = f
	}

	evicted := 0
	if old, exists := s.entries[key]; exists {
		// Overwrite: the replaced payload goes back to the pools.
		s.release(old)
	} else {
		for len(s.entries) >= s.maxEntries {
			k, victim := evictLowestPriority(s.entries, time.Now())
			if k == "" {
				break
			}
			s.release(victim)
			evicted++
		}
	}
	s.entries[key] = entry
	return evicted
}

func (s *pooledStrategy) Remove(key string) bool {
	entry, ok := s.entries[key]
	if !ok {
		return false
	}
	s.release(entry)
	delete(s.entries, key)
	return true
}

func (s *pooledStrategy) Cleanup(now time.Time, maxAge time.Duration) int {
	removed := 0
	for key, entry := range s.entries {
		if entry.IdleFor(now) > maxAge {
			s.release(entry)
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *pooledStrategy) Clear() {
	for _, entry := range s.entries {
		s.release(entry)
	}
	s.entries = make(map[string]*Entry, s.maxEntries)
}

func (s *pooledStrategy) Len() int { return len(s.entries) }

func (s *pooledStrategy) Keys() []string {
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	return keys
}

func (s *pooledStrategy) MaxEntries() int { return s.maxEntries }

// release returns an entry's pooled payload. The entry must already be
// unreachable from the map.
func (s *pooledStrategy) release(entry *Entry) {
	for _, f := range entry.Findings {
		if f.Metadata != nil {
			s.pools.maps.Put(f.Metadata)
			f.Metadata = nil
		}
		s.pools.findings.Put(f)
	}
	entry.Findings = nil
}
