package cache

import (
	"time"

	"github.com/scanguard/scanguard/pkg/types"
)

// basicStrategy is a plain bounded map. Entries own their payloads
// outright; eviction just drops them for the GC.
type basicStrategy struct {
	entries    map[string]*Entry
	maxEntries int
}

func newBasicStrategy(maxEntries int) *basicStrategy {
	return &basicStrategy{
		entries:    make(map[string]*Entry, maxEntries),
		maxEntries: maxEntries,
	}
}

func (s *basicStrategy) Kind() StrategyKind { return StrategyBasic }

func (s *basicStrategy) Get(key string) (*Entry, bool) {
	entry, ok := s.entries[key]
	return entry, ok
}

func (s *basicStrategy) Put(key string, entry *Entry, findings []types.Finding) int {
	entry.Findings = make([]*types.Finding, len(findings))
	for i := range findings {
		f := findings[i]
		if f.Metadata != nil {
			md := make(map[string]string, len(f.Metadata))
			for k, v := range f.Metadata {
				md[k] = v
			}
			f.Metadata = md
		}
		entry.Findings[i] = &f
	}

	evicted := 0
	if _, exists := s.entries[key]; !exists {
		for len(s.entries) >= s.maxEntries {
			if k, _ := evictLowestPriority(s.entries, time.Now()); k == "" {
				break
			}
			evicted++
		}
	}
	s.entries[key] = entry
	return evicted
}

func (s *basicStrategy) Remove(key string) bool {
	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	return true
}

func (s *basicStrategy) Cleanup(now time.Time, maxAge time.Duration) int {
	removed := 0
	for key, entry := range s.entries {
		if entry.IdleFor(now) > maxAge {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *basicStrategy) Clear() {
	s.entries = make(map[string]*Entry, s.maxEntries)
}

func (s *basicStrategy) Len() int { return len(s.entries) }

func (s *basicStrategy) Keys() []string {
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	return keys
}

func (s *basicStrategy) MaxEntries() int { return s.maxEntries }
