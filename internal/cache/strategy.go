package cache

import (
	"fmt"
	"time"

	"github.com/scanguard/scanguard/pkg/types"
)

// StrategyKind names a storage strategy.
type StrategyKind string

const (
	StrategyBasic  StrategyKind = "basic"
	StrategyPooled StrategyKind = "pooled"
)

// Strategy is the storage backend behind the unified cache. The unified
// cache owns all locking; strategies are not safe for concurrent use on
// their own.
type Strategy interface {
	Kind() StrategyKind

	// Get returns the entry for key without validating it.
	Get(key string) (*Entry, bool)

	// Put materializes findings into entry's payload and stores it,
	// evicting lowest-priority entries first if at capacity. It
	// returns the number of evictions performed.
	Put(key string, entry *Entry, findings []types.Finding) int

	// Remove deletes an entry, releasing any pooled resources.
	Remove(key string) bool

	// Cleanup removes entries idle for longer than maxAge and returns
	// how many were dropped.
	Cleanup(now time.Time, maxAge time.Duration) int

	// Clear drops everything.
	Clear()

	Len() int
	Keys() []string
	MaxEntries() int
}

// NewStrategy constructs a strategy by kind.
func NewStrategy(kind StrategyKind, maxEntries int, pools *poolSet) (Strategy, error) {
	switch kind {
	case StrategyBasic:
		return newBasicStrategy(maxEntries), nil
	case StrategyPooled:
		return newPooledStrategy(maxEntries, pools), nil
	default:
		return nil, fmt.Errorf("unknown cache strategy %q", kind)
	}
}

// evictLowestPriority removes the lowest-scoring entry from entries and
// returns its key. Shared by both strategies.
func evictLowestPriority(entries map[string]*Entry, now time.Time) (string, *Entry) {
	var victimKey string
	var victim *Entry
	lowest := 0.0
	first := true

	for key, entry := range entries {
		score := entry.PriorityScore(now)
		if first || score < lowest {
			victimKey = key
			victim = entry
			lowest = score
			first = false
		}
	}

	if victim != nil {
		delete(entries, victimKey)
	}
	return victimKey, victim
}
