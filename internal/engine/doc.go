// Package engine orchestrates analysis runs: file discovery, cache
// lookup, budget-bounded analyzer dispatch, and result aggregation.
package engine
