// Package pool provides capacity-bounded object pools for the hot
// allocation paths of the analysis engine: finding records, interned
// strings, path buffers, and metadata maps. Pools reduce GC pressure by
// recycling instances instead of allocating fresh ones; every pool
// tracks allocation, reuse, and return counters so the savings are
// observable.
package pool
