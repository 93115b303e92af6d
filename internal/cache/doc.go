// Package cache implements the analysis result cache: validated entries
// keyed by file path, pluggable storage strategies with priority-score
// eviction, and optional persistence to SQLite and S3.
package cache
