// Package types defines the shared data types for ScanGuard: findings
// produced by analyzers, severities, cache statistics, and the summary
// types returned by the analysis engine.
package types
