package types

import (
	"time"
)

// Severity classifies how serious a finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Rank returns a numeric rank for ordering, lower is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	case SeverityInfo:
		return 4
	default:
		return 5
	}
}

// Finding is one reported analysis result.
type Finding struct {
	ID          string            `json:"id"`
	Analyzer    string            `json:"analyzer"`
	Rule        string            `json:"rule"`
	Severity    Severity          `json:"severity"`
	File        string            `json:"file"`
	Line        int               `json:"line"`
	Column      int               `json:"column,omitempty"`
	Message     string            `json:"message"`
	Description string            `json:"description,omitempty"`
	Suggestion  string            `json:"suggestion,omitempty"`
	Category    string            `json:"category,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Reset clears a Finding so it can be reused for a logically distinct
// result. Pools call this before handing an instance back out.
func (f *Finding) Reset() {
	f.ID = ""
	f.Analyzer = ""
	f.Rule = ""
	f.Severity = ""
	f.File = ""
	f.Line = 0
	f.Column = 0
	f.Message = ""
	f.Description = ""
	f.Suggestion = ""
	f.Category = ""
	for k := range f.Metadata {
		delete(f.Metadata, k)
	}
}

// CacheStats represents cache performance statistics.
type CacheStats struct {
	TotalRequests     uint64 `json:"total_requests"`
	Hits              uint64 `json:"hits"`
	Misses            uint64 `json:"misses"`
	ConfigMisses      uint64 `json:"config_misses"`
	FileChangedMisses uint64 `json:"file_changed_misses"`
	FileErrorMisses   uint64 `json:"file_error_misses"`
	EntriesAdded      uint64 `json:"entries_added"`
	EntriesEvicted    uint64 `json:"entries_evicted"`
	EntriesExpired    uint64 `json:"entries_expired"`
	HitTimeSavedMs    uint64 `json:"hit_time_saved_ms"`
}

// HitRate returns the fraction of requests served from cache.
func (s CacheStats) HitRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.TotalRequests)
}

// MissRate returns the fraction of requests not served from cache.
func (s CacheStats) MissRate() float64 {
	return 1.0 - s.HitRate()
}

// TimeSaved returns the cumulative analysis time avoided through hits.
func (s CacheStats) TimeSaved() time.Duration {
	return time.Duration(s.HitTimeSavedMs) * time.Millisecond
}

// AnalysisSummary holds batch-level counters for one engine run.
type AnalysisSummary struct {
	FilesScanned  int           `json:"files_scanned"`
	FilesFailed   int           `json:"files_failed"`
	TotalFindings int           `json:"total_findings"`
	CacheHits     int           `json:"cache_hits"`
	Duration      time.Duration `json:"duration"`
}

// FileError records a per-file failure that did not abort the batch.
type FileError struct {
	Path  string `json:"path"`
	Stage string `json:"stage"`
	Err   string `json:"error"`
}

// AnalysisResults is the aggregated outcome of one engine batch.
type AnalysisResults struct {
	Findings []Finding       `json:"findings"`
	Errors   []FileError     `json:"errors,omitempty"`
	Summary  AnalysisSummary `json:"summary"`
}

// FindingsBySeverity groups finding counts by severity.
func (r *AnalysisResults) FindingsBySeverity() map[Severity]int {
	counts := make(map[Severity]int)
	for _, f := range r.Findings {
		counts[f.Severity]++
	}
	return counts
}
