package types

import (
	"context"
)

// Analyzer is the contract for content analyzers. Implementations live
// outside the execution core; the engine invokes Analyze once per
// (file, analyzer) pair. A failed analyzer degrades that file's finding
// set without halting the batch.
type Analyzer interface {
	// Name identifies the analyzer in findings and error reports.
	Name() string

	// Analyze inspects the file content and returns any findings.
	Analyze(ctx context.Context, path string, content []byte) ([]Finding, error)
}

// FingerprintProvider supplies the configuration fingerprint that keys
// cached analysis outcomes. Any setting that can change analyzer output
// must feed the fingerprint.
type FingerprintProvider interface {
	Fingerprint() string
}
