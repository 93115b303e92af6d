package cache

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"

	sgerrors "github.com/scanguard/scanguard/pkg/errors"
	"github.com/scanguard/scanguard/pkg/types"
)

// FileMetadata captures the identity of a file's content at analysis
// time. Every field participates in entry validation.
type FileMetadata struct {
	ModTime     time.Time `json:"mod_time"`
	Size        int64     `json:"size"`
	ContentHash string    `json:"content_hash"`
}

// Equal reports whether two metadata snapshots describe the same
// content. ModTime is compared with Equal rather than == so that
// snapshots surviving a serialization round trip still match.
func (m FileMetadata) Equal(other FileMetadata) bool {
	return m.Size == other.Size &&
		m.ModTime.Equal(other.ModTime) &&
		m.ContentHash == other.ContentHash
}

// HashContent computes the canonical content hash used in metadata.
func HashContent(content []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(content))
}

// SnapshotFile stats and hashes path, returning its current metadata.
// The content read for hashing is returned so callers that need the
// bytes anyway avoid a second read.
func SnapshotFile(path string) (FileMetadata, []byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileMetadata{}, nil, sgerrors.Wrap(err, sgerrors.ErrCodeFileNotFound,
			fmt.Sprintf("stat failed for %s", path))
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return FileMetadata{}, nil, sgerrors.Wrap(err, sgerrors.ErrCodeFileRead,
			fmt.Sprintf("read failed for %s", path))
	}

	return FileMetadata{
		ModTime:     info.ModTime(),
		Size:        info.Size(),
		ContentHash: HashContent(content),
	}, content, nil
}

// Entry is one cached analysis result. An entry is never trusted on key
// match alone: the stored config hash and file metadata must both match
// the current values before its findings are served.
type Entry struct {
	FilePath   string           `json:"file_path"`
	ConfigHash string           `json:"config_hash"`
	Metadata   FileMetadata     `json:"metadata"`
	Findings   []*types.Finding `json:"findings"`

	CreatedAt   time.Time `json:"created_at"`
	LastAccess  time.Time `json:"last_access"`
	AccessCount uint64    `json:"access_count"`

	// AnalysisDuration records how long the original analysis took,
	// used to estimate time saved by hits.
	AnalysisDuration time.Duration `json:"analysis_duration"`
}

// MissCause classifies why a lookup did not produce a usable entry.
type MissCause int

const (
	MissNone MissCause = iota
	MissAbsent
	MissConfigChanged
	MissFileChanged
	MissFileError
)

// Validate checks an entry against the current config fingerprint and
// file metadata. Stale entries are reported, never evicted here; the
// caller decides whether to overwrite them.
func (e *Entry) Validate(configHash string, current FileMetadata) MissCause {
	if e.ConfigHash != configHash {
		return MissConfigChanged
	}
	if !e.Metadata.Equal(current) {
		return MissFileChanged
	}
	return MissNone
}

// Touch records an access for priority scoring.
func (e *Entry) Touch() {
	e.LastAccess = time.Now()
	e.AccessCount++
}

// PriorityScore ranks entries for eviction. Frequently accessed,
// recently used, small entries score highest; the lowest score is
// evicted first.
func (e *Entry) PriorityScore(now time.Time) float64 {
	frequency := math.Log(1 + float64(e.AccessCount))
	ageHours := now.Sub(e.LastAccess).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	recency := 1.0 / (1.0 + ageHours)
	sizeKB := float64(e.Metadata.Size) / 1024.0
	sizeFactor := 1.0 / (1.0 + sizeKB)

	return frequency * recency * sizeFactor
}

// Age returns how long ago the entry was created. Reporting only;
// expiry uses IdleFor.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// IdleFor returns how long ago the entry was last accessed. Cleanup
// expires entries by idle time, so a frequently hit entry stays alive
// no matter how old it is.
func (e *Entry) IdleFor(now time.Time) time.Duration {
	return now.Sub(e.LastAccess)
}

// CopyFindings returns value copies of the entry's findings. Cached
// payloads may be pool-owned, so callers always receive copies.
func (e *Entry) CopyFindings() []types.Finding {
	if len(e.Findings) == 0 {
		return nil
	}
	out := make([]types.Finding, len(e.Findings))
	for i, f := range e.Findings {
		out[i] = *f
		if f.Metadata != nil {
			md := make(map[string]string, len(f.Metadata))
			for k, v := range f.Metadata {
				md[k] = v
			}
			out[i].Metadata = md
		}
	}
	return out
}
