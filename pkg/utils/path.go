package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Directories that never contain analyzable source and are skipped during
// discovery.
var skipDirNames = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
}

// CanonicalizePath returns an absolute, cleaned form of path. If the path
// cannot be made absolute the cleaned relative form is returned, so callers
// always get a usable key.
func CanonicalizePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(abs)
}

// ShouldSkipDir reports whether a directory should be pruned from file
// discovery.
func ShouldSkipDir(name string) bool {
	if skipDirNames[name] {
		return true
	}
	// Hidden directories other than the root "." are skipped.
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// IsAlwaysSkippedDir reports whether name is on the fixed skip list,
// independent of hidden-directory policy.
func IsAlwaysSkippedDir(name string) bool {
	return skipDirNames[name]
}

// IsProbablyBinary reports whether content looks like a binary blob.
// The check mirrors git's heuristic: a NUL byte in the first 8000 bytes.
func IsProbablyBinary(content []byte) bool {
	limit := len(content)
	if limit > 8000 {
		limit = 8000
	}
	for _, b := range content[:limit] {
		if b == 0 {
			return true
		}
	}
	return false
}

// ValidatePathWithinBase validates that a file path is within a specified
// base directory. Used by the persisted cache to keep entry files inside
// the cache directory.
func ValidatePathWithinBase(base, path string) error {
	if base == "" {
		return fmt.Errorf("base path cannot be empty")
	}
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	cleanPath := filepath.Clean(path)

	if filepath.IsAbs(cleanPath) {
		if !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) &&
			cleanPath != cleanBase {
			return fmt.Errorf("path %s is outside base directory %s", path, base)
		}
		return nil
	}

	fullPath := filepath.Join(cleanBase, cleanPath)
	if !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) &&
		fullPath != cleanBase {
		return fmt.Errorf("path %s escapes base directory %s", path, base)
	}

	return nil
}
