package engine

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/scanguard/scanguard/internal/config"
	sgerrors "github.com/scanguard/scanguard/pkg/errors"
	"github.com/scanguard/scanguard/pkg/utils"
)

// DiscoverFiles walks roots and returns the candidate files for
// analysis, applying the skip rules from cfg. Results are sorted and
// deduplicated.
func DiscoverFiles(roots []string, cfg config.AnalysisConfig) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string

	for _, root := range roots {
		canonical := utils.CanonicalizePath(root)

		err := filepath.WalkDir(canonical, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Unreadable subtrees are skipped, not fatal.
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				if path != canonical && shouldSkipDir(d.Name(), cfg.IncludeHidden) {
					return filepath.SkipDir
				}
				return nil
			}

			if !d.Type().IsRegular() {
				if d.Type()&fs.ModeSymlink != 0 && cfg.FollowSymlinks {
					resolved, err := filepath.EvalSymlinks(path)
					if err != nil {
						return nil
					}
					path = resolved
				} else {
					return nil
				}
			}

			if !cfg.IncludeHidden && strings.HasPrefix(filepath.Base(path), ".") {
				return nil
			}
			if !matchesExtension(path, cfg.FileExtensions) {
				return nil
			}

			if _, dup := seen[path]; !dup {
				seen[path] = struct{}{}
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, sgerrors.Wrap(err, sgerrors.ErrCodeFileRead,
				"walk failed under "+canonical)
		}
	}

	sort.Strings(out)
	return out, nil
}

// shouldSkipDir extends the shared skip list with the hidden-directory
// policy: IncludeHidden admits hidden directories but never the named
// skip list (.git and friends stay pruned).
func shouldSkipDir(name string, includeHidden bool) bool {
	if !utils.ShouldSkipDir(name) {
		return false
	}
	if includeHidden && strings.HasPrefix(name, ".") && !utils.IsAlwaysSkippedDir(name) {
		return false
	}
	return true
}

// matchesExtension reports whether path passes the extension filter.
// An empty filter admits everything.
func matchesExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}

	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range extensions {
		if !strings.HasPrefix(allowed, ".") {
			allowed = "." + allowed
		}
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}
