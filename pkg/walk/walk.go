// Package walk collects document paths for the write path: plain files,
// directories (walked recursively), and doublestar glob patterns. It is an
// ambient helper, not part of the core layered-store engine, grounded on
// the teacher's pkg/fsx/collect.go.
package walk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// CollectFiles expands paths (files, directories, or glob patterns) into a
// deduplicated, order-preserving list of absolute file paths. Patterns that
// match nothing and paths that don't exist are silently skipped rather than
// treated as errors, so a caller can pass a mix of optional and required
// inputs. shouldIgnore, if non-nil, excludes a path (file or directory) from
// the result when it returns true.
func CollectFiles(paths []string, shouldIgnore func(path string) bool) ([]string, error) {
	var files []string
	seen := make(map[string]bool)

	add := func(p string) {
		norm := normalize(p)
		if seen[norm] {
			return
		}
		if shouldIgnore != nil && shouldIgnore(norm) {
			return
		}
		seen[norm] = true
		files = append(files, norm)
	}

	for _, pattern := range paths {
		expanded, err := expand(pattern)
		if err != nil {
			return nil, err
		}
		if len(expanded) == 0 {
			expanded = []string{normalize(pattern)}
		}

		for _, entry := range expanded {
			info, err := os.Stat(entry)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, fmt.Errorf("walk: stat %s: %w", entry, err)
			}

			if info.IsDir() {
				if shouldIgnore != nil && shouldIgnore(entry) {
					continue
				}
				err := filepath.WalkDir(entry, func(p string, d os.DirEntry, err error) error {
					if err != nil {
						return err
					}
					if d.IsDir() {
						if p != entry && shouldIgnore != nil && shouldIgnore(p) {
							return filepath.SkipDir
						}
						return nil
					}
					add(p)
					return nil
				})
				if err != nil {
					return nil, fmt.Errorf("walk: read directory %s: %w", entry, err)
				}
				continue
			}

			add(entry)
		}
	}

	return files, nil
}

func expand(pattern string) ([]string, error) {
	if !hasGlob(pattern) {
		return []string{normalize(pattern)}, nil
	}
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("walk: invalid glob pattern %q: %w", pattern, err)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, normalize(m))
	}
	return out, nil
}

func hasGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

func normalize(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(p)
}
