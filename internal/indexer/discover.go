// Package indexer drives the pipeline that turns source files into the
// symbols and edges persisted by internal/store: discovering files,
// extracting symbols, persisting them, enriching cross-references through
// the language-server pool, and reacting to on-disk changes.
package indexer

import (
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// defaultIgnoreGlobs mirrors the common directories no language server or
// indexer benefits from descending into.
var defaultIgnoreGlobs = []string{
	".git/**",
	"node_modules/**",
	"vendor/**",
	".venv/**",
	"__pycache__/**",
	"*.pyc",
	".DS_Store",
}

// Discover walks root and returns every regular file's path relative to
// root, skipping anything matched by ignoreGlobs (in addition to the
// built-in defaults) and not following symlinked directories.
func Discover(root string, ignoreGlobs []string) ([]string, error) {
	globs := append(append([]string{}, defaultIgnoreGlobs...), ignoreGlobs...)

	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if matchesAny(rel, globs) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&os.ModeSymlink != 0 {
			target, statErr := os.Stat(path)
			if statErr != nil {
				return nil
			}
			if target.IsDir() {
				return nil
			}
			files = append(files, rel)
			return nil
		}

		if d.IsDir() {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func matchesAny(relPath string, globs []string) bool {
	for _, g := range globs {
		if g == "" {
			continue
		}
		if ok, err := doublestar.Match(g, relPath); err == nil && ok {
			return true
		}
	}
	return false
}
