package indexer

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiscoverSkipsDefaultIgnores(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main")
	writeFile(t, dir, "node_modules/pkg/index.js", "module.exports = {}")
	writeFile(t, dir, ".git/HEAD", "ref: refs/heads/main")

	files, err := Discover(dir, nil)
	require.NoError(t, err)
	sort.Strings(files)
	require.Equal(t, []string{"main.go"}, files)
}

func TestDiscoverHonorsCustomIgnoreGlobs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep.go", "package main")
	writeFile(t, dir, "generated/thing.go", "package generated")

	files, err := Discover(dir, []string{"generated/**"})
	require.NoError(t, err)
	require.Equal(t, []string{"keep.go"}, files)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
