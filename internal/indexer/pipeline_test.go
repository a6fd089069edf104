package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lspdaemon/lspd/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFullScanIndexesGoFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n\nfunc Run() {}\n"), 0o644))

	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureWorkspace(ctx, "ws1", root))

	p := &Pipeline{Store: s, WorkspaceID: "ws1", WorkspaceRoot: root, DetectLang: DetectLanguage}
	require.NoError(t, p.FullScan(ctx))

	fv, ok, err := s.FileVersionByPath(ctx, "ws1", "main.go")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "go", fv.Language)
}

func TestFullScanSkipsUnchangedFiles(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc Run() {}\n"), 0o644))

	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureWorkspace(ctx, "ws1", root))
	p := &Pipeline{Store: s, WorkspaceID: "ws1", WorkspaceRoot: root, DetectLang: DetectLanguage}

	require.NoError(t, p.FullScan(ctx))
	before, _, err := s.FileVersionByPath(ctx, "ws1", "main.go")
	require.NoError(t, err)

	require.NoError(t, p.FullScan(ctx))
	after, _, err := s.FileVersionByPath(ctx, "ws1", "main.go")
	require.NoError(t, err)

	require.Equal(t, before.IndexedAt, after.IndexedAt, "unchanged file should not be reindexed")
}

func TestFullScanReindexesModifiedFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc Run() {}\n"), 0o644))

	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureWorkspace(ctx, "ws1", root))
	p := &Pipeline{Store: s, WorkspaceID: "ws1", WorkspaceRoot: root, DetectLang: DetectLanguage}
	require.NoError(t, p.FullScan(ctx))

	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc Run() {}\nfunc Stop() {}\n"), 0o644))
	require.NoError(t, p.FullScan(ctx))

	fv, ok, err := s.FileVersionByPath(ctx, "ws1", "main.go")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, fv.ContentMD5)
}

func TestFullScanIgnoresUnindexableExtensions(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("# hi"), 0o644))

	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureWorkspace(ctx, "ws1", root))
	p := &Pipeline{Store: s, WorkspaceID: "ws1", WorkspaceRoot: root, DetectLang: DetectLanguage}
	require.NoError(t, p.FullScan(ctx))

	_, ok, err := s.FileVersionByPath(ctx, "ws1", "README.md")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEnrichPendingIsNoOpWithoutPool(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureWorkspace(ctx, "ws1", "/repo"))
	require.NoError(t, s.UpsertSymbol(ctx, store.Symbol{UID: "fn1", WorkspaceID: "ws1", Path: "main.go", Name: "Run", Kind: "func", Line: 1}))

	p := &Pipeline{Store: s, WorkspaceID: "ws1", WorkspaceRoot: "/repo", DetectLang: DetectLanguage}
	require.NoError(t, p.EnrichPending(ctx, 10))

	pending, err := s.PendingEnrichment(ctx, "ws1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1, "with no pool available nothing can be enriched, so the symbol stays pending")
}

func TestRelationSatisfiedTreatsSentinelAndEdgeAsSatisfied(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureWorkspace(ctx, "ws1", "/repo"))

	p := &Pipeline{Store: s, WorkspaceID: "ws1", WorkspaceRoot: "/repo", DetectLang: DetectLanguage}

	satisfied, err := p.relationSatisfied(ctx, "fn1", RelationReferences)
	require.NoError(t, err)
	require.False(t, satisfied)

	require.NoError(t, s.MarkEmpty(ctx, "ws1", "fn1", RelationReferences))
	satisfied, err = p.relationSatisfied(ctx, "fn1", RelationReferences)
	require.NoError(t, err)
	require.True(t, satisfied)

	satisfied, err = p.relationSatisfied(ctx, "fn1", RelationCallHierarchy)
	require.NoError(t, err)
	require.False(t, satisfied)

	require.NoError(t, s.InsertEdge(ctx, store.Edge{WorkspaceID: "ws1", SourceUID: "fn1", TargetUID: "fn2", Relation: RelationCallHierarchy}))
	satisfied, err = p.relationSatisfied(ctx, "fn1", RelationCallHierarchy)
	require.NoError(t, err)
	require.True(t, satisfied)
}
