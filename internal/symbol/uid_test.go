package symbol

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentHashMatchesKnownVector(t *testing.T) {
	require.Equal(t, "65a8e27d8879283831b664bd8b7f0ad4", ContentHash([]byte("Hello, World!")))
}

func TestBuildUIDFormat(t *testing.T) {
	uid := BuildUID("/repo/main.go", "deadbeef", "main", 10)
	require.Equal(t, "/repo/main.go:deadbeef:main:10", uid)
}

func TestNormalizeUIDRewritesRelativeToWorkspace(t *testing.T) {
	uid := "/repo/internal/pkg/file.go:abc123:Foo:42"
	got := NormalizeUID(uid, "/repo")
	require.Equal(t, "internal/pkg/file.go:abc123:Foo:42", got)
}

func TestNormalizeUIDLeavesReservedPrefixesAlone(t *testing.T) {
	for _, uid := range []string{"EXTERNAL:foo", "UNRESOLVED:bar", "fallback_123"} {
		require.Equal(t, uid, NormalizeUID(uid, "/repo"))
	}
}

func TestNormalizeUIDLeavesRelativePathsAlone(t *testing.T) {
	uid := "pkg/file.go:abc:Foo:1"
	require.Equal(t, uid, NormalizeUID(uid, "/repo"))
}

func TestNormalizeUIDRejectsEscapingWorkspace(t *testing.T) {
	uid := "/other/file.go:abc:Foo:1"
	// /other is not inside /repo/sub, so relativizing would produce "../../other/file.go"
	require.Equal(t, uid, NormalizeUID(uid, "/repo/sub"))
}

func TestNormalizeUIDIsIdempotent(t *testing.T) {
	uid := "/repo/internal/pkg/file.go:abc123:Foo:42"
	once := NormalizeUID(uid, "/repo")
	twice := NormalizeUID(once, "/repo")
	require.Equal(t, once, twice)
}

func TestNormalizeUIDRewritesDependencyPathsEvenInsideWorkspace(t *testing.T) {
	t.Setenv("GOMODCACHE", "")
	modCache := "/home/u/go/pkg/mod"
	t.Setenv("GOMODCACHE", modCache)

	uid := modCache + "/github.com/pkg/errors@v0.9.1/errors.go:abc123:New:10"
	got := NormalizeUID(uid, "/home/u")
	require.Equal(t, "/dep/go/github.com/pkg/errors/errors.go:abc123:New:10", got)
}

func TestNormalizeUIDPrefersDependencyClassificationOverWorkspaceRelative(t *testing.T) {
	goroot := os.Getenv("GOROOT")
	if goroot == "" {
		t.Skip("GOROOT not set in this environment")
	}
	rootSrc := goroot + "/src/"
	uid := rootSrc + "fmt/print.go:abc123:Println:1"
	got := NormalizeUID(uid, goroot)
	require.Equal(t, "/dep/go/system/fmt/print.go:abc123:Println:1", got)
}

func TestIsAbsoluteLike(t *testing.T) {
	require.True(t, IsAbsoluteLike("/repo/a.go"))
	require.True(t, IsAbsoluteLike(`C:\repo\a.go`))
	require.False(t, IsAbsoluteLike("repo/a.go"))
	require.False(t, IsAbsoluteLike(""))
}
