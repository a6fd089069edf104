package symbol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGoStdlibMapsToSystemDep(t *testing.T) {
	t.Setenv("GOROOT", "/go/root")
	t.Setenv("GOMODCACHE", "")
	t.Setenv("GOPATH", "")

	dep, ok := ClassifyDependencyPath("/go/root/src/net/http/server.go")
	require.True(t, ok)
	require.Equal(t, "/dep/go/system/net/http/server.go", dep)
}

func TestGoModCacheMapsToModuleDep(t *testing.T) {
	t.Setenv("GOROOT", "")
	t.Setenv("GOMODCACHE", "/mod/cache")
	t.Setenv("GOPATH", "")

	dep, ok := ClassifyDependencyPath("/mod/cache/github.com/gorilla/mux@v1.8.1/router.go")
	require.True(t, ok)
	require.Equal(t, "/dep/go/github.com/gorilla/mux/router.go", dep)
}

func TestGoPathPkgModMapsToModuleDep(t *testing.T) {
	t.Setenv("GOROOT", "")
	t.Setenv("GOMODCACHE", "")
	t.Setenv("GOPATH", "/home/u/go")

	dep, ok := ClassifyDependencyPath("/home/u/go/pkg/mod/golang.org/x/sync@v0.8.0/errgroup/errgroup.go")
	require.True(t, ok)
	require.Equal(t, "/dep/go/golang.org/x/sync/errgroup/errgroup.go", dep)
}

func TestNodeModulesUnscoped(t *testing.T) {
	dep, ok := ClassifyDependencyPath("/repo/node_modules/lodash/index.js")
	require.True(t, ok)
	require.Equal(t, "/dep/js/lodash/index.js", dep)
}

func TestNodeModulesScoped(t *testing.T) {
	dep, ok := ClassifyDependencyPath("/repo/node_modules/@types/node/fs.d.ts")
	require.True(t, ok)
	require.Equal(t, "/dep/js/@types/node/fs.d.ts", dep)
}

func TestRustStdlibMapsToSystemDep(t *testing.T) {
	dep, ok := ClassifyDependencyPath("/usr/lib/rustlib/src/rust/library/alloc/src/lib.rs")
	require.True(t, ok)
	require.Equal(t, "/dep/rust/system/alloc/src/lib.rs", dep)
}

func TestRustRegistryMapsToCrateDep(t *testing.T) {
	dep, ok := ClassifyDependencyPath("/home/u/.cargo/registry/src/index.crates.io-6f17d22bba15001f/serde-1.0.210/src/lib.rs")
	require.True(t, ok)
	require.Equal(t, "/dep/rust/serde/src/lib.rs", dep)
}

func TestNoMatchReturnsFalse(t *testing.T) {
	t.Setenv("GOROOT", "")
	t.Setenv("GOMODCACHE", "")
	t.Setenv("GOPATH", "")

	_, ok := ClassifyDependencyPath("/home/user/project/main.go")
	require.False(t, ok)
}

func TestRustRegistryKeepsCrateDirWithoutVersionSuffix(t *testing.T) {
	// "bigfft" style crate dirs without a numeric suffix keep their name
	// unchanged since strip only fires on a trailing numeric version.
	dep, ok := ClassifyDependencyPath("/home/u/.cargo/registry/src/idx/bigfft/src/lib.rs")
	require.True(t, ok)
	require.Equal(t, "/dep/rust/bigfft/src/lib.rs", dep)
}
