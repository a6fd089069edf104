package symbol

import (
	"os"
	"strings"
)

// DependencyClassifier rewrites an absolute path that lives inside a known
// package manager or toolchain cache into a stable /dep/<ecosystem>/...
// form, so symbols from the same library version resolve to the same UID
// regardless of which machine or GOPATH/node_modules layout produced them.
type DependencyClassifier interface {
	Classify(absolutePath string) (string, bool)
}

// ClassifyDependencyPath tries every registered classifier in turn and
// returns the first match.
func ClassifyDependencyPath(absolutePath string) (string, bool) {
	for _, c := range []DependencyClassifier{rustDep{}, jsDep{}, goDep{}} {
		if dep, ok := c.Classify(absolutePath); ok {
			return dep, true
		}
	}
	return "", false
}

// --- Go ---

type goDep struct{}

func (goDep) Classify(p string) (string, bool) {
	if goroot := os.Getenv("GOROOT"); goroot != "" {
		rootSrc := strings.TrimRight(goroot, "/") + "/src/"
		if strings.HasPrefix(p, rootSrc) {
			tail := p[len(rootSrc):]
			return "/dep/go/system/" + tail, true
		}
	}

	if modCache := os.Getenv("GOMODCACHE"); modCache != "" {
		if strings.HasPrefix(p, modCache) {
			rel := strings.TrimPrefix(p, modCache)
			rel = strings.TrimPrefix(rel, "/")
			if rel != "" {
				return goModuleDepPath(rel), true
			}
		}
	}

	if gopath := os.Getenv("GOPATH"); gopath != "" {
		modDir := strings.TrimRight(gopath, "/") + "/pkg/mod/"
		if idx := strings.Index(p, modDir); idx >= 0 {
			rel := p[idx+len(modDir):]
			return goModuleDepPath(rel), true
		}
	}

	return "", false
}

// goModuleDepPath splits "<module path>@<version>/<subpath>" into
// /dep/go/<module path>/<subpath>, dropping the version: the UID identifies
// "code in this module", not "code in this exact release".
func goModuleDepPath(rel string) string {
	if at := strings.LastIndex(rel, "@"); at >= 0 {
		module := rel[:at]
		afterAt := rel[at:]
		sub := ""
		if slash := strings.Index(afterAt, "/"); slash >= 0 {
			sub = afterAt[slash+1:]
		}
		if sub == "" {
			return "/dep/go/" + module
		}
		return "/dep/go/" + module + "/" + sub
	}

	module, sub, _ := strings.Cut(rel, "/")
	if sub == "" {
		return "/dep/go/" + module
	}
	return "/dep/go/" + module + "/" + sub
}

// --- JavaScript/TypeScript ---

type jsDep struct{}

const nodeModulesMarker = "/node_modules/"

func (jsDep) Classify(p string) (string, bool) {
	idx := strings.Index(p, nodeModulesMarker)
	if idx < 0 {
		return "", false
	}
	after := p[idx+len(nodeModulesMarker):]

	if strings.HasPrefix(after, "@") {
		scope, rest1, ok := splitFirstComponent(after)
		if !ok {
			return "", false
		}
		pkg, rest2, ok := splitFirstComponent(rest1)
		if !ok {
			return "", false
		}
		name := scope + "/" + pkg
		if rest2 == "" {
			return "/dep/js/" + name, true
		}
		return "/dep/js/" + name + "/" + rest2, true
	}

	pkg, rest, ok := splitFirstComponent(after)
	if !ok {
		return "", false
	}
	if rest == "" {
		return "/dep/js/" + pkg, true
	}
	return "/dep/js/" + pkg + "/" + rest, true
}

func splitFirstComponent(s string) (first, rest string, ok bool) {
	if s == "" {
		return "", "", false
	}
	first, rest, _ = strings.Cut(s, "/")
	return first, rest, true
}

// --- Rust ---

type rustDep struct{}

const rustlibMarker = "/rustlib/src/rust/library/"
const cargoRegistryMarker = "/registry/src/"

func (rustDep) Classify(p string) (string, bool) {
	if idx := strings.Index(p, rustlibMarker); idx >= 0 {
		after := p[idx+len(rustlibMarker):]
		crateName, rest, ok := splitFirstComponent(after)
		if !ok {
			return "", false
		}
		if rest == "" {
			return "/dep/rust/system/" + crateName, true
		}
		return "/dep/rust/system/" + crateName + "/" + rest, true
	}

	if idx := strings.Index(p, cargoRegistryMarker); idx >= 0 {
		after := p[idx+len(cargoRegistryMarker):]
		// after = "<registry-index>/<crate>-<version>/<sub>"
		_, rest, ok := splitFirstComponent(after)
		if !ok {
			return "", false
		}
		crateDir, tail, ok := splitFirstComponent(rest)
		if !ok {
			return "", false
		}
		crateName := stripTrailingVersion(crateDir)
		if tail == "" {
			return "/dep/rust/" + crateName, true
		}
		return "/dep/rust/" + crateName + "/" + tail, true
	}

	return "", false
}

// stripTrailingVersion turns "serde-1.0.210" into "serde"; crate
// directories in the cargo registry cache are named "<crate>-<semver>".
func stripTrailingVersion(crateDir string) string {
	idx := strings.LastIndex(crateDir, "-")
	if idx < 0 {
		return crateDir
	}
	name, ver := crateDir[:idx], crateDir[idx+1:]
	for _, r := range ver {
		if !(r >= '0' && r <= '9') && r != '.' {
			return crateDir
		}
	}
	if ver == "" {
		return crateDir
	}
	return name
}
