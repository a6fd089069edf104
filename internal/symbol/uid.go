// Package symbol builds and normalizes the canonical symbol UID
// (path:content-hash:name:line) and rewrites paths under known
// third-party/stdlib locations to a /dep/<ecosystem>/... form.
package symbol

import (
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
	"strconv"
	"strings"
)

// reservedPrefixes pass through UID normalization unchanged: they are not
// real filesystem paths and rewriting them would corrupt identity.
var reservedPrefixes = []string{"EXTERNAL:", "UNRESOLVED:", "fallback_"}

// ContentHash returns the hex-encoded MD5 digest of content. MD5 is used
// here (sha256 appears elsewhere in this codebase only for workspace ids
// and migration checksums) because it is the hash the symbol UID format is
// defined in terms of; changing it would break every previously persisted
// UID.
func ContentHash(content []byte) string {
	sum := md5.Sum(content)
	return hex.EncodeToString(sum[:])
}

// BuildUID assembles the canonical path:content-hash:name:line UID for a
// symbol at the given path (used as given, typically workspace-relative),
// 1-based line, with the given name and
// the md5 content hash of the file it came from.
func BuildUID(path, contentHash, name string, line int) string {
	return path + ":" + contentHash + ":" + name + ":" + strconv.Itoa(line)
}

// NormalizeUID rewrites the path component of a UID to be relative to
// workspaceRoot, leaving reserved-prefixed and already-relative UIDs
// untouched. Unlike the reference implementation this normalizer is
// grounded on, workspaceRoot is always supplied by the caller: every path
// the daemon normalizes belongs to a request already scoped to one
// workspace, so there is no need for an ancestor-walk fallback here.
func NormalizeUID(uid, workspaceRoot string) string {
	if uid == "" || IsReservedUID(uid) {
		return uid
	}

	parts := strings.SplitN(uid, ":", 4)
	if len(parts) != 4 {
		return uid
	}
	pathPart, hashPart, namePart, linePart := parts[0], parts[1], parts[2], parts[3]

	if !IsAbsoluteLike(pathPart) {
		return uid
	}

	// Classifiers are tried before workspace-relativization: a path inside
	// a known dependency cache gets the stable /dep/<ecosystem>/... form
	// even when it also happens to sit under the workspace root (e.g. a
	// vendored copy), matching the documented classifier-first tie-break.
	if dep, ok := ClassifyDependencyPath(pathPart); ok {
		return dep + ":" + hashPart + ":" + namePart + ":" + linePart
	}

	if workspaceRoot == "" {
		return uid
	}

	canonicalFile := pathPart
	canonicalRoot := workspaceRoot
	if canonicalFile == canonicalRoot {
		return uid
	}

	rel, err := filepath.Rel(canonicalRoot, canonicalFile)
	if err != nil {
		return uid
	}
	if rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return uid
	}

	normalized := filepath.ToSlash(rel)
	normalized = strings.TrimLeft(normalized, "/")
	if normalized == "" {
		return uid
	}

	return normalized + ":" + hashPart + ":" + namePart + ":" + linePart
}

// SplitUID parses uid into its four canonical path:content-hash:name:line
// fields. ok is false when uid doesn't split into exactly four
// colon-separated fields or its line field isn't a valid integer, letting
// callers distinguish a malformed UID from one that's merely unexpected.
func SplitUID(uid string) (path, hash, name string, line int, ok bool) {
	parts := strings.SplitN(uid, ":", 4)
	if len(parts) != 4 {
		return "", "", "", 0, false
	}
	n, err := strconv.Atoi(parts[3])
	if err != nil {
		return "", "", "", 0, false
	}
	return parts[0], parts[1], parts[2], n, true
}

// IsReservedUID reports whether uid carries one of the reserved prefixes
// (sentinel/placeholder UIDs) that are never real filesystem paths.
func IsReservedUID(uid string) bool {
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(uid, prefix) {
			return true
		}
	}
	return false
}

// IsAbsoluteLike reports whether path looks like an absolute filesystem
// path on either Unix (leading '/') or Windows (leading "C:\" style drive
// letter), without requiring the path to actually exist.
func IsAbsoluteLike(path string) bool {
	if path == "" {
		return false
	}
	if path[0] == '/' || path[0] == '\\' {
		return true
	}
	if len(path) >= 2 {
		c := path[0]
		isAlpha := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		return isAlpha && path[1] == ':'
	}
	return false
}
