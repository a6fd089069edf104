package lspclient

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

func trimCRLF(s string) string {
	return strings.TrimRight(s, "\r\n")
}

func parseContentLength(headerLine string) (int, bool) {
	const prefix = "Content-Length:"
	if !strings.HasPrefix(headerLine, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(headerLine[len(prefix):]))
	if err != nil {
		return 0, false
	}
	return n, true
}

func pathToURI(path string) string {
	return (&url.URL{Scheme: "file", Path: path}).String()
}

func uriToPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return u.Path
}

// URIToPath converts a file:// URI to a filesystem path, for callers
// outside this package (the indexer resolving a definition response back
// to a workspace-relative path).
func URIToPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	return u.Path, nil
}

// Position is a zero-based LSP position.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a zero-based LSP range.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location is an LSP Location (uri + range).
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// locationLink is the richer LSP 3.14+ response shape some servers (e.g.
// rust-analyzer) return instead of a plain Location for goto-definition.
type locationLink struct {
	TargetURI            string `json:"targetUri"`
	TargetRange          Range  `json:"targetRange"`
	TargetSelectionRange Range  `json:"targetSelectionRange"`
}

// ParseLocations tolerates every shape a spec-compliant goto/references/
// implementation response can take: null (no result), a single Location
// object, an array of Location objects, or an array of LocationLink
// objects. Any other shape is reported as a protocol error by the caller.
func ParseLocations(raw json.RawMessage) ([]Location, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var links []locationLink
		if err := json.Unmarshal(raw, &links); err == nil && looksLikeLocationLinks(trimmed) {
			out := make([]Location, len(links))
			for i, l := range links {
				out[i] = Location{URI: l.TargetURI, Range: l.TargetSelectionRange}
			}
			return out, nil
		}
		var locs []Location
		if err := json.Unmarshal(raw, &locs); err != nil {
			return nil, err
		}
		return locs, nil
	}

	var loc Location
	if err := json.Unmarshal(raw, &loc); err != nil {
		return nil, err
	}
	return []Location{loc}, nil
}

// looksLikeLocationLinks is a cheap discriminator: LocationLink objects use
// "targetUri", plain Location objects use "uri". Checking the raw text
// avoids a second full unmarshal attempt down the wrong type for the
// common case.
func looksLikeLocationLinks(raw string) bool {
	return strings.Contains(raw, "\"targetUri\"")
}
