package lspclient

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLocationsNull(t *testing.T) {
	locs, err := ParseLocations(json.RawMessage(`null`))
	require.NoError(t, err)
	require.Nil(t, locs)
}

func TestParseLocationsSingleObject(t *testing.T) {
	raw := json.RawMessage(`{"uri":"file:///a.go","range":{"start":{"line":1,"character":2},"end":{"line":1,"character":5}}}`)
	locs, err := ParseLocations(raw)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	require.Equal(t, "file:///a.go", locs[0].URI)
	require.Equal(t, 1, locs[0].Range.Start.Line)
}

func TestParseLocationsArray(t *testing.T) {
	raw := json.RawMessage(`[
		{"uri":"file:///a.go","range":{"start":{"line":1,"character":0},"end":{"line":1,"character":1}}},
		{"uri":"file:///b.go","range":{"start":{"line":2,"character":0},"end":{"line":2,"character":1}}}
	]`)
	locs, err := ParseLocations(raw)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	require.Equal(t, "file:///b.go", locs[1].URI)
}

func TestParseLocationsLocationLinkArray(t *testing.T) {
	raw := json.RawMessage(`[
		{
			"targetUri": "file:///a.go",
			"targetRange": {"start":{"line":10,"character":0},"end":{"line":12,"character":1}},
			"targetSelectionRange": {"start":{"line":10,"character":5},"end":{"line":10,"character":9}}
		}
	]`)
	locs, err := ParseLocations(raw)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	require.Equal(t, "file:///a.go", locs[0].URI)
	require.Equal(t, 10, locs[0].Range.Start.Line)
	require.Equal(t, 5, locs[0].Range.Start.Character)
}

func TestParseLocationsEmptyString(t *testing.T) {
	locs, err := ParseLocations(json.RawMessage(``))
	require.NoError(t, err)
	require.Nil(t, locs)
}

func TestParseLocationsMalformedReturnsError(t *testing.T) {
	_, err := ParseLocations(json.RawMessage(`{not json`))
	require.Error(t, err)
}

func TestPathURIRoundTrip(t *testing.T) {
	uri := pathToURI("/repo/main.go")
	require.Equal(t, "/repo/main.go", uriToPath(uri))
}
