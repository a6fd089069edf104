package lspclient

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseContentLength(t *testing.T) {
	n, ok := parseContentLength("Content-Length: 42")
	require.True(t, ok)
	require.Equal(t, 42, n)

	_, ok = parseContentLength("Content-Type: application/json")
	require.False(t, ok)
}

func TestReadHeadersStopsAtBlankLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("Content-Length: 13\r\nContent-Type: json\r\n\r\n"))
	n, err := readHeaders(r)
	require.NoError(t, err)
	require.Equal(t, 13, n)
}

func TestTrimCRLF(t *testing.T) {
	require.Equal(t, "hello", trimCRLF("hello\r\n"))
	require.Equal(t, "hello", trimCRLF("hello\n"))
	require.Equal(t, "hello", trimCRLF("hello"))
}

func TestStartRejectsMissingCommand(t *testing.T) {
	_, err := Start(Config{RootPath: "/tmp"})
	require.Error(t, err)
}

func TestStartRejectsMissingRootPath(t *testing.T) {
	_, err := Start(Config{Command: "gopls"})
	require.Error(t, err)
}

func TestStartRejectsUnknownCommand(t *testing.T) {
	_, err := Start(Config{Command: "lspd-nonexistent-binary-xyz", RootPath: "/tmp"})
	require.Error(t, err)
}
