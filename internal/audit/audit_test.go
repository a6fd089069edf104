package audit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIncAndSnapshot(t *testing.T) {
	Clear()
	Inc(CodeSelfLoop)
	Inc(CodeSelfLoop)
	Inc(CodeOrphanSource)

	snap := Snapshot()
	require.Equal(t, int64(2), snap[CodeSelfLoop])
	require.Equal(t, int64(1), snap[CodeOrphanSource])
	require.Equal(t, int64(0), snap[CodeZeroLine])
}

func TestIncUnknownCodeIsNoop(t *testing.T) {
	Clear()
	Inc(Code("not-a-real-code"))
	for _, v := range Snapshot() {
		require.Equal(t, int64(0), v)
	}
}

func TestClearResetsAllCounters(t *testing.T) {
	Inc(CodeMalformedUID)
	Clear()
	require.Equal(t, int64(0), Snapshot()[CodeMalformedUID])
}
