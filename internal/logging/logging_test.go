package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTailReturnsNewestLast(t *testing.T) {
	l, err := New(LevelDebug, "")
	require.NoError(t, err)

	l.Info("first")
	l.Info("second")
	l.Info("third")

	entries := l.Tail(2)
	require.Len(t, entries, 2)
	require.Equal(t, "second", entries[0].Message)
	require.Equal(t, "third", entries[1].Message)
}

func TestTailCapsAtCapacity(t *testing.T) {
	l, err := New(LevelDebug, "")
	require.NoError(t, err)

	for i := 0; i < 2100; i++ {
		l.Info("entry")
	}

	entries := l.Tail(5000)
	require.Len(t, entries, 2000)
}

func TestFieldsCaptured(t *testing.T) {
	l, err := New(LevelDebug, "")
	require.NoError(t, err)

	l.Info("with fields", zap.String("workspace_id", "abc123"))

	entries := l.Tail(1)
	require.Len(t, entries, 1)
	require.Equal(t, "abc123", entries[0].Fields["workspace_id"])
}
