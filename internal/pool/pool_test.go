package pool

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lspdaemon/lspd/internal/config"
	"github.com/lspdaemon/lspd/internal/lspclient"
)

type fakeConn struct {
	calls  int32
	closed int32
	result json.RawMessage
	err    error
	pid    int
}

func (f *fakeConn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeConn) Notify(method string, params any) error { return nil }

func (f *fakeConn) Close() error {
	atomic.AddInt32(&f.closed, 1)
	return nil
}

func (f *fakeConn) Pid() int { return f.pid }

func testPool(t *testing.T, fc *fakeConn) *Pool {
	t.Helper()
	p := New(map[string]config.LanguageConfig{
		"go": {Command: "gopls"},
	}, nil, time.Minute)
	p.spawn = func(cfg lspclient.Config) (conn, error) { return fc, nil }
	return p
}

func TestCallSpawnsOnFirstUse(t *testing.T) {
	fc := &fakeConn{result: json.RawMessage(`{"ok":true}`)}
	p := testPool(t, fc)

	result, err := p.Call(context.Background(), "go", "/repo", "textDocument/definition", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(result))
	require.Equal(t, int32(1), atomic.LoadInt32(&fc.calls))
}

func TestCallReusesExistingSlot(t *testing.T) {
	fc := &fakeConn{result: json.RawMessage(`{}`)}
	p := testPool(t, fc)

	_, err := p.Call(context.Background(), "go", "/repo", "m1", nil)
	require.NoError(t, err)
	_, err = p.Call(context.Background(), "go", "/repo", "m2", nil)
	require.NoError(t, err)

	require.Equal(t, int32(2), atomic.LoadInt32(&fc.calls))
	require.Len(t, p.ActiveLanguages(), 1)
}

func TestCallUnconfiguredLanguageFails(t *testing.T) {
	p := testPool(t, &fakeConn{})
	_, err := p.Call(context.Background(), "rust", "/repo", "m", nil)
	require.Error(t, err)
}

func TestCallWrapsUpstreamError(t *testing.T) {
	fc := &fakeConn{err: errors.New("server exploded")}
	p := testPool(t, fc)

	_, err := p.Call(context.Background(), "go", "/repo", "m", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "server exploded")
}

func TestShutdownClosesAllSlots(t *testing.T) {
	fc := &fakeConn{result: json.RawMessage(`{}`)}
	p := testPool(t, fc)

	_, err := p.Call(context.Background(), "go", "/repo", "m", nil)
	require.NoError(t, err)

	p.Shutdown()
	require.Equal(t, int32(1), atomic.LoadInt32(&fc.closed))
	require.Empty(t, p.ActiveLanguages())
}

func TestReapIdleClosesOnlyStaleServers(t *testing.T) {
	fc := &fakeConn{result: json.RawMessage(`{}`)}
	p := New(map[string]config.LanguageConfig{"go": {Command: "gopls"}}, nil, time.Millisecond)
	p.spawn = func(cfg lspclient.Config) (conn, error) { return fc, nil }

	_, err := p.Call(context.Background(), "go", "/repo", "m", nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	p.ReapIdle()

	require.Equal(t, int32(1), atomic.LoadInt32(&fc.closed))
}

func TestStateString(t *testing.T) {
	require.Equal(t, "ready", StateReady.String())
	require.Equal(t, "failed", StateFailed.String())
	require.Equal(t, "shutting_down", StateShuttingDown.String())
	require.Equal(t, "unknown", State(99).String())
}

func TestAcquireMarksFailedOnSpawnError(t *testing.T) {
	p := New(map[string]config.LanguageConfig{"go": {Command: "gopls"}}, nil, time.Minute)
	p.spawn = func(cfg lspclient.Config) (conn, error) { return nil, errors.New("executable not found") }

	_, err := p.Call(context.Background(), "go", "/repo", "m", nil)
	require.Error(t, err)

	s, ok := p.slots[key{language: "go", root: "/repo"}]
	require.True(t, ok)
	require.Equal(t, StateFailed, s.state)
	require.Equal(t, 1, s.failCount)
	require.True(t, s.nextRetry.After(time.Now()))
}

func TestAcquireHonorsBackoffAfterFailedSpawn(t *testing.T) {
	spawnAttempts := int32(0)
	p := New(map[string]config.LanguageConfig{"go": {Command: "gopls"}}, nil, time.Minute)
	p.spawn = func(cfg lspclient.Config) (conn, error) {
		atomic.AddInt32(&spawnAttempts, 1)
		return nil, errors.New("still broken")
	}

	_, err := p.Call(context.Background(), "go", "/repo", "m", nil)
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&spawnAttempts))

	// Retrying immediately, while still inside the backoff window, must not
	// attempt another spawn.
	_, err = p.Call(context.Background(), "go", "/repo", "m", nil)
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&spawnAttempts), "retry within backoff window should not respawn")

	s := p.slots[key{language: "go", root: "/repo"}]
	s.mu.Lock()
	s.nextRetry = time.Now().Add(-time.Second)
	s.mu.Unlock()

	_, err = p.Call(context.Background(), "go", "/repo", "m", nil)
	require.Error(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&spawnAttempts), "elapsed backoff should allow a retry")
}

func TestCheckHealthDemotesDeadProcessToFailed(t *testing.T) {
	fc := &fakeConn{result: json.RawMessage(`{}`), pid: 999999999}
	p := testPool(t, fc)

	_, err := p.Call(context.Background(), "go", "/repo", "m", nil)
	require.NoError(t, err)

	p.CheckHealth()

	s := p.slots[key{language: "go", root: "/repo"}]
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	require.Equal(t, StateFailed, state, "an unreachable pid should demote the server to Failed")
	require.Equal(t, int32(1), atomic.LoadInt32(&fc.closed))
}

func TestCheckHealthLeavesServersWithoutATrackedPidAlone(t *testing.T) {
	fc := &fakeConn{result: json.RawMessage(`{}`)} // pid defaults to 0
	p := testPool(t, fc)

	_, err := p.Call(context.Background(), "go", "/repo", "m", nil)
	require.NoError(t, err)

	p.CheckHealth()

	s := p.slots[key{language: "go", root: "/repo"}]
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	require.NotEqual(t, StateFailed, state)
}

func TestStatsReportsPerLanguageCounts(t *testing.T) {
	fc := &fakeConn{result: json.RawMessage(`{}`)}
	p := testPool(t, fc)

	_, err := p.Call(context.Background(), "go", "/repo", "m", nil)
	require.NoError(t, err)

	stats := p.Stats()
	require.Equal(t, 1, stats["go"].Total)
	require.Equal(t, 1, stats["go"].Ready)
	require.Equal(t, 0, stats["go"].Busy)
}
