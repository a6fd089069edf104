package daemon

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lspdaemon/lspd/internal/config"
	"github.com/lspdaemon/lspd/internal/ipc"
	"github.com/lspdaemon/lspd/internal/logging"
)

func startTestDaemon(t *testing.T) (string, func()) {
	t.Helper()
	cfg := config.Default()
	cfg.SocketPath = filepath.Join(t.TempDir(), "lspd.sock")
	cfg.CacheDir = t.TempDir()
	cfg.ShutdownDrainSeconds = 1

	d := New(cfg, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return SocketExists(cfg.SocketPath)
	}, 2*time.Second, 10*time.Millisecond)

	return cfg.SocketPath, func() {
		cancel()
		<-done
	}
}

func sendRequest(t *testing.T, socketPath string, kind ipc.Kind, params any) ipc.Response {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	req, err := ipc.NewRequest(kind, params)
	require.NoError(t, err)

	body, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, ipc.WriteFrame(conn, body))

	respBytes, err := ipc.ReadFrame(conn)
	require.NoError(t, err)

	var resp ipc.Response
	require.NoError(t, json.Unmarshal(respBytes, &resp))
	return resp
}

func TestDaemonRespondsToPing(t *testing.T) {
	socketPath, stop := startTestDaemon(t)
	defer stop()

	resp := sendRequest(t, socketPath, ipc.KindPing, nil)
	require.Nil(t, resp.Error)
	require.Contains(t, string(resp.Result), "pong")
}

func TestDaemonRespondsToStatus(t *testing.T) {
	socketPath, stop := startTestDaemon(t)
	defer stop()

	resp := sendRequest(t, socketPath, ipc.KindStatus, nil)
	require.Nil(t, resp.Error)

	var status ipc.StatusResult
	require.NoError(t, json.Unmarshal(resp.Result, &status))
	require.Greater(t, status.PID, 0)
}

func TestDaemonStatusReportsRequestCountAndAuditCounters(t *testing.T) {
	socketPath, stop := startTestDaemon(t)
	defer stop()

	_ = sendRequest(t, socketPath, ipc.KindPing, nil)
	_ = sendRequest(t, socketPath, ipc.KindPing, nil)

	resp := sendRequest(t, socketPath, ipc.KindStatus, nil)
	require.Nil(t, resp.Error)

	var status ipc.StatusResult
	require.NoError(t, json.Unmarshal(resp.Result, &status))

	require.GreaterOrEqual(t, status.RequestCount, int64(3), "the two pings plus this status call should all be counted")
	require.GreaterOrEqual(t, status.ActiveConnections, 0)
	require.NotNil(t, status.EdgeAuditCounts, "edge audit counters must be present even at zero")
	require.NotNil(t, status.Pools)
}

func TestDaemonLanguagesEmptyByDefault(t *testing.T) {
	socketPath, stop := startTestDaemon(t)
	defer stop()

	resp := sendRequest(t, socketPath, ipc.KindLanguages, nil)
	require.Nil(t, resp.Error)
	require.Equal(t, "null", string(resp.Result))
}

func TestDaemonGetLogsSucceeds(t *testing.T) {
	socketPath, stop := startTestDaemon(t)
	defer stop()

	resp := sendRequest(t, socketPath, ipc.KindGetLogs, ipc.GetLogsParams{Limit: 10})
	require.Nil(t, resp.Error)
}

func TestDaemonDefinitionWithoutLanguageConfigured(t *testing.T) {
	socketPath, stop := startTestDaemon(t)
	defer stop()

	dir := t.TempDir()
	resp := sendRequest(t, socketPath, ipc.KindDefinition, ipc.PositionParams{
		Path: filepath.Join(dir, "main.go"), Line: 0, Column: 0,
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, ipc.ErrCodeUnavailable, resp.Error.Code)
}

func TestDaemonShutdownClosesListener(t *testing.T) {
	socketPath, stop := startTestDaemon(t)
	defer stop()

	resp := sendRequest(t, socketPath, ipc.KindShutdown, nil)
	require.Nil(t, resp.Error)

	require.Eventually(t, func() bool {
		_, err := net.Dial("unix", socketPath)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}
