package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lspdaemon/lspd/internal/audit"
	"github.com/lspdaemon/lspd/internal/cache"
	"github.com/lspdaemon/lspd/internal/indexer"
	"github.com/lspdaemon/lspd/internal/ipc"
	"github.com/lspdaemon/lspd/internal/lspclient"
	"github.com/lspdaemon/lspd/internal/lspderrors"
	"github.com/lspdaemon/lspd/internal/pool"
	"github.com/lspdaemon/lspd/internal/symbol"
)

// serveConn handles every request on one client connection until it closes
// or the daemon shuts down, one frame in, one frame out per request.
func (d *Daemon) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in connection handler", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()

	for {
		select {
		case <-d.shutdownCh:
			return
		default:
		}

		payload, err := ipc.ReadFrame(conn)
		if err != nil {
			return
		}

		var req ipc.Request
		if err := json.Unmarshal(payload, &req); err != nil {
			continue
		}

		resp := d.dispatch(ctx, req)

		out, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		if err := ipc.WriteFrame(conn, out); err != nil {
			return
		}
	}
}

func (d *Daemon) dispatch(ctx context.Context, req ipc.Request) ipc.Response {
	atomic.AddInt64(&d.requestCount, 1)

	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout())
	defer cancel()

	var result any
	var err error

	switch req.Kind {
	case ipc.KindStatus:
		result = d.handleStatus(reqCtx)
	case ipc.KindLanguages:
		result = d.pool.ActiveLanguages()
	case ipc.KindPing:
		result = map[string]string{"pong": "ok"}
	case ipc.KindGetLogs:
		result, err = d.handleGetLogs(req.Params)
	case ipc.KindShutdown:
		d.RequestShutdown()
		result = map[string]bool{"ok": true}
	case ipc.KindDefinition:
		result, err = d.handleLocationQuery(reqCtx, req.Params, "definition", "textDocument/definition")
	case ipc.KindReferences:
		result, err = d.handleLocationQuery(reqCtx, req.Params, "references", "textDocument/references")
	case ipc.KindImplementations:
		result, err = d.handleLocationQuery(reqCtx, req.Params, "implementations", "textDocument/implementation")
	case ipc.KindHover:
		result, err = d.handleHover(reqCtx, req.Params)
	case ipc.KindCallHierarchy:
		result, err = d.handleCallHierarchy(reqCtx, req.Params)
	default:
		err = fmt.Errorf("%w: unknown request kind %q", lspderrors.ErrProtocol, req.Kind)
	}

	if err != nil {
		return ipc.NewErrorResponse(req.RequestID, classifyErrorCode(err), err)
	}
	out, marshalErr := ipc.NewResponse(req.RequestID, result)
	if marshalErr != nil {
		return ipc.NewErrorResponse(req.RequestID, ipc.ErrCodeIO, marshalErr)
	}
	return out
}

func classifyErrorCode(err error) ipc.ErrorCode {
	switch lspderrors.Kind(err) {
	case lspderrors.ErrTimeout:
		return ipc.ErrCodeTimeout
	case lspderrors.ErrNotFound:
		return ipc.ErrCodeNotFound
	case lspderrors.ErrUnavailable:
		return ipc.ErrCodeUnavailable
	case lspderrors.ErrUpstream:
		return ipc.ErrCodeUpstream
	case lspderrors.ErrLockConflict:
		return ipc.ErrCodeLock
	case lspderrors.ErrShuttingDown:
		return ipc.ErrCodeShutdown
	case lspderrors.ErrProtocol:
		return ipc.ErrCodeProtocol
	default:
		return ipc.ErrCodeIO
	}
}

func (d *Daemon) handleStatus(ctx context.Context) ipc.StatusResult {
	indexedFiles, indexedSymbols, cacheEntries := d.indexSnapshot(ctx)

	return ipc.StatusResult{
		PID:               os.Getpid(),
		UptimeSeconds:     time.Since(d.startedAt).Seconds(),
		ActiveWorkspaces:  d.ActiveWorkspaceRoots(),
		ActiveLanguages:   d.pool.ActiveLanguages(),
		IndexedFiles:      indexedFiles,
		IndexedSymbols:    indexedSymbols,
		CacheEntries:      cacheEntries,
		RequestCount:      atomic.LoadInt64(&d.requestCount),
		ActiveConnections: d.ActiveConnections(),
		Pools:             poolStatusByLanguage(d.pool.Stats()),
		EdgeAuditCounts:   edgeAuditCountsByName(audit.Snapshot()),
	}
}

// indexSnapshot sums indexed files, indexed symbols, and cache entries
// across every open workspace, for the Status response.
func (d *Daemon) indexSnapshot(ctx context.Context) (files, symbols, cacheEntries int) {
	d.mu.Lock()
	states := make([]*workspaceState, 0, len(d.workspaces))
	for _, ws := range d.workspaces {
		states = append(states, ws)
	}
	d.mu.Unlock()

	for _, ws := range states {
		if n, err := ws.store.FileCount(ctx, ws.id); err == nil {
			files += n
		}
		if n, err := ws.store.SymbolCount(ctx, ws.id); err == nil {
			symbols += n
		}
		if ws.cache != nil {
			cacheEntries += ws.cache.Len()
		}
	}
	return files, symbols, cacheEntries
}

func poolStatusByLanguage(stats map[string]pool.LanguageStats) map[string]ipc.LanguagePoolStatus {
	out := make(map[string]ipc.LanguagePoolStatus, len(stats))
	for lang, s := range stats {
		out[lang] = ipc.LanguagePoolStatus{Ready: s.Ready, Busy: s.Busy, Total: s.Total}
	}
	return out
}

func edgeAuditCountsByName(counts map[audit.Code]int64) map[string]int64 {
	out := make(map[string]int64, len(counts))
	for code, n := range counts {
		out[string(code)] = n
	}
	return out
}

func (d *Daemon) handleGetLogs(raw json.RawMessage) ([]logEntryView, error) {
	var params ipc.GetLogsParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, fmt.Errorf("%w: invalid get_logs params", lspderrors.ErrProtocol)
		}
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 200
	}
	entries := d.log.Tail(limit)
	out := make([]logEntryView, len(entries))
	for i, e := range entries {
		out[i] = logEntryView{
			Time: e.Time.Format(time.RFC3339Nano), Level: e.Level,
			Message: e.Message, Fields: e.Fields,
		}
	}
	return out, nil
}

type logEntryView struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func parsePositionParams(raw json.RawMessage) (ipc.PositionParams, error) {
	var params ipc.PositionParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return params, fmt.Errorf("%w: invalid position params", lspderrors.ErrProtocol)
	}
	if params.Path == "" {
		return params, fmt.Errorf("%w: path is required", lspderrors.ErrProtocol)
	}
	return params, nil
}

// handleLocationQuery answers definition/references/implementation, which
// all share the same shape: a position in, a set of locations out, served
// through the operation cache with the language server as the loader on a
// miss.
func (d *Daemon) handleLocationQuery(ctx context.Context, raw json.RawMessage, operation, method string) ([]ipc.Location, error) {
	params, err := parsePositionParams(raw)
	if err != nil {
		return nil, err
	}

	ws, err := d.workspaceFor(params.Path)
	if err != nil {
		return nil, err
	}

	language := languageForAbsPath(ws.root, params.Path)
	if language == "" {
		return nil, fmt.Errorf("%w: no language configured for %s", lspderrors.ErrUnavailable, params.Path)
	}

	content, err := os.ReadFile(params.Path)
	contentHash := ""
	if err == nil {
		contentHash = symbol.ContentHash(content)
	}

	key := cache.Key{
		Path: params.Path, Line: params.Line, Column: params.Column,
		ContentHash: contentHash, Operation: operation, Variant: params.Variant,
	}

	raw2, err := ws.cache.GetOrLoad(key, func() (any, error) {
		result, callErr := d.pool.Call(ctx, language, ws.root, method, map[string]any{
			"textDocument": map[string]any{"uri": "file://" + params.Path},
			"position":     map[string]any{"line": params.Line, "character": params.Column},
		})
		if callErr != nil {
			return nil, callErr
		}
		locations, parseErr := lspclient.ParseLocations(result)
		if parseErr != nil {
			return nil, fmt.Errorf("%w: %v", lspderrors.ErrProtocol, parseErr)
		}
		return toIPCLocations(ws.root, locations), nil
	})
	if err != nil {
		return nil, err
	}
	return raw2.([]ipc.Location), nil
}

func (d *Daemon) handleHover(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	params, err := parsePositionParams(raw)
	if err != nil {
		return nil, err
	}
	ws, err := d.workspaceFor(params.Path)
	if err != nil {
		return nil, err
	}
	language := languageForAbsPath(ws.root, params.Path)
	if language == "" {
		return nil, fmt.Errorf("%w: no language configured for %s", lspderrors.ErrUnavailable, params.Path)
	}

	return d.pool.Call(ctx, language, ws.root, "textDocument/hover", map[string]any{
		"textDocument": map[string]any{"uri": "file://" + params.Path},
		"position":     map[string]any{"line": params.Line, "character": params.Column},
	})
}

// callHierarchyItem is the subset of textDocument/prepareCallHierarchy's
// response this daemon needs to pivot into the direction-specific call.
type callHierarchyItem struct {
	Name           string          `json:"name"`
	URI            string          `json:"uri"`
	Range          lspclient.Range `json:"range"`
	SelectionRange lspclient.Range `json:"selectionRange"`
}

type callHierarchyEdge struct {
	From callHierarchyItem `json:"from"`
	To   callHierarchyItem `json:"to"`
}

func (d *Daemon) handleCallHierarchy(ctx context.Context, raw json.RawMessage) ([]ipc.Location, error) {
	var params ipc.CallHierarchyParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("%w: invalid call_hierarchy params", lspderrors.ErrProtocol)
	}
	if params.Path == "" {
		return nil, fmt.Errorf("%w: path is required", lspderrors.ErrProtocol)
	}

	ws, err := d.workspaceFor(params.Path)
	if err != nil {
		return nil, err
	}
	language := languageForAbsPath(ws.root, params.Path)
	if language == "" {
		return nil, fmt.Errorf("%w: no language configured for %s", lspderrors.ErrUnavailable, params.Path)
	}

	prepared, err := d.pool.Call(ctx, language, ws.root, "textDocument/prepareCallHierarchy", map[string]any{
		"textDocument": map[string]any{"uri": "file://" + params.Path},
		"position":     map[string]any{"line": params.Line, "character": params.Column},
	})
	if err != nil {
		return nil, err
	}

	var items []callHierarchyItem
	if err := json.Unmarshal(prepared, &items); err != nil || len(items) == 0 {
		return nil, nil
	}

	method := "callHierarchy/incomingCalls"
	if params.Direction == ipc.CallHierarchyOutgoing {
		method = "callHierarchy/outgoingCalls"
	}

	raw2, err := d.pool.Call(ctx, language, ws.root, method, map[string]any{"item": items[0]})
	if err != nil {
		return nil, err
	}

	var edges []callHierarchyEdge
	if err := json.Unmarshal(raw2, &edges); err != nil {
		return nil, fmt.Errorf("%w: %v", lspderrors.ErrProtocol, err)
	}

	var out []ipc.Location
	for _, e := range edges {
		item := e.From
		if params.Direction == ipc.CallHierarchyOutgoing {
			item = e.To
		}
		path, convErr := lspclient.URIToPath(item.URI)
		if convErr != nil {
			continue
		}
		out = append(out, ipc.Location{
			Path:       relTo(ws.root, path),
			StartLine:  item.Range.Start.Line,
			StartChar:  item.Range.Start.Character,
			EndLine:    item.Range.End.Line,
			EndChar:    item.Range.End.Character,
			SymbolName: item.Name,
		})
	}
	return out, nil
}

func toIPCLocations(workspaceRoot string, locs []lspclient.Location) []ipc.Location {
	out := make([]ipc.Location, 0, len(locs))
	for _, l := range locs {
		path, err := lspclient.URIToPath(l.URI)
		if err != nil {
			continue
		}
		out = append(out, ipc.Location{
			Path:      relTo(workspaceRoot, path),
			StartLine: l.Range.Start.Line, StartChar: l.Range.Start.Character,
			EndLine: l.Range.End.Line, EndChar: l.Range.End.Character,
		})
	}
	return out
}

// relTo renders an absolute path returned by a language server the way a
// client expects to see it: workspace-relative inside the workspace, or the
// stable /dep/<ecosystem>/... form for a known third-party location (the
// common case for "go to definition" landing in the stdlib or a module
// cache), so two clients on different machines see the same answer for the
// same library symbol. A path that is neither is returned unchanged.
func relTo(root, path string) string {
	if dep, ok := symbol.ClassifyDependencyPath(path); ok {
		return dep
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.ToSlash(rel)
}

// languageForAbsPath detects a file's language from its extension; this
// daemon only acts on languages with a configured server, so the caller
// treats "" as "unsupported".
func languageForAbsPath(workspaceRoot, absPath string) string {
	rel, err := filepath.Rel(workspaceRoot, absPath)
	if err != nil {
		rel = absPath
	}
	return indexer.DetectLanguage(rel)
}
