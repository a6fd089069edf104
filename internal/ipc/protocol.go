package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Kind discriminates the operations a client can ask the daemon to perform.
type Kind string

const (
	KindStatus          Kind = "status"
	KindLanguages       Kind = "languages"
	KindPing            Kind = "ping"
	KindGetLogs         Kind = "get_logs"
	KindShutdown        Kind = "shutdown"
	KindDefinition      Kind = "definition"
	KindHover           Kind = "hover"
	KindReferences      Kind = "references"
	KindImplementations Kind = "implementations"
	KindCallHierarchy   Kind = "call_hierarchy"
)

// Request is the envelope a client sends over the socket. Params carries
// the kind-specific payload (e.g. PositionParams) as raw JSON so the
// transport layer never needs to know every operation's shape.
type Request struct {
	RequestID uuid.UUID       `json:"request_id"`
	Kind      Kind            `json:"kind"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// ErrorCode mirrors internal/lspderrors' taxonomy so it can cross the wire.
type ErrorCode string

const (
	ErrCodeProtocol    ErrorCode = "protocol_error"
	ErrCodeUpstream    ErrorCode = "upstream_error"
	ErrCodeTimeout     ErrorCode = "timeout"
	ErrCodeNotFound    ErrorCode = "not_found"
	ErrCodeUnavailable ErrorCode = "unavailable"
	ErrCodeIO          ErrorCode = "io_error"
	ErrCodeLock        ErrorCode = "lock_conflict"
	ErrCodeShutdown    ErrorCode = "shutdown_in_progress"
)

// ResponseError is the wire shape of a failed request.
type ResponseError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Response is the envelope the daemon sends back. Exactly one of Result or
// Error is set.
type Response struct {
	RequestID uuid.UUID       `json:"request_id"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ResponseError  `json:"error,omitempty"`
}

// NewRequest builds a Request, marshaling params into the envelope.
func NewRequest(kind Kind, params any) (Request, error) {
	req := Request{RequestID: uuid.New(), Kind: kind}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return Request{}, fmt.Errorf("ipc: marshal params for %s: %w", kind, err)
		}
		req.Params = raw
	}
	return req, nil
}

// NewResponse builds a successful Response for the given request id.
func NewResponse(requestID uuid.UUID, result any) (Response, error) {
	resp := Response{RequestID: requestID}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return Response{}, fmt.Errorf("ipc: marshal result: %w", err)
		}
		resp.Result = raw
	}
	return resp, nil
}

// NewErrorResponse builds a failed Response.
func NewErrorResponse(requestID uuid.UUID, code ErrorCode, err error) Response {
	return Response{
		RequestID: requestID,
		Error:     &ResponseError{Code: code, Message: err.Error()},
	}
}

// PositionParams is the payload shared by Definition, Hover, References,
// Implementations, and the call-hierarchy entry point: a zero-based
// position inside a file.
type PositionParams struct {
	Path   string `json:"path"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
	// Variant distinguishes operation-specific cache partitions (e.g.
	// references including vs excluding the declaration itself).
	Variant string `json:"variant,omitempty"`
}

// CallHierarchyParams selects incoming or outgoing calls for the symbol at
// a position.
type CallHierarchyParams struct {
	PositionParams
	Direction CallHierarchyDirection `json:"direction"`
}

// CallHierarchyDirection selects incoming vs outgoing calls.
type CallHierarchyDirection string

const (
	CallHierarchyIncoming CallHierarchyDirection = "incoming"
	CallHierarchyOutgoing CallHierarchyDirection = "outgoing"
)

// GetLogsParams bounds how many ring-buffer entries to return.
type GetLogsParams struct {
	Limit int `json:"limit,omitempty"`
}

// Location is one position-and-range result, the common shape returned by
// definition/references/implementations/call-hierarchy responses.
type Location struct {
	Path       string `json:"path"`
	StartLine  int    `json:"start_line"`
	StartChar  int    `json:"start_char"`
	EndLine    int    `json:"end_line"`
	EndChar    int    `json:"end_char"`
	SymbolName string `json:"symbol_name,omitempty"`
}

// StatusResult answers the Status operation.
type StatusResult struct {
	PID               int                           `json:"pid"`
	UptimeSeconds     float64                        `json:"uptime_seconds"`
	ActiveWorkspaces  []string                       `json:"active_workspaces"`
	ActiveLanguages   []string                       `json:"active_languages"`
	IndexedFiles      int                            `json:"indexed_files"`
	IndexedSymbols    int                            `json:"indexed_symbols"`
	CacheEntries      int                            `json:"cache_entries"`
	RequestCount      int64                          `json:"request_count"`
	ActiveConnections int                             `json:"active_connections"`
	Pools             map[string]LanguagePoolStatus `json:"pools"`
	EdgeAuditCounts   map[string]int64              `json:"edge_audit_counts"`
}

// LanguagePoolStatus is a ready/busy/total snapshot of one language's live
// server population.
type LanguagePoolStatus struct {
	Ready int `json:"ready"`
	Busy  int `json:"busy"`
	Total int `json:"total"`
}
