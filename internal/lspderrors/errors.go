// Package lspderrors defines the daemon's closed error taxonomy.
//
// Components that report a classified failure wrap one of these sentinels
// with fmt.Errorf's %w rather than inventing ad-hoc error types, so callers
// can classify a failure with a single errors.Is check. Errors that wrap
// none of them (the store's own errors, for example) are classified as
// ErrIO by Kind.
package lspderrors

import "errors"

var (
	// ErrProtocol means a request or response did not conform to the
	// IPC or LSP wire format (malformed JSON, bad frame length, ...).
	ErrProtocol = errors.New("protocol error")

	// ErrUpstream means a language server returned an error response
	// or crashed while a request was outstanding.
	ErrUpstream = errors.New("upstream lsp error")

	// ErrTimeout means a request's deadline elapsed before a response
	// arrived. The in-flight call is not cancelled; see pool package.
	ErrTimeout = errors.New("request timed out")

	// ErrNotFound means the requested symbol, file, or workspace is
	// not present in the index.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable means the component needed to serve the request
	// (a language server, the store) is not currently usable.
	ErrUnavailable = errors.New("unavailable")

	// ErrIO wraps failures talking to the filesystem or a socket.
	ErrIO = errors.New("io error")

	// ErrLockConflict means another daemon instance already holds the
	// PID lock for this socket path.
	ErrLockConflict = errors.New("lock conflict")

	// ErrShuttingDown means the daemon has begun an orderly shutdown
	// and is refusing new work.
	ErrShuttingDown = errors.New("shutdown in progress")
)

// Kind classifies an error against the taxonomy above, defaulting to
// ErrIO for anything unrecognized so callers always get a stable kind
// to report back over the wire.
func Kind(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrProtocol):
		return ErrProtocol
	case errors.Is(err, ErrUpstream):
		return ErrUpstream
	case errors.Is(err, ErrTimeout):
		return ErrTimeout
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrUnavailable):
		return ErrUnavailable
	case errors.Is(err, ErrLockConflict):
		return ErrLockConflict
	case errors.Is(err, ErrShuttingDown):
		return ErrShuttingDown
	default:
		return ErrIO
	}
}
