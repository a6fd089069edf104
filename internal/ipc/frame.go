// Package ipc implements the daemon's client-facing transport: a
// length-prefixed JSON envelope carried over a Unix domain socket.
//
// Each frame is a 4-byte little-endian length followed by that many bytes
// of JSON payload. This is deliberately simpler than the LSP side's
// Content-Length header framing (internal/lspclient): a fixed-width length
// prefix is cheaper to parse than a text-header protocol.
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame so a corrupt or malicious length
// prefix cannot make the daemon allocate unbounded memory.
const MaxFrameSize = 64 << 20 // 64 MiB

// WriteFrame writes one length-prefixed frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("ipc: frame of %d bytes exceeds max %d", len(payload), MaxFrameSize)
	}
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("ipc: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("ipc: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("ipc: frame of %d bytes exceeds max %d", n, MaxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("ipc: read frame body: %w", err)
	}
	return body, nil
}
