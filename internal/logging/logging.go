// Package logging provides the daemon's structured logger: a zap logger
// fanned out to stderr, an in-memory ring buffer the GetLogs IPC handler
// reads, and an optional persisted JSONL layer so logs survive
// a daemon restart.
package logging

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a three-value off/info/debug ladder, translated onto zap's
// richer level set so --log-level stays a simple flag at the CLI boundary
// while the rest of the daemon gets real structured levels.
type Level int

const (
	LevelOff Level = iota
	LevelInfo
	LevelDebug
)

func (l Level) zapLevel() zapcore.Level {
	if l <= LevelOff {
		return zapcore.FatalLevel + 1
	}
	if l >= LevelDebug {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// Entry is one ring-buffer record. The persisted file layer does not use
// this shape; it writes zap's own JSON encoding of each entry.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Logger is the daemon-wide logging facade. The zero value is not usable;
// construct with New.
type Logger struct {
	zap  *zap.Logger
	ring *ringBuffer
}

// New builds a Logger at the given level. If persistPath is non-empty, every
// entry is also appended as a JSON line to that file.
func New(level Level, persistPath string) (*Logger, error) {
	ring := newRingBuffer(2000)

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.Lock(os.Stderr),
			level.zapLevel(),
		),
		ring.core(level.zapLevel()),
	}

	if persistPath != "" {
		f, err := os.OpenFile(persistPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(f),
			level.zapLevel(),
		))
	}

	core := zapcore.NewTee(cores...)
	return &Logger{zap: zap.New(core), ring: ring}, nil
}

// Nop returns a Logger that discards everything, for use in tests that do
// not care about log output.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop(), ring: newRingBuffer(2000)}
}

// With returns a child logger carrying the given structured fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...), ring: l.ring}
}

func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }

// Sync flushes the underlying zap core.
func (l *Logger) Sync() error { return l.zap.Sync() }

// Raw exposes the underlying *zap.Logger for packages (pool, indexer) that
// take a *zap.Logger directly rather than this package's thin wrapper.
func (l *Logger) Raw() *zap.Logger { return l.zap }

// Tail returns up to n of the most recent log entries, newest last. This is
// what the daemon's GetLogs handler serves.
func (l *Logger) Tail(n int) []Entry { return l.ring.tail(n) }

// ringBuffer is a fixed-capacity, mutex-guarded circular buffer of log
// entries exposed to zapcore as a Core so it sees every entry the regular
// sinks see, not a best-effort copy.
type ringBuffer struct {
	mu       sync.Mutex
	entries  []Entry
	cap      int
	next     int
	filled   bool
	minLevel zapcore.Level
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{entries: make([]Entry, capacity), cap: capacity}
}

func (r *ringBuffer) core(minLevel zapcore.Level) zapcore.Core {
	r.minLevel = minLevel
	return &ringCore{buf: r, level: minLevel}
}

func (r *ringBuffer) push(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % r.cap
	if r.next == 0 {
		r.filled = true
	}
}

func (r *ringBuffer) tail(n int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := r.next
	if r.filled {
		total = r.cap
	}
	if n <= 0 || n > total {
		n = total
	}

	out := make([]Entry, 0, n)
	start := r.next - n
	for i := 0; i < n; i++ {
		idx := (start + i + r.cap) % r.cap
		out = append(out, r.entries[idx])
	}
	return out
}

// ringCore implements zapcore.Core by recording every entry it sees into
// the ring buffer; it never itself decides verbosity beyond level gating,
// mirroring the other sinks' independence from one another.
type ringCore struct {
	buf    *ringBuffer
	level  zapcore.Level
	fields []zapcore.Field
}

func (c *ringCore) Enabled(lvl zapcore.Level) bool { return lvl >= c.level }

func (c *ringCore) With(fields []zapcore.Field) zapcore.Core {
	return &ringCore{buf: c.buf, level: c.level, fields: append(append([]zapcore.Field{}, c.fields...), fields...)}
}

func (c *ringCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *ringCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	all := append(append([]zapcore.Field{}, c.fields...), fields...)
	m := make(map[string]any, len(all))
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range all {
		f.AddTo(enc)
	}
	for k, v := range enc.Fields {
		m[k] = v
	}
	c.buf.push(Entry{Time: ent.Time, Level: ent.Level.String(), Message: ent.Message, Fields: m})
	return nil
}

func (c *ringCore) Sync() error { return nil }

// MarshalEntries renders entries as a JSON array, the wire shape of a
// GetLogs response payload.
func MarshalEntries(entries []Entry) ([]byte, error) {
	return json.Marshal(entries)
}
