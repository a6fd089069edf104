// Package pool manages the set of live language-server subprocesses: one
// per (language, workspace) pair, state-machine tracked, spawned lazily on
// first use and reaped on idle timeout or daemon shutdown.
package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lspdaemon/lspd/internal/config"
	"github.com/lspdaemon/lspd/internal/lspclient"
	"github.com/lspdaemon/lspd/internal/lspderrors"
)

// State is a server instance's lifecycle stage.
type State int

const (
	StateSpawning State = iota
	StateInitializing
	StateReady
	StateBusy
	StateIdle
	StateFailed
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateIdle:
		return "idle"
	case StateFailed:
		return "failed"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// backoffBase and backoffCeiling bound the exponential backoff applied
// between respawn attempts after a Failed transition, so a language server
// executable that's transiently missing (package upgrade mid-flight, disk
// hiccup) doesn't get hammered with a respawn on every incoming request.
const (
	backoffBase    = time.Second
	backoffCeiling = 30 * time.Second
)

// backoffDuration returns the wait before the nth retry (1-indexed) after a
// failed spawn, doubling from backoffBase up to backoffCeiling.
func backoffDuration(failCount int) time.Duration {
	if failCount <= 1 {
		return backoffBase
	}
	d := backoffBase << uint(failCount-1)
	if d <= 0 || d > backoffCeiling {
		return backoffCeiling
	}
	return d
}

// key identifies one pool slot.
type key struct {
	language string
	root     string
}

// conn is the subset of *lspclient.Client the pool depends on, narrowed to
// an interface so tests can exercise slot/state-machine behavior with a
// fake server instead of a real subprocess.
type conn interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(method string, params any) error
	Close() error
	// Pid returns the child process's PID, or 0 when there is none to
	// check (e.g. a fake connection in a test), in which case the
	// watchdog treats the server as healthy.
	Pid() int
}

// slot owns one language-server subprocess and serializes every call
// through it: the client itself can multiplex concurrent RPCs by request
// id, but the pool guarantees FIFO ordering per server instance by holding
// callMu for the duration of each call, matching the "no cross-server
// ordering" concurrency contract.
type slot struct {
	mu        sync.Mutex // guards state, lastUsed, failCount, nextRetry
	callMu    sync.Mutex // serializes calls through this server
	client    conn
	state     State
	lastUsed  time.Time
	failCount int
	nextRetry time.Time
}

// Pool owns every live language-server subprocess.
type Pool struct {
	mu    sync.Mutex
	slots map[key]*slot

	languages map[string]config.LanguageConfig
	log       *zap.Logger
	idleAfter time.Duration

	// spawn starts a language server and is swapped out in tests so the
	// state machine can be exercised without a real subprocess.
	spawn func(cfg lspclient.Config) (conn, error)
}

// New builds a Pool. languages maps a Language value (as used in the
// daemon's config) to how to spawn its server.
func New(languages map[string]config.LanguageConfig, log *zap.Logger, idleAfter time.Duration) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	if idleAfter <= 0 {
		idleAfter = 10 * time.Minute
	}
	return &Pool{
		slots:     make(map[key]*slot),
		languages: languages,
		log:       log,
		idleAfter: idleAfter,
		spawn: func(cfg lspclient.Config) (conn, error) {
			return lspclient.Start(cfg)
		},
	}
}

// Call routes a JSON-RPC request to the (language, workspaceRoot) server,
// spawning it on first use. The caller's context bounds how long Call waits
// for a response; it does not cancel the round trip inside the child once
// sent (see lspclient.Client.Call).
func (p *Pool) Call(ctx context.Context, language, workspaceRoot, method string, params any) (json.RawMessage, error) {
	s, err := p.acquire(language, workspaceRoot)
	if err != nil {
		return nil, err
	}

	s.callMu.Lock()
	defer s.callMu.Unlock()

	p.markBusy(s)
	defer p.markIdle(s)

	result, err := s.client.Call(ctx, method, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s %s", lspderrors.ErrTimeout, language, method)
		}
		return nil, fmt.Errorf("%w: %s %s: %v", lspderrors.ErrUpstream, language, method, err)
	}
	return result, nil
}

// OpenDocument notifies the server a file is open, with the given content,
// so subsequent position-based queries against it resolve against live
// text rather than disk.
func (p *Pool) OpenDocument(language, workspaceRoot, path, content string) error {
	s, err := p.acquire(language, workspaceRoot)
	if err != nil {
		return err
	}
	s.callMu.Lock()
	defer s.callMu.Unlock()
	return s.client.Notify("textDocument/didOpen", map[string]any{
		"textDocument": map[string]any{
			"uri":        "file://" + path,
			"languageId": language,
			"version":    1,
			"text":       content,
		},
	})
}

func (p *Pool) acquire(language, workspaceRoot string) (*slot, error) {
	k := key{language: language, root: workspaceRoot}

	p.mu.Lock()
	s, ok := p.slots[k]
	p.mu.Unlock()

	priorFailCount := 0
	if ok {
		s.mu.Lock()
		state := s.state
		nextRetry := s.nextRetry
		priorFailCount = s.failCount
		s.mu.Unlock()

		switch state {
		case StateTerminated:
			// fall through to spawn a replacement below
		case StateFailed:
			if time.Now().Before(nextRetry) {
				return nil, fmt.Errorf("%w: %s server in backoff after a failed spawn, retry after %s",
					lspderrors.ErrUnavailable, language, nextRetry.Format(time.RFC3339))
			}
			// backoff elapsed; fall through and retry the spawn
		default:
			return s, nil
		}
	}

	langCfg, cfgOK := p.languages[language]
	if !cfgOK {
		return nil, fmt.Errorf("%w: no server configured for language %q", lspderrors.ErrUnavailable, language)
	}

	s = &slot{state: StateSpawning, lastUsed: time.Now(), failCount: priorFailCount}
	p.mu.Lock()
	p.slots[k] = s
	p.mu.Unlock()

	client, err := p.spawn(lspclient.Config{
		Command:    langCfg.Command,
		Args:       langCfg.Args,
		RootPath:   workspaceRoot,
		LanguageID: language,
		Logger:     p.log,
	})
	if err != nil {
		s.mu.Lock()
		s.failCount++
		s.state = StateFailed
		s.nextRetry = time.Now().Add(backoffDuration(s.failCount))
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: spawn %s server: %v", lspderrors.ErrUnavailable, language, err)
	}

	s.mu.Lock()
	s.client = client
	s.state = StateReady
	s.failCount = 0
	s.mu.Unlock()

	return s, nil
}

func (p *Pool) markBusy(s *slot) {
	s.mu.Lock()
	s.state = StateBusy
	s.mu.Unlock()
}

func (p *Pool) markIdle(s *slot) {
	s.mu.Lock()
	s.state = StateIdle
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// ActiveLanguages returns the distinct languages with at least one live
// server, for the Status response.
func (p *Pool) ActiveLanguages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for k, s := range p.slots {
		s.mu.Lock()
		alive := s.state != StateTerminated
		s.mu.Unlock()
		if alive && !seen[k.language] {
			seen[k.language] = true
			out = append(out, k.language)
		}
	}
	return out
}

// LanguageStats is a ready/busy/total snapshot of one language's live
// server population, surfaced in the daemon's status response.
type LanguageStats struct {
	Ready int `json:"ready"`
	Busy  int `json:"busy"`
	Total int `json:"total"`
}

// Stats returns a LanguageStats snapshot per language with at least one
// non-terminated server.
func (p *Pool) Stats() map[string]LanguageStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]LanguageStats)
	for k, s := range p.slots {
		s.mu.Lock()
		state := s.state
		s.mu.Unlock()
		if state == StateTerminated {
			continue
		}
		stats := out[k.language]
		stats.Total++
		switch state {
		case StateReady, StateIdle:
			stats.Ready++
		case StateBusy:
			stats.Busy++
		}
		out[k.language] = stats
	}
	return out
}

// processAlive reports whether pid still refers to a live process, using
// the conventional "send signal 0" liveness probe: the kernel still
// validates permissions and existence without actually delivering
// anything.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// CheckHealth samples every live Ready/Idle server for process liveness and
// demotes any whose child has exited to Failed, scheduling a backed-off
// respawn for the next acquire instead of letting calls keep hitting a
// dead pipe. Busy servers are left alone: a slow in-flight call isn't the
// same as a dead process, and demoting one here would race its response.
func (p *Pool) CheckHealth() {
	p.mu.Lock()
	var newlyDead []*slot
	for _, s := range p.slots {
		s.mu.Lock()
		if (s.state == StateReady || s.state == StateIdle) && s.client != nil {
			if pid := s.client.Pid(); pid > 0 && !processAlive(pid) {
				s.state = StateFailed
				s.failCount++
				s.nextRetry = time.Now().Add(backoffDuration(s.failCount))
				newlyDead = append(newlyDead, s)
			}
		}
		s.mu.Unlock()
	}
	p.mu.Unlock()

	for _, s := range newlyDead {
		_ = s.client.Close()
	}
}

// ReapIdle terminates any server that has been idle longer than the
// pool's configured idleAfter, freeing resources for workspaces the client
// has stopped querying.
func (p *Pool) ReapIdle() {
	p.mu.Lock()
	var toClose []*slot
	now := time.Now()
	for k, s := range p.slots {
		s.mu.Lock()
		if s.state == StateIdle && now.Sub(s.lastUsed) > p.idleAfter {
			s.state = StateTerminated
			toClose = append(toClose, s)
			delete(p.slots, k)
		}
		s.mu.Unlock()
	}
	p.mu.Unlock()

	for _, s := range toClose {
		_ = s.client.Close()
	}
}

// Shutdown terminates every live server, for use during daemon shutdown.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	slots := make([]*slot, 0, len(p.slots))
	for k, s := range p.slots {
		s.mu.Lock()
		s.state = StateShuttingDown
		s.mu.Unlock()
		slots = append(slots, s)
		delete(p.slots, k)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range slots {
		wg.Add(1)
		go func(s *slot) {
			defer wg.Done()
			_ = s.client.Close()
			s.mu.Lock()
			s.state = StateTerminated
			s.mu.Unlock()
		}(s)
	}
	wg.Wait()
}
