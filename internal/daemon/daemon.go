// Package daemon implements the accept loop and request router tying the
// rest of the packages together into one running process: it resolves an
// incoming request's path to a workspace, lazily opens that workspace's
// store and server pool entries, serves cached or freshly-fetched answers,
// and drains cleanly on shutdown.
package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lspdaemon/lspd/internal/cache"
	"github.com/lspdaemon/lspd/internal/config"
	"github.com/lspdaemon/lspd/internal/indexer"
	"github.com/lspdaemon/lspd/internal/logging"
	"github.com/lspdaemon/lspd/internal/pool"
	"github.com/lspdaemon/lspd/internal/store"
	"github.com/lspdaemon/lspd/internal/workspace"
)

// workspaceState bundles everything scoped to one resolved workspace root.
type workspaceState struct {
	id       string
	root     string
	store    *store.Store
	cache    *cache.Cache
	pipeline *indexer.Pipeline
	watcher  *indexer.Watcher
	cancel   context.CancelFunc
}

// Daemon owns the listening socket and every live workspace.
type Daemon struct {
	cfg      *config.Config
	log      *logging.Logger
	pool     *pool.Pool
	resolver *workspace.Resolver
	pidLock  *PidLock

	mu         sync.Mutex
	workspaces map[string]*workspaceState

	listener  net.Listener
	startedAt time.Time

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	connWG       sync.WaitGroup

	requestCount int64 // atomic; total requests dispatched since start
	activeConns  int64 // atomic; connections currently being served
}

// New builds a Daemon from its configuration and logger. The pool and
// resolver are constructed here so tests can reach into them if needed.
func New(cfg *config.Config, log *logging.Logger) *Daemon {
	if log == nil {
		log = logging.Nop()
	}
	return &Daemon{
		cfg:        cfg,
		log:        log,
		pool:       pool.New(cfg.Languages, log.Raw(), 10*time.Minute),
		resolver:   workspace.NewResolver(nil),
		workspaces: make(map[string]*workspaceState),
		shutdownCh: make(chan struct{}),
	}
}

// Run acquires the PID lock, listens on the configured socket, and serves
// connections until ctx is cancelled, then drains in-flight handlers for
// up to ShutdownDrain before forcibly closing everything.
func (d *Daemon) Run(ctx context.Context) error {
	socketPath := d.cfg.SocketPath
	if socketPath == "" {
		socketPath = DefaultSocketPath()
	}

	d.pidLock = NewPidLock(socketPath)
	if err := d.pidLock.TryLock(); err != nil {
		return err
	}
	defer d.pidLock.Unlock()

	if err := RemoveSocketFile(socketPath); err != nil {
		return fmt.Errorf("daemon: clear stale socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("daemon: listen on %s: %w", socketPath, err)
	}
	d.listener = listener
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	d.startedAt = time.Now()
	d.log.Info("daemon listening", zap.String("socket", socketPath))

	acceptErrCh := make(chan error, 1)
	go func() {
		acceptErrCh <- d.acceptLoop(ctx)
	}()

	go d.runMaintenance(ctx)

	select {
	case <-ctx.Done():
	case err := <-acceptErrCh:
		if err != nil {
			d.log.Error("accept loop exited", zap.Error(err))
		}
	}

	return d.shutdown()
}

// maintenanceInterval paces the background pool sweep: frequent enough
// that an idle or dead server doesn't linger for long, infrequent enough
// that it's not meaningfully competing with request traffic for the pool
// mutex.
const maintenanceInterval = 30 * time.Second

// runMaintenance periodically reaps idle language servers and checks the
// health of live ones, the ticker that actually drives pool.ReapIdle and
// pool.CheckHealth at runtime rather than leaving them as dead code.
func (d *Daemon) runMaintenance(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.shutdownCh:
			return
		case <-ticker.C:
			d.pool.CheckHealth()
			d.pool.ReapIdle()
		}
	}
}

func (d *Daemon) acceptLoop(ctx context.Context) error {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if isClosedConnError(err) {
				return nil
			}
			return err
		}

		d.connWG.Add(1)
		atomic.AddInt64(&d.activeConns, 1)
		go func() {
			defer d.connWG.Done()
			defer atomic.AddInt64(&d.activeConns, -1)
			d.serveConn(ctx, conn)
		}()
	}
}

func isClosedConnError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}

// shutdown stops accepting new connections, waits up to ShutdownDrain for
// in-flight handlers to finish, then terminates every language-server
// subprocess and workspace store.
func (d *Daemon) shutdown() error {
	var shutdownErr error
	d.shutdownOnce.Do(func() {
		close(d.shutdownCh)
		_ = d.listener.Close()

		drained := make(chan struct{})
		go func() {
			d.connWG.Wait()
			close(drained)
		}()

		select {
		case <-drained:
		case <-time.After(d.cfg.ShutdownDrain()):
			d.log.Warn("shutdown drain timed out, forcing close")
		}

		d.pool.Shutdown()

		d.mu.Lock()
		for _, ws := range d.workspaces {
			if ws.watcher != nil {
				ws.watcher.Stop()
			}
			if ws.cancel != nil {
				ws.cancel()
			}
			_ = ws.store.Close()
		}
		d.workspaces = make(map[string]*workspaceState)
		d.mu.Unlock()

		_ = d.log.Sync()
	})
	return shutdownErr
}

// RequestShutdown asks the daemon's accept loop to stop, used by the
// Shutdown RPC handler.
func (d *Daemon) RequestShutdown() {
	select {
	case <-d.shutdownCh:
	default:
		go func() { _ = d.shutdown() }()
	}
}

func (d *Daemon) workspaceFor(path string) (*workspaceState, error) {
	root, err := d.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	id := workspace.ID(root)

	d.mu.Lock()
	if ws, ok := d.workspaces[id]; ok {
		d.mu.Unlock()
		return ws, nil
	}
	d.mu.Unlock()

	dir, err := config.EnsureCacheDir(d.cfg.CacheDir, id)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(dir + "/cache.db")
	if err != nil {
		return nil, err
	}
	if err := st.EnsureWorkspace(context.Background(), id, root); err != nil {
		_ = st.Close()
		return nil, err
	}

	pipeline := &indexer.Pipeline{
		Store: st, Pool: d.pool, WorkspaceID: id, WorkspaceRoot: root,
		DetectLang: indexer.DetectLanguage, IgnoreGlobs: d.cfg.DiscoveryIgnoreGlobs,
		Log: d.log.Raw(),
	}

	ws := &workspaceState{
		id: id, root: root, store: st,
		cache:    cache.New(d.cfg.CacheTTL(), d.cfg.CacheCapacity()),
		pipeline: pipeline,
	}

	d.mu.Lock()
	if existing, ok := d.workspaces[id]; ok {
		d.mu.Unlock()
		_ = st.Close()
		return existing, nil
	}
	d.workspaces[id] = ws
	d.mu.Unlock()

	return ws, nil
}

// RequestCount returns the total number of requests dispatched since the
// daemon started, for the Status response.
func (d *Daemon) RequestCount() int64 { return atomic.LoadInt64(&d.requestCount) }

// ActiveConnections returns the number of client connections currently
// being served, for the Status response.
func (d *Daemon) ActiveConnections() int { return int(atomic.LoadInt64(&d.activeConns)) }

// ActiveWorkspaceRoots returns the root path of every workspace with an
// open store, for the Status response.
func (d *Daemon) ActiveWorkspaceRoots() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	roots := make([]string, 0, len(d.workspaces))
	for _, ws := range d.workspaces {
		roots = append(roots, ws.root)
	}
	return roots
}
