// Package lspclient is a generic Language Server Protocol client speaking
// Content-Length-framed JSON-RPC over a child process's stdio. It is
// intentionally unaware of any particular language server's quirks; the
// pool package layers per-language configuration (command, args, root
// markers) on top of it.
package lspclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Config configures one language server subprocess.
type Config struct {
	Command    string
	Args       []string
	RootPath   string
	LanguageID string
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Client is a live connection to one language server subprocess.
type Client struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    io.ReadCloser
	stderr    io.ReadCloser
	requestID int64
	responses map[int64]chan rpcResponse
	mu        sync.Mutex
	rootPath  string
	ctx       context.Context
	cancel    context.CancelFunc
	timeout   time.Duration
	log       *zap.Logger
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("lsp error %d: %s", e.Code, e.Message) }

// Start spawns the language server and performs the LSP initialize/initialized
// handshake. The child is made the leader of its own process group so the
// pool can terminate it and every descendant it may have spawned (many
// language servers fork helper processes) with a single signal to the
// group rather than tracking a process tree by hand.
func Start(config Config) (*Client, error) {
	if config.Command == "" {
		return nil, fmt.Errorf("lspclient: command is required")
	}
	if config.RootPath == "" {
		return nil, fmt.Errorf("lspclient: root path is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}

	serverPath, err := exec.LookPath(config.Command)
	if err != nil {
		return nil, fmt.Errorf("lspclient: %s not found in PATH: %w", config.Command, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(ctx, serverPath, config.Args...)
	cmd.Dir = config.RootPath
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("lspclient: create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("lspclient: create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("lspclient: create stderr pipe: %w", err)
	}

	c := &Client{
		cmd:       cmd,
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		responses: make(map[int64]chan rpcResponse),
		rootPath:  config.RootPath,
		ctx:       ctx,
		cancel:    cancel,
		timeout:   config.Timeout,
		log:       log,
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("lspclient: start %s: %w", config.Command, err)
	}

	go c.readResponses()
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Debug("lsp stderr", zap.String("command", config.Command), zap.String("line", scanner.Text()))
		}
	}()

	if err := c.initialize(config.LanguageID); err != nil {
		c.Close()
		return nil, fmt.Errorf("lspclient: initialize %s: %w", config.Command, err)
	}
	return c, nil
}

// Pid returns the child process's PID, or 0 if it has not started.
func (c *Client) Pid() int {
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

func (c *Client) initialize(languageID string) error {
	params := map[string]any{
		"processId": nil,
		"rootUri":   pathToURI(c.rootPath),
		"capabilities": map[string]any{
			"textDocument": map[string]any{
				"definition":     map[string]any{"linkSupport": true},
				"references":     map[string]any{},
				"implementation": map[string]any{"linkSupport": true},
				"hover":          map[string]any{},
				"callHierarchy":  map[string]any{},
			},
		},
	}
	if _, err := c.Call(c.ctx, "initialize", params); err != nil {
		return err
	}
	return c.Notify("initialized", map[string]any{})
}

// Close performs the shutdown/exit handshake, then tears down the
// subprocess and its whole process group. It tolerates the server already
// being dead.
func (c *Client) Close() error {
	if c.cancel != nil {
		defer c.cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = c.Call(shutdownCtx, "shutdown", nil)
	_ = c.Notify("exit", nil)

	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.stdout != nil {
		_ = c.stdout.Close()
	}
	if c.stderr != nil {
		_ = c.stderr.Close()
	}

	done := make(chan error, 1)
	go func() {
		if c.cmd != nil && c.cmd.Process != nil {
			done <- c.cmd.Wait()
			return
		}
		done <- nil
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.killGroup(syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(500 * time.Millisecond):
			c.killGroup(syscall.SIGKILL)
		}
	}
	return nil
}

// killGroup sends sig to the child's entire process group (negative pid),
// reaping helper processes the server itself spawned.
func (c *Client) killGroup(sig syscall.Signal) {
	if c.cmd == nil || c.cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-c.cmd.Process.Pid, sig)
}

func (c *Client) readResponses() {
	reader := bufio.NewReader(c.stdout)
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		contentLength, err := readHeaders(reader)
		if err != nil {
			return
		}
		if contentLength == 0 {
			continue
		}

		body := make([]byte, contentLength)
		if _, err := io.ReadFull(reader, body); err != nil {
			return
		}

		var resp rpcResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			c.log.Warn("lspclient: malformed response", zap.Error(err))
			continue
		}
		if resp.ID == 0 {
			continue // notification from the server; not currently consumed
		}

		c.mu.Lock()
		ch, ok := c.responses[resp.ID]
		if ok {
			delete(c.responses, resp.ID)
		}
		c.mu.Unlock()

		if ok {
			select {
			case ch <- resp:
			default:
			}
		}
	}
}

func readHeaders(r *bufio.Reader) (contentLength int, err error) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return 0, err
		}
		line = trimCRLF(line)
		if line == "" {
			return contentLength, nil
		}
		if n, ok := parseContentLength(line); ok {
			contentLength = n
		}
	}
}

// Call sends a JSON-RPC request and blocks for its response, honoring ctx's
// deadline. A timed-out Call does not cancel the in-flight round trip: the
// response, if it ever arrives, is discarded rather than delivered, but the
// subprocess keeps running and the pool slot keeps its FIFO ordering.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.requestID, 1)
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("lspclient: marshal request: %w", err)
	}

	respCh := make(chan rpcResponse, 1)
	c.mu.Lock()
	c.responses[id] = respCh
	c.mu.Unlock()

	if err := c.writeFramed(body); err != nil {
		c.mu.Lock()
		delete(c.responses, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("lspclient: write request: %w", err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify sends a JSON-RPC notification; no response is expected.
func (c *Client) Notify(method string, params any) error {
	req := rpcRequest{JSONRPC: "2.0", Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("lspclient: marshal notification: %w", err)
	}
	return c.writeFramed(body)
}

func (c *Client) writeFramed(body []byte) error {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	if _, err := c.stdin.Write([]byte(header)); err != nil {
		return err
	}
	_, err := c.stdin.Write(body)
	return err
}
