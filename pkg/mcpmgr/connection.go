package mcpmgr

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Connection owns one stdio MCP server process end to end.
//
// Requests issued concurrently on one connection are independent: each is
// correlated by id and resolves (or times out) on its own.
type Connection struct {
	id     string
	config ServerConfig
	opts   ConnectionOptions
	logger *slog.Logger
	rpcLog RPCLogger

	// opMu serializes Connect and Disconnect.
	opMu sync.Mutex
	// writeMu keeps each framed line contiguous on stdin.
	writeMu sync.Mutex

	mu        sync.Mutex
	status    ServerStatus
	lastErr   string
	tools     map[string]ToolSchema
	toolOrder []string
	nextID    int64
	pending   map[int64]*pendingCall
	proc      *process
}

// process groups the resources of one spawned child.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	// readerDone is closed when the reader goroutine exits.
	readerDone chan struct{}
	stopping   atomic.Bool
}

// NewConnection builds a disconnected Connection for serverID. Nothing is
// spawned until Connect is called.
func NewConnection(serverID string, cfg ServerConfig, opts *ConnectionOptions) *Connection {
	o := opts.withDefaults()
	c := &Connection{
		id:      serverID,
		config:  cfg.clone(),
		opts:    o,
		logger:  o.Logger.With("server", serverID),
		status:  StatusDisconnected,
		tools:   make(map[string]ToolSchema),
		pending: make(map[int64]*pendingCall),
	}
	c.rpcLog = c.resolveRPCLogger()
	return c
}

// ID returns the server id this connection was built for.
func (c *Connection) ID() string { return c.id }

// Config returns a copy of the launch configuration.
func (c *Connection) Config() ServerConfig { return c.config.clone() }

// Status returns the current lifecycle status.
func (c *Connection) Status() ServerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the last recorded error message, or "" when none.
func (c *Connection) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Tools returns the discovered tools in discovery order. The result is empty
// unless the connection is connected.
func (c *Connection) Tools() []ToolSchema {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusConnected {
		return nil
	}
	out := make([]ToolSchema, 0, len(c.toolOrder))
	for _, name := range c.toolOrder {
		t := c.tools[name]
		t.InputSchema = cloneRaw(t.InputSchema)
		out = append(out, t)
	}
	return out
}

// Tool looks up a discovered tool by name on a connected server.
func (c *Connection) Tool(name string) (ToolSchema, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusConnected {
		return ToolSchema{}, false
	}
	t, ok := c.tools[name]
	if ok {
		t.InputSchema = cloneRaw(t.InputSchema)
	}
	return t, ok
}

// Connect spawns the server, performs the initialize handshake and discovers
// its tools. It reports success; failures are recorded in Status and Err and
// the process is torn down. Calling Connect while a process is held is a
// no-op that reports true.
func (c *Connection) Connect(ctx context.Context) bool {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.proc != nil {
		c.mu.Unlock()
		return true
	}
	c.status = StatusConnecting
	c.lastErr = ""
	c.mu.Unlock()

	if err := c.establish(ctx); err != nil {
		c.mu.Lock()
		c.status = StatusError
		c.lastErr = err.Error()
		c.mu.Unlock()
		c.logger.Error("failed to connect to mcp server", "error", err)
		c.teardown()
		return false
	}
	return true
}

func (c *Connection) establish(ctx context.Context) error {
	p, err := c.spawn()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.proc = p
	c.mu.Unlock()

	// The reader must be running before the first request is written.
	go c.readLoop(p)

	if err := c.initialize(ctx); err != nil {
		return err
	}
	order, tools := c.listTools(ctx)

	c.mu.Lock()
	if c.proc != p {
		c.mu.Unlock()
		return serverError(c.id, ErrConnectionClosed)
	}
	c.toolOrder = order
	c.tools = tools
	c.status = StatusConnected
	c.mu.Unlock()
	c.logger.Info("connected to mcp server", "tools", len(order))
	return nil
}

func (c *Connection) spawn() (*process, error) {
	if c.config.Command == "" {
		return nil, fmt.Errorf("mcpmgr: command missing for %q", c.id)
	}
	cmd := exec.Command(c.config.Command, c.config.Args...)
	cmd.Env = c.config.Environ(os.Environ())
	cmd.Stderr = &stderrLogger{logger: c.logger}
	cmd.WaitDelay = c.opts.ShutdownGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: stdin pipe for %q: %w", c.id, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("mcpmgr: stdout pipe for %q: %w", c.id, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcpmgr: start %q: %w", c.id, err)
	}
	c.logger.Debug("spawned mcp server", "command", c.config.CommandLine(), "pid", cmd.Process.Pid)
	return &process{
		cmd:        cmd,
		stdin:      stdin,
		stdout:     stdout,
		readerDone: make(chan struct{}),
	}, nil
}

func (c *Connection) initialize(ctx context.Context) error {
	resp, err := c.request(ctx, methodInitialize, initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: c.opts.ClientName, Version: c.opts.ClientVersion},
	})
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return newRPCError(c.id, methodInitialize, resp.Error)
	}
	return c.notify(methodInitialized, nil)
}

// listTools fetches the catalogue. A failing or malformed tools/list leaves
// the registry empty without failing the handshake.
func (c *Connection) listTools(ctx context.Context) ([]string, map[string]ToolSchema) {
	tools := make(map[string]ToolSchema)
	resp, err := c.request(ctx, methodToolsList, nil)
	if err != nil {
		c.logger.Warn("failed to list tools", "error", err)
		return nil, tools
	}
	if resp.Error != nil {
		c.logger.Warn("failed to list tools", "error", resp.Error.Error())
		return nil, tools
	}
	var result listToolsResult
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			c.logger.Warn("malformed tools/list result", "error", err)
			return nil, tools
		}
	}
	var order []string
	for _, t := range result.Tools {
		if t.Name == "" {
			continue
		}
		schema := cloneRaw(t.InputSchema)
		if len(bytes.TrimSpace(schema)) == 0 || bytes.Equal(bytes.TrimSpace(schema), []byte("null")) {
			schema = cloneRaw(emptySchema)
		}
		if _, seen := tools[t.Name]; !seen {
			order = append(order, t.Name)
		}
		tools[t.Name] = ToolSchema{Name: t.Name, Description: t.Description, InputSchema: schema}
	}
	return order, tools
}

// CallTool invokes a tool and returns the result's content unmodified.
func (c *Connection) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if c.Status() != StatusConnected {
		return nil, serverError(c.id, ErrServerNotConnected)
	}
	if args == nil {
		args = map[string]any{}
	}
	resp, err := c.request(ctx, methodToolsCall, callToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, newRPCError(c.id, methodToolsCall, resp.Error)
	}
	var result callToolResult
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return nil, fmt.Errorf("mcpmgr: server %q: decode tools/call result: %w", c.id, err)
		}
	}
	content := bytes.TrimSpace(result.Content)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) {
		return json.RawMessage(`[]`), nil
	}
	return cloneRaw(result.Content), nil
}

// request sends one request and waits for the reply carrying its id. Only the
// calling goroutine blocks; the entry is registered before any byte is
// written.
func (c *Connection) request(ctx context.Context, method string, params any) (*jsonrpc.Response, error) {
	c.mu.Lock()
	p := c.proc
	if p == nil {
		c.mu.Unlock()
		return nil, serverError(c.id, ErrConnectionClosed)
	}
	c.nextID++
	id := c.nextID
	call := newPendingCall(method)
	c.pending[id] = call
	c.mu.Unlock()

	msg, err := newRequest(id, method, params)
	if err != nil {
		c.forget(id)
		return nil, serverError(c.id, err)
	}
	if err := c.write(p, msg); err != nil {
		c.forget(id)
		return nil, fmt.Errorf("mcpmgr: server %q: write %s: %w", c.id, method, err)
	}

	timer := time.NewTimer(c.opts.RequestTimeout)
	defer timer.Stop()
	select {
	case resp := <-call.ch:
		return resp, nil
	case <-timer.C:
		c.forget(id)
		return nil, fmt.Errorf("mcpmgr: server %q: %s: %w", c.id, method, ErrRequestTimeout)
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-p.readerDone:
		select {
		case resp := <-call.ch:
			return resp, nil
		default:
		}
		c.forget(id)
		return nil, fmt.Errorf("mcpmgr: server %q: %s: %w", c.id, method, ErrConnectionClosed)
	}
}

func (c *Connection) notify(method string, params any) error {
	c.mu.Lock()
	p := c.proc
	c.mu.Unlock()
	if p == nil {
		return serverError(c.id, ErrConnectionClosed)
	}
	msg, err := newNotification(method, params)
	if err != nil {
		return serverError(c.id, err)
	}
	if err := c.write(p, msg); err != nil {
		return fmt.Errorf("mcpmgr: server %q: write %s: %w", c.id, method, err)
	}
	return nil
}

func (c *Connection) write(p *process, msg jsonrpc.Message) error {
	line, err := encodeLine(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	_, err = p.stdin.Write(line)
	c.writeMu.Unlock()
	if err != nil {
		return err
	}
	c.observe(RPCDirectionSend, line)
	return nil
}

func (c *Connection) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// readLoop exclusively owns stdout until EOF or teardown.
func (c *Connection) readLoop(p *process) {
	defer close(p.readerDone)
	r := bufio.NewReader(p.stdout)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			c.dispatch(line)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || p.stopping.Load() {
			return
		}
		c.mu.Lock()
		if c.proc == p {
			c.status = StatusError
			c.lastErr = err.Error()
		}
		c.mu.Unlock()
		c.logger.Error("error reading from mcp server", "error", err)
		return
	}
}

func (c *Connection) dispatch(line []byte) {
	c.observe(RPCDirectionReceive, bytes.TrimRight(line, "\r\n"))
	msg, err := decodeLine(line)
	if err != nil {
		return
	}
	resp, ok := msg.(*jsonrpc.Response)
	if !ok {
		if req, isReq := msg.(*jsonrpc.Request); isReq {
			c.logger.Debug("ignoring server-initiated message", "method", req.Method)
		}
		return
	}
	id, ok := requestID(resp.ID)
	if !ok {
		return
	}
	c.mu.Lock()
	call := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if call == nil {
		c.logger.Debug("dropping reply for unknown request", "id", id)
		return
	}
	call.resolve(resp)
}

// Disconnect stops the reader, terminates the child (SIGTERM, then SIGKILL
// after the grace period) and clears tools and pending requests. It is safe to
// call in any state and more than once.
func (c *Connection) Disconnect() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	had := c.teardown()
	c.mu.Lock()
	c.status = StatusDisconnected
	c.mu.Unlock()
	if had {
		c.logger.Info("disconnected from mcp server")
	}
}

// teardown releases every resource held for the current process. It leaves
// status and the last error untouched.
func (c *Connection) teardown() bool {
	c.mu.Lock()
	p := c.proc
	c.proc = nil
	c.tools = make(map[string]ToolSchema)
	c.toolOrder = nil
	c.pending = make(map[int64]*pendingCall)
	c.mu.Unlock()
	if p == nil {
		return false
	}

	p.stopping.Store(true)
	_ = p.stdout.Close()
	<-p.readerDone
	_ = p.stdin.Close()
	c.terminate(p)
	return true
}

func (c *Connection) terminate(p *process) {
	exited := make(chan struct{})
	go func() {
		_ = p.cmd.Wait()
		close(exited)
	}()

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		// Platforms without SIGTERM go straight to kill.
		_ = p.cmd.Process.Kill()
		<-exited
		return
	}

	grace := time.NewTimer(c.opts.ShutdownGrace)
	defer grace.Stop()
	select {
	case <-exited:
		return
	case <-grace.C:
	}
	c.logger.Warn("mcp server ignored SIGTERM, killing", "grace", c.opts.ShutdownGrace)
	_ = p.cmd.Process.Kill()
	<-exited
}

func (c *Connection) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Connection) resolveRPCLogger() RPCLogger {
	if c.opts.RPCLogger != nil {
		return c.opts.RPCLogger
	}
	if c.opts.LogJSONRPC {
		return func(event RPCLogEvent) {
			fmt.Printf("[MCP:%s] %s %s\n", event.ServerID, strings.ToUpper(string(event.Direction)), string(event.Message))
		}
	}
	return nil
}

func (c *Connection) observe(direction RPCDirection, line []byte) {
	if c.rpcLog == nil {
		return
	}
	msg := bytes.TrimRight(line, "\n")
	c.rpcLog(RPCLogEvent{Direction: direction, Message: append([]byte(nil), msg...), ServerID: c.id})
}

// stderrLogger forwards a child's stderr to the debug log one line at a time.
type stderrLogger struct {
	logger *slog.Logger
	mu     sync.Mutex
	buf    []byte
}

const maxStderrLine = 64 * 1024

func (w *stderrLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx < 0 {
			break
		}
		w.emit(w.buf[:idx])
		w.buf = w.buf[idx+1:]
	}
	if len(w.buf) > maxStderrLine {
		w.emit(w.buf)
		w.buf = nil
	}
	return len(p), nil
}

func (w *stderrLogger) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.logger.Debug("mcp server stderr", "line", string(line))
}
