package mcpmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
)

// Manager is the registry of configured servers, the enabled set and the
// lazily created connections. It is an explicit value: construct one with
// NewManager and pass it to every consumer.
type Manager struct {
	mu sync.RWMutex

	options ManagerOptions
	logger  *slog.Logger

	configs map[string]ServerConfig
	order   []string
	enabled map[string]struct{}
	conns   map[string]*Connection

	// ops serializes enable/disable/shutdown per server id.
	ops map[string]*sync.Mutex

	statusHandlers []StatusHandler
}

// NewManager constructs an empty Manager. Callers can provide nil options to
// fall back to defaults.
func NewManager(opts *ManagerOptions) *Manager {
	options := opts.normalized()
	return &Manager{
		options: options,
		logger:  options.Logger,
		configs: make(map[string]ServerConfig),
		enabled: make(map[string]struct{}),
		conns:   make(map[string]*Connection),
		ops:     make(map[string]*sync.Mutex),
	}
}

// LoadConfig reads the configuration document at path. A missing or
// malformed document is logged and leaves previously loaded configurations
// untouched.
func (m *Manager) LoadConfig(path string) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("config file not found", "path", path)
			return
		}
		m.logger.Error("failed to load config", "path", path, "error", err)
		return
	}
	defer f.Close()
	m.LoadConfigFrom(f)
}

// LoadConfigFrom is LoadConfig for an already opened document.
func (m *Manager) LoadConfigFrom(r io.Reader) {
	cfg, err := ParseConfig(r)
	if err != nil {
		m.logger.Error("failed to load config", "error", err)
		return
	}
	m.mu.Lock()
	for _, id := range cfg.Order {
		if _, ok := m.configs[id]; !ok {
			m.order = append(m.order, id)
			m.ops[id] = &sync.Mutex{}
		}
		m.configs[id] = cfg.Servers[id]
	}
	total := len(m.configs)
	m.mu.Unlock()
	m.logger.Info("loaded server configurations", "count", len(cfg.Order), "total", total)
}

// ServerIDs returns configured server ids in declaration order.
func (m *Manager) ServerIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// HasServer reports whether a server id is configured.
func (m *Manager) HasServer(serverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.configs[serverID]
	return ok
}

// ServerConfig returns a copy of the configuration for serverID.
func (m *Manager) ServerConfig(serverID string) (ServerConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[serverID]
	if !ok {
		return ServerConfig{}, false
	}
	return cfg.clone(), true
}

// ServerInfo returns a snapshot of one server. A server that was never
// enabled reports disconnected with no tools.
func (m *Manager) ServerInfo(serverID string) (ServerInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.configs[serverID]; !ok {
		return ServerInfo{}, false
	}
	return m.infoLocked(serverID), true
}

// Servers returns snapshots for every configured server in declaration order.
func (m *Manager) Servers() []ServerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]ServerInfo, 0, len(m.order))
	for _, id := range m.order {
		infos = append(infos, m.infoLocked(id))
	}
	return infos
}

func (m *Manager) infoLocked(serverID string) ServerInfo {
	_, enabled := m.enabled[serverID]
	info := ServerInfo{
		ID:      serverID,
		Status:  StatusDisconnected,
		Enabled: enabled,
		Tools:   []string{},
	}
	if conn := m.conns[serverID]; conn != nil {
		info.Status = conn.Status()
		info.Error = conn.Err()
		for _, t := range conn.Tools() {
			info.Tools = append(info.Tools, t.Name)
		}
	}
	return info
}

// EnableServer marks serverID enabled and connects it, creating its
// Connection on first use. It reports false for unknown ids and failed
// connects; an already enabled server reports true without reconnecting.
func (m *Manager) EnableServer(ctx context.Context, serverID string) bool {
	op := m.opLock(serverID)
	if op == nil {
		m.logger.Warn("enable requested for unknown server", "server", serverID)
		return false
	}
	op.Lock()
	defer op.Unlock()

	m.mu.Lock()
	if _, ok := m.enabled[serverID]; ok {
		m.mu.Unlock()
		return true
	}
	cfg, ok := m.configs[serverID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.enabled[serverID] = struct{}{}
	conn := m.conns[serverID]
	if conn == nil {
		conn = NewConnection(serverID, cfg, m.options.connectionOptions())
		m.conns[serverID] = conn
	}
	m.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	connected := conn.Connect(ctx)
	m.notifyStatus(serverID, conn.Status())
	return connected
}

// DisableServer removes serverID from the enabled set and disconnects it if a
// connection exists. It reports false only for unknown ids.
func (m *Manager) DisableServer(serverID string) bool {
	op := m.opLock(serverID)
	if op == nil {
		return false
	}
	op.Lock()
	defer op.Unlock()

	m.mu.Lock()
	delete(m.enabled, serverID)
	conn := m.conns[serverID]
	m.mu.Unlock()

	if conn != nil {
		conn.Disconnect()
	}
	m.notifyStatus(serverID, StatusDisconnected)
	return true
}

// AllTools returns every tool of every enabled, connected server. Servers are
// visited in declaration order and tools in discovery order.
func (m *Manager) AllTools() []ServerTool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ServerTool
	for _, id := range m.order {
		if _, on := m.enabled[id]; !on {
			continue
		}
		conn := m.conns[id]
		if conn == nil {
			continue
		}
		for _, t := range conn.Tools() {
			out = append(out, ServerTool{ServerID: id, Tool: t})
		}
	}
	return out
}

// ToolSchema returns the schema of toolName on a connected server.
func (m *Manager) ToolSchema(serverID, toolName string) (ToolSchema, bool) {
	m.mu.RLock()
	conn := m.conns[serverID]
	m.mu.RUnlock()
	if conn == nil {
		return ToolSchema{}, false
	}
	return conn.Tool(toolName)
}

// CallTool routes an invocation to the server owning toolName. Unknown
// servers, servers that are not connected and unknown tools are rejected
// before any I/O.
func (m *Manager) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (json.RawMessage, error) {
	m.mu.RLock()
	_, known := m.configs[serverID]
	conn := m.conns[serverID]
	m.mu.RUnlock()

	if !known {
		return nil, serverError(serverID, ErrServerNotFound)
	}
	if conn == nil || conn.Status() != StatusConnected {
		return nil, serverError(serverID, ErrServerNotConnected)
	}
	if _, ok := conn.Tool(toolName); !ok {
		return nil, fmt.Errorf("mcpmgr: tool %q on server %q: %w", toolName, serverID, ErrToolNotFound)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return conn.CallTool(ctx, toolName, args)
}

// Shutdown disconnects every connection regardless of enabled state, then
// forgets all connections and the enabled set. It is idempotent.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.conns))
	for _, id := range m.order {
		if _, ok := m.conns[id]; ok {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		op := m.opLock(id)
		op.Lock()
		m.mu.RLock()
		conn := m.conns[id]
		m.mu.RUnlock()
		if conn != nil {
			conn.Disconnect()
		}
		op.Unlock()
		m.notifyStatus(id, StatusDisconnected)
	}

	m.mu.Lock()
	m.conns = make(map[string]*Connection)
	m.enabled = make(map[string]struct{})
	m.mu.Unlock()
}

// Err reports the last error of every server that has one, joined.
func (m *Manager) Err() error {
	var errs []error
	for _, info := range m.Servers() {
		if info.Error != "" {
			errs = append(errs, fmt.Errorf("%s: %s", info.ID, info.Error))
		}
	}
	return errors.Join(errs...)
}

// OnStatusChange registers a callback invoked after EnableServer,
// DisableServer and Shutdown change a server's state. Handlers run without
// the manager lock held.
func (m *Manager) OnStatusChange(handler StatusHandler) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	m.statusHandlers = append(m.statusHandlers, handler)
	m.mu.Unlock()
}

func (m *Manager) notifyStatus(serverID string, status ServerStatus) {
	m.mu.RLock()
	handlers := append([]StatusHandler(nil), m.statusHandlers...)
	m.mu.RUnlock()
	for _, h := range handlers {
		// Best-effort; isolate panics.
		func(handler StatusHandler) {
			defer func() { _ = recover() }()
			handler(serverID, status)
		}(h)
	}
}

func (m *Manager) opLock(serverID string) *sync.Mutex {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ops[serverID]
}

func (m *Manager) connection(serverID string) *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[serverID]
}
