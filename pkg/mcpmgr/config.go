package mcpmgr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	// ProtocolVersion is the MCP protocol revision advertised during the
	// initialize handshake.
	ProtocolVersion = "2024-11-05"

	defaultClientName     = "mcp-gateway"
	defaultClientVersion  = "0.1.0"
	defaultRequestTimeout = 30 * time.Second
	defaultShutdownGrace  = 5 * time.Second
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	ServerID  string
}

// RPCLogger is invoked for each JSON-RPC line when logging is enabled.
type RPCLogger func(RPCLogEvent)

// ServerConfig describes an MCP server launched via stdio.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Config is a parsed configuration document. Order preserves the declaration
// order of the mcpServers object.
type Config struct {
	Servers map[string]ServerConfig
	Order   []string
}

// ConnectionOptions configures a single Connection.
type ConnectionOptions struct {
	// ClientName is advertised in clientInfo during initialization.
	ClientName string
	// ClientVersion is advertised in clientInfo during initialization.
	ClientVersion string
	// RequestTimeout bounds every request issued on the connection.
	RequestTimeout time.Duration
	// ShutdownGrace is how long a child may take to exit after SIGTERM before
	// it is killed.
	ShutdownGrace time.Duration
	// LogJSONRPC prints every JSON-RPC line when no RPCLogger is set.
	LogJSONRPC bool
	// RPCLogger observes raw JSON-RPC traffic.
	RPCLogger RPCLogger
	// Logger receives structured diagnostics.
	Logger *slog.Logger
}

func (o *ConnectionOptions) withDefaults() ConnectionOptions {
	if o == nil {
		o = &ConnectionOptions{}
	}
	opts := *o
	if opts.ClientName == "" {
		opts.ClientName = defaultClientName
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = defaultClientVersion
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = defaultShutdownGrace
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// DefaultClientName overrides the client name advertised during
	// initialization.
	DefaultClientName string
	// DefaultClientVersion controls the version reported to servers.
	DefaultClientVersion string
	// DefaultTimeout bounds each JSON-RPC request. Defaults to 30s.
	DefaultTimeout time.Duration
	// ShutdownGrace bounds graceful child termination. Defaults to 5s.
	ShutdownGrace time.Duration
	// DefaultLogJSONRPC toggles console logging of JSON-RPC traffic.
	DefaultLogJSONRPC bool
	// RPCLogger provides a custom logger for JSON-RPC traffic; it takes
	// precedence over DefaultLogJSONRPC.
	RPCLogger RPCLogger
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *ManagerOptions) normalized() ManagerOptions {
	if o == nil {
		return ManagerOptions{Logger: slog.Default()}
	}
	opts := *o
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

func (o ManagerOptions) connectionOptions() *ConnectionOptions {
	return &ConnectionOptions{
		ClientName:     o.DefaultClientName,
		ClientVersion:  o.DefaultClientVersion,
		RequestTimeout: o.DefaultTimeout,
		ShutdownGrace:  o.ShutdownGrace,
		LogJSONRPC:     o.DefaultLogJSONRPC,
		RPCLogger:      o.RPCLogger,
		Logger:         o.Logger,
	}
}

// DefaultConfigPath returns ~/.config/mcp/mcp_servers.json, falling back to a
// path relative to the working directory when the home directory is unknown.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".config", "mcp", "mcp_servers.json")
	}
	return filepath.Join(home, ".config", "mcp", "mcp_servers.json")
}

// ParseConfig decodes a configuration document of the form
//
//	{"mcpServers": {"<id>": {"command": "...", "args": [...], "env": {...}}}}
//
// keeping the declaration order of server ids. A document without an
// mcpServers key yields an empty Config.
func ParseConfig(r io.Reader) (*Config, error) {
	var doc struct {
		MCPServers json.RawMessage `json:"mcpServers"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("mcpmgr: decode config: %w", err)
	}
	cfg := &Config{Servers: make(map[string]ServerConfig)}
	raw := bytes.TrimSpace(doc.MCPServers)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return cfg, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: decode mcpServers: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("mcpmgr: mcpServers must be an object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("mcpmgr: decode mcpServers: %w", err)
		}
		id, _ := tok.(string)
		var sc ServerConfig
		if err := dec.Decode(&sc); err != nil {
			return nil, fmt.Errorf("mcpmgr: decode server %q: %w", id, err)
		}
		if _, seen := cfg.Servers[id]; !seen {
			cfg.Order = append(cfg.Order, id)
		}
		cfg.Servers[id] = sc.clone()
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("mcpmgr: decode mcpServers: %w", err)
	}
	return cfg, nil
}
