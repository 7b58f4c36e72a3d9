package mcpmgr

import "encoding/json"

// ServerStatus represents the lifecycle of a managed connection.
type ServerStatus string

const (
	StatusDisconnected ServerStatus = "disconnected"
	StatusConnecting   ServerStatus = "connecting"
	StatusConnected    ServerStatus = "connected"
	StatusError        ServerStatus = "error"
)

// ToolSchema describes one tool as discovered through tools/list.
// InputSchema is kept byte-for-byte as the server sent it.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ServerTool pairs a tool with the server that owns it.
type ServerTool struct {
	ServerID string     `json:"serverId"`
	Tool     ToolSchema `json:"tool"`
}

// ServerInfo is a point-in-time snapshot combining a server's static id with
// its live connection state.
type ServerInfo struct {
	ID      string       `json:"id"`
	Status  ServerStatus `json:"status"`
	Enabled bool         `json:"enabled"`
	Tools   []string     `json:"tools"`
	Error   string       `json:"error,omitempty"`
}

// StatusHandler observes status transitions driven through the Manager.
type StatusHandler func(serverID string, status ServerStatus)

var emptySchema = json.RawMessage(`{}`)

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
