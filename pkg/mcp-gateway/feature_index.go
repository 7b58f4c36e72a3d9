package mcpgateway

import (
	"encoding/json"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-stdio-gateway/pkg/mcpmgr"
)

const (
	metaKeyServerID   = "mcpgateway.server_id"
	metaKeyNativeName = "mcpgateway.native_name"
	metaKeyCallID     = "mcpgateway.call_id"
)

type featureIndex struct {
	ns NamespaceStrategy

	mu sync.RWMutex

	tools       map[string]toolTarget
	serverTools map[string][]string
}

type toolTarget struct {
	GatewayName string
	ServerID    string
	NativeName  string
}

type toolRegistration struct {
	Tool   *mcp.Tool
	Target toolTarget
}

func newFeatureIndex(ns NamespaceStrategy) *featureIndex {
	return &featureIndex{
		ns:          ns,
		tools:       make(map[string]toolTarget),
		serverTools: make(map[string][]string),
	}
}

// UpdateTools replaces everything registered for serverID with upstream.
func (f *featureIndex) UpdateTools(serverID string, upstream []mcpmgr.ToolSchema) (removed []string, added []toolRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed = f.removeToolsLocked(serverID)
	added = make([]toolRegistration, 0, len(upstream))
	names := make([]string, 0, len(upstream))
	for _, tool := range upstream {
		if tool.Name == "" {
			continue
		}
		gatewayName := f.ns.ToolName(serverID, tool.Name)
		target := toolTarget{GatewayName: gatewayName, ServerID: serverID, NativeName: tool.Name}
		f.tools[gatewayName] = target
		added = append(added, toolRegistration{Tool: gatewayTool(tool, gatewayName, serverID), Target: target})
		names = append(names, gatewayName)
	}
	if len(names) > 0 {
		f.serverTools[serverID] = names
	}
	return removed, added
}

func (f *featureIndex) ToolTarget(name string) (toolTarget, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tools[name]
	return t, ok
}

// Len reports how many tools are currently exposed.
func (f *featureIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.tools)
}

func (f *featureIndex) removeToolsLocked(serverID string) []string {
	names := f.serverTools[serverID]
	if len(names) == 0 {
		return nil
	}
	for _, name := range names {
		delete(f.tools, name)
	}
	delete(f.serverTools, serverID)
	return append([]string(nil), names...)
}

func gatewayTool(tool mcpmgr.ToolSchema, gatewayName, serverID string) *mcp.Tool {
	return &mcp.Tool{
		Name:        gatewayName,
		Description: tool.Description,
		InputSchema: objectSchema(tool.InputSchema),
		Meta: map[string]any{
			metaKeyServerID:   serverID,
			metaKeyNativeName: tool.Name,
		},
	}
}

// objectSchema returns the upstream schema when it describes an object, and
// the permissive {"type":"object"} otherwise. The MCP server rejects tools
// whose input schema is not an object.
func objectSchema(raw json.RawMessage) map[string]any {
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil || schema == nil {
		return map[string]any{"type": "object"}
	}
	switch schema["type"] {
	case "object":
	case nil:
		schema["type"] = "object"
	default:
		return map[string]any{"type": "object"}
	}
	return schema
}
