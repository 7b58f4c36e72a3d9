package mcpgateway

import (
	"fmt"
	"strings"
)

// NamespaceStrategy generates the downstream tool names for upstream MCP
// servers. Implementations must be deterministic and collision-free for a given
// serverID/name pair.
type NamespaceStrategy interface {
	ToolName(serverID, toolName string) string
	NativeToolName(serverID, gatewayName string) (string, bool)
}

// ServerPrefixNamespace prefixes every identifier with the originating server
// ID, separating fields with a configurable delimiter (defaults to "__" to stay
// within the MCP tool-name character guidance).
type ServerPrefixNamespace struct {
	Separator string
}

func (s ServerPrefixNamespace) separator() string {
	if s.Separator == "" {
		return "__"
	}
	return s.Separator
}

func (s ServerPrefixNamespace) ToolName(serverID, toolName string) string {
	return fmt.Sprintf("%s%s%s", serverID, s.separator(), toolName)
}

func (s ServerPrefixNamespace) NativeToolName(serverID, gatewayName string) (string, bool) {
	prefix := serverID + s.separator()
	if !strings.HasPrefix(gatewayName, prefix) || len(gatewayName) == len(prefix) {
		return "", false
	}
	return strings.TrimPrefix(gatewayName, prefix), true
}
