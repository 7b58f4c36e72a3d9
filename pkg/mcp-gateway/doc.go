// Package mcpgateway exposes the tools of every enabled mcpmgr server over a
// single Streamable HTTP MCP endpoint. Tool names are namespaced per server,
// calls are routed back through the Manager, and a small admin surface lets
// operators inspect servers and toggle them at runtime.
package mcpgateway
