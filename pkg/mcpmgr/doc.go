// Package mcpmgr supervises a set of long-lived Model Context Protocol (MCP)
// tool servers launched as child processes and speaking newline-delimited
// JSON-RPC 2.0 over stdio. It owns each subprocess end to end (spawn,
// handshake, tool discovery, request multiplexing, teardown) and presents the
// union of every enabled server's tools as one catalogue.
//
// # Core entry points
//
//   - Manager is the long-lived registry. Construct it with NewManager, feed
//     it a configuration document with LoadConfig, then toggle servers with
//     EnableServer / DisableServer and release everything with Shutdown.
//   - ServerConfig declares how one server is launched: command, arguments
//     and an environment overlay applied on top of the inherited environment.
//   - Connection drives a single subprocess. Managers create connections
//     lazily on first enable and reuse them across enable/disable cycles;
//     callers that only need one server may use NewConnection directly.
//   - ManagerOptions / ConnectionOptions tune the client identity sent during
//     the handshake, per-request timeouts, the termination grace period and
//     JSON-RPC traffic logging.
//
// Once servers are connected, AllTools returns the aggregated catalogue,
// ToolSchema looks up one tool's input schema, and CallTool routes an
// invocation by (server id, tool name). Routing failures are reported as
// ErrServerNotFound, ErrServerNotConnected or ErrToolNotFound before any byte
// is written to a child; protocol failures surface as *RPCError and slow
// servers as ErrRequestTimeout.
//
// Connection failures never escape as errors from EnableServer. They are
// absorbed into the server's status and last error message, visible through
// ServerInfo and Servers.
package mcpmgr
