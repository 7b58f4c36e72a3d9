package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"

	"github.com/vikashloomba/mcp-stdio-gateway/pkg/mcpmgr"
)

// Gateway exposes a Streamable MCP server that fronts every enabled server
// managed by mcpmgr under a single HTTP endpoint.
type Gateway struct {
	manager *mcpmgr.Manager
	opts    Options

	features *featureIndex
	metrics  *metrics

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux
	httpHandler   http.Handler
	requireAuth   func(http.Handler) http.Handler

	// serverMu orders feature index updates with the matching
	// AddTool/RemoveTools calls.
	serverMu     sync.Mutex
	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewGateway builds a Gateway, synchronizes the initial tool snapshot, and
// follows the manager's status changes from then on.
func NewGateway(mgr *mcpmgr.Manager, opts *Options) (*Gateway, error) {
	if mgr == nil {
		return nil, fmt.Errorf("mcpgateway: manager is required")
	}
	options := opts.withDefaults()
	if options.TokenOptions != nil && options.TokenVerifier == nil {
		return nil, fmt.Errorf("mcpgateway: TokenOptions requires a TokenVerifier")
	}
	g := &Gateway{
		manager:  mgr,
		opts:     options,
		features: newFeatureIndex(options.Namespace),
		metrics:  newMetrics(),
	}
	if options.TokenVerifier != nil {
		g.requireAuth = auth.RequireBearerToken(options.TokenVerifier, options.TokenOptions)
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools: true,
	})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.mux = g.buildMux()
	g.httpHandler = cors.New(cors.Options{
		AllowedOrigins: options.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Mcp-Session-Id", "WWW-Authenticate"},
	}).Handler(g.mux)

	mgr.OnStatusChange(g.handleStatusChange)

	if options.AutoEnable {
		ctx := context.Background()
		for _, serverID := range mgr.ServerIDs() {
			if !mgr.EnableServer(ctx, serverID) {
				options.Logger.Warn("auto-enable failed", "server", serverID)
			}
		}
	}
	g.SyncAll()

	return g, nil
}

// Handler exposes the HTTP handler that serves the Streamable endpoint, the
// admin routes and anything registered on ServeMux.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// ServeMux returns the mux behind Handler so embedders can register extra
// routes, before or after serving starts.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// Options returns the effective options after defaults were applied.
func (g *Gateway) Options() Options {
	return g.opts
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running. Upstream servers
// are left to the manager's owner.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

// SyncAll refreshes every configured server.
func (g *Gateway) SyncAll() {
	for _, serverID := range g.manager.ServerIDs() {
		if err := g.SyncServer(serverID); err != nil {
			g.logError("sync server", err, "server", serverID)
		}
	}
}

// SyncServer replaces the tools advertised for serverID with what the manager
// currently reports. Disabled or disconnected servers end up with none.
func (g *Gateway) SyncServer(serverID string) error {
	if !g.manager.HasServer(serverID) {
		return fmt.Errorf("mcpgateway: server %q: %w", serverID, mcpmgr.ErrServerNotFound)
	}
	g.serverMu.Lock()
	defer g.serverMu.Unlock()

	var tools []mcpmgr.ToolSchema
	for _, st := range g.manager.AllTools() {
		if st.ServerID == serverID {
			tools = append(tools, st.Tool)
		}
	}
	removed, added := g.features.UpdateTools(serverID, tools)
	if len(removed) > 0 {
		g.server.RemoveTools(removed...)
	}
	for _, reg := range added {
		g.server.AddTool(reg.Tool, g.makeToolHandler(reg.Target))
	}
	g.metrics.exposedTools.Set(float64(g.features.Len()))
	if len(removed) > 0 || len(added) > 0 {
		g.opts.Logger.Debug("synchronized tools", "server", serverID, "removed", len(removed), "added", len(added))
	}
	return nil
}

func (g *Gateway) handleStatusChange(serverID string, status mcpmgr.ServerStatus) {
	g.metrics.serverTransitions.WithLabelValues(serverID, string(status)).Inc()
	if err := g.SyncServer(serverID); err != nil {
		g.logError("sync server", err, "server", serverID)
	}
}

func (g *Gateway) makeToolHandler(target toolTarget) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args map[string]any
		if req != nil && req.Params != nil {
			decoded, err := decodeArguments(req.Params.Arguments)
			if err != nil {
				g.metrics.toolCalls.WithLabelValues(target.ServerID, outcomeRejected).Inc()
				return errorResult(err), nil
			}
			args = decoded
		}
		callID := uuid.NewString()
		logger := g.opts.Logger.With("call_id", callID, "server", target.ServerID, "tool", target.NativeName)
		logger.Debug("routing tool call")

		started := time.Now()
		content, err := g.manager.CallTool(ctx, target.ServerID, target.NativeName, args)
		g.metrics.recordCall(target.ServerID, started, err)
		var res *mcp.CallToolResult
		if err != nil {
			logger.Warn("tool call failed", "error", err)
			res = errorResult(err)
		} else {
			res = contentResult(content)
		}
		res.Meta = map[string]any{
			metaKeyCallID:     callID,
			metaKeyServerID:   target.ServerID,
			metaKeyNativeName: target.NativeName,
		}
		return res, nil
	}
}

// decodeArguments accepts whatever representation the MCP server handed us
// and normalizes it to a JSON object.
func decodeArguments(raw any) (map[string]any, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("mcpgateway: encode arguments: %w", err)
	}
	var args map[string]any
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("mcpgateway: arguments must be a JSON object: %w", err)
	}
	return args, nil
}

// contentResult wraps upstream content in a CallToolResult. Content blocks the
// SDK does not model are passed through as a single text block.
func contentResult(content json.RawMessage) *mcp.CallToolResult {
	wrapped, err := json.Marshal(map[string]json.RawMessage{"content": content})
	if err == nil {
		var res mcp.CallToolResult
		if err := json.Unmarshal(wrapped, &res); err == nil {
			if res.Content == nil {
				res.Content = []mcp.Content{}
			}
			return &res
		}
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(content)}}}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}

func (g *Gateway) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	mux.Handle(path, g.protect(g.streamHandler))
	if !strings.HasSuffix(path, "/") {
		mux.Handle(path+"/", g.protect(g.streamHandler))
	}
	g.registerAdminRoutes(mux)
	mux.HandleFunc("GET /healthz", g.handleHealth)
	mux.Handle("GET /metrics", g.metrics.handler())
	if g.opts.AuthorizationServer != "" {
		mux.HandleFunc("GET /.well-known/oauth-protected-resource", g.handleProtectedResource)
	}
	return mux
}

func (g *Gateway) protect(h http.Handler) http.Handler {
	if g.requireAuth == nil {
		return h
	}
	return g.requireAuth(h)
}

func (g *Gateway) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	g.opts.Logger.Error(msg, attrs...)
}
