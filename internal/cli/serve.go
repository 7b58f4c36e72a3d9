package cli

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/spf13/cobra"

	mcpgateway "github.com/vikashloomba/mcp-stdio-gateway/pkg/mcp-gateway"
)

type serveOptions struct {
	addr                string
	path                string
	enable              []string
	all                 bool
	bearerToken         string
	resourceMetadataURL string
	authorizationServer string
	allowedOrigins      []string
	jsonResponse        bool
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve enabled servers' tools over Streamable HTTP",
		Long: `Serve loads the configuration, enables the requested servers and exposes
their tools as <server>__<tool> on a Streamable HTTP MCP endpoint until
interrupted. Every server process is stopped on exit.

Admin routes: GET /servers, GET /servers/{id}, POST /servers/{id}/enable,
POST /servers/{id}/disable, GET /tools, GET /healthz and GET /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", ":8700", "Listen address")
	cmd.Flags().StringVar(&opts.path, "path", "/mcp", "HTTP path of the MCP endpoint")
	cmd.Flags().StringSliceVar(&opts.enable, "enable", nil, "Server ids to enable at startup")
	cmd.Flags().BoolVar(&opts.all, "all", false, "Enable every configured server at startup")
	cmd.Flags().StringVar(&opts.bearerToken, "bearer-token", "", "Require this bearer token on the MCP endpoint and admin routes")
	cmd.Flags().StringVar(&opts.resourceMetadataURL, "resource-metadata-url", "", "Advertise this OAuth protected resource metadata URL on 401 responses")
	cmd.Flags().StringVar(&opts.authorizationServer, "authorization-server", "", "Authorization server listed in /.well-known/oauth-protected-resource")
	cmd.Flags().StringSliceVar(&opts.allowedOrigins, "allowed-origin", nil, "CORS origins allowed to call the gateway (default any)")
	cmd.Flags().BoolVar(&opts.jsonResponse, "json-response", false, "Answer MCP requests with application/json instead of SSE streams")
	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, opts *serveOptions) error {
	manager, logger, err := root.newManager(cmd)
	if err != nil {
		return err
	}
	defer manager.Shutdown()

	if err := enableServers(cmd, manager, logger, opts.enable, opts.all); err != nil {
		return err
	}

	gatewayOpts := &mcpgateway.Options{
		Addr:                opts.addr,
		Path:                opts.path,
		Logger:              logger,
		AuthorizationServer: opts.authorizationServer,
		AllowedOrigins:      opts.allowedOrigins,
	}
	gatewayOpts.Streamable.JSONResponse = opts.jsonResponse
	if opts.bearerToken != "" {
		gatewayOpts.TokenVerifier = staticTokenVerifier(opts.bearerToken)
		gatewayOpts.TokenOptions = &auth.RequireBearerTokenOptions{
			ResourceMetadataURL: opts.resourceMetadataURL,
		}
	}
	gateway, err := mcpgateway.NewGateway(manager, gatewayOpts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	effective := gateway.Options()
	logger.Info("gateway serving Streamable MCP", "addr", effective.Addr, "path", effective.Path, "servers", len(manager.ServerIDs()))
	if err := gateway.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutting down")
	return nil
}

// staticTokenVerifier accepts exactly one shared secret.
func staticTokenVerifier(token string) auth.TokenVerifier {
	want := []byte(token)
	return func(_ context.Context, got string, _ *http.Request) (*auth.TokenInfo, error) {
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			return nil, auth.ErrInvalidToken
		}
		return &auth.TokenInfo{Expiration: time.Now().Add(time.Hour)}, nil
	}
}
