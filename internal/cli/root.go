// Package cli implements the mcp-gateway command tree.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vikashloomba/mcp-stdio-gateway/pkg/mcpmgr"
)

// envPrefix names the environment variables that supply unset flags, e.g.
// MCP_GATEWAY_CONFIG for --config.
const envPrefix = "MCP_GATEWAY_"

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath     string
	logLevel       string
	requestTimeout time.Duration
	shutdownGrace  time.Duration
	logJSONRPC     bool
	jsonOutput     bool
}

// NewRootCommand builds the mcp-gateway command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "mcp-gateway",
		Short: "Run and inspect stdio MCP tool servers",
		Long: `mcp-gateway launches the MCP servers declared in an mcpServers
configuration document, aggregates their tools and serves them over a single
Streamable HTTP endpoint.

Servers are only started once enabled, either with --enable/--all or through
the gateway's admin routes.

Every flag can also be set through an environment variable named after it,
for example MCP_GATEWAY_CONFIG or MCP_GATEWAY_BEARER_TOKEN. Flags given on
the command line win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return applyEnv(cmd.Flags())
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", mcpmgr.DefaultConfigPath(), "Path to the mcpServers configuration document")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	cmd.PersistentFlags().DurationVar(&opts.requestTimeout, "request-timeout", 30*time.Second, "Timeout for each request sent to an MCP server")
	cmd.PersistentFlags().DurationVar(&opts.shutdownGrace, "shutdown-grace", 5*time.Second, "How long a server may take to exit after SIGTERM")
	cmd.PersistentFlags().BoolVar(&opts.logJSONRPC, "log-jsonrpc", false, "Print every JSON-RPC line exchanged with servers")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newServersCommand(opts))
	cmd.AddCommand(newToolsCommand(opts))
	cmd.AddCommand(newCallCommand(opts))
	return cmd
}

// applyEnv fills every flag left unset on the command line from its
// MCP_GATEWAY_<NAME> variable.
func applyEnv(flags *pflag.FlagSet) error {
	var errs []error
	flags.VisitAll(func(flag *pflag.Flag) {
		if flag.Changed || flag.Name == "help" {
			return
		}
		key := envName(flag.Name)
		value, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if err := flags.Set(flag.Name, value); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	})
	return errors.Join(errs...)
}

func envName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid --log-level %q", s)
	}
	return level, nil
}

func (o *rootOptions) logger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(o.logLevel)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// newManager builds a Manager and loads the configuration document. Servers
// are not started.
func (o *rootOptions) newManager(cmd *cobra.Command) (*mcpmgr.Manager, *slog.Logger, error) {
	logger, err := o.logger(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	manager := mcpmgr.NewManager(&mcpmgr.ManagerOptions{
		DefaultClientName: "mcp-gateway",
		DefaultTimeout:    o.requestTimeout,
		ShutdownGrace:     o.shutdownGrace,
		DefaultLogJSONRPC: o.logJSONRPC,
		Logger:            logger,
	})
	manager.LoadConfig(o.configPath)
	return manager, logger, nil
}

// enableServers enables the requested ids, or every configured server when
// all is set. Unknown ids are an error; failed connects are logged and left
// for the caller to inspect through ServerInfo.
func enableServers(cmd *cobra.Command, manager *mcpmgr.Manager, logger *slog.Logger, ids []string, all bool) error {
	if all {
		ids = manager.ServerIDs()
	}
	for _, id := range ids {
		if !manager.HasServer(id) {
			return fmt.Errorf("server %q is not configured", id)
		}
	}
	for _, id := range ids {
		if !manager.EnableServer(cmd.Context(), id) {
			info, _ := manager.ServerInfo(id)
			logger.Warn("server failed to start", "server", id, "error", info.Error)
		}
	}
	return nil
}
