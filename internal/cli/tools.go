package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-stdio-gateway/pkg/mcpmgr"
)

func newToolsCommand(root *rootOptions) *cobra.Command {
	var (
		enable []string
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Start servers and print their aggregated tool catalogue",
		Long: `Tools enables the requested servers (or all of them with --all), prints
every discovered tool and stops the servers again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(enable) == 0 && !all {
				return fmt.Errorf("select servers with --enable or --all")
			}
			manager, logger, err := root.newManager(cmd)
			if err != nil {
				return err
			}
			defer manager.Shutdown()
			if err := enableServers(cmd, manager, logger, enable, all); err != nil {
				return err
			}

			tools := manager.AllTools()
			out := cmd.OutOrStdout()
			if root.jsonOutput {
				if tools == nil {
					tools = []mcpmgr.ServerTool{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(tools)
			}
			if len(tools) == 0 {
				fmt.Fprintln(out, "No tools available")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SERVER\tTOOL\tDESCRIPTION")
			for _, st := range tools {
				fmt.Fprintf(w, "%s\t%s\t%s\n", st.ServerID, st.Tool.Name, st.Tool.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&enable, "enable", nil, "Server ids to enable")
	cmd.Flags().BoolVar(&all, "all", false, "Enable every configured server")
	return cmd
}
