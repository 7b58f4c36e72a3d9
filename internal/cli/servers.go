package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type serverRow struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Status  string `json:"status"`
	Enabled bool   `json:"enabled"`
}

func newServersCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List configured servers without starting them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, _, err := root.newManager(cmd)
			if err != nil {
				return err
			}
			defer manager.Shutdown()

			rows := make([]serverRow, 0, len(manager.ServerIDs()))
			for _, info := range manager.Servers() {
				cfg, _ := manager.ServerConfig(info.ID)
				rows = append(rows, serverRow{
					ID:      info.ID,
					Command: cfg.CommandLine(),
					Status:  string(info.Status),
					Enabled: info.Enabled,
				})
			}

			out := cmd.OutOrStdout()
			if root.jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			if len(rows) == 0 {
				fmt.Fprintf(out, "No servers configured in %s\n", root.configPath)
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tCOMMAND")
			for _, row := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\n", row.ID, row.Status, row.Command)
			}
			return w.Flush()
		},
	}
}
