package cli

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCallCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "call <server> <tool> [json-arguments]",
		Short: "Invoke one tool on one server and print its content",
		Example: `  mcp-gateway call filesystem read_file '{"path":"/etc/hostname"}'
  mcp-gateway call time get_current_time`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverID, toolName := args[0], args[1]
			var toolArgs map[string]any
			if len(args) == 3 {
				if err := json.Unmarshal([]byte(args[2]), &toolArgs); err != nil {
					return fmt.Errorf("arguments must be a JSON object: %w", err)
				}
			}

			manager, logger, err := root.newManager(cmd)
			if err != nil {
				return err
			}
			defer manager.Shutdown()
			if err := enableServers(cmd, manager, logger, []string{serverID}, false); err != nil {
				return err
			}

			content, err := manager.CallTool(cmd.Context(), serverID, toolName, toolArgs)
			if err != nil {
				if info, ok := manager.ServerInfo(serverID); ok && info.Error != "" {
					return fmt.Errorf("%w (%s)", err, info.Error)
				}
				return err
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, content, "", "  "); err != nil {
				pretty.Reset()
				pretty.Write(content)
			}
			pretty.WriteByte('\n')
			_, err = cmd.OutOrStdout().Write(pretty.Bytes())
			return err
		},
	}
}
