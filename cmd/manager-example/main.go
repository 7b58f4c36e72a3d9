package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/vikashloomba/mcp-stdio-gateway/pkg/mcpmgr"
)

const exampleConfig = `{
  "mcpServers": {
    "everything": {
      "command": "npx",
      "args": ["-y", "@modelcontextprotocol/server-everything"]
    }
  }
}`

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	manager := mcpmgr.NewManager(&mcpmgr.ManagerOptions{
		DefaultClientName: "manager-example",
		DefaultTimeout:    60 * time.Second,
		Logger:            logger,
	})
	defer manager.Shutdown()

	if len(os.Args) > 1 {
		manager.LoadConfig(os.Args[1])
	} else {
		manager.LoadConfigFrom(strings.NewReader(exampleConfig))
	}
	manager.OnStatusChange(func(serverID string, status mcpmgr.ServerStatus) {
		fmt.Printf("[%s] %s\n", serverID, status)
	})

	ctx := context.Background()
	for _, id := range manager.ServerIDs() {
		cfg, _ := manager.ServerConfig(id)
		fmt.Printf("Configured server: %s (%s)\n", id, cfg.CommandLine())
		manager.EnableServer(ctx, id)
	}

	for _, info := range manager.Servers() {
		fmt.Printf("Status: %s=%s tools=%d\n", info.ID, info.Status, len(info.Tools))
		if info.Error != "" {
			fmt.Printf("  error: %s\n", info.Error)
		}
	}
	for _, st := range manager.AllTools() {
		fmt.Printf("  %s/%s: %s\n", st.ServerID, st.Tool.Name, st.Tool.Description)
	}

	if _, ok := manager.ToolSchema("everything", "echo"); ok {
		content, err := manager.CallTool(ctx, "everything", "echo", map[string]any{"message": "hello from mcpmgr"})
		if err != nil {
			fmt.Printf("echo failed: %v\n", err)
		} else {
			fmt.Printf("echo -> %s\n", content)
		}
	}
}
