package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcp-stdio-gateway/internal/mcptest"
	"github.com/vikashloomba/mcp-stdio-gateway/pkg/mcpmgr"
)

func TestMain(m *testing.M) {
	mcptest.Main()
	os.Exit(m.Run())
}

func writeFakeConfig(t *testing.T) string {
	t.Helper()
	cmd, args := mcptest.Command()
	server := func(tools ...string) mcpmgr.ServerConfig {
		opts := mcptest.Options{}
		for _, name := range tools {
			opts.Tools = append(opts.Tools, mcptest.Tool{Name: name, Description: name + " tool"})
		}
		return mcpmgr.ServerConfig{Command: cmd, Args: args, Env: mcptest.Env(opts)}
	}
	doc := map[string]map[string]mcpmgr.ServerConfig{"mcpServers": {
		"alpha": server("echo"),
		"bravo": server("fail"),
	}}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "mcp_servers.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestServersCommandListsWithoutConnecting(t *testing.T) {
	path := writeFakeConfig(t)

	out, err := execute(t, "servers", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "bravo")
	assert.Contains(t, out, "disconnected")

	out, err = execute(t, "servers", "--config", path, "--json")
	require.NoError(t, err)
	var rows []serverRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "alpha", rows[0].ID)
	assert.False(t, rows[0].Enabled)
}

func TestServersCommandMissingConfig(t *testing.T) {
	out, err := execute(t, "servers", "--config", filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Contains(t, out, "No servers configured")
}

func TestToolsCommand(t *testing.T) {
	path := writeFakeConfig(t)

	_, err := execute(t, "tools", "--config", path)
	require.Error(t, err)

	out, err := execute(t, "tools", "--config", path, "--all", "--json")
	require.NoError(t, err)
	var tools []mcpmgr.ServerTool
	require.NoError(t, json.Unmarshal([]byte(out), &tools))
	require.Len(t, tools, 2)
	assert.Equal(t, "alpha", tools[0].ServerID)
	assert.Equal(t, "echo", tools[0].Tool.Name)
	assert.Equal(t, "bravo", tools[1].ServerID)

	out, err = execute(t, "tools", "--config", path, "--enable", "bravo")
	require.NoError(t, err)
	assert.Contains(t, out, "fail tool")
	assert.NotContains(t, out, "echo")

	_, err = execute(t, "tools", "--config", path, "--enable", "ghost")
	require.ErrorContains(t, err, `"ghost" is not configured`)
}

func TestCallCommand(t *testing.T) {
	path := writeFakeConfig(t)

	out, err := execute(t, "call", "alpha", "echo", `{"text":"from the cli"}`, "--config", path)
	require.NoError(t, err)
	var content []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &content))
	require.Len(t, content, 1)
	assert.Equal(t, "from the cli", content[0]["text"])

	_, err = execute(t, "call", "alpha", "echo", `not json`, "--config", path)
	require.ErrorContains(t, err, "JSON object")

	_, err = execute(t, "call", "alpha", "missing", "--config", path)
	require.ErrorIs(t, err, mcpmgr.ErrToolNotFound)

	_, err = execute(t, "call", "bravo", "fail", "--config", path)
	var rpcErr *mcpmgr.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "boom", rpcErr.Message)
}

func TestInvalidLogLevel(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"servers", "--log-level", "loud", "--config", filepath.Join(t.TempDir(), "x.json")})
	require.ErrorContains(t, cmd.Execute(), "invalid --log-level")
}

func TestStaticTokenVerifier(t *testing.T) {
	verify := staticTokenVerifier("s3cret")

	info, err := verify(context.Background(), "s3cret", nil)
	require.NoError(t, err)
	assert.False(t, info.Expiration.IsZero())

	_, err = verify(context.Background(), "guess", nil)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestFlagsFromEnvironment(t *testing.T) {
	path := writeFakeConfig(t)
	t.Setenv("MCP_GATEWAY_CONFIG", path)

	out, err := execute(t, "servers", "--json")
	require.NoError(t, err)
	var rows []serverRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	assert.Len(t, rows, 2)

	out, err = execute(t, "servers", "--config", filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Contains(t, out, "No servers configured")

	t.Setenv("MCP_GATEWAY_REQUEST_TIMEOUT", "soon")
	_, err = execute(t, "servers")
	require.ErrorContains(t, err, "invalid MCP_GATEWAY_REQUEST_TIMEOUT")
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "MCP_GATEWAY_BEARER_TOKEN", envName("bearer-token"))
	assert.Equal(t, "MCP_GATEWAY_CONFIG", envName("config"))
}
