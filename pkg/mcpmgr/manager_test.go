package mcpmgr

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcp-stdio-gateway/internal/mcptest"
)

func newTestManager(t *testing.T, servers map[string]mcptest.Options, order ...string) *Manager {
	t.Helper()
	m := NewManager(&ManagerOptions{
		DefaultClientName: "manager-tests",
		DefaultTimeout:    5 * time.Second,
		ShutdownGrace:     time.Second,
		Logger:            discardLogger(),
	})
	var b strings.Builder
	b.WriteString(`{"mcpServers":{`)
	for i, id := range order {
		if i > 0 {
			b.WriteByte(',')
		}
		data, err := json.Marshal(fakeServer(servers[id]))
		require.NoError(t, err)
		idJSON, _ := json.Marshal(id)
		b.Write(idJSON)
		b.WriteByte(':')
		b.Write(data)
	}
	b.WriteString(`}}`)
	m.LoadConfigFrom(strings.NewReader(b.String()))
	t.Cleanup(m.Shutdown)
	return m
}

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcp_servers.json")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func toolNames(tools []ServerTool) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.ServerID+"/"+t.Tool.Name)
	}
	return names
}

func TestManagerLoadConfigAndSummaries(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		"mcpServers": {
			"zeta":  {"command": "npx", "args": ["@modelcontextprotocol/server-everything"], "env": {"A": "B"}},
			"alpha": {"command": "uvx", "args": ["mcp-server-time"]}
		}
	}`)

	m := NewManager(&ManagerOptions{Logger: discardLogger()})
	m.LoadConfig(path)

	if got := m.ServerIDs(); !reflect.DeepEqual(got, []string{"zeta", "alpha"}) {
		t.Fatalf("ServerIDs() = %v, want declaration order", got)
	}
	if !m.HasServer("alpha") || m.HasServer("missing") {
		t.Fatalf("HasServer mismatch")
	}

	cfg, ok := m.ServerConfig("zeta")
	if !ok || cfg.Command != "npx" || cfg.Env["A"] != "B" {
		t.Fatalf("ServerConfig(zeta) = %#v, %v", cfg, ok)
	}
	cfg.Args[0] = "mutated"
	if again, _ := m.ServerConfig("zeta"); again.Args[0] != "@modelcontextprotocol/server-everything" {
		t.Fatalf("ServerConfig returned shared slice")
	}

	infos := m.Servers()
	if len(infos) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(infos))
	}
	for _, info := range infos {
		if info.Status != StatusDisconnected || info.Enabled || len(info.Tools) != 0 || info.Error != "" {
			t.Fatalf("unexpected initial summary %#v", info)
		}
	}
	if infos[0].ID != "zeta" || infos[1].ID != "alpha" {
		t.Fatalf("summaries out of order: %v, %v", infos[0].ID, infos[1].ID)
	}
}

func TestManagerLoadConfigKeepsPreviousOnFailure(t *testing.T) {
	t.Parallel()

	m := NewManager(&ManagerOptions{Logger: discardLogger()})
	m.LoadConfig(writeConfig(t, `{"mcpServers":{"a":{"command":"a"}}}`))
	m.LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.json"))
	m.LoadConfig(writeConfig(t, `{"mcpServers": [`))
	m.LoadConfig(writeConfig(t, `{"mcpServers": ["a"]}`))

	assert.Equal(t, []string{"a"}, m.ServerIDs())

	// A later document merges: existing ids keep their position.
	m.LoadConfig(writeConfig(t, `{"mcpServers":{"b":{"command":"b"},"a":{"command":"a2"}}}`))
	assert.Equal(t, []string{"a", "b"}, m.ServerIDs())
	cfg, _ := m.ServerConfig("a")
	assert.Equal(t, "a2", cfg.Command)
}

func TestManagerEnableUnknownServer(t *testing.T) {
	t.Parallel()

	m := NewManager(&ManagerOptions{Logger: discardLogger()})
	assert.False(t, m.EnableServer(context.Background(), "nope"))
	assert.False(t, m.DisableServer("nope"))
	assert.Nil(t, m.connection("nope"))
	_, ok := m.ServerInfo("nope")
	assert.False(t, ok)
	assert.Empty(t, m.AllTools())
}

func TestManagerServerInfoForNeverEnabledServer(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, map[string]mcptest.Options{"a": {Tools: fakeTools("x")}}, "a")
	info, ok := m.ServerInfo("a")
	require.True(t, ok)
	assert.Equal(t, ServerInfo{ID: "a", Status: StatusDisconnected, Tools: []string{}}, info)
	assert.Nil(t, m.connection("a"), "connections are created lazily")
}

func TestManagerAggregatesToolsAcrossServers(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, map[string]mcptest.Options{
		"A": {Tools: fakeTools("x", "y")},
		"B": {Tools: fakeTools("z")},
	}, "A", "B")

	// Enable in reverse to show output follows declaration order.
	require.True(t, m.EnableServer(context.Background(), "B"))
	require.True(t, m.EnableServer(context.Background(), "A"))
	assert.Equal(t, []string{"A/x", "A/y", "B/z"}, toolNames(m.AllTools()))

	connA := m.connection("A")
	require.NotNil(t, connA)
	require.True(t, m.DisableServer("A"))
	assert.Equal(t, []string{"B/z"}, toolNames(m.AllTools()))

	info, _ := m.ServerInfo("A")
	assert.Equal(t, StatusDisconnected, info.Status)
	assert.False(t, info.Enabled)
	assert.Empty(t, info.Tools)
	assert.Same(t, connA, m.connection("A"), "disable keeps the connection object")

	require.True(t, m.EnableServer(context.Background(), "A"))
	assert.Same(t, connA, m.connection("A"), "re-enable reuses the connection object")
	assert.Equal(t, []string{"A/x", "A/y", "B/z"}, toolNames(m.AllTools()))

	info, _ = m.ServerInfo("A")
	assert.Equal(t, []string{"x", "y"}, info.Tools)
	assert.True(t, info.Enabled)
	assert.Equal(t, StatusConnected, info.Status)
}

func TestManagerEnableIsIdempotent(t *testing.T) {
	t.Parallel()

	pidFile := filepath.Join(t.TempDir(), "server.pid")
	m := newTestManager(t, map[string]mcptest.Options{
		"a": {Tools: fakeTools("echo"), PIDFile: pidFile},
	}, "a")

	require.True(t, m.EnableServer(context.Background(), "a"))
	first, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	conn := m.connection("a")

	require.True(t, m.EnableServer(context.Background(), "a"))
	second, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second), "second enable must not respawn")
	assert.Same(t, conn, m.connection("a"))
}

func TestManagerCallToolRouting(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, map[string]mcptest.Options{
		"on":  {Tools: fakeTools("echo", "fail")},
		"off": {Tools: fakeTools("echo")},
	}, "on", "off")
	require.True(t, m.EnableServer(context.Background(), "on"))

	_, err := m.CallTool(context.Background(), "ghost", "echo", nil)
	require.ErrorIs(t, err, ErrServerNotFound)

	_, err = m.CallTool(context.Background(), "off", "echo", nil)
	require.ErrorIs(t, err, ErrServerNotConnected)
	assert.Nil(t, m.connection("off"))

	_, err = m.CallTool(context.Background(), "on", "nope", nil)
	require.ErrorIs(t, err, ErrToolNotFound)

	_, err = m.CallTool(context.Background(), "on", "fail", nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "boom", rpcErr.Message)

	content, err := m.CallTool(context.Background(), "on", "echo", map[string]any{"text": "routed"})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"text","text":"routed"}]`, string(content))

	require.True(t, m.DisableServer("on"))
	_, err = m.CallTool(context.Background(), "on", "echo", nil)
	require.ErrorIs(t, err, ErrServerNotConnected)
}

func TestManagerToolSchema(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, map[string]mcptest.Options{
		"a": {Tools: []mcptest.Tool{{Name: "search", InputSchema: searchSchema}}},
	}, "a")
	_, ok := m.ToolSchema("a", "search")
	assert.False(t, ok)

	require.True(t, m.EnableServer(context.Background(), "a"))
	schema, ok := m.ToolSchema("a", "search")
	require.True(t, ok)
	assert.Equal(t, string(searchSchema), string(schema.InputSchema))
}

func TestManagerFailedServerIsIsolated(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, map[string]mcptest.Options{
		"bad":  {Tools: fakeTools("x"), Modes: []mcptest.Mode{mcptest.ModeInitError}},
		"good": {Tools: fakeTools("y")},
	}, "bad", "good")

	assert.False(t, m.EnableServer(context.Background(), "bad"))
	assert.True(t, m.EnableServer(context.Background(), "good"))

	info, _ := m.ServerInfo("bad")
	assert.Equal(t, StatusError, info.Status)
	assert.True(t, info.Enabled)
	assert.Contains(t, info.Error, "initialization refused")
	assert.Equal(t, []string{"good/y"}, toolNames(m.AllTools()))

	err := m.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad:")

	require.True(t, m.DisableServer("bad"))
	info, _ = m.ServerInfo("bad")
	assert.Equal(t, StatusDisconnected, info.Status)
}

func TestManagerShutdown(t *testing.T) {
	t.Parallel()

	empty := NewManager(&ManagerOptions{Logger: discardLogger()})
	empty.Shutdown()

	m := newTestManager(t, map[string]mcptest.Options{
		"a": {Tools: fakeTools("x")},
		"b": {Tools: fakeTools("y")},
	}, "a", "b")
	require.True(t, m.EnableServer(context.Background(), "a"))
	require.True(t, m.EnableServer(context.Background(), "b"))
	connA := m.connection("a")
	require.True(t, m.DisableServer("b"))

	m.Shutdown()
	m.Shutdown()

	assert.Equal(t, StatusDisconnected, connA.Status())
	assert.Nil(t, m.connection("a"))
	assert.Nil(t, m.connection("b"))
	assert.Empty(t, m.AllTools())
	for _, info := range m.Servers() {
		assert.Equal(t, StatusDisconnected, info.Status)
		assert.False(t, info.Enabled)
	}
	assert.Equal(t, []string{"a", "b"}, m.ServerIDs(), "configuration survives shutdown")
}

func TestManagerStatusHandlers(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, map[string]mcptest.Options{"a": {Tools: fakeTools("x")}}, "a")

	var mu sync.Mutex
	var events []string
	m.OnStatusChange(func(id string, status ServerStatus) {
		mu.Lock()
		events = append(events, id+":"+string(status))
		mu.Unlock()
	})
	m.OnStatusChange(func(string, ServerStatus) { panic("handler panics are contained") })
	m.OnStatusChange(nil)

	require.True(t, m.EnableServer(context.Background(), "a"))
	require.True(t, m.DisableServer("a"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a:connected", "a:disconnected"}, events)
}

func TestManagerConcurrentEnableDisable(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, map[string]mcptest.Options{"a": {Tools: fakeTools("x")}}, "a")

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				m.EnableServer(context.Background(), "a")
			} else {
				m.DisableServer("a")
			}
			_ = m.AllTools()
			_ = m.Servers()
		}(i)
	}
	wg.Wait()

	require.True(t, m.DisableServer("a"))
	info, _ := m.ServerInfo("a")
	assert.Equal(t, StatusDisconnected, info.Status)
	assert.Empty(t, m.AllTools())

	require.True(t, m.EnableServer(context.Background(), "a"))
	assert.Equal(t, []string{"a/x"}, toolNames(m.AllTools()))
}
