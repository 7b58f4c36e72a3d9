// Package mcptest provides a scriptable stdio MCP server for tests. The
// server runs inside the test binary itself: TestMain calls Main, and a
// ServerConfig built from Command and Env re-executes the binary in server
// mode.
package mcptest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	envServe   = "MCPTEST_SERVE"
	envTools   = "MCPTEST_TOOLS"
	envModes   = "MCPTEST_MODES"
	envPIDFile = "MCPTEST_PIDFILE"
)

// Mode switches scripted misbehaviour on.
type Mode string

const (
	// ModeSilent reads requests but never replies.
	ModeSilent Mode = "silent"
	// ModeInitError answers initialize with an error envelope.
	ModeInitError Mode = "init-error"
	// ModeListError answers tools/list with an error envelope.
	ModeListError Mode = "list-error"
	// ModeIgnoreTerm ignores SIGTERM and keeps running after stdin closes.
	ModeIgnoreTerm Mode = "ignore-term"
	// ModeNoise precedes every reply with an unparsable line and a reply
	// for an id that was never requested.
	ModeNoise Mode = "noise"
)

// Tool is a tool the fake server advertises.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Options describe one fake server.
type Options struct {
	Tools []Tool
	Modes []Mode
	// PIDFile, when set, receives the server's process id on start.
	PIDFile string
}

// Command returns the executable and arguments that start a fake server.
func Command() (string, []string) {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return exe, []string{"-test.run=^$"}
}

// Env returns the environment overlay selecting opts.
func Env(opts Options) map[string]string {
	env := map[string]string{envServe: "1"}
	if opts.Tools != nil {
		data, _ := json.Marshal(opts.Tools)
		env[envTools] = string(data)
	}
	if len(opts.Modes) > 0 {
		modes := make([]string, len(opts.Modes))
		for i, m := range opts.Modes {
			modes[i] = string(m)
		}
		env[envModes] = strings.Join(modes, ",")
	}
	if opts.PIDFile != "" {
		env[envPIDFile] = opts.PIDFile
	}
	return env
}

// Main turns the current process into a fake server when it was started by
// Command with Env. It returns immediately otherwise.
func Main() {
	if os.Getenv(envServe) != "1" {
		return
	}
	opts := Options{}
	if raw := os.Getenv(envTools); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts.Tools); err != nil {
			fmt.Fprintf(os.Stderr, "mcptest: bad %s: %v\n", envTools, err)
			os.Exit(2)
		}
	}
	for _, m := range strings.Split(os.Getenv(envModes), ",") {
		if m != "" {
			opts.Modes = append(opts.Modes, Mode(m))
		}
	}
	if path := os.Getenv(envPIDFile); path != "" {
		_ = os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
	}
	os.Exit(Serve(os.Stdin, os.Stdout, opts))
}

type server struct {
	opts  Options
	modes map[Mode]bool

	mu  sync.Mutex
	out io.Writer
	wg  sync.WaitGroup
}

type request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Serve runs the scripted server loop until in is exhausted.
func Serve(in io.Reader, out io.Writer, opts Options) int {
	s := &server{opts: opts, modes: make(map[Mode]bool), out: out}
	for _, m := range opts.Modes {
		s.modes[m] = true
	}
	if s.modes[ModeIgnoreTerm] {
		signal.Ignore(syscall.SIGTERM)
	}
	fmt.Fprintln(os.Stderr, "mcptest: fake server ready")

	r := bufio.NewReader(in)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			s.handle(line)
		}
		if err != nil {
			break
		}
	}
	s.wg.Wait()
	if s.modes[ModeIgnoreTerm] {
		for {
			time.Sleep(time.Hour)
		}
	}
	return 0
}

func (s *server) handle(line []byte) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return
	}
	if len(req.ID) == 0 || s.modes[ModeSilent] {
		return
	}
	switch req.Method {
	case "initialize":
		if s.modes[ModeInitError] {
			s.replyError(req.ID, -32603, "initialization refused")
			return
		}
		s.reply(req.ID, map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "mcptest", "version": "1.0.0"},
		})
	case "tools/list":
		if s.modes[ModeListError] {
			s.replyError(req.ID, -32601, "method not found: tools/list")
			return
		}
		tools := s.opts.Tools
		if tools == nil {
			tools = []Tool{}
		}
		s.reply(req.ID, map[string]any{"tools": tools})
	case "tools/call":
		s.callTool(req)
	default:
		s.replyError(req.ID, -32601, "method not found: "+req.Method)
	}
}

func (s *server) callTool(req request) {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	_ = json.Unmarshal(req.Params, &params)
	text := func(v any) map[string]any {
		return map[string]any{"content": []map[string]any{{"type": "text", "text": fmt.Sprint(v)}}}
	}
	switch params.Name {
	case "echo":
		s.reply(req.ID, text(params.Arguments["text"]))
	case "env":
		name, _ := params.Arguments["name"].(string)
		s.reply(req.ID, text(os.Getenv(name)))
	case "sleep":
		ms, _ := params.Arguments["ms"].(float64)
		tag := params.Arguments["tag"]
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			time.Sleep(time.Duration(ms) * time.Millisecond)
			s.reply(req.ID, text(tag))
		}()
	case "hang":
	case "fail":
		s.replyError(req.ID, -32000, "boom")
	default:
		s.replyError(req.ID, -32602, "unknown tool: "+params.Name)
	}
}

func (s *server) reply(id json.RawMessage, result any) {
	s.write(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func (s *server) replyError(id json.RawMessage, code int, message string) {
	s.write(map[string]any{"jsonrpc": "2.0", "id": id, "error": map[string]any{"code": code, "message": message}})
}

func (s *server) write(msg map[string]any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modes[ModeNoise] {
		fmt.Fprintln(s.out, "this is not json {")
		fmt.Fprintln(s.out, `{"jsonrpc":"2.0","id":987654,"result":{"content":[]}}`)
	}
	_, _ = s.out.Write(append(data, '\n'))
}
