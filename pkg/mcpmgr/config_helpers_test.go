package mcpmgr

import (
	"reflect"
	"testing"
)

func TestConfigHelpersEnviron(t *testing.T) {
	t.Parallel()

	cfg := ServerConfig{
		Command: "npx",
		Env:     map[string]string{"TOKEN": "new", "B_EXTRA": "1", "A_EXTRA": "2"},
	}
	base := []string{"PATH=/usr/bin", "TOKEN=old", "HOME=/root"}

	got := cfg.Environ(base)
	want := []string{"PATH=/usr/bin", "HOME=/root", "A_EXTRA=2", "B_EXTRA=1", "TOKEN=new"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Environ() = %v, want %v", got, want)
	}
	if base[1] != "TOKEN=old" {
		t.Fatalf("Environ mutated its input: %v", base)
	}

	plain := ServerConfig{Command: "npx"}
	if got := plain.Environ(base); !reflect.DeepEqual(got, base) {
		t.Fatalf("Environ without overlay = %v, want inherited env", got)
	}
}

func TestConfigHelpersClone(t *testing.T) {
	t.Parallel()

	orig := ServerConfig{
		Command: "npx",
		Args:    []string{"@modelcontextprotocol/server-everything"},
		Env:     map[string]string{"A": "B"},
	}
	cp := orig.clone()
	cp.Args[0] = "changed"
	cp.Env["A"] = "changed"

	if orig.Args[0] != "@modelcontextprotocol/server-everything" || orig.Env["A"] != "B" {
		t.Fatalf("clone shares storage with original: %#v", orig)
	}
	if empty := (ServerConfig{Command: "x"}).clone(); empty.Args != nil || empty.Env != nil {
		t.Fatalf("clone of bare config should keep nil fields: %#v", empty)
	}
}

func TestConfigHelpersCommandLine(t *testing.T) {
	t.Parallel()

	if got := (ServerConfig{Command: "uvx"}).CommandLine(); got != "uvx" {
		t.Fatalf("CommandLine() = %q", got)
	}
	cfg := ServerConfig{Command: "npx", Args: []string{"-y", "server-everything"}}
	if got := cfg.CommandLine(); got != "npx -y server-everything" {
		t.Fatalf("CommandLine() = %q", got)
	}
}
