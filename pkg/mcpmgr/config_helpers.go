package mcpmgr

import (
	"maps"
	"slices"
	"strings"
)

// Lightweight helpers for working with ServerConfig values without mutating
// the copy held by the manager.

// clone returns a deep copy so later edits to the caller's slices or maps do
// not leak into a loaded configuration.
func (c ServerConfig) clone() ServerConfig {
	out := ServerConfig{Command: c.Command}
	if len(c.Args) > 0 {
		out.Args = append([]string(nil), c.Args...)
	}
	if len(c.Env) > 0 {
		out.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			out.Env[k] = v
		}
	}
	return out
}

// Environ overlays the configured environment onto base (typically
// os.Environ()). Overlay keys replace inherited entries instead of being
// appended as duplicates.
func (c ServerConfig) Environ(base []string) []string {
	if len(c.Env) == 0 {
		return append([]string(nil), base...)
	}
	env := make([]string, 0, len(base)+len(c.Env))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := c.Env[key]; overridden {
			continue
		}
		env = append(env, kv)
	}
	for _, key := range slices.Sorted(maps.Keys(c.Env)) {
		env = append(env, key+"="+c.Env[key])
	}
	return env
}

// CommandLine renders the command and arguments for display.
func (c ServerConfig) CommandLine() string {
	if len(c.Args) == 0 {
		return c.Command
	}
	return c.Command + " " + strings.Join(c.Args, " ")
}
