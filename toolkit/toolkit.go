// Package toolkit builds ready-made commands for pipeline steps. Tool
// executables and extra parameters resolve from the engine configuration's
// tools and parameters maps; unconfigured tools fall back to PATH lookup.
package toolkit

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/msageha/conveyor/config"
	"github.com/msageha/conveyor/supervisor"
)

// Kit resolves tool invocations against a loaded configuration. The zero
// value resolves everything via PATH with no extra parameters.
type Kit struct {
	tools  map[string]string
	params map[string]string
}

// New builds a Kit over cfg. A nil cfg behaves like the zero value.
func New(cfg *config.Config) *Kit {
	k := &Kit{}
	if cfg != nil {
		k.tools = cfg.Tools
		k.params = cfg.Parameters
	}
	return k
}

// Tool resolves a tool name to its configured executable, falling back to
// the bare name for PATH resolution.
func (k *Kit) Tool(name string) string {
	if path, ok := k.tools[strings.ToLower(name)]; ok && path != "" {
		return path
	}
	return name
}

// Params returns the configured extra argument string for a tool, split
// into argv form. No configuration means no extra arguments.
func (k *Kit) Params(name string) []string {
	raw, ok := k.params[strings.ToLower(name)]
	if !ok || raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

// Command builds a direct invocation of the named tool with its configured
// parameters first and args after.
func (k *Kit) Command(tool string, args ...string) supervisor.Command {
	argv := append([]string{k.Tool(tool)}, k.Params(tool)...)
	return supervisor.Command{Argv: append(argv, args...)}
}

// Available reports whether the tool resolves to a callable executable.
func (k *Kit) Available(tool string) bool {
	_, err := exec.LookPath(k.Tool(tool))
	return err == nil
}

// MakeDir ensures a directory exists, in-process. Kept on the Kit so step
// functions share one idiom for path preparation.
func (k *Kit) MakeDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("make dir %s: %w", path, err)
	}
	return nil
}

// FileSizeMB sums the sizes of the given files in megabytes.
func (k *Kit) FileSizeMB(paths ...string) (float64, error) {
	var total int64
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return 0, fmt.Errorf("file size %s: %w", p, err)
		}
		total += info.Size()
	}
	return float64(total) / (1 << 20), nil
}
