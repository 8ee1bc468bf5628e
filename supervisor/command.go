package supervisor

import (
	"path/filepath"
	"strings"
)

// Command describes one process to spawn. Commands are plain values; the
// Supervisor owns all process state.
type Command struct {
	// Argv is the program and its arguments. Argv[0] is resolved via PATH.
	Argv []string

	// Env holds extra KEY=VALUE entries appended to the parent environment.
	Env []string

	// Dir is the working directory. Empty means inherit.
	Dir string

	// StdoutPath redirects the command's stdout to a file. Only honored on
	// the last segment of a chain. AppendOut opens it in append mode.
	StdoutPath string
	AppendOut  bool
}

// Exec builds a Command that runs argv directly, no shell involved.
func Exec(argv ...string) Command {
	return Command{Argv: argv}
}

// Shell builds a Command that runs cmdline through /bin/sh -c.
func Shell(cmdline string) Command {
	return Command{Argv: []string{"/bin/sh", "-c", cmdline}}
}

// Parse turns a command line into a Command. Lines using shell features
// (pipes, redirections, globs, quoting, variables) go through the shell;
// anything else is split on whitespace and executed directly.
func Parse(cmdline string) Command {
	if needsShell(cmdline) {
		return Shell(cmdline)
	}
	return Command{Argv: strings.Fields(cmdline)}
}

func needsShell(cmdline string) bool {
	return strings.ContainsAny(cmdline, `|<>&;*?$"'~{}()`+"`")
}

// Name returns a short label for logs: the base name of the program, or
// the first word of a shell line.
func (c Command) Name() string {
	if len(c.Argv) == 0 {
		return "(empty)"
	}
	if len(c.Argv) == 3 && c.Argv[1] == "-c" && strings.HasSuffix(c.Argv[0], "sh") {
		fields := strings.Fields(c.Argv[2])
		if len(fields) > 0 {
			return fields[0]
		}
	}
	return filepath.Base(c.Argv[0])
}

// String reassembles the command roughly as a human would type it.
func (c Command) String() string {
	if len(c.Argv) == 3 && c.Argv[1] == "-c" && strings.HasSuffix(c.Argv[0], "sh") {
		return c.Argv[2]
	}
	return strings.Join(c.Argv, " ")
}

// wrapContainer rewrites the command to execute inside a running container.
func (c Command) wrapContainer(container string) Command {
	wrapped := c
	wrapped.Argv = append([]string{"docker", "exec", container}, c.Argv...)
	return wrapped
}
