// Package toolrun invokes external executables as opaque steps. It
// records how they exited and never interprets what they produced.
package toolrun

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"gwpipe/internal/logging"
)

// Tool is one external command: an executable and its argument vector.
// Args never pass through a shell.
type Tool struct {
	Name string
	Bin  string
	Args []string
}

// Command renders the full command line for logs and dry-run output.
func (t Tool) Command() string {
	return strings.Join(append([]string{t.Bin}, t.Args...), " ")
}

// Result is the outcome of one tool invocation. ExitCode is always set:
// 0 on success, the tool's own code on failure, 127 when the executable
// could not be found or started.
type Result struct {
	Tool     Tool
	ExitCode int
	Err      error
	Duration time.Duration
}

// Ok reports whether the tool ran and exited zero.
func (r Result) Ok() bool {
	return r.Err == nil && r.ExitCode == 0
}

// exitCodeNotFound is what a shell reports for a missing command. Runs
// continue with that code instead of aborting.
const exitCodeNotFound = 127

// Runner executes tools with a fixed working directory and output
// wiring. The zero value runs in the current directory with the
// process's own stdout and stderr.
type Runner struct {
	// Dir is the working directory for every tool. Empty inherits.
	Dir string
	// Stdout and Stderr default to os.Stdout and os.Stderr. Tool output
	// passes straight through; nothing is captured.
	Stdout io.Writer
	Stderr io.Writer
	// Env entries are appended to the inherited environment.
	Env []string

	log *slog.Logger
}

// NewRunner returns a Runner rooted at dir.
func NewRunner(dir string) *Runner {
	return &Runner{Dir: dir}
}

func (r *Runner) stdout() io.Writer {
	if r.Stdout != nil {
		return r.Stdout
	}
	return os.Stdout
}

func (r *Runner) stderr() io.Writer {
	if r.Stderr != nil {
		return r.Stderr
	}
	return os.Stderr
}

func (r *Runner) logger() *slog.Logger {
	if r.log == nil {
		r.log = logging.New("toolrun")
	}
	return r.log
}

// Run executes the tool and blocks until it exits.
func (r *Runner) Run(ctx context.Context, t Tool) Result {
	start := time.Now()

	cmd := exec.CommandContext(ctx, t.Bin, t.Args...)
	cmd.Dir = r.Dir
	cmd.Stdout = r.stdout()
	cmd.Stderr = r.stderr()
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	r.logger().Info("running", "tool", t.Name, "cmd", t.Command())
	err := cmd.Run()
	res := Result{Tool: t, Duration: time.Since(start)}
	if err == nil {
		r.logger().Info("finished", "tool", t.Name, "duration", res.Duration)
		return res
	}

	res.Err = err
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case errors.Is(err, exec.ErrNotFound):
		res.ExitCode = exitCodeNotFound
	default:
		res.ExitCode = 1
	}
	// Signal deaths report -1; keep exit codes in the range a process
	// can actually return.
	if res.ExitCode < 0 {
		res.ExitCode = 1
	}
	r.logger().Warn("tool failed", "tool", t.Name, "exit", res.ExitCode, "err", err)
	return res
}
