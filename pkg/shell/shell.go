// Package shell runs external commands with argv lists, bounded by a
// timeout and scoped to a working directory. Commands never pass through
// a shell, so arguments need no quoting.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrEmptyCommand is returned when Run is called without an argv.
var ErrEmptyCommand = errors.New("shell: empty command")

// Result holds the outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// CommandError wraps a non-zero exit with enough context to log usefully.
type CommandError struct {
	Argv     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed (exit %d): %s",
		strings.Join(e.Argv, " "), e.ExitCode, firstLine(e.Stderr))
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner executes commands with a default timeout applied when the caller
// context carries no deadline.
type Runner struct {
	defaultTimeout time.Duration
}

// NewRunner creates a runner. A zero timeout means no default bound.
func NewRunner(defaultTimeout time.Duration) *Runner {
	return &Runner{defaultTimeout: defaultTimeout}
}

// Option adjusts a single command invocation.
type Option func(*exec.Cmd)

// WithDir sets the command working directory.
func WithDir(dir string) Option {
	return func(cmd *exec.Cmd) { cmd.Dir = dir }
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(env map[string]string) Option {
	return func(cmd *exec.Cmd) {
		if cmd.Env == nil {
			cmd.Env = os.Environ()
		}
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
}

// WithStdin feeds the command's standard input.
func WithStdin(input string) Option {
	return func(cmd *exec.Cmd) { cmd.Stdin = strings.NewReader(input) }
}

// Run executes argv[0] with argv[1:] as arguments. A non-zero exit returns
// the Result alongside a *CommandError.
func (r *Runner) Run(ctx context.Context, argv []string, opts ...Option) (*Result, error) {
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && r.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.defaultTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	for _, opt := range opts {
		opt(cmd)
	}

	start := time.Now()
	err := cmd.Run()
	// ProcessState is nil when the binary never started.
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}

	if err != nil {
		// Context expiry beats the generic exit error in the chain.
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		slog.Debug("Command failed",
			"argv", argv, "exit_code", result.ExitCode,
			"duration", result.Duration, "error", err)
		return result, &CommandError{
			Argv:     argv,
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
			Err:      err,
		}
	}
	return result, nil
}

// Output runs the command and returns trimmed stdout.
func (r *Runner) Output(ctx context.Context, argv []string, opts ...Option) (string, error) {
	result, err := r.Run(ctx, argv, opts...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Stdout), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
