// Package run executes external command line tools and keeps their output so
// callers can surface it verbatim in errors.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Command describes one invocation of an external tool.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env is overlaid on the current process environment.
	Env map[string]string
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Error reports a failed command along with everything it printed.
type Error struct {
	Command string
	Output  string
	Err     error
}

func (e *Error) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("command %s failed: %v: %s", e.Command, e.Err, out)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// OutputOf extracts tool output from an error chain, if any.
func OutputOf(err error) string {
	var runErr *Error
	if errors.As(err, &runErr) {
		return runErr.Output
	}
	return ""
}

// Runner executes commands. Implementations must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// Exec runs commands with os/exec, combining stdout and stderr.
type Exec struct {
	logger *slog.Logger
}

// NewExec returns a Runner backed by os/exec.
func NewExec(logger *slog.Logger) *Exec {
	return &Exec{logger: logger}
}

// Run executes the command and returns its combined output.
func (r *Exec) Run(ctx context.Context, c Command) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", errors.New("command name cannot be empty")
	}
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = os.Environ()
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	output, err := cmd.CombinedOutput()
	if len(output) > 0 && r.logger != nil {
		r.logger.Debug("command output", "command", c.String(), "output", string(output))
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return string(output), &Error{Command: c.String(), Output: string(output), Err: err}
	}
	return string(output), nil
}

// LookPath reports whether the named executable is on PATH.
func LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
