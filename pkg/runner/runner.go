// Package runner executes host commands. Reconcilers never call os/exec
// directly; they go through a Runner so tests can script results.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Runner runs a command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExitError is returned when a command ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Output  string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.Code)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.Code, e.Output)
}

// ExitCode reports the exit status carried by err, or -1 when err did not
// come from a command that ran to completion.
func ExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

// Exec runs commands on the local host.
type Exec struct{}

// Run implements Runner.
func (Exec) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		command := strings.TrimSpace(name + " " + strings.Join(args, " "))
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, &ExitError{
				Command: command,
				Code:    exitErr.ExitCode(),
				Output:  strings.TrimSpace(string(out)),
			}
		}
		return out, fmt.Errorf("%s: %w", command, err)
	}
	return out, nil
}

var _ Runner = Exec{}
