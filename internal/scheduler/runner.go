package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Runner invokes native scheduler tools (launchctl, crontab, schtasks).
type Runner interface {
	// Run executes name with args, feeding stdin when non-empty, and returns stdout.
	// A failed invocation returns a *CommandError carrying stderr.
	Run(ctx context.Context, name string, args []string, stdin string) (string, error)
}

// CommandError describes a native tool invocation that failed.
type CommandError struct {
	Name     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Name, strings.Join(e.Args, " "))
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(": exit status %d", e.ExitCode)
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// stderrContains reports whether err is a CommandError whose stderr (or
// message) mentions any of the given fragments, case-insensitively.
func stderrContains(err error, fragments ...string) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	text := strings.ToLower(cmdErr.Stderr)
	if cmdErr.Err != nil {
		text += " " + strings.ToLower(cmdErr.Err.Error())
	}
	for _, f := range fragments {
		if strings.Contains(text, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

// ExecRunner runs native tools with os/exec. Cancellation follows ctx.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args []string, stdin string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	if err := cmd.Run(); err != nil {
		cmdErr := &CommandError{
			Name:   name,
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cmdErr.ExitCode = exitErr.ExitCode()
		}
		return stdout.String(), cmdErr
	}
	return stdout.String(), nil
}
