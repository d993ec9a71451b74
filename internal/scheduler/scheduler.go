// Package scheduler translates task records into native OS scheduler
// entries: launchd agents on macOS, crontab lines on Linux and Task
// Scheduler entries on Windows.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"claudesched/internal/core"
	"claudesched/internal/logging"
	"claudesched/internal/shell"
)

// DefaultClaudeBin is the action runner invoked by generated commands.
const DefaultClaudeBin = "claude"

// Scheduler is implemented by every native backend.
type Scheduler interface {
	// Name is the human name of the native facility.
	Name() string
	// Platform is the GOOS tag the backend serves.
	Platform() string
	// Register creates or fully replaces the native entry for task.
	Register(ctx context.Context, task *core.ScheduledTask) error
	// Unregister removes the native entry for id. Absence is not an error.
	Unregister(ctx context.Context, id string) error
	IsRegistered(ctx context.Context, id string) (bool, error)
	// Status is computed fresh on each call.
	Status(ctx context.Context) core.SchedulerStatus
	// ListRegistered returns the ids of entries owned by this system.
	ListRegistered(ctx context.Context) ([]string, error)
}

// Error is returned for every failure that reaches a native backend.
type Error struct {
	Platform string
	Op       string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Platform, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Platform, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options configures a backend. Zero values fall back to per-user defaults.
type Options struct {
	// HomeDir defaults to the current user's home directory.
	HomeDir string
	// LogDir receives task output and generated scripts. Defaults to <home>/.claude/logs.
	LogDir string
	// LaunchAgentsDir defaults to <home>/Library/LaunchAgents.
	LaunchAgentsDir string
	// ClaudeBin defaults to DefaultClaudeBin.
	ClaudeBin string
	Runner    Runner
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.HomeDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			o.HomeDir = home
		}
	}
	if o.LogDir == "" {
		o.LogDir = filepath.Join(o.HomeDir, ".claude", "logs")
	}
	if o.LaunchAgentsDir == "" {
		o.LaunchAgentsDir = filepath.Join(o.HomeDir, "Library", "LaunchAgents")
	}
	if o.ClaudeBin == "" {
		o.ClaudeBin = DefaultClaudeBin
	}
	if o.Runner == nil {
		o.Runner = ExecRunner{}
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	return o
}

// UsesWorktree reports whether task runs in worktree mode.
func UsesWorktree(task *core.ScheduledTask) bool {
	return task.UsesWorktree()
}

// plainWord matches binaries that can be emitted without quoting.
var plainWord = regexp.MustCompile(`^[A-Za-z0-9/_.\-]+$`)

// BuildCommand returns the POSIX command line invoking the action runner
// with the task's prompt. The prompt is always passed through shell.Escape.
func BuildCommand(claudeBin string, task *core.ScheduledTask) string {
	if claudeBin == "" {
		claudeBin = DefaultClaudeBin
	}
	if !plainWord.MatchString(claudeBin) {
		claudeBin = shell.Escape(claudeBin)
	}
	cmd := claudeBin + " -p " + shell.Escape(task.Execution.Command)
	if task.Execution.SkipPermissions {
		cmd += " --dangerously-skip-permissions"
	}
	return cmd
}

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// envKeys returns the task's environment keys that are valid variable
// names, sorted. Invalid keys cannot be quoted and are dropped.
func envKeys(task *core.ScheduledTask) []string {
	keys := make([]string, 0, len(task.Execution.Env))
	for k := range task.Execution.Env {
		if envKeyPattern.MatchString(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// EnvExports returns one `export KEY='value'` statement per environment
// override, sorted by key.
func EnvExports(task *core.ScheduledTask) []string {
	keys := envKeys(task)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, "export "+k+"="+shell.Escape(task.Execution.Env[k]))
	}
	return out
}

// posixInvocation is `cd '<wd>' && [exports &&] <command>`.
func posixInvocation(claudeBin string, task *core.ScheduledTask) string {
	parts := []string{"cd " + shell.Escape(workingDirectory(task))}
	parts = append(parts, EnvExports(task)...)
	parts = append(parts, BuildCommand(claudeBin, task))
	return strings.Join(parts, " && ")
}

func workingDirectory(task *core.ScheduledTask) string {
	if task.Execution.WorkingDirectory == "" {
		return core.DefaultWorkingDirectory
	}
	return task.Execution.WorkingDirectory
}

// WorktreeScriptPath is where the generated worktree script for id lives.
func WorktreeScriptPath(logDir, id string) string {
	return filepath.Join(logDir, id+".worktree.sh")
}

// writeScript writes an executable script, creating its directory.
func writeScript(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create script dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil { // #nosec G306
		return fmt.Errorf("write script: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o755); err != nil { // #nosec G302
		return fmt.Errorf("chmod script: %w", err)
	}
	return nil
}

// removeFile deletes path, ignoring absence.
func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// displayName is the task name as it may appear in logs and messages.
func displayName(task *core.ScheduledTask) string {
	return shell.SanitizeForComment(task.Name)
}

// cronFields checks the trigger before any native side effect.
func cronFields(platform string, task *core.ScheduledTask) (string, core.CronFields, error) {
	expr, err := core.CronExpression(task)
	if err != nil {
		return "", core.CronFields{}, &Error{Platform: platform, Op: "register", Message: "unsupported trigger", Err: err}
	}
	fields, err := core.SplitCron(expr)
	if err != nil {
		return "", core.CronFields{}, &Error{Platform: platform, Op: "register", Message: "invalid cron expression", Err: err}
	}
	return strings.Join(strings.Fields(expr), " "), fields, nil
}
