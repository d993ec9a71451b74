package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"howett.net/plist"

	"claudesched/internal/core"
)

const (
	launchdPlatform    = "darwin"
	launchdLabelPrefix = "com.claude.scheduler."
	launchdPath        = "/usr/local/bin:/usr/bin:/bin:/opt/homebrew/bin:$HOME/.local/bin"
)

// Launchd registers tasks as per-user launch agents.
type Launchd struct {
	agentsDir string
	logDir    string
	homeDir   string
	claudeBin string
	runner    Runner
	logger    *slog.Logger
}

// NewLaunchd builds the calendar-style backend.
func NewLaunchd(opts Options) *Launchd {
	opts = opts.withDefaults()
	return &Launchd{
		agentsDir: opts.LaunchAgentsDir,
		logDir:    opts.LogDir,
		homeDir:   opts.HomeDir,
		claudeBin: opts.ClaudeBin,
		runner:    opts.Runner,
		logger:    opts.Logger,
	}
}

func (l *Launchd) Name() string     { return "launchd" }
func (l *Launchd) Platform() string { return launchdPlatform }

// Label is the launchd label for a task id.
func (l *Launchd) Label(id string) string {
	return launchdLabelPrefix + id
}

// PlistPath is the descriptor path for a task id.
func (l *Launchd) PlistPath(id string) string {
	return filepath.Join(l.agentsDir, l.Label(id)+".plist")
}

func (l *Launchd) fail(op, msg string, err error) error {
	return &Error{Platform: launchdPlatform, Op: op, Message: msg, Err: err}
}

func (l *Launchd) Register(ctx context.Context, task *core.ScheduledTask) error {
	plist, err := l.BuildPlist(task)
	if err != nil {
		return err
	}
	script, err := GenerateWorktreeScript(task, l.logDir, l.claudeBin)
	if err != nil {
		return l.fail("register", "generate worktree script", err)
	}
	failMsg := fmt.Sprintf("failed to register task %q with launchd", displayName(task))

	if err := os.MkdirAll(l.agentsDir, 0o755); err != nil {
		return l.fail("register", failMsg, err)
	}
	if err := os.MkdirAll(l.logDir, 0o755); err != nil {
		return l.fail("register", failMsg, err)
	}
	if script != "" {
		if err := writeScript(WorktreeScriptPath(l.logDir, task.ID), script); err != nil {
			return l.fail("register", failMsg, err)
		}
	}

	path := l.PlistPath(task.ID)
	// A stale agent may or may not be loaded.
	_, _ = l.runner.Run(ctx, "launchctl", []string{"unload", path}, "")

	if err := os.WriteFile(path, []byte(plist), 0o644); err != nil { // #nosec G306
		return l.fail("register", failMsg, err)
	}
	if _, err := l.runner.Run(ctx, "launchctl", []string{"load", path}, ""); err != nil {
		return l.fail("register", failMsg, err)
	}

	l.logger.Info("task registered", "platform", launchdPlatform, "task_id", task.ID, "name", displayName(task), "plist", path)
	return nil
}

func (l *Launchd) Unregister(ctx context.Context, id string) error {
	path := l.PlistPath(id)
	// Unloading an agent that is not loaded fails; that is expected.
	_, _ = l.runner.Run(ctx, "launchctl", []string{"unload", path}, "")

	if err := removeFile(path); err != nil {
		return l.fail("unregister", fmt.Sprintf("failed to remove plist for task %s", id), err)
	}
	if err := removeFile(WorktreeScriptPath(l.logDir, id)); err != nil {
		return l.fail("unregister", fmt.Sprintf("failed to remove worktree script for task %s", id), err)
	}
	l.logger.Info("task unregistered", "platform", launchdPlatform, "task_id", id)
	return nil
}

func (l *Launchd) IsRegistered(_ context.Context, id string) (bool, error) {
	_, err := os.Stat(l.PlistPath(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, l.fail("isRegistered", "stat plist", err)
}

func (l *Launchd) ListRegistered(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.agentsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, l.fail("list", "read LaunchAgents directory", err)
	}
	ids := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, launchdLabelPrefix) || !strings.HasSuffix(name, ".plist") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, launchdLabelPrefix), ".plist")
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (l *Launchd) Status(ctx context.Context) core.SchedulerStatus {
	status := core.SchedulerStatus{Healthy: true, Errors: []string{}, Platform: launchdPlatform}
	ids, err := l.ListRegistered(ctx)
	if err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, err.Error())
		return status
	}
	status.TaskCount = len(ids)

	for _, id := range ids {
		_, err := l.runner.Run(ctx, "launchctl", []string{"list", l.Label(id)}, "")
		if err == nil {
			continue
		}
		if stderrContains(err, "could not find") {
			status.Errors = append(status.Errors, fmt.Sprintf("Task %s plist exists but not loaded", id))
		} else {
			status.Errors = append(status.Errors, fmt.Sprintf("Task %s check failed", id))
		}
	}
	status.Healthy = len(status.Errors) == 0
	return status
}

// CalendarInterval is one StartCalendarInterval entry. Nil fields are
// wildcards and are omitted from the plist.
type CalendarInterval struct {
	Minute  *int
	Hour    *int
	Day     *int
	Month   *int
	Weekday *int
}

type calendarField struct {
	key      string
	value    string
	min, max int
	set      func(*CalendarInterval, int)
}

// CalendarIntervals expands a cron expression into the cartesian product of
// its fields. Wildcard fields do not multiply the result.
func CalendarIntervals(expr string) ([]CalendarInterval, error) {
	f, err := core.SplitCron(expr)
	if err != nil {
		return nil, err
	}
	fields := []calendarField{
		{"Minute", f.Minute, 0, 59, func(c *CalendarInterval, v int) { c.Minute = &v }},
		{"Hour", f.Hour, 0, 23, func(c *CalendarInterval, v int) { c.Hour = &v }},
		{"Day", f.Day, 1, 31, func(c *CalendarInterval, v int) { c.Day = &v }},
		{"Month", f.Month, 1, 12, func(c *CalendarInterval, v int) { c.Month = &v }},
		{"Weekday", f.Weekday, 0, 6, func(c *CalendarInterval, v int) { c.Weekday = &v }},
	}

	intervals := []CalendarInterval{{}}
	for _, field := range fields {
		if field.value == "*" {
			continue
		}
		values, err := core.ParseField(field.value, field.min, field.max)
		if err != nil {
			return nil, err
		}
		next := make([]CalendarInterval, 0, len(intervals)*len(values))
		for _, base := range intervals {
			for _, v := range values {
				c := base
				field.set(&c, v)
				next = append(next, c)
			}
		}
		intervals = next
	}
	return intervals, nil
}

// dict is the StartCalendarInterval entry; unset fields are wildcards.
func (c CalendarInterval) dict() map[string]int {
	out := map[string]int{}
	add := func(k string, v *int) {
		if v != nil {
			out[k] = *v
		}
	}
	add("Minute", c.Minute)
	add("Hour", c.Hour)
	add("Day", c.Day)
	add("Month", c.Month)
	add("Weekday", c.Weekday)
	return out
}

// launchAgent is the launch agent descriptor. StartCalendarInterval holds a
// single dict, or an array of dicts when the cron fields expand to several.
type launchAgent struct {
	Label                 string            `plist:"Label"`
	ProgramArguments      []string          `plist:"ProgramArguments"`
	StartCalendarInterval any               `plist:"StartCalendarInterval"`
	StandardOutPath       string            `plist:"StandardOutPath"`
	StandardErrorPath     string            `plist:"StandardErrorPath"`
	RunAtLoad             bool              `plist:"RunAtLoad"`
	EnvironmentVariables  map[string]string `plist:"EnvironmentVariables"`
}

// BuildPlist renders the launch agent descriptor for task. Arguments are
// shell-escaped before the plist encoder applies XML escaping.
func (l *Launchd) BuildPlist(task *core.ScheduledTask) (string, error) {
	expr, _, err := cronFields(launchdPlatform, task)
	if err != nil {
		return "", err
	}
	intervals, err := CalendarIntervals(expr)
	if err != nil {
		return "", l.fail("register", "invalid cron expression", err)
	}

	agent := launchAgent{
		Label:             l.Label(task.ID),
		StandardOutPath:   filepath.Join(l.logDir, task.ID+".out.log"),
		StandardErrorPath: filepath.Join(l.logDir, task.ID+".err.log"),
		EnvironmentVariables: map[string]string{
			"PATH": strings.ReplaceAll(launchdPath, "$HOME", l.homeDir),
		},
	}
	if UsesWorktree(task) {
		agent.ProgramArguments = []string{"/bin/bash", WorktreeScriptPath(l.logDir, task.ID)}
	} else {
		agent.ProgramArguments = []string{"/bin/bash", "-c", posixInvocationNoEnv(l.claudeBin, task)}
	}
	if len(intervals) == 1 {
		agent.StartCalendarInterval = intervals[0].dict()
	} else {
		dicts := make([]map[string]int, 0, len(intervals))
		for _, c := range intervals {
			dicts = append(dicts, c.dict())
		}
		agent.StartCalendarInterval = dicts
	}
	for _, k := range envKeys(task) {
		agent.EnvironmentVariables[k] = task.Execution.Env[k]
	}

	out, err := plist.MarshalIndent(agent, plist.XMLFormat, "\t")
	if err != nil {
		return "", l.fail("register", "encode plist", err)
	}
	return string(out), nil
}

// posixInvocationNoEnv leaves environment overrides to the plist dict.
func posixInvocationNoEnv(claudeBin string, task *core.ScheduledTask) string {
	clone := *task
	clone.Execution.Env = nil
	return posixInvocation(claudeBin, &clone)
}
