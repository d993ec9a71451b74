package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"claudesched/internal/core"
	"claudesched/internal/shell"
)

const (
	crontabPlatform = "linux"
	crontabMarker   = "# claude-scheduler:"
)

// Crontab registers tasks as marked lines in the user's crontab.
type Crontab struct {
	logDir    string
	claudeBin string
	runner    Runner
	logger    *slog.Logger
}

// NewCrontab builds the line-based backend.
func NewCrontab(opts Options) *Crontab {
	opts = opts.withDefaults()
	return &Crontab{
		logDir:    opts.LogDir,
		claudeBin: opts.ClaudeBin,
		runner:    opts.Runner,
		logger:    opts.Logger,
	}
}

func (c *Crontab) Name() string     { return "crontab" }
func (c *Crontab) Platform() string { return crontabPlatform }

func (c *Crontab) fail(op, msg string, err error) error {
	return &Error{Platform: crontabPlatform, Op: op, Message: msg, Err: err}
}

// Marker is the trailing tag that identifies the line for id.
func (c *Crontab) Marker(id string) string {
	return crontabMarker + id
}

// RunnerScriptPath holds commands that cannot be embedded in a single
// crontab line.
func (c *Crontab) RunnerScriptPath(id string) string {
	return filepath.Join(c.logDir, id+".run.sh")
}

// BuildLine renders the crontab line for task. The second result is a
// runner script to write before installing the line, or "".
func (c *Crontab) BuildLine(task *core.ScheduledTask) (line, runnerScript string, err error) {
	expr, _, err := cronFields(crontabPlatform, task)
	if err != nil {
		return "", "", err
	}

	var command string
	if UsesWorktree(task) {
		command = "bash " + shell.Escape(WorktreeScriptPath(c.logDir, task.ID))
	} else {
		command = posixInvocation(c.claudeBin, task)
		// crontab ends an entry at a newline; such commands run from a script.
		if strings.ContainsAny(command, "\r\n") {
			runnerScript = "#!/bin/bash\n" + command + "\n"
			command = "bash " + shell.Escape(c.RunnerScriptPath(task.ID))
		}
	}

	logPath := filepath.Join(c.logDir, task.ID+".log")
	body := command + " >> " + shell.Escape(logPath) + " 2>&1"
	// An unescaped % in the command field is read by cron as a newline.
	body = strings.ReplaceAll(body, "%", `\%`)

	return expr + " " + body + " " + c.Marker(task.ID), runnerScript, nil
}

func (c *Crontab) Register(ctx context.Context, task *core.ScheduledTask) error {
	line, runnerScript, err := c.BuildLine(task)
	if err != nil {
		return err
	}
	script, err := GenerateWorktreeScript(task, c.logDir, c.claudeBin)
	if err != nil {
		return c.fail("register", "generate worktree script", err)
	}
	failMsg := fmt.Sprintf("failed to register task %q with crontab", displayName(task))

	if script != "" {
		if err := writeScript(WorktreeScriptPath(c.logDir, task.ID), script); err != nil {
			return c.fail("register", failMsg, err)
		}
	}
	if runnerScript != "" {
		if err := writeScript(c.RunnerScriptPath(task.ID), runnerScript); err != nil {
			return c.fail("register", failMsg, err)
		}
	} else if err := removeFile(c.RunnerScriptPath(task.ID)); err != nil {
		return c.fail("register", failMsg, err)
	}

	lines, err := c.read(ctx)
	if err != nil {
		return c.fail("register", failMsg, err)
	}
	lines = append(c.without(lines, task.ID), line)
	if err := c.write(ctx, lines); err != nil {
		return c.fail("register", failMsg, err)
	}

	c.logger.Info("task registered", "platform", crontabPlatform, "task_id", task.ID, "name", displayName(task))
	return nil
}

func (c *Crontab) Unregister(ctx context.Context, id string) error {
	lines, err := c.read(ctx)
	if err != nil {
		return c.fail("unregister", fmt.Sprintf("failed to read crontab for task %s", id), err)
	}
	kept := c.without(lines, id)
	if len(kept) != len(lines) {
		if err := c.write(ctx, kept); err != nil {
			return c.fail("unregister", fmt.Sprintf("failed to write crontab for task %s", id), err)
		}
	}
	for _, path := range []string{WorktreeScriptPath(c.logDir, id), c.RunnerScriptPath(id)} {
		if err := removeFile(path); err != nil {
			return c.fail("unregister", fmt.Sprintf("failed to remove script for task %s", id), err)
		}
	}
	c.logger.Info("task unregistered", "platform", crontabPlatform, "task_id", id)
	return nil
}

func (c *Crontab) IsRegistered(ctx context.Context, id string) (bool, error) {
	lines, err := c.read(ctx)
	if err != nil {
		return false, c.fail("isRegistered", "failed to read crontab", err)
	}
	for _, line := range lines {
		if lineID, ok := markerID(line); ok && lineID == id {
			return true, nil
		}
	}
	return false, nil
}

func (c *Crontab) ListRegistered(ctx context.Context) ([]string, error) {
	lines, err := c.read(ctx)
	if err != nil {
		return nil, c.fail("list", "failed to read crontab", err)
	}
	ids := []string{}
	for _, line := range lines {
		if id, ok := markerID(line); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (c *Crontab) Status(ctx context.Context) core.SchedulerStatus {
	status := core.SchedulerStatus{Healthy: true, Errors: []string{}, Platform: crontabPlatform}
	ids, err := c.ListRegistered(ctx)
	if err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, err.Error())
		return status
	}
	status.TaskCount = len(ids)
	return status
}

// markerID extracts the task id from a line ending in our marker.
func markerID(line string) (string, bool) {
	idx := strings.LastIndex(line, crontabMarker)
	if idx < 0 {
		return "", false
	}
	id := strings.TrimSpace(line[idx+len(crontabMarker):])
	if id == "" || strings.ContainsAny(id, " \t") {
		return "", false
	}
	return id, true
}

func (c *Crontab) without(lines []string, id string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if lineID, ok := markerID(line); ok && lineID == id {
			continue
		}
		out = append(out, line)
	}
	return out
}

// read returns the current crontab lines. A missing crontab is empty.
func (c *Crontab) read(ctx context.Context) ([]string, error) {
	out, err := c.runner.Run(ctx, "crontab", []string{"-l"}, "")
	if err != nil {
		if stderrContains(err, "no crontab") {
			return []string{}, nil
		}
		return nil, err
	}
	out = strings.TrimRight(strings.ReplaceAll(out, "\r\n", "\n"), "\n")
	if out == "" {
		return []string{}, nil
	}
	return strings.Split(out, "\n"), nil
}

// write replaces the whole crontab. Trailing blank lines are dropped.
func (c *Crontab) write(ctx context.Context, lines []string) error {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	if content == "" {
		_, err := c.runner.Run(ctx, "crontab", []string{"-r"}, "")
		if err != nil && stderrContains(err, "no crontab") {
			return nil
		}
		return err
	}
	_, err := c.runner.Run(ctx, "crontab", []string{"-"}, content)
	return err
}
