package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claudesched/internal/core"
)

func newTask(name, expr, command string) *core.ScheduledTask {
	task := core.NewTask(name, expr, command)
	task.ID = "task-1234abcd"
	return task
}

func TestBuildCommand(t *testing.T) {
	task := newTask("t", "* * * * *", "echo hello")
	assert.Equal(t, "claude -p 'echo hello'", BuildCommand("", task))

	task.Execution.Command = "it's $(whoami); `id`"
	task.Execution.SkipPermissions = true
	assert.Equal(t, `claude -p 'it'\''s $(whoami); `+"`id`"+`' --dangerously-skip-permissions`, BuildCommand("claude", task))

	assert.Equal(t, `'/opt/my tools/claude' -p 'x'`, BuildCommand("/opt/my tools/claude", newTask("t", "* * * * *", "x")))
}

func TestEnvExportsSortedAndEscaped(t *testing.T) {
	task := newTask("t", "* * * * *", "x")
	task.Execution.Env = map[string]string{
		"ZED":     "last",
		"API_KEY": "a'b $(c)",
		"BAD KEY": "dropped",
	}
	assert.Equal(t, []string{
		`export API_KEY='a'\''b $(c)'`,
		`export ZED='last'`,
	}, EnvExports(task))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	var err error = &Error{Platform: "linux", Op: "register", Message: "failed", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "linux register: failed: boom", err.Error())

	var schedErr *Error
	require.ErrorAs(t, err, &schedErr)
	assert.Equal(t, "register", schedErr.Op)
}

func TestResolve(t *testing.T) {
	for goos, name := range map[string]string{"darwin": "launchd", "linux": "crontab", "windows": "Task Scheduler"} {
		s, err := Resolve(goos, Options{HomeDir: t.TempDir()})
		require.NoError(t, err)
		assert.Equal(t, name, s.Name())
		assert.Equal(t, goos, s.Platform())
	}

	_, err := Resolve("plan9", Options{})
	var schedErr *Error
	require.ErrorAs(t, err, &schedErr)
	assert.Equal(t, "init", schedErr.Op)
	assert.Equal(t, "plan9", schedErr.Platform)
	assert.False(t, IsSupported("plan9"))
	assert.Equal(t, "macOS", PlatformName("darwin"))
}

func TestMalformedCronFailsBeforeSideEffects(t *testing.T) {
	home := t.TempDir()
	task := newTask("t", "0 9 * *", "x")

	lc := newFakeLaunchctl()
	cr := &fakeCrontab{}
	st := newFakeSchtasks()
	backends := []Scheduler{
		NewLaunchd(Options{HomeDir: home, Runner: lc}),
		NewCrontab(Options{HomeDir: home, Runner: cr}),
		NewTaskScheduler(Options{HomeDir: home, Runner: st}),
	}
	for _, s := range backends {
		err := s.Register(context.Background(), task)
		require.Error(t, err, s.Name())
		assert.ErrorIs(t, err, core.ErrInvalidCron)
		var schedErr *Error
		require.ErrorAs(t, err, &schedErr)
		assert.Equal(t, "register", schedErr.Op)
	}
	assert.Empty(t, lc.commands())
	assert.Empty(t, cr.commands())
	assert.Empty(t, st.commands())

	task.Trigger.Expression = "0 9 * * *"
	task.Trigger.Type = "file-watch"
	for _, s := range backends {
		assert.ErrorIs(t, s.Register(context.Background(), task), core.ErrUnsupportedTrigger)
	}
}
