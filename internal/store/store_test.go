package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claudesched/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir(), 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenIsRepeatable(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(ctx, dir, 0)
	require.NoError(t, err)
	assert.Equal(t, 50, s.Retention)
	require.NoError(t, s.Close())

	s, err = Open(ctx, dir, 0)
	require.NoError(t, err)
	defer s.Close()

	var count int
	require.NoError(t, s.DB.QueryRow(`SELECT COUNT(1) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestTaskRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := core.NewTask("Nightly review", "30 2 * * *", "Review; it's fine")
	task.Description = "checks PRs"
	task.Tags = []string{"review", "nightly"}
	task.Execution.Env = map[string]string{"A": "1"}
	task.Execution.SkipPermissions = true
	task.Execution.Worktree = &core.WorktreeConfig{Enabled: true, BranchPrefix: "bots/", RemoteName: "origin"}
	require.NoError(t, s.InsertTask(ctx, task))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Name, got.Name)
	assert.Equal(t, task.Description, got.Description)
	assert.Equal(t, task.Trigger, got.Trigger)
	assert.Equal(t, task.Execution, got.Execution)
	assert.Equal(t, task.Tags, got.Tags)
	assert.True(t, got.Enabled)
	assert.True(t, task.CreatedAt.Equal(got.CreatedAt))

	err = s.InsertTask(ctx, task)
	assert.ErrorIs(t, err, ErrTaskExists)
}

func TestTaskUpdateDeleteAndFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := core.NewTask("a", "0 * * * *", "x")
	b := core.NewTask("b", "0 * * * *", "y")
	require.NoError(t, s.InsertTask(ctx, a))
	require.NoError(t, s.InsertTask(ctx, b))

	a.Trigger.Expression = "5 * * * *"
	require.NoError(t, s.UpdateTask(ctx, a))
	require.NoError(t, s.SetTaskEnabled(ctx, b.ID, false))

	all, err := s.ListTasks(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID)

	enabled := true
	onlyEnabled, err := s.ListTasks(ctx, &enabled)
	require.NoError(t, err)
	require.Len(t, onlyEnabled, 1)
	assert.Equal(t, "5 * * * *", onlyEnabled[0].Trigger.Expression)

	require.NoError(t, s.DeleteTask(ctx, a.ID))
	_, err = s.GetTask(ctx, a.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, s.DeleteTask(ctx, a.ID), ErrTaskNotFound)
	assert.ErrorIs(t, s.UpdateTask(ctx, a), ErrTaskNotFound)
	assert.ErrorIs(t, s.SetTaskEnabled(ctx, "missing", true), ErrTaskNotFound)
}

func TestRegistrationsRetention(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.LastRegistration(ctx, "t1")
	assert.ErrorIs(t, err, ErrRegistrationNotFound)

	for i := 0; i < 5; i++ {
		msg := fmt.Sprintf("attempt %d", i)
		require.NoError(t, s.InsertRegistration(ctx, &core.Registration{
			TaskID:   "t1",
			Op:       core.OpRegister,
			Platform: "linux",
			Status:   core.RegistrationFailed,
			Error:    &msg,
		}))
	}
	require.NoError(t, s.InsertRegistration(ctx, &core.Registration{
		TaskID: "t2", Op: core.OpUnregister, Platform: "linux", Status: core.RegistrationSucceeded,
	}))

	regs, err := s.ListRegistrations(ctx, "t1", 10, 0)
	require.NoError(t, err)
	require.Len(t, regs, 3)
	require.NotNil(t, regs[0].Error)
	assert.Equal(t, "attempt 4", *regs[0].Error)

	last, err := s.LastRegistration(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, core.OpUnregister, last.Op)
	assert.Nil(t, last.Error)
	assert.NotEmpty(t, last.ID)
}
