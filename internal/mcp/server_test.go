package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claudesched/internal/core"
	"claudesched/internal/manager"
	"claudesched/internal/store"
)

type memScheduler struct {
	mu    sync.Mutex
	tasks map[string]*core.ScheduledTask
}

func (m *memScheduler) Name() string     { return "mem" }
func (m *memScheduler) Platform() string { return "linux" }

func (m *memScheduler) Register(_ context.Context, task *core.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = task
	return nil
}

func (m *memScheduler) Unregister(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *memScheduler) IsRegistered(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[id]
	return ok, nil
}

func (m *memScheduler) Status(context.Context) core.SchedulerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return core.SchedulerStatus{Healthy: true, TaskCount: len(m.tasks), Errors: []string{}, Platform: "linux"}
}

func (m *memScheduler) ListRegistered(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func newTestServer(t *testing.T) (*MCPServer, *memScheduler) {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir(), 10)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := &memScheduler{tasks: map[string]*core.ScheduledTask{}}
	mgr := manager.New(st, sched, nil, logger, manager.Options{LogDir: t.TempDir()})
	return NewMCPServer(mgr, logger), sched
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func onlyID(t *testing.T, sched *memScheduler) string {
	t.Helper()
	require.Len(t, sched.tasks, 1)
	for id := range sched.tasks {
		return id
	}
	return ""
}

func TestCreateTaskTool(t *testing.T) {
	s, sched := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleCreateTask(ctx, call(map[string]any{
		"name":             "nightly review",
		"command":          "/review",
		"cron":             "0 2 * * *",
		"timeout_minutes":  float64(10),
		"skip_permissions": true,
		"env":              map[string]any{"API_MODE": "batch"},
		"tags":             []any{"review", " "},
		"worktree":         true,
		"remote_name":      "upstream",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError, resultText(t, res))
	assert.Contains(t, resultText(t, res), "Scheduler: mem")

	task := sched.tasks[onlyID(t, sched)]
	assert.Equal(t, "nightly review", task.Name)
	assert.Equal(t, 600, task.Execution.TimeoutSeconds)
	assert.True(t, task.Execution.SkipPermissions)
	assert.Equal(t, map[string]string{"API_MODE": "batch"}, task.Execution.Env)
	assert.Equal(t, []string{"review"}, task.Tags)
	require.True(t, task.UsesWorktree())
	assert.Equal(t, "upstream", task.Execution.Worktree.RemoteName)
	assert.Equal(t, core.DefaultBranchPrefix, task.Execution.Worktree.BranchPrefix)
}

func TestCreateTaskToolRejectsInvalidInput(t *testing.T) {
	s, sched := newTestServer(t)

	res, err := s.handleCreateTask(context.Background(), call(map[string]any{
		"name": "bad", "command": "x", "cron": "0 9 * *",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "Failed to create task")
	assert.Empty(t, sched.tasks)

	res, err = s.handleCreateTask(context.Background(), call(map[string]any{
		"name": "bad env", "command": "x", "cron": "0 9 * * *", "env": map[string]any{"K": []any{"v"}},
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestTaskTools(t *testing.T) {
	s, sched := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleCreateTask(ctx, call(map[string]any{"name": "a", "command": "x", "cron": "*/5 * * * *"}))
	require.NoError(t, err)
	id := onlyID(t, sched)

	res, err := s.handleGetTask(ctx, call(map[string]any{"task_id": id}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Registered: true")

	res, err = s.handleUpdateTask(ctx, call(map[string]any{"task_id": id, "cron": "0 8 * * 1"}))
	require.NoError(t, err)
	assert.False(t, res.IsError, resultText(t, res))
	assert.Equal(t, "0 8 * * 1", sched.tasks[id].Trigger.Expression)

	res, err = s.handleSetEnabled(ctx, call(map[string]any{"task_id": id, "enabled": false}))
	require.NoError(t, err)
	assert.Equal(t, "Task disabled: "+id, resultText(t, res))
	assert.Empty(t, sched.tasks)

	res, err = s.handleListTasks(ctx, call(map[string]any{"status": "enabled"}))
	require.NoError(t, err)
	assert.Equal(t, "No tasks found", resultText(t, res))

	res, err = s.handleListTasks(ctx, call(map[string]any{"status": "disabled"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), id+" [disabled]")

	res, err = s.handleListRegistrations(ctx, call(map[string]any{"task_id": id}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "[succeeded] unregister on linux")

	res, err = s.handleDeleteTask(ctx, call(map[string]any{"task_id": id}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	res, err = s.handleGetTask(ctx, call(map[string]any{"task_id": id}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Task not found: "+id, resultText(t, res))
}

func TestStatusAndSyncTools(t *testing.T) {
	s, sched := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleCreateTask(ctx, call(map[string]any{"name": "a", "command": "x", "cron": "0 9 * * *"}))
	require.NoError(t, err)
	id := onlyID(t, sched)
	delete(sched.tasks, id)
	sched.tasks["orphan"] = core.NewTask("orphan", "* * * * *", "y")

	res, err := s.handleStatus(ctx, call(nil))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "Healthy: false")
	assert.Contains(t, text, "Missing: "+id)
	assert.Contains(t, text, "Orphans: orphan")

	res, err = s.handleSync(ctx, call(nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "Orphans removed: 1")

	res, err = s.handleStatus(ctx, call(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Healthy: true")
}

func TestCronPreviewTool(t *testing.T) {
	s, _ := newTestServer(t)

	res, err := s.handleCronPreview(context.Background(), call(map[string]any{"cron": "0 9 * * *", "timezone": "UTC", "count": float64(3)}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "Timezone: UTC")
	assert.Equal(t, 3, strings.Count(text, " 09:00:00"))

	res, err = s.handleCronPreview(context.Background(), call(map[string]any{"cron": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestTaskLogTool(t *testing.T) {
	s, sched := newTestServer(t)
	ctx := context.Background()
	_, err := s.handleCreateTask(ctx, call(map[string]any{"name": "a", "command": "x", "cron": "0 9 * * *"}))
	require.NoError(t, err)
	id := onlyID(t, sched)

	res, err := s.handleTaskLog(ctx, call(map[string]any{"task_id": id}))
	require.NoError(t, err)
	assert.Equal(t, "No output captured yet", resultText(t, res))

	res, err = s.handleTaskLog(ctx, call(map[string]any{"task_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestBuildRegistersTools(t *testing.T) {
	s, _ := newTestServer(t)
	srv := s.build()

	resp := srv.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	for _, name := range []string{
		"schedule_create_task", "schedule_list_tasks", "schedule_get_task",
		"schedule_delete_task", "schedule_set_enabled", "schedule_status",
		"schedule_sync", "schedule_preview",
	} {
		assert.Contains(t, string(raw), `"`+name+`"`)
	}
}
