package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"claudesched/internal/core"
	"claudesched/internal/manager"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// MCPServer exposes the task manager as MCP tools.
type MCPServer struct {
	manager *manager.Manager
	logger  *slog.Logger
}

// NewMCPServer creates a new MCP server instance.
func NewMCPServer(mgr *manager.Manager, logger *slog.Logger) *MCPServer {
	return &MCPServer{
		manager: mgr,
		logger:  logger,
	}
}

func (s *MCPServer) build() *server.MCPServer {
	mcpServer := server.NewMCPServer(
		"claudesched",
		Version,
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)
	return mcpServer
}

// Run serves MCP over stdio until stdin closes. Stdout carries the
// protocol, so logs must go elsewhere.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.build())
}

// HTTPHandler serves the same tools over streamable HTTP.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.build())
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("schedule_create_task",
		mcp.WithDescription("Create a task that runs a Claude prompt on a five-field cron schedule (minute hour day month weekday) through the native OS scheduler."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Task name"),
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("Prompt passed to claude -p"),
		),
		mcp.WithString("cron",
			mcp.Required(),
			mcp.Description("Cron expression, e.g. '0 9 * * 1-5' for weekdays at 09:00"),
		),
		mcp.WithString("working_dir",
			mcp.Description("Working directory, default '.'"),
		),
		mcp.WithString("timezone",
			mcp.Description("IANA timezone used for previews, default local"),
		),
		mcp.WithString("description",
			mcp.Description("Free-form description"),
		),
		mcp.WithNumber("timeout_minutes",
			mcp.Description("Timeout in minutes, default 5"),
			mcp.Min(0),
		),
		mcp.WithBoolean("skip_permissions",
			mcp.Description("Pass --dangerously-skip-permissions"),
		),
		mcp.WithBoolean("enabled",
			mcp.Description("Register immediately, default true"),
		),
		mcp.WithObject("env",
			mcp.Description("Environment variables set before the command runs"),
		),
		mcp.WithArray("tags",
			mcp.Description("Tags"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithBoolean("worktree",
			mcp.Description("Run inside a fresh git worktree and push the result"),
		),
		mcp.WithString("branch_prefix",
			mcp.Description("Worktree branch prefix, default 'claude-task/'"),
		),
		mcp.WithString("remote_name",
			mcp.Description("Worktree push remote, default 'origin'"),
		),
		mcp.WithString("worktree_base",
			mcp.Description("Directory that holds worktrees"),
		),
	), s.handleCreateTask)

	mcpServer.AddTool(mcp.NewTool("schedule_list_tasks",
		mcp.WithDescription("List scheduled tasks"),
		mcp.WithString("status",
			mcp.Description("Filter: enabled or disabled"),
			mcp.Enum("enabled", "disabled"),
		),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("schedule_get_task",
		mcp.WithDescription("Show a task and whether it is registered natively"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleGetTask)

	mcpServer.AddTool(mcp.NewTool("schedule_update_task",
		mcp.WithDescription("Update a task and re-register it"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithString("name",
			mcp.Description("New name"),
		),
		mcp.WithString("command",
			mcp.Description("New prompt"),
		),
		mcp.WithString("cron",
			mcp.Description("New cron expression"),
		),
		mcp.WithString("working_dir",
			mcp.Description("New working directory"),
		),
		mcp.WithString("timezone",
			mcp.Description("New timezone"),
		),
	), s.handleUpdateTask)

	mcpServer.AddTool(mcp.NewTool("schedule_delete_task",
		mcp.WithDescription("Unregister and delete a task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleDeleteTask)

	mcpServer.AddTool(mcp.NewTool("schedule_set_enabled",
		mcp.WithDescription("Enable or disable a task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithBoolean("enabled",
			mcp.Required(),
			mcp.Description("true registers the task, false unregisters it"),
		),
	), s.handleSetEnabled)

	mcpServer.AddTool(mcp.NewTool("schedule_list_registrations",
		mcp.WithDescription("Show recent native registration attempts of a task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of records, default 20"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListRegistrations)

	mcpServer.AddTool(mcp.NewTool("schedule_task_log",
		mcp.WithDescription("Read the output the native scheduler captured for a task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithNumber("tail",
			mcp.Description("Last N lines per file, default 50"),
			mcp.Min(0),
		),
	), s.handleTaskLog)

	mcpServer.AddTool(mcp.NewTool("schedule_status",
		mcp.WithDescription("Report native scheduler health and drift against the registry"),
	), s.handleStatus)

	mcpServer.AddTool(mcp.NewTool("schedule_sync",
		mcp.WithDescription("Re-register enabled tasks and remove stale native entries"),
	), s.handleSync)

	mcpServer.AddTool(mcp.NewTool("schedule_preview",
		mcp.WithDescription("Show upcoming fire times of a cron expression"),
		mcp.WithString("cron",
			mcp.Required(),
			mcp.Description("Cron expression"),
		),
		mcp.WithString("timezone",
			mcp.Description("IANA timezone, default local"),
		),
		mcp.WithNumber("count",
			mcp.Description("Number of times, default 5"),
			mcp.Min(1),
			mcp.Max(20),
		),
	), s.handleCronPreview)
}

func (s *MCPServer) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task := core.NewTask(
		strings.TrimSpace(mcp.ParseString(request, "name", "")),
		strings.TrimSpace(mcp.ParseString(request, "cron", "")),
		mcp.ParseString(request, "command", ""),
	)
	task.Description = mcp.ParseString(request, "description", "")
	task.Enabled = mcp.ParseBoolean(request, "enabled", true)
	task.Execution.SkipPermissions = mcp.ParseBoolean(request, "skip_permissions", false)
	if wd := mcp.ParseString(request, "working_dir", ""); wd != "" {
		task.Execution.WorkingDirectory = wd
	}
	if tz := mcp.ParseString(request, "timezone", ""); tz != "" {
		task.Trigger.Timezone = tz
	}
	if minutes := mcp.ParseFloat64(request, "timeout_minutes", 0); minutes > 0 {
		task.Execution.TimeoutSeconds = int(minutes * 60)
	}

	env, err := parseEnv(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	task.Execution.Env = env
	task.Tags = parseStrings(mcp.ParseArgument(request, "tags", nil))

	if mcp.ParseBoolean(request, "worktree", false) {
		task.Execution.Worktree = &core.WorktreeConfig{
			Enabled:      true,
			BasePath:     mcp.ParseString(request, "worktree_base", ""),
			BranchPrefix: mcp.ParseString(request, "branch_prefix", ""),
			RemoteName:   mcp.ParseString(request, "remote_name", ""),
		}
	}

	created, err := s.manager.Add(ctx, task)
	if err != nil {
		if created != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Task %s was saved but native registration failed: %v\nRun schedule_sync to retry.", created.ID, err)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create task: %v", err)), nil
	}

	s.logger.Info("task created via mcp", "task_id", created.ID, "cron", created.Trigger.Expression)
	return mcp.NewToolResultText(fmt.Sprintf("Task created\nID: %s\nScheduler: %s\nNext run: %s",
		created.ID,
		s.manager.Scheduler().Name(),
		nextRun(created),
	)), nil
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var filter *bool
	switch mcp.ParseString(request, "status", "") {
	case "enabled":
		v := true
		filter = &v
	case "disabled":
		v := false
		filter = &v
	}

	tasks, err := s.manager.List(ctx, filter)
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list tasks: %v", err)), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d task(s):\n\n", len(tasks))
	for _, t := range tasks {
		state := "enabled"
		if !t.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "%s [%s]\n", t.ID, state)
		fmt.Fprintf(&b, "  Name: %s\n", t.Name)
		fmt.Fprintf(&b, "  Cron: %s\n", t.Trigger.Expression)
		fmt.Fprintf(&b, "  Command: %s\n", truncateString(t.Execution.Command, 60))
		fmt.Fprintf(&b, "  Working dir: %s\n", t.Execution.WorkingDirectory)
		if t.Enabled {
			fmt.Fprintf(&b, "  Next run: %s\n", nextRun(t))
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")

	task, err := s.manager.Get(ctx, taskID)
	if err != nil {
		return taskError(taskID, "get task", err), nil
	}
	registered, regErr := s.manager.Scheduler().IsRegistered(ctx, taskID)

	var b strings.Builder
	fmt.Fprintf(&b, "Task ID: %s\n", task.ID)
	fmt.Fprintf(&b, "Name: %s\n", task.Name)
	if task.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", task.Description)
	}
	fmt.Fprintf(&b, "Enabled: %t\n", task.Enabled)
	switch {
	case regErr != nil:
		fmt.Fprintf(&b, "Registered: unknown (%v)\n", regErr)
	default:
		fmt.Fprintf(&b, "Registered: %t\n", registered)
	}
	fmt.Fprintf(&b, "Cron: %s (%s)\n", task.Trigger.Expression, task.Trigger.Timezone)
	fmt.Fprintf(&b, "Command: %s\n", task.Execution.Command)
	fmt.Fprintf(&b, "Working dir: %s\n", task.Execution.WorkingDirectory)
	fmt.Fprintf(&b, "Timeout: %d seconds\n", task.Execution.TimeoutSeconds)
	if len(task.Execution.Env) > 0 {
		keys := make([]string, 0, len(task.Execution.Env))
		for k := range task.Execution.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(&b, "Env: %s\n", strings.Join(keys, ", "))
	}
	if task.UsesWorktree() {
		wt := task.Execution.Worktree
		fmt.Fprintf(&b, "Worktree: branch prefix %s, remote %s\n", wt.BranchPrefix, wt.RemoteName)
	}
	if len(task.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(task.Tags, ", "))
	}
	if task.Enabled {
		fmt.Fprintf(&b, "Next run: %s\n", nextRun(task))
	}
	fmt.Fprintf(&b, "Created: %s\n", formatTime(&task.CreatedAt))
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleUpdateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")

	task, err := s.manager.Get(ctx, taskID)
	if err != nil {
		return taskError(taskID, "get task", err), nil
	}
	if v := strings.TrimSpace(mcp.ParseString(request, "name", "")); v != "" {
		task.Name = v
	}
	if v := mcp.ParseString(request, "command", ""); v != "" {
		task.Execution.Command = v
	}
	if v := strings.TrimSpace(mcp.ParseString(request, "cron", "")); v != "" {
		task.Trigger.Expression = v
	}
	if v := mcp.ParseString(request, "working_dir", ""); v != "" {
		task.Execution.WorkingDirectory = v
	}
	if v := mcp.ParseString(request, "timezone", ""); v != "" {
		task.Trigger.Timezone = v
	}

	updated, err := s.manager.Update(ctx, task)
	if err != nil {
		return taskError(taskID, "update task", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task updated: %s\nEnabled: %t", updated.ID, updated.Enabled)), nil
}

func (s *MCPServer) handleDeleteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	if err := s.manager.Remove(ctx, taskID); err != nil {
		return taskError(taskID, "delete task", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task deleted: %s", taskID)), nil
}

func (s *MCPServer) handleSetEnabled(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	enabled := mcp.ParseBoolean(request, "enabled", true)

	var err error
	if enabled {
		_, err = s.manager.Enable(ctx, taskID)
	} else {
		_, err = s.manager.Disable(ctx, taskID)
	}
	if err != nil {
		return taskError(taskID, "update task", err), nil
	}
	if enabled {
		return mcp.NewToolResultText(fmt.Sprintf("Task enabled: %s", taskID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task disabled: %s", taskID)), nil
}

func (s *MCPServer) handleListRegistrations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))

	if _, err := s.manager.Get(ctx, taskID); err != nil {
		return taskError(taskID, "get task", err), nil
	}
	regs, err := s.manager.Registrations(ctx, taskID, limit, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list registrations: %v", err)), nil
	}
	if len(regs) == 0 {
		return mcp.NewToolResultText("No registration attempts recorded"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d registration attempt(s):\n\n", len(regs))
	for _, r := range regs {
		fmt.Fprintf(&b, "[%s] %s on %s at %s\n", r.Status, r.Op, r.Platform, formatTime(&r.CreatedAt))
		if r.Error != nil {
			fmt.Fprintf(&b, "    %s\n", truncateString(*r.Error, 200))
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleTaskLog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	tail := int(mcp.ParseFloat64(request, "tail", 50))

	files, err := s.manager.TaskLog(ctx, taskID, tail)
	if err != nil {
		return taskError(taskID, "read log", err), nil
	}
	if len(files) == 0 {
		return mcp.NewToolResultText("No output captured yet"), nil
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "==> %s <==\n%s\n", p, files[p])
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.manager.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read status: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Scheduler: %s (%s)\n", report.Scheduler, report.Native.Platform)
	fmt.Fprintf(&b, "Healthy: %t\n", report.Healthy())
	fmt.Fprintf(&b, "Native entries: %d\n", report.Native.TaskCount)
	fmt.Fprintf(&b, "Stored tasks: %d (%d enabled)\n", report.StoredTasks, report.EnabledTasks)
	for _, e := range report.Native.Errors {
		fmt.Fprintf(&b, "Error: %s\n", e)
	}
	if len(report.Missing) > 0 {
		fmt.Fprintf(&b, "Missing: %s\n", strings.Join(report.Missing, ", "))
	}
	if len(report.Orphans) > 0 {
		fmt.Fprintf(&b, "Orphans: %s\n", strings.Join(report.Orphans, ", "))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleSync(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.manager.Sync(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Sync failed: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Registered: %d\n", len(report.Registered))
	fmt.Fprintf(&b, "Unregistered: %d\n", len(report.Unregistered))
	fmt.Fprintf(&b, "Orphans removed: %d\n", len(report.OrphansRemoved))
	for _, f := range report.Failures {
		fmt.Fprintf(&b, "Failed to %s %s: %s\n", f.Op, f.TaskID, f.Error)
	}
	if !report.OK() {
		return mcp.NewToolResultError(b.String()), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleCronPreview(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cronExpr := mcp.ParseString(request, "cron", "")
	tz := mcp.ParseString(request, "timezone", "")
	count := int(mcp.ParseFloat64(request, "count", 5))

	times, err := core.Preview(cronExpr, tz, time.Now(), count)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid cron expression: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Cron expression: %s\n", cronExpr)
	if len(times) > 0 {
		fmt.Fprintf(&b, "Timezone: %s\n", times[0].Location())
	}
	b.WriteString("\nUpcoming fire times:\n")
	for i, t := range times {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, t.Format("2006-01-02 15:04:05"))
	}
	return mcp.NewToolResultText(b.String()), nil
}

// Helper functions

func taskError(taskID, action string, err error) *mcp.CallToolResult {
	switch {
	case manager.IsNotFound(err):
		return mcp.NewToolResultError(fmt.Sprintf("Task not found: %s", taskID))
	case errors.Is(err, manager.ErrRegistration):
		return mcp.NewToolResultError(fmt.Sprintf("Saved, but native registration failed: %v\nRun schedule_sync to retry.", err))
	default:
		return mcp.NewToolResultError(fmt.Sprintf("Failed to %s: %v", action, err))
	}
}

func parseEnv(request mcp.CallToolRequest) (map[string]string, error) {
	raw := mcp.ParseStringMap(request, "env", nil)
	if len(raw) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			env[k] = val
		case float64, bool:
			env[k] = fmt.Sprint(val)
		default:
			return nil, fmt.Errorf("env value for %q must be a string", k)
		}
	}
	return env, nil
}

func parseStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func nextRun(task *core.ScheduledTask) string {
	times, err := core.Preview(task.Trigger.Expression, task.Trigger.Timezone, time.Now(), 1)
	if err != nil || len(times) == 0 {
		return "-"
	}
	return formatTime(&times[0])
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
