package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"claudesched/internal/core"
	"claudesched/internal/manager"
	"claudesched/internal/store"

	"github.com/go-chi/chi/v5"
)

// taskRequest is shared by create and patch. Nil fields are left alone.
type taskRequest struct {
	ID               *string              `json:"id"`
	Name             *string              `json:"name"`
	Description      *string              `json:"description"`
	Enabled          *bool                `json:"enabled"`
	Cron             *string              `json:"cron"`
	Timezone         *string              `json:"timezone"`
	Command          *string              `json:"command"`
	WorkingDirectory *string              `json:"workingDirectory"`
	TimeoutSecs      *int                 `json:"timeout"`
	Env              map[string]string    `json:"env"`
	SkipPermissions  *bool                `json:"skipPermissions"`
	Worktree         *core.WorktreeConfig `json:"worktree"`
	Tags             []string             `json:"tags"`
}

func (req *taskRequest) apply(task *core.ScheduledTask) {
	if req.Name != nil {
		task.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.Enabled != nil {
		task.Enabled = *req.Enabled
	}
	if req.Cron != nil {
		task.Trigger.Expression = strings.TrimSpace(*req.Cron)
	}
	if req.Timezone != nil {
		task.Trigger.Timezone = strings.TrimSpace(*req.Timezone)
	}
	if req.Command != nil {
		task.Execution.Command = *req.Command
	}
	if req.WorkingDirectory != nil {
		task.Execution.WorkingDirectory = *req.WorkingDirectory
	}
	if req.TimeoutSecs != nil {
		task.Execution.TimeoutSeconds = *req.TimeoutSecs
	}
	if req.Env != nil {
		task.Execution.Env = req.Env
	}
	if req.SkipPermissions != nil {
		task.Execution.SkipPermissions = *req.SkipPermissions
	}
	if req.Worktree != nil {
		task.Execution.Worktree = req.Worktree
	}
	if req.Tags != nil {
		task.Tags = req.Tags
	}
}

type taskResponse struct {
	*core.ScheduledTask
	NextRunAt *string `json:"nextRunAt,omitempty"`
}

func taskToResponse(task *core.ScheduledTask) taskResponse {
	res := taskResponse{ScheduledTask: task}
	if !task.Enabled {
		return res
	}
	times, err := core.Preview(task.Trigger.Expression, task.Trigger.Timezone, time.Now(), 1)
	if err == nil && len(times) > 0 {
		next := times[0].UTC().Format(time.RFC3339)
		res.NextRunAt = &next
	}
	return res
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	task := core.NewTask("", "", "")
	if req.ID != nil {
		task.ID = strings.TrimSpace(*req.ID)
	}
	req.apply(task)

	created, err := s.manager.Add(r.Context(), task)
	if err != nil {
		// On ErrRegistration the task is stored and sync retries it.
		s.writeManagerError(w, "create task", task.ID, err)
		return
	}
	writeJSON(w, http.StatusCreated, taskToResponse(created))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var enabled *bool
	if raw := r.URL.Query().Get("enabled"); raw != "" {
		val, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "enabled must be true or false")
			return
		}
		enabled = &val
	}

	tasks, err := s.manager.List(r.Context(), enabled)
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list tasks")
		return
	}
	res := make([]taskResponse, 0, len(tasks))
	for _, task := range tasks {
		res = append(res, taskToResponse(task))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.manager.Get(r.Context(), taskID)
	if err != nil {
		s.writeManagerError(w, "get task", taskID, err)
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.ID != nil && *req.ID != taskID {
		writeError(w, http.StatusBadRequest, "invalid_input", "id cannot be changed")
		return
	}

	task, err := s.manager.Get(r.Context(), taskID)
	if err != nil {
		s.writeManagerError(w, "get task", taskID, err)
		return
	}
	req.apply(task)

	updated, err := s.manager.Update(r.Context(), task)
	if err != nil {
		s.writeManagerError(w, "update task", taskID, err)
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(updated))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.manager.Remove(r.Context(), taskID); err != nil {
		s.writeManagerError(w, "delete task", taskID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnableTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.manager.Enable(r.Context(), taskID)
	if err != nil {
		s.writeManagerError(w, "enable task", taskID, err)
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleDisableTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.manager.Disable(r.Context(), taskID)
	if err != nil {
		s.writeManagerError(w, "disable task", taskID, err)
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleTaskScript(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	script, err := s.manager.Script(r.Context(), taskID)
	if err != nil {
		s.writeManagerError(w, "render script", taskID, err)
		return
	}
	if script == "" {
		writeError(w, http.StatusNotFound, "not_found", "task does not use a worktree")
		return
	}
	w.Header().Set("Content-Type", "text/x-shellscript; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(script))
}

// writeManagerError maps manager and store errors onto HTTP responses.
func (s *Server) writeManagerError(w http.ResponseWriter, action, taskID string, err error) {
	switch {
	case errors.Is(err, manager.ErrInvalidTask):
		writeError(w, http.StatusBadRequest, "invalid_task", err.Error())
	case manager.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "task not found")
	case errors.Is(err, store.ErrTaskExists):
		writeError(w, http.StatusConflict, "conflict", "task already exists")
	case errors.Is(err, manager.ErrRegistration):
		s.logger.Warn(action, "task_id", taskID, "err", err)
		writeError(w, http.StatusBadGateway, "registration_failed", err.Error())
	default:
		s.logger.Error(action, "task_id", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to "+action)
	}
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
