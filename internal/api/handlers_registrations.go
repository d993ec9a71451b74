package api

import (
	"net/http"
	"time"

	"claudesched/internal/core"

	"github.com/go-chi/chi/v5"
)

type registrationResponse struct {
	ID        string  `json:"id"`
	TaskID    string  `json:"task_id"`
	Op        string  `json:"op"`
	Platform  string  `json:"platform"`
	Status    string  `json:"status"`
	Error     *string `json:"error,omitempty"`
	CreatedAt string  `json:"created_at"`
}

type taskLogResponse struct {
	TaskID string            `json:"task_id"`
	Tail   int               `json:"tail"`
	Files  map[string]string `json:"files"`
}

func (s *Server) handleListRegistrations(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if _, err := s.manager.Get(r.Context(), taskID); err != nil {
		s.writeManagerError(w, "get task", taskID, err)
		return
	}

	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}

	regs, err := s.manager.Registrations(r.Context(), taskID, limit, offset)
	if err != nil {
		s.logger.Error("list registrations", "task_id", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list registrations")
		return
	}
	res := make([]registrationResponse, 0, len(regs))
	for _, reg := range regs {
		res = append(res, registrationToResponse(reg))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTaskLog(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	tail := parseIntDefault(r.URL.Query().Get("tail"), 100)
	if tail < 0 {
		tail = 0
	}
	files, err := s.manager.TaskLog(r.Context(), taskID, tail)
	if err != nil {
		s.writeManagerError(w, "read task log", taskID, err)
		return
	}
	writeJSON(w, http.StatusOK, taskLogResponse{TaskID: taskID, Tail: tail, Files: files})
}

func registrationToResponse(reg *core.Registration) registrationResponse {
	return registrationResponse{
		ID:        reg.ID,
		TaskID:    reg.TaskID,
		Op:        string(reg.Op),
		Platform:  reg.Platform,
		Status:    string(reg.Status),
		Error:     reg.Error,
		CreatedAt: reg.CreatedAt.UTC().Format(time.RFC3339),
	}
}
