package api

import (
	"errors"
	"net/http"

	"claudesched/internal/manager"
)

type statusResponse struct {
	manager.StatusReport
	Healthy bool `json:"healthy"`
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.manager.Status(r.Context())
	if err != nil {
		s.logger.Error("scheduler status", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load scheduler status")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{StatusReport: report, Healthy: report.Healthy()})
}

func (s *Server) handleSchedulerSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.manager.Sync(r.Context())
	if err != nil {
		if errors.Is(err, manager.ErrRegistration) {
			writeError(w, http.StatusBadGateway, "registration_failed", err.Error())
			return
		}
		s.logger.Error("scheduler sync", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to sync scheduler")
		return
	}
	status := http.StatusOK
	if !report.OK() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, report)
}
