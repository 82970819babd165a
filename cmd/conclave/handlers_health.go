package main

import (
	"net/http"
	"time"

	"github.com/conclave-run/conclave/internal/sessions"
	"github.com/conclave-run/conclave/pkg/models"
)

// healthResponse reports status, uptime, and a
// snapshot of the stores the runtime depends on.
type healthResponse struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Database string `json:"database"`
	Sessions int    `json:"sessions"`
	CronJobs int    `json:"cron_jobs"`
	Agents   int    `json:"agents"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "ok"
	database := "ok"

	active, err := s.sessionStore.List(ctx, sessions.ListOptions{Status: models.SessionActive, Limit: 10000})
	if err != nil {
		status = "degraded"
		database = "error"
	}

	_, agentTotal, err := s.agentStore.Agents.List(ctx, 1, 0)
	if err != nil {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:   status,
		Uptime:   time.Since(s.startTime).String(),
		Database: database,
		Sessions: len(active),
		CronJobs: len(s.scheduler.Jobs()),
		Agents:   agentTotal,
	})
}
