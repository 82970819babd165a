package main

import (
	"context"
	"time"

	"github.com/conclave-run/conclave/internal/observability"
	"github.com/conclave-run/conclave/internal/sessions"
	"github.com/conclave-run/conclave/pkg/models"
)

// instrumentedSessionStore decorates a sessions.Store with the metrics the
// composition root records on the write path (sessions created, messages
// by role), without requiring the Session Store itself to know about
// Prometheus.
type instrumentedSessionStore struct {
	sessions.Store
	metrics *observability.Metrics
}

func instrumentStore(store sessions.Store, metrics *observability.Metrics) sessions.Store {
	if metrics == nil {
		return store
	}
	return &instrumentedSessionStore{Store: store, metrics: metrics}
}

func (s *instrumentedSessionStore) Create(ctx context.Context, session *models.Session) error {
	if err := s.Store.Create(ctx, session); err != nil {
		return err
	}
	s.metrics.SessionsCreated.Inc()
	return nil
}

func (s *instrumentedSessionStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if err := s.Store.AppendMessage(ctx, msg); err != nil {
		return err
	}
	s.metrics.RecordMessage(string(msg.Role))
	return nil
}

// metricsLoop periodically samples gauges that aren't naturally updated on
// a write path: active session count and scheduler job counts.
func (s *Server) metricsLoop(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleGauges(ctx)
		}
	}
}

func (s *Server) sampleGauges(ctx context.Context) {
	active, err := s.sessionStore.List(ctx, sessions.ListOptions{Status: models.SessionActive, Limit: 10000})
	if err == nil {
		s.metrics.SessionsActive.Set(float64(len(active)))
	}

	jobs := s.scheduler.Jobs()
	enabled := 0
	for _, j := range jobs {
		if j.Enabled {
			enabled++
		}
	}
	s.metrics.SchedulerJobsEnabled.Set(float64(enabled))
}
