package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var maxAPIRequestBodyBytes int64 = 2 * 1024 * 1024

// decodeJSONRequest decodes r's body into dst, rejecting unknown fields and
// oversized bodies.
func decodeJSONRequest(w http.ResponseWriter, r *http.Request, dst any) (int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAPIRequestBodyBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge, err
		}
		return http.StatusBadRequest, err
	}
	return 0, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// startHTTPServer brings up the primary REST+WS listener.
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := s.withMiddleware(mux)
	addr := s.cfg.HTTPAddr

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(context.Background(), "http server error", "error", err)
		}
	}()

	s.logger.Info(context.Background(), "http server listening", "addr", addr)
	return nil
}

func (s *Server) stopHTTPServer(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(ctx, "http server shutdown error", "error", err)
	}
	s.httpServer = nil
}

// startMetricsServer serves /metrics on its own port so scrape traffic
// never competes with the rate limiter guarding the API surface.
func (s *Server) startMetricsServer() error {
	if s.cfg.MetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := s.cfg.MetricsAddr
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}

	s.metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(context.Background(), "metrics server error", "error", err)
		}
	}()
	s.logger.Info(context.Background(), "metrics server listening", "addr", addr)
	return nil
}

func (s *Server) stopMetricsServer(ctx context.Context) {
	if s.metricsServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(ctx, "metrics server shutdown error", "error", err)
	}
	s.metricsServer = nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/v1/sessions", s.handleSessionsCollection)
	mux.HandleFunc("/v1/sessions/", s.handleSessionsItem)

	mux.HandleFunc("/v1/agents", s.handleAgentsCollection)
	mux.HandleFunc("/v1/agents/", s.handleAgentsItem)

	mux.HandleFunc("/v1/jobs", s.handleJobsCollection)
	mux.HandleFunc("/v1/jobs/", s.handleJobsItem)

	mux.HandleFunc("/ws/sessions/", s.handleWebSocket)
}
