package main

import (
	"net"
	"net/http"
	"strconv"
	"time"
)

// withMiddleware wraps the mux with rate limiting, then request logging and
// metrics — request limiting runs first so a rejected request never pays
// for the rest of the chain.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return s.rateLimitMiddleware(s.instrumentMiddleware(next))
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrumentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Pattern, strconv.Itoa(rec.status), time.Since(start).Seconds())
		}
		s.logger.Debug(r.Context(), "http request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
