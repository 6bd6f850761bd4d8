package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// corsMiddleware adds CORS headers, answers preflight requests and records
// request metrics.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := s.corsOrigin
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(rec, r)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	}
}

// rateLimitMiddleware enforces per-client limits when a limiter is configured.
func (s *Server) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimiter == nil {
			next(w, r)
			return
		}
		if err := s.rateLimiter.Allow(getClientIP(r), max(r.ContentLength, 0)); err != nil {
			writeRateLimitError(w, err)
			return
		}
		next(w, r)
	}
}

func writeRateLimitError(w http.ResponseWriter, err error) {
	var (
		rle  *RateLimitError
		qe   *QuotaExceededError
		body map[string]any
	)
	switch {
	case errors.As(err, &rle):
		rateLimitHits.WithLabelValues(rle.Type).Inc()
		w.Header().Set("X-RateLimit-Type", rle.Type)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rle.Limit))
		w.Header().Set("Retry-After", fmt.Sprintf("%.0f", rle.RetryAfter.Seconds()))
		body = map[string]any{"error": "rate_limit_exceeded", "type": rle.Type, "limit": rle.Limit,
			"retry_after": rle.RetryAfter.Seconds(), "message": rle.Error()}
	case errors.As(err, &qe):
		rateLimitHits.WithLabelValues(qe.Type).Inc()
		w.Header().Set("X-Quota-Type", qe.Type)
		w.Header().Set("X-Quota-Limit", strconv.FormatInt(qe.Limit, 10))
		w.Header().Set("X-Quota-Used", strconv.FormatInt(qe.Used, 10))
		w.Header().Set("X-Quota-Resets", qe.Resets.UTC().Format(http.TimeFormat))
		body = map[string]any{"error": "quota_exceeded", "type": qe.Type, "limit": qe.Limit,
			"used": qe.Used, "resets": qe.Resets.Format(time.RFC3339), "message": qe.Error()}
	default:
		writeError(w, "rate limiting check failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode rate limit response", "error", err)
	}
}

// getClientIP prefers proxy headers over the connection address.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
