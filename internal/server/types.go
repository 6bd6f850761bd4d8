package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/common"
	"github.com/MeKo-Tech/checkercal/internal/pipeline"
	"github.com/golang/geo/r2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	ModelFile   string // optional model served to pose, undistort and track
	Pipeline    pipeline.Config
	RateLimit   RateLimitConfig
}

// RateLimitConfig holds per-client limits. Zero values are not enforced.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64 // bytes
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline    *pipeline.Pipeline
	corsOrigin  string
	maxUploadMB int64
	timeout     time.Duration
	rateLimiter *RateLimiter

	mu     sync.RWMutex
	model  *camera.Model
	undist *camera.Undistorter // remap tables for model
}

// Response types for API endpoints.
type HealthResponse struct {
	Status      string             `json:"status"`
	Version     string             `json:"version,omitempty"`
	Time        string             `json:"time"`
	ModelLoaded bool               `json:"model_loaded"`
	Memory      common.MemoryStats `json:"memory"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// PoseResponse reports the board pose found in one image.
type PoseResponse struct {
	Found      bool         `json:"found"`
	Pose       *camera.Pose `json:"pose,omitempty"`
	Inliers    int          `json:"inliers,omitempty"`
	RMS        float64      `json:"rms,omitempty"`
	Origin     *r2.Point    `json:"origin,omitempty"`
	Axes       []r2.Point   `json:"axes,omitempty"`
	Width      int          `json:"width"`
	Height     int          `json:"height"`
	Error      string       `json:"error,omitempty"`
	Processing struct {
		TotalMs int64 `json:"total_ms"`
	} `json:"processing"`
}

// NewServer creates a server. A configured model file is loaded up front.
func NewServer(config Config) (*Server, error) {
	pl, err := pipeline.New(config.Pipeline)
	if err != nil {
		return nil, err
	}
	s := &Server{
		pipeline:    pl,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeout:     time.Duration(config.TimeoutSec) * time.Second,
	}
	if s.maxUploadMB <= 0 {
		s.maxUploadMB = 50
	}
	if s.timeout <= 0 {
		s.timeout = time.Minute
	}
	if config.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(config.RateLimit)
	}
	if config.ModelFile != "" {
		m, err := camera.LoadModel(config.ModelFile)
		if err != nil {
			return nil, fmt.Errorf("load server model: %w", err)
		}
		s.SetModel(m)
		slog.Info("Camera model loaded", "file", config.ModelFile, "fx", m.Intrinsics.Fx, "fy", m.Intrinsics.Fy)
	}
	return s, nil
}

// SetModel replaces the model used by pose, undistort and track.
func (s *Server) SetModel(m camera.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = &m
	s.undist = camera.NewUndistorter(m)
}

// Model returns the current model, if any.
func (s *Server) Model() (camera.Model, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.model == nil {
		return camera.Model{}, false
	}
	return *s.model, true
}

// undistorter returns the cached undistorter when m is the active model and
// a throwaway one for uploaded models.
func (s *Server) undistorter(m camera.Model) *camera.Undistorter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.undist != nil && s.undist.Model() == m {
		return s.undist
	}
	return camera.NewUndistorter(m)
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/model", s.corsMiddleware(s.modelHandler))
	mux.HandleFunc("/v1/calibrate", s.corsMiddleware(s.rateLimitMiddleware(s.calibrateHandler)))
	mux.HandleFunc("/v1/pose", s.corsMiddleware(s.rateLimitMiddleware(s.poseHandler)))
	mux.HandleFunc("/v1/undistort", s.corsMiddleware(s.rateLimitMiddleware(s.undistortHandler)))
	mux.HandleFunc("/v1/track", s.rateLimitMiddleware(s.trackWebSocketHandler))
}

// Handler returns a mux with all routes installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}
