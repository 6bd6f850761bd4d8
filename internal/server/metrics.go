package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkercal_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "checkercal_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Calibration and pose metrics
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkercal_requests_total",
			Help: "Total number of calibration, pose and undistort requests",
		},
		[]string{"type", "status"}, // type: calibrate, pose, undistort, track
	)

	processingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "checkercal_processing_duration_seconds",
			Help:    "Processing duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"type"},
	)

	calibrationRMS = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "checkercal_calibration_rms_pixels",
			Help:    "Final reprojection RMS of successful calibrations",
			Buckets: []float64{.05, .1, .2, .3, .5, .75, 1, 1.5, 2, 5},
		},
	)

	calibrationImages = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "checkercal_calibration_usable_images",
			Help:    "Usable images per calibration request",
			Buckets: []float64{0, 3, 5, 10, 20, 40, 80},
		},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkercal_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // minute, hour, requests, data
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "checkercal_upload_size_bytes",
			Help:    "Size of uploaded files in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "checkercal_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkercal_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // sent, received
	)
)
