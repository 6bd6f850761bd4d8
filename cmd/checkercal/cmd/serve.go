package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MeKo-Tech/checkercal/internal/server"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the calibration HTTP server",
	Long: `Start an HTTP server exposing calibration, pose estimation and
undistortion.

The server provides the following endpoints:
  GET  /health        - Health check
  GET  /metrics       - Prometheus metrics
  GET  /v1/model      - Active camera model (PUT replaces it)
  POST /v1/calibrate  - Calibrate from uploaded 'images'
  POST /v1/pose       - Board pose in an uploaded 'image'
  POST /v1/undistort  - Undistorted PNG of an uploaded 'image'
  GET  /v1/track      - WebSocket pose tracking of binary frames

Examples:
  checkercal serve
  checkercal serve --port 8080 --model camera.yaml
  checkercal serve --host 0.0.0.0 --rate-limit-enabled`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := GetConfig()
	sc, err := cfg.ToServerConfig()
	if err != nil {
		return err
	}
	srv, err := server.NewServer(sc)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	addr := net.JoinHostPort(sc.Host, strconv.Itoa(sc.Port))
	timeout := time.Duration(sc.TimeoutSec) * time.Second
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting calibration server", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	default:
		slog.Info("Graceful shutdown completed")
		return nil
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	f := serveCmd.Flags()
	addBoardFlags(serveCmd)
	f.StringP("host", "H", "localhost", "server host")
	f.IntP("port", "p", 8080, "server port")
	f.String("cors-origin", "*", "CORS allowed origins")
	f.Int("max-upload-size", 50, "maximum upload size in MB")
	f.Int("timeout", 60, "request timeout in seconds")
	f.Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	f.StringP("model", "m", "", "camera model served to pose, undistort and track")
	f.String("policy", "strict", "detection failure policy of /v1/calibrate")
	f.Bool("rate-limit-enabled", false, "enable rate limiting")
	f.Int("requests-per-minute", 60, "maximum requests per minute per client")
	f.Int("requests-per-hour", 1000, "maximum requests per hour per client")
	f.Int("max-requests-per-day", 0, "maximum requests per day per client (0 = unlimited)")
	f.Int("max-data-per-day", 0, "maximum upload volume per day per client in MB (0 = unlimited)")

	bindFlags(serveCmd, boardBindings...)
	bindFlags(serveCmd,
		flagBinding{"server.host", "host"},
		flagBinding{"server.port", "port"},
		flagBinding{"server.cors_origin", "cors-origin"},
		flagBinding{"server.max_upload_mb", "max-upload-size"},
		flagBinding{"server.timeout_sec", "timeout"},
		flagBinding{"server.shutdown_timeout", "shutdown-timeout"},
		flagBinding{"server.model_file", "model"},
		flagBinding{"calibration.policy", "policy"},
		flagBinding{"server.rate_limit.enabled", "rate-limit-enabled"},
		flagBinding{"server.rate_limit.requests_per_minute", "requests-per-minute"},
		flagBinding{"server.rate_limit.requests_per_hour", "requests-per-hour"},
		flagBinding{"server.rate_limit.max_requests_per_day", "max-requests-per-day"},
		flagBinding{"server.rate_limit.max_data_per_day_mb", "max-data-per-day"},
	)
}
