package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/checkercal/internal/batch"
	"github.com/MeKo-Tech/checkercal/internal/calerr"
	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/common"
	"github.com/MeKo-Tech/checkercal/internal/live"
	"github.com/MeKo-Tech/checkercal/internal/pipeline"
	"github.com/MeKo-Tech/checkercal/internal/utils"
	"github.com/MeKo-Tech/checkercal/internal/version"
)

var errNoModel = errors.New("no camera model: upload one as 'model' or configure server.model_file")

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	_, loaded := s.Model()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Version:     version.Version,
		Time:        time.Now().UTC().Format(time.RFC3339),
		ModelLoaded: loaded,
		Memory:      common.GetMemoryStats(),
	})
}

// modelHandler returns the active model on GET and replaces it on PUT.
func (s *Server) modelHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			writeError(w, "failed to read model", http.StatusBadRequest)
			return
		}
		m, err := camera.DecodeModel(data)
		if err != nil {
			writeError(w, fmt.Sprintf("invalid model: %v", err), http.StatusBadRequest)
			return
		}
		s.SetModel(m)
		slog.Info("Camera model replaced", "fx", m.Intrinsics.Fx, "fy", m.Intrinsics.Fy)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m, ok := s.Model()
	if !ok {
		writeError(w, errNoModel.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Camera camera.Model `json:"camera"`
	}{m})
}

// calibrateHandler calibrates from the uploaded 'images' files. Form fields
// rows, cols, square_size and policy override the configured board and
// detection policy; apply=true makes the result the active model.
func (s *Server) calibrateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.parseUpload(w, r) {
		requestsTotal.WithLabelValues("calibrate", "error").Inc()
		return
	}

	format := r.FormValue("format")
	if format == "" {
		format = "json"
	}
	if !batch.IsSupportedFormat(format) {
		writeError(w, fmt.Sprintf("unsupported format %q", format), http.StatusBadRequest)
		return
	}
	cfg, err := s.requestConfig(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		writeError(w, "no images provided", http.StatusBadRequest)
		return
	}
	inputs := make(pipeline.Inputs, len(files))
	for i, fh := range files {
		uploadSizeBytes.Observe(float64(fh.Size))
		img, err := decodeFile(fh)
		inputs[i] = pipeline.Input{Index: i, Path: fh.Filename, Image: img, Err: err}
	}

	pl, err := pipeline.New(cfg)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	start := time.Now()
	res, runErr := pl.Run(ctx, inputs)
	processingDuration.WithLabelValues("calibrate").Observe(time.Since(start).Seconds())

	status := http.StatusOK
	if runErr != nil {
		requestsTotal.WithLabelValues("calibrate", "error").Inc()
		status = statusFor(runErr)
	} else {
		requestsTotal.WithLabelValues("calibrate", "success").Inc()
		calibrationRMS.Observe(res.Calibration.RMS)
		calibrationImages.Observe(float64(res.Usable))
		if r.FormValue("apply") == "true" {
			s.SetModel(res.Calibration.Model)
		}
	}

	body, err := batch.FormatReport(batch.NewReport(res, runErr), format, r.FormValue("lang"))
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType(format))
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// poseHandler estimates the board pose in the uploaded 'image'. With
// format=png the annotated image is returned instead of JSON.
func (s *Server) poseHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	img, model, ok := s.imageAndModel(w, r)
	if !ok {
		requestsTotal.WithLabelValues("pose", "error").Inc()
		return
	}
	cfg, err := s.requestConfig(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	tr, err := live.NewTrackerFromConfig(model, cfg, r.FormValue("refine") != "false")
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	fr := tr.Process(r.Context(), live.Frame{Image: img, At: time.Now()})
	processingDuration.WithLabelValues("pose").Observe(fr.Latency.Seconds())
	requestsTotal.WithLabelValues("pose", outcome(fr.Found)).Inc()

	if r.FormValue("format") == "png" {
		writePNG(w, fr.Annotated)
		return
	}
	b := img.Bounds()
	resp := PoseResponse{
		Found:   fr.Found,
		Pose:    fr.Pose,
		Inliers: fr.Inliers,
		RMS:     fr.RMS,
		Origin:  fr.Origin,
		Axes:    fr.Axes,
		Width:   b.Dx(),
		Height:  b.Dy(),
		Error:   fr.Error,
	}
	resp.Processing.TotalMs = fr.Latency.Milliseconds()
	writeJSON(w, http.StatusOK, resp)
}

// undistortHandler returns the uploaded 'image' undistorted as PNG.
func (s *Server) undistortHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	img, model, ok := s.imageAndModel(w, r)
	if !ok {
		requestsTotal.WithLabelValues("undistort", "error").Inc()
		return
	}
	start := time.Now()
	out := s.undistorter(model).Apply(img)
	processingDuration.WithLabelValues("undistort").Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues("undistort", "success").Inc()
	writePNG(w, out)
}

func (s *Server) maxUploadBytes() int64 { return s.maxUploadMB * 1024 * 1024 }

// parseUpload reads the multipart body, writing the error response itself.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
	if err := r.ParseMultipartForm(s.maxUploadBytes()); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "upload too large", http.StatusRequestEntityTooLarge)
		} else {
			writeError(w, "failed to parse form data", http.StatusBadRequest)
		}
		return false
	}
	return true
}

// imageAndModel reads the 'image' upload and the model, taken from a
// 'model' upload or the server's active model.
func (s *Server) imageAndModel(w http.ResponseWriter, r *http.Request) (image.Image, camera.Model, bool) {
	if !s.parseUpload(w, r) {
		return nil, camera.Model{}, false
	}
	files := r.MultipartForm.File["image"]
	if len(files) == 0 {
		writeError(w, "no image file provided", http.StatusBadRequest)
		return nil, camera.Model{}, false
	}
	uploadSizeBytes.Observe(float64(files[0].Size))
	img, err := decodeFile(files[0])
	if err != nil {
		writeError(w, fmt.Sprintf("invalid image: %v", err), http.StatusBadRequest)
		return nil, camera.Model{}, false
	}

	if mf := r.MultipartForm.File["model"]; len(mf) > 0 {
		data, err := readFile(mf[0])
		if err != nil {
			writeError(w, "failed to read model", http.StatusBadRequest)
			return nil, camera.Model{}, false
		}
		m, err := camera.DecodeModel(data)
		if err != nil {
			writeError(w, fmt.Sprintf("invalid model: %v", err), http.StatusBadRequest)
			return nil, camera.Model{}, false
		}
		return img, m, true
	}
	m, ok := s.Model()
	if !ok {
		writeError(w, errNoModel.Error(), http.StatusBadRequest)
		return nil, camera.Model{}, false
	}
	return img, m, true
}

// requestConfig applies per-request board and policy overrides.
func (s *Server) requestConfig(r *http.Request) (pipeline.Config, error) {
	cfg := s.pipeline.Config()
	cfg.Live = nil
	cfg.Listener = nil

	spec := cfg.Board
	for _, f := range []struct {
		name string
		set  func(string) error
	}{
		{"rows", func(v string) (err error) { spec.Rows, err = strconv.Atoi(v); return }},
		{"cols", func(v string) (err error) { spec.Cols, err = strconv.Atoi(v); return }},
		{"square_size", func(v string) (err error) { spec.SquareSize, err = strconv.ParseFloat(v, 64); return }},
	} {
		if v := r.FormValue(f.name); v != "" {
			if err := f.set(v); err != nil {
				return cfg, fmt.Errorf("invalid %s %q", f.name, v)
			}
		}
	}
	if err := spec.Validate(); err != nil {
		return cfg, fmt.Errorf("board: %w", err)
	}
	cfg.Board = spec

	if v := r.FormValue("policy"); v != "" {
		p, err := pipeline.ParsePolicy(v)
		if err != nil {
			return cfg, err
		}
		cfg.Policy = p
	}
	return cfg, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

func decodeFile(fh *multipart.FileHeader) (image.Image, error) {
	data, err := readFile(fh)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	img, err := utils.DecodeImage(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", fh.Filename, err)
	}
	return img, nil
}

// statusFor maps run errors onto HTTP status codes.
func statusFor(err error) int {
	switch calerr.KindOf(err) {
	case calerr.KindInsufficientObservations, calerr.KindSolverDivergence, calerr.KindCornerDetectionFailure:
		return http.StatusUnprocessableEntity
	case calerr.KindMissingInputFile:
		return http.StatusBadRequest
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func contentType(format string) string {
	switch format {
	case "json":
		return "application/json"
	case "yaml":
		return "application/yaml"
	default:
		return "text/plain; charset=utf-8"
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "no_board"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writePNG(w http.ResponseWriter, img image.Image) {
	var buf bytes.Buffer
	if err := utils.EncodePNG(&buf, img); err != nil {
		writeError(w, fmt.Sprintf("encode png: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: msg})
}
