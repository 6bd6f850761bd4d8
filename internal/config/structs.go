//nolint:lll
package config

// Config represents the complete configuration for the checkercal tool.
// It covers every command (calibrate, undistort, pose, track, serve,
// generate) and is loaded from configuration files, environment variables
// and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Calibration target
	Board BoardConfig `mapstructure:"board" yaml:"board" json:"board"`

	// Numbered image input
	Batch BatchConfig `mapstructure:"batch" yaml:"batch" json:"batch"`

	// Corner detection and sub-pixel refinement
	Detector DetectorConfig `mapstructure:"detector" yaml:"detector" json:"detector"`
	Subpix   SubpixConfig   `mapstructure:"subpix" yaml:"subpix" json:"subpix"`

	// Joint solve
	Calibration CalibrationConfig `mapstructure:"calibration" yaml:"calibration" json:"calibration"`

	// Robust single-view pose
	Pose PoseConfig `mapstructure:"pose" yaml:"pose" json:"pose"`

	// Verification render
	Verify VerifyConfig `mapstructure:"verify" yaml:"verify" json:"verify"`

	// Output configuration
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// Worker pool
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`

	// Live tracking
	Live LiveConfig `mapstructure:"live" yaml:"live" json:"live"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// BoardConfig describes the checkerboard's inner corner grid.
type BoardConfig struct {
	Rows       int     `mapstructure:"rows" yaml:"rows" json:"rows"`
	Cols       int     `mapstructure:"cols" yaml:"cols" json:"cols"`
	SquareSize float64 `mapstructure:"square_size" yaml:"square_size" json:"square_size"`
}

// BatchConfig contains the numbered image sequence settings.
type BatchConfig struct {
	Dir       string `mapstructure:"dir" yaml:"dir" json:"dir"`
	Pattern   string `mapstructure:"pattern" yaml:"pattern" json:"pattern"`
	Extension string `mapstructure:"extension" yaml:"extension" json:"extension"`
	MaxImages int    `mapstructure:"max_images" yaml:"max_images" json:"max_images"`
}

// DetectorConfig contains saddle-point detector settings.
type DetectorConfig struct {
	BlurSigma         float64 `mapstructure:"blur_sigma" yaml:"blur_sigma" json:"blur_sigma"`
	ResponseThreshold float64 `mapstructure:"response_threshold" yaml:"response_threshold" json:"response_threshold"`
	NMSWindow         int     `mapstructure:"nms_window" yaml:"nms_window" json:"nms_window"`
	RingRadius        float64 `mapstructure:"ring_radius" yaml:"ring_radius" json:"ring_radius"`
	MinContrast       float64 `mapstructure:"min_contrast" yaml:"min_contrast" json:"min_contrast"`
	GrowTolerance     float64 `mapstructure:"grow_tolerance" yaml:"grow_tolerance" json:"grow_tolerance"`
	MaxSeeds          int     `mapstructure:"max_seeds" yaml:"max_seeds" json:"max_seeds"`
}

// SubpixConfig contains corner refinement settings.
type SubpixConfig struct {
	HalfWindow    int     `mapstructure:"half_window" yaml:"half_window" json:"half_window"`
	MaxIterations int     `mapstructure:"max_iterations" yaml:"max_iterations" json:"max_iterations"`
	Epsilon       float64 `mapstructure:"epsilon" yaml:"epsilon" json:"epsilon"`
	GradientSigma float64 `mapstructure:"gradient_sigma" yaml:"gradient_sigma" json:"gradient_sigma"`
}

// CalibrationConfig contains solver and detection policy settings.
type CalibrationConfig struct {
	Policy        string  `mapstructure:"policy" yaml:"policy" json:"policy"`
	MinViews      int     `mapstructure:"min_views" yaml:"min_views" json:"min_views"`
	MaxIterations int     `mapstructure:"max_iterations" yaml:"max_iterations" json:"max_iterations"`
	RationalModel bool    `mapstructure:"rational_model" yaml:"rational_model" json:"rational_model"`
	EstimateSkew  bool    `mapstructure:"estimate_skew" yaml:"estimate_skew" json:"estimate_skew"`
	MaxRMS        float64 `mapstructure:"max_rms" yaml:"max_rms" json:"max_rms"`
	MinViewAngle  float64 `mapstructure:"min_view_angle" yaml:"min_view_angle" json:"min_view_angle"`
}

// PoseConfig contains RANSAC pose estimation settings.
type PoseConfig struct {
	RansacIterations      int     `mapstructure:"ransac_iterations" yaml:"ransac_iterations" json:"ransac_iterations"`
	ReprojectionThreshold float64 `mapstructure:"reprojection_threshold" yaml:"reprojection_threshold" json:"reprojection_threshold"`
	Confidence            float64 `mapstructure:"confidence" yaml:"confidence" json:"confidence"`
	Seed                  uint64  `mapstructure:"seed" yaml:"seed" json:"seed"`
	MinInliers            int     `mapstructure:"min_inliers" yaml:"min_inliers" json:"min_inliers"`
}

// VerifyConfig contains the verification overlay settings.
type VerifyConfig struct {
	ReferenceIndex int     `mapstructure:"reference_index" yaml:"reference_index" json:"reference_index"`
	AxisLength     float64 `mapstructure:"axis_length" yaml:"axis_length" json:"axis_length"`
	AxisWidth      float64 `mapstructure:"axis_width" yaml:"axis_width" json:"axis_width"`
	XColor         string  `mapstructure:"x_color" yaml:"x_color" json:"x_color"`
	YColor         string  `mapstructure:"y_color" yaml:"y_color" json:"y_color"`
	ZColor         string  `mapstructure:"z_color" yaml:"z_color" json:"z_color"`
	Labels         bool    `mapstructure:"labels" yaml:"labels" json:"labels"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format        string `mapstructure:"format" yaml:"format" json:"format"`
	File          string `mapstructure:"file" yaml:"file" json:"file"`
	ModelFile     string `mapstructure:"model_file" yaml:"model_file" json:"model_file"`
	OverlayDir    string `mapstructure:"overlay_dir" yaml:"overlay_dir" json:"overlay_dir"`
	PreviewMaxDim int    `mapstructure:"preview_max_dim" yaml:"preview_max_dim" json:"preview_max_dim"`
	Language      string `mapstructure:"language" yaml:"language" json:"language"`
}

// PipelineConfig contains worker pool settings.
type PipelineConfig struct {
	MaxWorkers int `mapstructure:"max_workers" yaml:"max_workers" json:"max_workers"`
}

// LiveConfig contains live tracking settings.
type LiveConfig struct {
	Source     string `mapstructure:"source" yaml:"source" json:"source"`
	MaxFrames  int    `mapstructure:"max_frames" yaml:"max_frames" json:"max_frames"`
	Refine     bool   `mapstructure:"refine" yaml:"refine" json:"refine"`
	OutputDir  string `mapstructure:"output_dir" yaml:"output_dir" json:"output_dir"`
	Extension  string `mapstructure:"extension" yaml:"extension" json:"extension"`
	IntervalMS int    `mapstructure:"interval_ms" yaml:"interval_ms" json:"interval_ms"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	ModelFile       string          `mapstructure:"model_file" yaml:"model_file" json:"model_file"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client request limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int  `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int  `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int  `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}
