package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/checkercal/internal/calerr"
	"github.com/MeKo-Tech/checkercal/internal/config"
	"github.com/MeKo-Tech/checkercal/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// Loader of the current invocation.
	configLoader *config.Loader
	// Resolved configuration of the current invocation.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
)

// flagBinding maps a command-line flag onto a configuration key.
type flagBinding struct {
	key  string
	flag string
}

// Bindings are applied for the executing command only, so several
// commands may expose a flag for the same key.
var commandBindings = map[*cobra.Command][]flagBinding{}

func bindFlags(cmd *cobra.Command, bindings ...flagBinding) {
	commandBindings[cmd] = append(commandBindings[cmd], bindings...)
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "checkercal",
	Short: "Checkerboard camera calibration",
	Long: `checkercal calibrates a camera from photographs of a planar checkerboard.

It detects the inner board corners in every image, refines them to
sub-pixel accuracy, solves for the intrinsic matrix and lens distortion
and verifies the result by estimating the board pose in a reference image.

Examples:
  checkercal generate --out views --count 12
  checkercal calibrate --dir views --rows 7 --cols 10 --square-size 25
  checkercal undistort photo.jpg --model camera.yaml -o flat.png
  checkercal serve --port 8080`,
	SilenceUsage:      true,
	PersistentPreRunE: setupCommand,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command and exits with the status mapped from the
// returned error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(calerr.ExitCode(err))
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	v, commit, date := version.Info()
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, commit, date)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $XDG_CONFIG_HOME/checkercal, /etc/checkercal)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
}

// setupCommand binds the flags of the executing command, loads the
// configuration and installs the logger.
func setupCommand(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	bindings := append([]flagBinding{
		{"verbose", "verbose"},
		{"log_level", "log-level"},
	}, commandBindings[cmd]...)
	for _, b := range bindings {
		if err := bindFlag(v, cmd.Flags(), b); err != nil {
			return err
		}
	}

	configLoader = config.NewLoaderWith(v)
	var err error
	if cfgFile != "" {
		globalConfig, err = configLoader.LoadWithFile(cfgFile)
	} else {
		globalConfig, err = configLoader.Load()
	}
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), globalConfig))
	return nil
}

func bindFlag(v *viper.Viper, flags *pflag.FlagSet, b flagBinding) error {
	f := flags.Lookup(b.flag)
	if f == nil {
		return fmt.Errorf("unknown flag %q for %s", b.flag, b.key)
	}
	return v.BindPFlag(b.key, f)
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	var level slog.Level
	if cfg.Verbose {
		level = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// GetConfig returns the configuration of the current invocation.
func GetConfig() *config.Config {
	if globalConfig == nil {
		cfg := config.DefaultConfig()
		return &cfg
	}
	return globalConfig
}
