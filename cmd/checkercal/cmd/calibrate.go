package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/checkercal/internal/batch"
	"github.com/MeKo-Tech/checkercal/internal/board"
	"github.com/MeKo-Tech/checkercal/internal/config"
	"github.com/MeKo-Tech/checkercal/internal/live"
	"github.com/MeKo-Tech/checkercal/internal/pipeline"
	"github.com/spf13/cobra"
)

// calibrateCmd represents the calibrate command.
var calibrateCmd = &cobra.Command{
	Use:   "calibrate [files or directories...]",
	Short: "Calibrate a camera from checkerboard images",
	Long: `Calibrate a camera from images of a planar checkerboard.

Without arguments the images are read as a numbered sequence
<dir>/<i><ext> for i = 0, 1, ... until the first missing index.
Named files and directories replace the sequence.

The board is given by its inner corners (rows x cols) and the square
size in the unit the extrinsics should use.

Exit status: 0 on success, 2 when too few images show the board,
3 when the solver diverges, 4 when a named input does not exist,
1 for all other errors.

Examples:
  checkercal calibrate --dir images --rows 7 --cols 10 --square-size 25
  checkercal calibrate shots/*.png --policy tolerant --format json
  checkercal calibrate --interactive --model-file camera.yaml
  checkercal calibrate --dir images --live http://cam.local/mjpeg`,
	Args: cobra.ArbitraryArgs,
	RunE: runCalibrate,
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
		if err := promptBoard(cmd.InOrStdin(), cmd.OutOrStdout(), &cfg.Board); err != nil {
			return err
		}
	}

	bc, err := cfg.ToBatchConfig()
	if err != nil {
		return err
	}
	bc.Files = args
	bc.Recursive, _ = cmd.Flags().GetBool("recursive")
	bc.Quiet, _ = cmd.Flags().GetBool("quiet")
	bc.ShowProgress, _ = cmd.Flags().GetBool("progress")
	bc.Progress = cmd.ErrOrStderr()

	var liveFn pipeline.LiveFunc
	if cfg.Live.Source != "" {
		liveFn = live.Func(cfg.ToLiveConfig(), bc.Pipeline)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	res, runErr := batch.Run(ctx, &bc, liveFn)
	if res.Pipeline != nil {
		if err := res.SaveResults(cmd.OutOrStdout(), bc.Format, bc.Language, bc.OutputFile, bc.Quiet); err != nil {
			return errors.Join(runErr, err)
		}
	}
	for _, path := range res.Saved {
		slog.Info("Artifact written", "path", path)
	}
	return runErr
}

// promptBoard asks for the board geometry until every field is valid.
// Empty answers keep the current value.
func promptBoard(in io.Reader, out io.Writer, b *config.BoardConfig) error {
	scanner := bufio.NewScanner(in)
	ask := func(label string, current string, parse func(string) error) error {
		for {
			_, _ = fmt.Fprintf(out, "%s [%s]: ", label, current)
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return err
				}
				return fmt.Errorf("%s: no input", label)
			}
			answer := strings.TrimSpace(scanner.Text())
			if answer == "" {
				answer = current
			}
			err := parse(answer)
			if err == nil {
				return nil
			}
			_, _ = fmt.Fprintf(out, "  %v\n", err)
		}
	}

	dimension := func(dst *int) func(string) error {
		return func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n < board.MinDimension {
				return fmt.Errorf("enter an integer >= %d", board.MinDimension)
			}
			*dst = n
			return nil
		}
	}
	if err := ask("Inner corners per row (rows)", strconv.Itoa(b.Rows), dimension(&b.Rows)); err != nil {
		return err
	}
	if err := ask("Inner corners per column (cols)", strconv.Itoa(b.Cols), dimension(&b.Cols)); err != nil {
		return err
	}
	return ask("Square size", strconv.FormatFloat(b.SquareSize, 'g', -1, 64), func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || !(v > 0) {
			return errors.New("enter a positive number")
		}
		b.SquareSize = v
		return nil
	})
}

func init() {
	rootCmd.AddCommand(calibrateCmd)

	f := calibrateCmd.Flags()
	addBoardFlags(calibrateCmd)
	f.StringP("dir", "d", ".", "directory of the numbered image sequence")
	f.String("pattern", "%d", "file name pattern of the sequence")
	f.String("ext", ".jpg", "image extension of the sequence")
	f.Int("max-images", 80, "maximum number of sequence images")
	f.Bool("recursive", false, "scan named directories recursively")
	f.String("policy", "strict", "detection failure policy: strict or tolerant")
	f.Int("min-views", 3, "minimum number of usable views")
	f.Bool("rational", false, "estimate the rational distortion terms k4..k6")
	f.Int("reference", -1, "index of the verification image (-1 = last)")
	f.StringP("format", "f", "text", "report format (text, json, yaml)")
	f.StringP("output", "o", "", "report file (default: stdout)")
	f.StringP("model-file", "m", "", "write the camera model to this file (.yaml or .json)")
	f.String("overlay-dir", "", "directory for verification images")
	f.String("lang", "en", "language of the text report")
	f.Int("workers", 0, "parallel detection workers (0 = number of CPUs)")
	f.String("live", "", "frame source tracked after calibration (directory or MJPEG URL)")
	f.Int("max-frames", 0, "stop live tracking after this many frames (0 = until the source ends)")
	f.String("live-output", "", "directory for annotated live frames")
	f.BoolP("interactive", "i", false, "prompt for the board geometry")
	f.Bool("progress", false, "show a detection progress bar")
	f.BoolP("quiet", "q", false, "suppress progress and status output")

	bindFlags(calibrateCmd, boardBindings...)
	bindFlags(calibrateCmd,
		flagBinding{"batch.dir", "dir"},
		flagBinding{"batch.pattern", "pattern"},
		flagBinding{"batch.extension", "ext"},
		flagBinding{"batch.max_images", "max-images"},
		flagBinding{"calibration.policy", "policy"},
		flagBinding{"calibration.min_views", "min-views"},
		flagBinding{"calibration.rational_model", "rational"},
		flagBinding{"verify.reference_index", "reference"},
		flagBinding{"output.format", "format"},
		flagBinding{"output.file", "output"},
		flagBinding{"output.model_file", "model-file"},
		flagBinding{"output.overlay_dir", "overlay-dir"},
		flagBinding{"output.language", "lang"},
		flagBinding{"pipeline.max_workers", "workers"},
		flagBinding{"live.source", "live"},
		flagBinding{"live.max_frames", "max-frames"},
		flagBinding{"live.output_dir", "live-output"},
	)
}
