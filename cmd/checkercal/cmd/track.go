package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MeKo-Tech/checkercal/internal/live"
	"github.com/spf13/cobra"
)

// trackCmd represents the track command.
var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Track the board pose in a live frame source",
	Long: `Track the checkerboard pose frame by frame with a saved camera model.

The source is either a directory replayed as a numbered image sequence
or an HTTP camera serving MJPEG or single JPEG snapshots. Tracking runs
until the source ends, --max-frames is reached or the process is
interrupted.

Examples:
  checkercal track --source frames --model camera.yaml --output-dir tracked
  checkercal track --source http://cam.local/mjpeg --model camera.yaml --print`,
	Args: cobra.NoArgs,
	RunE: runTrack,
}

func runTrack(cmd *cobra.Command, _ []string) error {
	cfg := GetConfig()
	model, err := loadModel(cmd)
	if err != nil {
		return err
	}
	lc := cfg.ToLiveConfig()
	if lc.Source == "" {
		return errors.New("no frame source: pass --source or set live.source")
	}
	pc, err := cfg.ToPipelineConfig()
	if err != nil {
		return err
	}

	var sink live.Sink
	if printResults, _ := cmd.Flags().GetBool("print"); printResults {
		enc := json.NewEncoder(cmd.OutOrStdout())
		sink = func(r live.FrameResult) error { return enc.Encode(r) }
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := live.Track(ctx, lc, pc, model, sink)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Tracked %d of %d frames in %v\n", st.Tracked, st.Frames, st.Elapsed)
	return nil
}

func init() {
	rootCmd.AddCommand(trackCmd)
	f := trackCmd.Flags()
	addBoardFlags(trackCmd)
	f.StringP("model", "m", "", "camera model file (default: output.model_file)")
	f.StringP("source", "s", "", "frame source: image directory or http(s) URL")
	f.Int("max-frames", 0, "stop after this many frames (0 = until the source ends)")
	f.Bool("refine", true, "refine corners to sub-pixel accuracy")
	f.String("output-dir", "", "directory for annotated frames and poses.jsonl")
	f.String("ext", ".jpg", "image extension of a directory source")
	f.Int("interval-ms", 0, "delay between frames of a directory or snapshot source")
	f.Bool("print", false, "print every frame result as a JSON line")

	bindFlags(trackCmd, boardBindings...)
	bindFlags(trackCmd,
		flagBinding{"live.source", "source"},
		flagBinding{"live.max_frames", "max-frames"},
		flagBinding{"live.refine", "refine"},
		flagBinding{"live.output_dir", "output-dir"},
		flagBinding{"live.extension", "ext"},
		flagBinding{"live.interval_ms", "interval-ms"},
	)
}
