package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/checkercal/internal/calerr"
	"github.com/MeKo-Tech/checkercal/internal/live"
	"github.com/MeKo-Tech/checkercal/internal/utils"
	"github.com/spf13/cobra"
)

// poseCmd represents the pose command.
var poseCmd = &cobra.Command{
	Use:   "pose <image>...",
	Short: "Estimate the board pose in images",
	Long: `Estimate the checkerboard pose in each image with a saved camera model.

The pose is the board's rotation (Rodrigues vector) and translation in
camera coordinates, in the unit of the square size.

Examples:
  checkercal pose view.jpg --model camera.yaml
  checkercal pose shots/*.jpg --model camera.yaml --format json
  checkercal pose view.jpg --model camera.yaml --overlay-dir axes`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPose,
}

type poseResult struct {
	Path string `json:"path"`
	live.FrameResult
}

func runPose(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	model, err := loadModel(cmd)
	if err != nil {
		return err
	}
	pc, err := cfg.ToPipelineConfig()
	if err != nil {
		return err
	}
	refine, _ := cmd.Flags().GetBool("refine")
	tr, err := live.NewTrackerFromConfig(model, pc, refine)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid output format: %s (must be one of: text, json)", format)
	}
	overlayDir, _ := cmd.Flags().GetString("overlay-dir")
	if overlayDir != "" {
		if err := os.MkdirAll(overlayDir, 0o755); err != nil {
			return fmt.Errorf("create overlay dir: %w", err)
		}
	}

	results := make([]poseResult, 0, len(args))
	found := 0
	for i, path := range args {
		img, err := loadNamedImage(path)
		if err != nil {
			return err
		}
		fr := tr.Process(cmd.Context(), live.Frame{Seq: i, Image: img, At: time.Now()})
		if fr.Found {
			found++
		}
		if overlayDir != "" && fr.Found {
			base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			if err := utils.SaveImage(filepath.Join(overlayDir, base+"_pose.png"), fr.Annotated); err != nil {
				return err
			}
		}
		results = append(results, poseResult{Path: path, FrameResult: fr})
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		writePoseText(out, results)
	}
	if found == 0 {
		return calerr.Newf(calerr.KindCornerDetectionFailure, "pose", "no board found in %d image(s)", len(args))
	}
	return nil
}

func writePoseText(w io.Writer, results []poseResult) {
	for _, r := range results {
		if !r.Found {
			_, _ = fmt.Fprintf(w, "%s: no board (%s)\n", r.Path, r.Error)
			continue
		}
		rv, tv := r.Pose.Rotation, r.Pose.Translation
		_, _ = fmt.Fprintf(w, "%s: rvec [%.6f %.6f %.6f] tvec [%.4f %.4f %.4f] inliers %d rms %.4f px\n",
			r.Path, rv.X, rv.Y, rv.Z, tv.X, tv.Y, tv.Z, r.Inliers, r.RMS)
	}
}

func init() {
	rootCmd.AddCommand(poseCmd)
	addBoardFlags(poseCmd)
	poseCmd.Flags().StringP("model", "m", "", "camera model file (default: output.model_file)")
	poseCmd.Flags().StringP("format", "f", "text", "output format (text, json)")
	poseCmd.Flags().String("overlay-dir", "", "directory for axis overlay images")
	poseCmd.Flags().Bool("refine", true, "refine corners to sub-pixel accuracy")
	bindFlags(poseCmd, boardBindings...)
}
