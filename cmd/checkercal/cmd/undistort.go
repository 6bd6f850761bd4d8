package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/utils"
	"github.com/spf13/cobra"
)

// undistortCmd represents the undistort command.
var undistortCmd = &cobra.Command{
	Use:   "undistort <image>...",
	Short: "Remove lens distortion from images",
	Long: `Remove lens distortion from images using a saved camera model.

Each input is written as <name>_undistorted.png into the output
directory, or to --output when a single image is given.

Examples:
  checkercal undistort photo.jpg --model camera.yaml
  checkercal undistort shots/*.jpg --model camera.yaml --out-dir flat
  checkercal undistort photo.jpg --model camera.yaml -o flat.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUndistort,
}

func runUndistort(cmd *cobra.Command, args []string) error {
	model, err := loadModel(cmd)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	outDir, _ := cmd.Flags().GetString("out-dir")
	if output != "" && len(args) > 1 {
		return errors.New("--output needs exactly one input image; use --out-dir")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	undist := camera.NewUndistorter(model)
	for _, path := range args {
		img, err := loadNamedImage(path)
		if err != nil {
			return err
		}
		dst := output
		if dst == "" {
			base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			dst = filepath.Join(outDir, base+"_undistorted.png")
		}
		if err := utils.SaveImage(dst, undist.Apply(img)); err != nil {
			return err
		}
		slog.Info("Image undistorted", "input", path, "output", dst)
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), dst)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(undistortCmd)
	undistortCmd.Flags().StringP("model", "m", "", "camera model file (default: output.model_file)")
	undistortCmd.Flags().StringP("output", "o", "", "output file for a single input")
	undistortCmd.Flags().String("out-dir", ".", "output directory")
}
