package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/checkercal/internal/board"
	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/synth"
	"github.com/spf13/cobra"
)

// generateCmd represents the generate command.
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Render a synthetic calibration dataset",
	Long: `Render views of a checkerboard through a known camera and write
them as a numbered image sequence <out>/<i><ext> together with
ground_truth.yaml holding the camera and every board pose.

The default camera is 640x480 with radial and tangential distortion.
Use --model to render through a saved model instead.

Examples:
  checkercal generate --out views --count 12
  checkercal generate --out views --rows 6 --cols 9 --noise 2 --seed 7`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	cfg := GetConfig()
	spec := board.Spec{Rows: cfg.Board.Rows, Cols: cfg.Board.Cols, SquareSize: cfg.Board.SquareSize}

	model := synth.DefaultModel()
	if path, _ := cmd.Flags().GetString("model"); path != "" {
		m, err := camera.LoadModel(path)
		if err != nil {
			return err
		}
		model = m
	}

	flags := cmd.Flags()
	out, _ := flags.GetString("out")
	ext, _ := flags.GetString("ext")
	count, _ := flags.GetInt("count")
	seed, _ := flags.GetUint64("seed")
	noise, _ := flags.GetFloat64("noise")
	maxTilt, _ := flags.GetFloat64("max-tilt")
	if count < 1 {
		return fmt.Errorf("invalid view count: %d (must be positive)", count)
	}

	scene := synth.DefaultSceneConfig()
	scene.Seed = seed
	if flags.Changed("max-tilt") {
		scene.MaxTilt = maxTilt
	}
	opts := synth.DefaultRenderOptions()
	opts.Seed = seed
	opts.Noise = noise

	ds, err := synth.Generate(spec, model, count, scene, opts)
	if err != nil {
		return err
	}
	if err := ds.Write(out, ext); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d views of a %s board to %s\n", len(ds.Images), spec, out)
	return nil
}

func init() {
	rootCmd.AddCommand(generateCmd)
	f := generateCmd.Flags()
	addBoardFlags(generateCmd)
	f.String("out", "dataset", "output directory")
	f.String("ext", ".jpg", "image extension (.jpg, .png or .bmp)")
	f.Int("count", 12, "number of views")
	f.Uint64("seed", 1, "random seed of poses and noise")
	f.Float64("noise", 0, "Gaussian pixel noise sigma")
	f.Float64("max-tilt", 0.45, "largest board tilt in radians")
	f.StringP("model", "m", "", "render through this camera model file")
	bindFlags(generateCmd, boardBindings...)
}
