package cmd

import (
	"errors"
	"image"
	"io/fs"

	"github.com/MeKo-Tech/checkercal/internal/calerr"
	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/utils"
	"github.com/spf13/cobra"
)

var boardBindings = []flagBinding{
	{"board.rows", "rows"},
	{"board.cols", "cols"},
	{"board.square_size", "square-size"},
}

func addBoardFlags(cmd *cobra.Command) {
	cmd.Flags().Int("rows", 7, "inner corners per board row")
	cmd.Flags().Int("cols", 10, "inner corners per board column")
	cmd.Flags().Float64("square-size", 25, "board square size (unit of the extrinsics)")
}

// loadModel reads the camera model named by the --model flag, falling back
// to the configured output model file.
func loadModel(cmd *cobra.Command) (camera.Model, error) {
	path, _ := cmd.Flags().GetString("model")
	if path == "" {
		path = GetConfig().Output.ModelFile
	}
	if path == "" {
		return camera.Model{}, errors.New("no camera model: pass --model or set output.model_file")
	}
	return camera.LoadModel(path)
}

// loadNamedImage reads an image given on the command line. A missing file
// is a MissingInputFile error.
func loadNamedImage(path string) (image.Image, error) {
	img, _, err := utils.LoadImage(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, calerr.New(calerr.KindMissingInputFile, "load", path, err)
	}
	return img, err
}
