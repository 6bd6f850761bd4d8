package support

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/MeKo-Tech/checkercal/internal/board"
	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/synth"
	"github.com/MeKo-Tech/checkercal/internal/utils"
	"github.com/cucumber/godog"
)

// defaultBoard matches the CLI's default board flags.
var defaultBoard = board.Spec{Rows: 7, Cols: 10, SquareSize: 25}

// aSyntheticDataset renders views of the default board into dir.
func (testCtx *TestContext) aSyntheticDataset(views int, dir string) error {
	ds, err := synth.Generate(defaultBoard, synth.DefaultModel(), views,
		synth.DefaultSceneConfig(), synth.DefaultRenderOptions())
	if err != nil {
		return fmt.Errorf("render dataset: %w", err)
	}
	return ds.Write(testCtx.Path(dir), ".png")
}

// aBlankImage writes a uniform gray image with the dataset's dimensions.
func (testCtx *TestContext) aBlankImage(filename string) error {
	m := synth.DefaultModel()
	img := image.NewGray(image.Rect(0, 0, m.Intrinsics.Width, m.Intrinsics.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Gray{Y: 128}}, image.Point{}, draw.Src)
	return utils.SaveImage(testCtx.Path(filename), img)
}

// theFocalLengthShouldMatch compares a saved model against the ground truth
// stored with a synthetic dataset.
func (testCtx *TestContext) theFocalLengthShouldMatch(modelFile string, percent float64, dir string) error {
	m, err := camera.LoadModel(testCtx.Path(modelFile))
	if err != nil {
		return err
	}
	truth, err := synth.ReadGroundTruth(testCtx.Path(dir))
	if err != nil {
		return err
	}
	for _, c := range []struct {
		name      string
		got, want float64
	}{
		{"fx", m.Intrinsics.Fx, truth.Camera.Intrinsics.Fx},
		{"fy", m.Intrinsics.Fy, truth.Camera.Intrinsics.Fy},
	} {
		if rel := math.Abs(c.got-c.want) / c.want * 100; rel > percent {
			return fmt.Errorf("%s is %.2f, ground truth %.2f (%.2f%% off, limit %g%%)", c.name, c.got, c.want, rel, percent)
		}
	}
	return nil
}

// theImageShouldBe checks the pixel dimensions of an image file.
func (testCtx *TestContext) theImageShouldBe(filename string, width, height int) error {
	img, _, err := utils.LoadImage(testCtx.Path(filename))
	if err != nil {
		return err
	}
	if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
		return fmt.Errorf("image %s is %dx%d, want %dx%d", filename, b.Dx(), b.Dy(), width, height)
	}
	return nil
}

// RegisterDatasetSteps registers steps that prepare and inspect image data.
func (testCtx *TestContext) RegisterDatasetSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a synthetic dataset of (\d+) views in "([^"]*)"$`, testCtx.aSyntheticDataset)
	sc.Step(`^a blank image "([^"]*)"$`, testCtx.aBlankImage)
	sc.Step(`^the model "([^"]*)" should have a focal length within ([0-9.]+) percent of "([^"]*)"$`,
		testCtx.theFocalLengthShouldMatch)
	sc.Step(`^the image "([^"]*)" should be (\d+)x(\d+)$`, testCtx.theImageShouldBe)
}
