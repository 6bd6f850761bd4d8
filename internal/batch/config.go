package batch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/MeKo-Tech/checkercal/internal/pipeline"
)

// Config holds all configuration for a batch calibration run.
type Config struct {
	// Numbered image sequence
	Dir       string
	Pattern   string // file name pattern with one %d verb (default: "%d")
	Extension string
	MaxImages int

	// Explicit inputs; when set they replace the numbered sequence
	Files           []string
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Output settings
	Format     string // text, json or yaml
	OutputFile string
	ModelFile  string
	OverlayDir string
	Language   string // BCP 47 tag for number formatting in text reports

	// Progress settings
	ShowProgress     bool
	Quiet            bool
	ProgressInterval time.Duration
	Progress         io.Writer // default os.Stderr

	Pipeline pipeline.Config
}

// DefaultConfig returns the default batch configuration.
func DefaultConfig() Config {
	return Config{
		Dir:              ".",
		Pattern:          "%d",
		Extension:        ".jpg",
		MaxImages:        80,
		Format:           "text",
		Language:         "en",
		ProgressInterval: 100 * time.Millisecond,
		Pipeline:         pipeline.DefaultConfig(),
	}
}

// Validate checks the batch settings and the embedded pipeline config.
func (c Config) Validate() error {
	var errs []error
	if len(c.Files) == 0 {
		if c.Dir == "" {
			errs = append(errs, errors.New("image directory is empty"))
		}
		if strings.Count(c.Pattern, "%d") != 1 {
			errs = append(errs, fmt.Errorf("pattern %q must contain exactly one %%d", c.Pattern))
		}
		if c.MaxImages < 1 {
			errs = append(errs, fmt.Errorf("max images must be >= 1, got %d", c.MaxImages))
		}
	}
	if !strings.HasPrefix(c.Extension, ".") && len(c.Files) == 0 {
		errs = append(errs, fmt.Errorf("extension %q must start with a dot", c.Extension))
	}
	if !IsSupportedFormat(c.Format) {
		errs = append(errs, fmt.Errorf("unsupported output format %q (want text, json or yaml)", c.Format))
	}
	if err := c.Pipeline.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Source returns the pipeline input source described by the config.
func (c Config) Source() pipeline.Source {
	if len(c.Files) > 0 {
		return &FileSource{
			Paths:           c.Files,
			Recursive:       c.Recursive,
			IncludePatterns: c.IncludePatterns,
			ExcludePatterns: c.ExcludePatterns,
		}
	}
	return &SequenceSource{Dir: c.Dir, Pattern: c.Pattern, Extension: c.Extension, MaxImages: c.MaxImages}
}

func (c Config) progressWriter() io.Writer {
	if c.Progress != nil {
		return c.Progress
	}
	return os.Stderr
}
