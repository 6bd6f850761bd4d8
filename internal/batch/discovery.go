package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/MeKo-Tech/checkercal/internal/calerr"
	"github.com/MeKo-Tech/checkercal/internal/pipeline"
	"github.com/MeKo-Tech/checkercal/internal/utils"
)

// SequenceSource loads <Dir>/<Pattern><Extension> for index 0, 1, ... up
// to MaxImages. Loading stops at the first missing index above zero; a
// missing index zero is reported as a warning and loading continues.
type SequenceSource struct {
	Dir       string
	Pattern   string
	Extension string
	MaxImages int
}

// Path returns the file name for index i.
func (s *SequenceSource) Path(i int) string {
	pattern := s.Pattern
	if pattern == "" {
		pattern = "%d"
	}
	return filepath.Join(s.Dir, fmt.Sprintf(pattern, i)+s.Extension)
}

// Load reads the sequence. Unreadable images become inputs carrying the
// error so they are tallied with detection failures.
func (s *SequenceSource) Load(ctx context.Context) ([]pipeline.Input, []string, error) {
	var (
		inputs   []pipeline.Input
		warnings []string
	)
	for i := range s.MaxImages {
		if err := ctx.Err(); err != nil {
			return nil, warnings, err
		}
		path := s.Path(i)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			if i == 0 {
				warnings = append(warnings, calerr.New(calerr.KindMissingInputFile, "load", path, nil).Error())
				continue
			}
			slog.Debug("Image sequence ends", "missing", path, "loaded", len(inputs))
			break
		}
		inputs = append(inputs, loadInput(i, path))
	}
	slog.Info("Images loaded", "dir", s.Dir, "count", len(inputs))
	return inputs, warnings, nil
}

// FileSource loads explicitly named files and directories. A named path
// that does not exist is fatal.
type FileSource struct {
	Paths           []string
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string
}

// Load discovers the image files and reads them in name order.
func (s *FileSource) Load(ctx context.Context) ([]pipeline.Input, []string, error) {
	files, err := discoverImageFiles(s.Paths, s.Recursive, s.IncludePatterns, s.ExcludePatterns)
	if err != nil {
		return nil, nil, err
	}
	inputs := make([]pipeline.Input, 0, len(files))
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		inputs = append(inputs, loadInput(i, path))
	}
	return inputs, nil, nil
}

func loadInput(index int, path string) pipeline.Input {
	in := pipeline.Input{Index: index, Path: path}
	img, _, err := utils.LoadImage(path)
	if err != nil {
		in.Err = fmt.Errorf("load %s: %w", path, err)
		return in
	}
	if err := utils.ValidateImageConstraints(img, utils.DefaultImageConstraints()); err != nil {
		in.Err = fmt.Errorf("%s: %w", path, err)
		return in
	}
	in.Image = img
	return in
}

// discoverImageFiles expands the arguments into image files. Directories
// are scanned for supported images.
func discoverImageFiles(args []string, recursive bool, includePatterns, excludePatterns []string) ([]string, error) {
	var imageFiles []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, calerr.New(calerr.KindMissingInputFile, "load", arg, err)
		}
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		if info.IsDir() {
			files, err := discoverInDirectory(arg, recursive, includePatterns, excludePatterns)
			if err != nil {
				return nil, err
			}
			imageFiles = append(imageFiles, files...)
		} else if shouldIncludeFile(arg, includePatterns, excludePatterns) {
			imageFiles = append(imageFiles, arg)
		}
	}

	return imageFiles, nil
}

// discoverInDirectory lists supported images below dir in natural order, so
// that 2.jpg sorts before 10.jpg.
func discoverInDirectory(dir string, recursive bool, includePatterns, excludePatterns []string) ([]string, error) {
	var files []string

	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if utils.IsSupportedImage(path) && shouldIncludeFile(path, includePatterns, excludePatterns) {
			files = append(files, path)
		}
		return nil
	}

	if err := filepath.WalkDir(dir, walkFn); err != nil {
		return nil, err
	}
	slices.SortFunc(files, naturalCompare)
	return files, nil
}

// naturalCompare orders paths by embedded numbers, then lexically. Digit
// runs of any length compare by value; "01" and "1" are equal in value and
// fall back to the raw text only when nothing else differs.
func naturalCompare(a, b string) int {
	tie := 0
	for a != "" && b != "" {
		da, ra := leadingDigits(a)
		db, rb := leadingDigits(b)
		switch {
		case da != "" && db != "":
			if c := compareDigits(da, db); c != 0 {
				return c
			}
			if tie == 0 {
				tie = strings.Compare(da, db)
			}
			a, b = ra, rb
		case a[0] != b[0]:
			return int(a[0]) - int(b[0])
		default:
			a, b = a[1:], b[1:]
		}
	}
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	return tie
}

// leadingDigits splits s after its decimal prefix.
func leadingDigits(s string) (string, string) {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end], s[end:]
}

// compareDigits compares two digit runs by numeric value without parsing,
// so runs longer than an int still order correctly.
func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	return strings.Compare(a, b)
}

// shouldIncludeFile determines if a file should be included based on include/exclude patterns.
func shouldIncludeFile(path string, includePatterns, excludePatterns []string) bool {
	if matchesAnyPattern(path, excludePatterns) {
		return false
	}
	if len(includePatterns) == 0 {
		return true
	}
	return matchesAnyPattern(path, includePatterns)
}

// matchesAnyPattern checks the base name against shell patterns.
func matchesAnyPattern(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(strings.TrimSpace(pattern), base); matched {
			return true
		}
	}
	return false
}
