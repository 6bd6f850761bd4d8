// Package live tracks the board pose frame by frame with a fixed camera
// model. Every frame is solved independently; nothing carries over between
// frames.
package live

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MeKo-Tech/checkercal/internal/batch"
	"github.com/MeKo-Tech/checkercal/internal/calerr"
	"github.com/MeKo-Tech/checkercal/internal/utils"
)

// Frame is one image delivered by a source.
type Frame struct {
	Seq   int
	Name  string
	Image image.Image
	At    time.Time
}

// FrameSource yields frames until it returns io.EOF. Next blocks until a
// frame arrives or ctx is done. A frame that arrived but could not be
// decoded is reported as a *FrameError; the source stays usable.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// FrameError is a failure confined to a single frame.
type FrameError struct {
	Seq int
	Err error
}

func (e *FrameError) Error() string { return fmt.Sprintf("frame %d: %v", e.Seq, e.Err) }

func (e *FrameError) Unwrap() error { return e.Err }

// SourceOptions configures Open.
type SourceOptions struct {
	Extension string        // directory replay file extension (default: ".jpg")
	Pattern   string        // directory replay name pattern (default: "%d")
	Interval  time.Duration // delay between replayed frames or snapshot polls
	Client    *http.Client  // HTTP client for camera streams
}

// Open opens a frame source. http(s) URLs are read as MJPEG streams or
// polled JPEG snapshots; anything else is a directory of numbered images.
// A source that cannot be opened yields a DeviceUnavailable error.
func Open(ctx context.Context, spec string, opts SourceOptions) (FrameSource, error) {
	if spec == "" {
		return nil, calerr.New(calerr.KindDeviceUnavailable, "open", "no frame source configured", nil)
	}
	if strings.HasPrefix(spec, "http://") || strings.HasPrefix(spec, "https://") {
		return OpenStream(ctx, spec, opts)
	}
	return OpenDir(spec, opts)
}

// DirSource replays <dir>/<i><ext> in index order, ending at the first
// missing index above zero.
type DirSource struct {
	seq      batch.SequenceSource
	next     int
	interval time.Duration
	last     time.Time
}

// OpenDir opens a replay directory.
func OpenDir(dir string, opts SourceOptions) (*DirSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, calerr.New(calerr.KindDeviceUnavailable, "open", dir, err)
	}
	if !info.IsDir() {
		return nil, calerr.New(calerr.KindDeviceUnavailable, "open", dir+" is not a directory", nil)
	}
	ext := opts.Extension
	if ext == "" {
		ext = ".jpg"
	}
	return &DirSource{
		seq:      batch.SequenceSource{Dir: dir, Pattern: opts.Pattern, Extension: ext},
		interval: opts.Interval,
	}, nil
}

// Next loads the next numbered image.
func (s *DirSource) Next(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		if err := s.wait(ctx); err != nil {
			return Frame{}, err
		}
		i := s.next
		s.next++
		path := s.seq.Path(i)
		img, _, err := utils.LoadImage(path)
		switch {
		case err == nil:
			return Frame{Seq: i, Name: path, Image: img, At: time.Now()}, nil
		case errors.Is(err, fs.ErrNotExist) && i == 0:
			continue
		case errors.Is(err, fs.ErrNotExist):
			return Frame{}, io.EOF
		default:
			return Frame{}, &FrameError{Seq: i, Err: err}
		}
	}
}

func (s *DirSource) wait(ctx context.Context) error {
	if s.interval <= 0 || s.last.IsZero() {
		s.last = time.Now()
		return nil
	}
	delay := time.Until(s.last.Add(s.interval))
	s.last = time.Now().Add(max(delay, 0))
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close is a no-op for directories.
func (s *DirSource) Close() error { return nil }
