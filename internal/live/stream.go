package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/checkercal/internal/calerr"
	"github.com/MeKo-Tech/checkercal/internal/utils"
)

// StreamSource reads frames from an HTTP camera. A multipart/x-mixed-replace
// response is consumed part by part; a single image response is re-fetched
// for every frame.
type StreamSource struct {
	url      string
	client   *http.Client
	interval time.Duration
	body     io.ReadCloser
	parts    *multipart.Reader
	seq      int
}

// OpenStream connects to url and checks that it serves images.
func OpenStream(ctx context.Context, url string, opts SourceOptions) (*StreamSource, error) {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	s := &StreamSource{url: url, client: client, interval: opts.Interval}
	resp, err := s.get(ctx)
	if err != nil {
		return nil, calerr.New(calerr.KindDeviceUnavailable, "open", url, err)
	}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		_ = resp.Body.Close()
		return nil, calerr.New(calerr.KindDeviceUnavailable, "open", url, err)
	}
	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		if params["boundary"] == "" {
			_ = resp.Body.Close()
			return nil, calerr.New(calerr.KindDeviceUnavailable, "open", url+": multipart stream without boundary", nil)
		}
		s.body = resp.Body
		s.parts = multipart.NewReader(resp.Body, params["boundary"])
	case strings.HasPrefix(mediaType, "image/"):
		// snapshot mode; the first response only checked the content type
		_ = resp.Body.Close()
	default:
		_ = resp.Body.Close()
		return nil, calerr.New(calerr.KindDeviceUnavailable, "open",
			fmt.Sprintf("%s: unsupported content type %q", url, mediaType), nil)
	}
	return s, nil
}

func (s *StreamSource) get(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp, nil
}

// Next returns the next decoded frame. The end of a multipart stream is
// io.EOF.
func (s *StreamSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.parts != nil {
		return s.nextPart()
	}
	return s.nextSnapshot(ctx)
}

func (s *StreamSource) nextPart() (Frame, error) {
	for {
		part, err := s.parts.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Frame{}, io.EOF
			}
			return Frame{}, fmt.Errorf("read stream part: %w", err)
		}
		if ct := part.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
			_ = part.Close()
			continue
		}
		img, err := utils.DecodeImage(part)
		_ = part.Close()
		seq := s.seq
		s.seq++
		if err != nil {
			return Frame{}, &FrameError{Seq: seq, Err: fmt.Errorf("decode: %w", err)}
		}
		return Frame{Seq: seq, Name: s.url, Image: img, At: time.Now()}, nil
	}
}

func (s *StreamSource) nextSnapshot(ctx context.Context) (Frame, error) {
	if s.seq > 0 && s.interval > 0 {
		t := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return Frame{}, ctx.Err()
		case <-t.C:
		}
	}
	resp, err := s.get(ctx)
	if err != nil {
		return Frame{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	img, err := utils.DecodeImage(resp.Body)
	seq := s.seq
	s.seq++
	if err != nil {
		return Frame{}, &FrameError{Seq: seq, Err: fmt.Errorf("decode snapshot: %w", err)}
	}
	return Frame{Seq: seq, Name: s.url, Image: img, At: time.Now()}, nil
}

// Close releases the stream connection.
func (s *StreamSource) Close() error {
	if s.body != nil {
		return s.body.Close()
	}
	return nil
}
