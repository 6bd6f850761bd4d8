package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback receives per-image progress of the detection stage.
type ProgressCallback interface {
	// OnStart is called once with the number of images.
	OnStart(total int)

	// OnProgress is called after each finished image.
	OnProgress(current, total int)

	// OnComplete is called when the stage is done.
	OnComplete()

	// OnError is called for each image that did not yield a usable grid.
	OnError(index int, err error)
}

// NoOpProgressCallback discards all progress.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(int)         {}
func (NoOpProgressCallback) OnProgress(int, int) {}
func (NoOpProgressCallback) OnComplete()         {}
func (NoOpProgressCallback) OnError(int, error)  {}

// ConsoleProgressCallback draws a progress bar.
type ConsoleProgressCallback struct {
	mu             sync.Mutex
	writer         io.Writer
	prefix         string
	width          int
	updateInterval time.Duration
	lastUpdate     time.Time
	startTime      time.Time
	failed         int
}

// NewConsoleProgressCallback writes to writer, or stderr when nil.
func NewConsoleProgressCallback(writer io.Writer, prefix string) *ConsoleProgressCallback {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleProgressCallback{
		writer:         writer,
		prefix:         prefix,
		width:          40,
		updateInterval: 100 * time.Millisecond,
	}
}

// WithUpdateInterval sets the minimum time between redraws.
func (c *ConsoleProgressCallback) WithUpdateInterval(interval time.Duration) *ConsoleProgressCallback {
	c.updateInterval = interval
	return c
}

func (c *ConsoleProgressCallback) OnStart(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()
	c.lastUpdate = time.Time{}
	c.failed = 0
	_, _ = fmt.Fprintf(c.writer, "%s0/%d\n", c.prefix, total)
}

func (c *ConsoleProgressCallback) OnProgress(current, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.Sub(c.lastUpdate) < c.updateInterval && current < total {
		return
	}
	c.lastUpdate = now
	if total <= 0 {
		return
	}
	filled := c.width * current / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)
	_, _ = fmt.Fprintf(c.writer, "\r%s[%s] %d/%d", c.prefix, bar, current, total)
	if c.failed > 0 {
		_, _ = fmt.Fprintf(c.writer, " (%d without grid)", c.failed)
	}
}

func (c *ConsoleProgressCallback) OnComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.writer, "\n%sdone in %v\n", c.prefix, time.Since(c.startTime).Round(time.Millisecond))
}

func (c *ConsoleProgressCallback) OnError(index int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed++
	_, _ = fmt.Fprintf(c.writer, "\n%s[FAIL] image %d: %v\n", c.prefix, index, err)
}

// LogProgressCallback reports progress through slog.
type LogProgressCallback struct {
	mu        sync.Mutex
	logger    *slog.Logger
	level     slog.Level
	interval  int
	lastLog   int
	startTime time.Time
}

// NewLogProgressCallback logs every interval images at level.
func NewLogProgressCallback(logger *slog.Logger, level slog.Level, interval int) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{logger: logger, level: level, interval: max(interval, 1)}
}

func (l *LogProgressCallback) OnStart(total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startTime = time.Now()
	l.lastLog = 0
	l.logger.Log(context.Background(), l.level, "Detecting corners", "images", total)
}

func (l *LogProgressCallback) OnProgress(current, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if current-l.lastLog < l.interval && current != total {
		return
	}
	l.lastLog = current
	l.logger.Log(context.Background(), l.level, "Detection progress",
		"current", current,
		"total", total,
		"elapsed", time.Since(l.startTime).Round(time.Millisecond))
}

func (l *LogProgressCallback) OnComplete() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Log(context.Background(), l.level, "Detection finished", "elapsed", time.Since(l.startTime).Round(time.Millisecond))
}

func (l *LogProgressCallback) OnError(index int, err error) {
	l.logger.Warn("No checkerboard in image", "index", index, "error", err)
}

// MultiProgressCallback fans out to several callbacks.
type MultiProgressCallback []ProgressCallback

func (m MultiProgressCallback) OnStart(total int) {
	for _, cb := range m {
		cb.OnStart(total)
	}
}

func (m MultiProgressCallback) OnProgress(current, total int) {
	for _, cb := range m {
		cb.OnProgress(current, total)
	}
}

func (m MultiProgressCallback) OnComplete() {
	for _, cb := range m {
		cb.OnComplete()
	}
}

func (m MultiProgressCallback) OnError(index int, err error) {
	for _, cb := range m {
		cb.OnError(index, err)
	}
}
