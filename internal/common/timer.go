// Package common provides stage timing and memory accounting shared by the
// calibration pipeline and the server.
package common

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Timer measures one named span.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewNamedTimer starts a timer with the given name.
func NewNamedTimer(name string) *Timer {
	return &Timer{name: name, start: time.Now()}
}

// Stop records and returns the elapsed time.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration; zero before Stop.
func (t *Timer) Duration() time.Duration { return t.duration }

// Name returns the timer name.
func (t *Timer) Name() string { return t.name }

func (t *Timer) String() string {
	if t.name != "" {
		return fmt.Sprintf("%s: %v", t.name, t.duration)
	}
	return t.duration.String()
}

// Stages collects the durations of named pipeline stages in the order they
// were started. It is safe for concurrent use.
type Stages struct {
	mu    sync.Mutex
	order []string
	spans map[string]time.Duration
}

// NewStages returns an empty stage log.
func NewStages() *Stages {
	return &Stages{spans: make(map[string]time.Duration)}
}

// Start begins timing name and returns the function that stops it. Timing
// the same stage twice accumulates.
func (s *Stages) Start(name string) func() time.Duration {
	t := NewNamedTimer(name)
	s.mu.Lock()
	if _, seen := s.spans[name]; !seen {
		s.order = append(s.order, name)
		s.spans[name] = 0
	}
	s.mu.Unlock()
	return func() time.Duration {
		d := t.Stop()
		s.mu.Lock()
		s.spans[name] += d
		s.mu.Unlock()
		return d
	}
}

// Durations returns a copy of the recorded spans.
func (s *Stages) Durations() map[string]time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Duration, len(s.spans))
	for k, v := range s.spans {
		out[k] = v
	}
	return out
}

// Names returns the stage names in start order.
func (s *Stages) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// Total sums all spans.
func (s *Stages) Total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, d := range s.spans {
		total += d
	}
	return total
}

// String renders "name=duration" pairs in start order.
func (s *Stages) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := make([]string, 0, len(s.order))
	for _, n := range s.order {
		parts = append(parts, fmt.Sprintf("%s=%v", n, s.spans[n].Round(time.Microsecond)))
	}
	return strings.Join(parts, " ")
}
