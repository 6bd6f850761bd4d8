package pipeline

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// State is a phase of a calibration run.
type State int

const (
	StateCollectingInput State = iota
	StateLoadingImages
	StateDetectingCorners
	StateCalibrating
	StateVerifying
	StateLiveTracking
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateCollectingInput:  "CollectingInput",
	StateLoadingImages:    "LoadingImages",
	StateDetectingCorners: "DetectingCorners",
	StateCalibrating:      "Calibrating",
	StateVerifying:        "Verifying",
	StateLiveTracking:     "LiveTracking",
	StateDone:             "Done",
	StateFailed:           "Failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText lets states appear by name in JSON and YAML reports.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// transitions lists the forward moves; Failed is reachable from every
// non-terminal state.
var transitions = map[State][]State{
	StateCollectingInput:  {StateLoadingImages},
	StateLoadingImages:    {StateDetectingCorners},
	StateDetectingCorners: {StateCalibrating},
	StateCalibrating:      {StateVerifying},
	StateVerifying:        {StateLiveTracking, StateDone},
	StateLiveTracking:     {StateDone},
}

// Transition records one state change.
type Transition struct {
	From   State
	To     State
	At     time.Time
	Reason string // diagnostic for transitions into Failed
}

// Listener is notified after every transition.
type Listener func(Transition)

// Machine tracks the phase of a run. It is safe for concurrent use.
type Machine struct {
	mu        sync.Mutex
	state     State
	history   []Transition
	listeners []Listener
	logger    *slog.Logger
}

// NewMachine starts in CollectingInput.
func NewMachine(logger *slog.Logger, listeners ...Listener) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{state: StateCollectingInput, logger: logger, listeners: listeners}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns a copy of all transitions so far.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history)
}

// To moves to the next state, rejecting moves the run graph does not allow.
func (m *Machine) To(next State) error {
	return m.move(next, "")
}

// Fail moves to Failed with a diagnostic. Failing a terminal machine is an
// error.
func (m *Machine) Fail(reason string) error {
	return m.move(StateFailed, reason)
}

func (m *Machine) move(next State, reason string) error {
	m.mu.Lock()
	cur := m.state
	allowed := next == StateFailed && !cur.Terminal() || slices.Contains(transitions[cur], next)
	if !allowed {
		m.mu.Unlock()
		return fmt.Errorf("illegal transition %s -> %s", cur, next)
	}
	t := Transition{From: cur, To: next, At: time.Now(), Reason: reason}
	m.state = next
	m.history = append(m.history, t)
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	if next == StateFailed {
		m.logger.Error("Calibration run failed", "from", cur.String(), "reason", reason)
	} else {
		m.logger.Info("Calibration state", "from", cur.String(), "to", next.String())
	}
	for _, l := range listeners {
		l(t)
	}
	return nil
}
