package led

import (
	"sync"

	"github.com/rs/zerolog"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/logging"
)

// State is a condition the LED can signal. Multiple conditions can be
// asserted at once; the indicator shows the highest-priority one.
type State int

const (
	StateOff State = iota
	StateBoot
	StateDisarmed
	StateArmed
	StateOffline
	StateDetection
	StateFiring
	StateCameraFail
	StateError // highest priority
	stateCount
)

func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateBoot:
		return "boot"
	case StateDisarmed:
		return "disarmed"
	case StateArmed:
		return "armed"
	case StateOffline:
		return "offline"
	case StateDetection:
		return "detection"
	case StateFiring:
		return "firing"
	case StateCameraFail:
		return "camera_fail"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Pattern describes the physical blink pattern for a state.
type Pattern struct {
	Color   string
	BlinkHz float64 // 0 means solid
}

var patterns = map[State]Pattern{
	StateOff:        {Color: "off"},
	StateBoot:       {Color: "blue", BlinkHz: 0.5},
	StateDisarmed:   {Color: "yellow", BlinkHz: 0.2},
	StateArmed:      {Color: "green"},
	StateOffline:    {Color: "orange", BlinkHz: 1},
	StateDetection:  {Color: "white", BlinkHz: 5},
	StateFiring:     {Color: "white", BlinkHz: 5},
	StateCameraFail: {Color: "red", BlinkHz: 2},
	StateError:      {Color: "red", BlinkHz: 1},
}

// Sink receives the effective pattern. On the bench this is just the log;
// on the unit it drives the status LED.
type Sink interface {
	Apply(state State, pattern Pattern)
}

// Service folds asserted conditions into one visible LED state. This is the
// unit's only required UI, so it works with zero network dependencies.
type Service struct {
	mu       sync.Mutex
	asserted uint32
	current  State
	sink     Sink
	logger   zerolog.Logger
}

func New(cfg *config.Config, sink Sink) *Service {
	s := &Service{
		sink:   sink,
		logger: logging.NewServiceLogger(cfg, "led"),
	}
	if s.sink == nil {
		s.sink = logSink{logger: s.logger}
	}
	return s
}

// Raise asserts a condition.
func (s *Service) Raise(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asserted |= 1 << uint(state)
	s.refresh()
}

// Clear drops a condition.
func (s *Service) Clear(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asserted &^= 1 << uint(state)
	s.refresh()
}

// Set asserts or clears in one call, handy for armed/disarmed toggles.
func (s *Service) Set(state State, on bool) {
	if on {
		s.Raise(state)
	} else {
		s.Clear(state)
	}
}

// Current returns the visible state.
func (s *Service) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// refresh must be called with s.mu held.
func (s *Service) refresh() {
	effective := StateOff
	for st := State(stateCount - 1); st > StateOff; st-- {
		if s.asserted&(1<<uint(st)) != 0 {
			effective = st
			break
		}
	}
	if effective == s.current {
		return
	}
	s.current = effective
	s.sink.Apply(effective, patterns[effective])
}

type logSink struct {
	logger zerolog.Logger
}

func (l logSink) Apply(state State, pattern Pattern) {
	l.logger.Info().
		Str("state", state.String()).
		Str("color", pattern.Color).
		Float64("blink_hz", pattern.BlinkHz).
		Msg("LED pattern changed")
}
