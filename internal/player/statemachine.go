package player

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// State is the backend player state.
type State int

const (
	StateNone State = iota
	StateIdle
	StateReady
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// AtLeastReady reports whether the backend has been prepared.
func (s State) AtLeastReady() bool {
	return s == StateReady || s == StatePlaying || s == StatePaused
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	if to == StateIdle {
		return from != StateIdle
	}
	switch from {
	case StateIdle:
		return to == StateReady
	case StateReady:
		return to == StatePlaying || to == StatePaused
	case StatePlaying:
		return to == StatePaused
	case StatePaused:
		return to == StatePlaying
	default:
		return false
	}
}

// nextHop returns the state to issue on the way from -> to. A delayed target
// that is not directly reachable from the confirmed state is routed through
// Idle or Ready.
func nextHop(from, to State) State {
	if CanTransition(from, to) {
		return to
	}
	switch from {
	case StateNone:
		return StateIdle
	case StateIdle:
		return StateReady
	default:
		return StateIdle
	}
}

// stateMachine serializes backend state transitions. At most one transition
// is in flight; a later request overwrites the single delayed slot.
type stateMachine struct {
	backend Backend
	loop    *Loop
	logger  *slog.Logger

	pollInterval time.Duration
	timeout      time.Duration

	current   State
	requested State
	inFlight  bool
	issuedAt  time.Time

	delayed    State
	hasDelayed bool

	generation uint64
	timer      *time.Timer

	// onConfirmed runs after a transition is confirmed and any delayed
	// request has been issued.
	onConfirmed func(State)
	// onFailed runs when a transition fails or times out.
	onFailed func(error)
}

func newStateMachine(b Backend, loop *Loop, cfg Config, logger *slog.Logger) *stateMachine {
	return &stateMachine{
		backend:      b,
		loop:         loop,
		logger:       logger,
		pollInterval: cfg.StatePollInterval,
		timeout:      cfg.TransitionTimeout,
		current:      StateNone,
	}
}

// Current returns the last confirmed state.
func (m *stateMachine) Current() State { return m.current }

// InFlight reports whether a transition awaits confirmation.
func (m *stateMachine) InFlight() bool { return m.inFlight }

// Requested returns the in-flight target, or the current state.
func (m *stateMachine) Requested() State {
	if m.inFlight {
		return m.requested
	}
	return m.current
}

// Delayed returns the queued request, if any.
func (m *stateMachine) Delayed() (State, bool) { return m.delayed, m.hasDelayed }

// Effective returns the state the machine will end up in once every queued
// request has been confirmed.
func (m *stateMachine) Effective() State {
	if m.hasDelayed {
		return m.delayed
	}
	return m.Requested()
}

// Request asks for target. Requests that do not form a legal edge from the
// effective state are rejected with a BadArgument error.
func (m *stateMachine) Request(target State) error {
	eff := m.Effective()
	if target == eff {
		return nil
	}
	if !CanTransition(eff, target) {
		return BadArgument("set_state", "illegal transition %s -> %s", eff, target)
	}
	if m.inFlight {
		if m.hasDelayed {
			m.logger.Debug("overwriting delayed state",
				slog.String("old", m.delayed.String()),
				slog.String("new", target.String()))
		}
		m.delayed = target
		m.hasDelayed = true
		return nil
	}
	return m.issue(target)
}

func (m *stateMachine) issue(target State) error {
	hop := nextHop(m.current, target)
	if hop != target {
		m.delayed = target
		m.hasDelayed = true
	}

	if err := m.call(hop); err != nil {
		return err
	}

	m.generation++
	m.requested = hop
	m.inFlight = true
	m.issuedAt = time.Now()
	m.logger.Debug("state transition issued",
		slog.String("from", m.current.String()),
		slog.String("to", hop.String()))
	m.schedulePoll(0)
	return nil
}

func (m *stateMachine) call(target State) error {
	switch target {
	case StateIdle:
		switch m.current {
		case StateNone:
			return nil
		case StateReady:
			return m.backend.Unprepare()
		default:
			return m.backend.Stop()
		}
	case StateReady:
		return m.backend.Prepare()
	case StatePlaying:
		return m.backend.Play()
	case StatePaused:
		return m.backend.Pause()
	default:
		return BadArgument("set_state", "cannot request %s", target)
	}
}

func (m *stateMachine) schedulePoll(d time.Duration) {
	if m.timer != nil {
		m.timer.Stop()
	}
	gen := m.generation
	if d == 0 {
		m.loop.Post(func() { m.poll(gen) })
		return
	}
	m.timer = m.loop.AfterFunc(d, func() { m.poll(gen) })
}

// CheckNow polls the backend immediately, e.g. after OnPrepared.
func (m *stateMachine) CheckNow() {
	if m.inFlight {
		m.poll(m.generation)
	}
}

func (m *stateMachine) poll(gen uint64) {
	if gen != m.generation || !m.inFlight {
		return
	}
	if m.backend.GetState() == m.requested {
		m.confirm()
		return
	}
	if m.timeout > 0 && time.Since(m.issuedAt) >= m.timeout {
		err := NewError(KindTransitionTimeout, "set_state",
			fmt.Errorf("backend did not reach %s within %s", m.requested, m.timeout))
		m.fail(err)
		return
	}
	m.schedulePoll(m.pollInterval)
}

func (m *stateMachine) confirm() {
	m.current = m.requested
	m.inFlight = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.logger.Debug("state transition confirmed", slog.String("state", m.current.String()))

	if m.hasDelayed {
		next := m.delayed
		m.hasDelayed = false
		if next != m.current {
			if err := m.issue(next); err != nil {
				m.fail(err)
				return
			}
		}
	}
	if m.onConfirmed != nil {
		m.onConfirmed(m.current)
	}
}

func (m *stateMachine) fail(err error) {
	m.logger.Warn("state transition failed",
		slog.String("target", m.requested.String()),
		slog.String("error", err.Error()))
	m.invalidate()
	if m.onFailed != nil {
		m.onFailed(err)
	}
}

// invalidate drops the in-flight transition and any delayed request. Pending
// polls for older generations become no-ops.
func (m *stateMachine) invalidate() {
	m.generation++
	m.inFlight = false
	m.hasDelayed = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// ForceIdle abandons every pending transition and moves the backend to Idle
// without waiting for confirmation.
func (m *stateMachine) ForceIdle() error {
	m.invalidate()
	var err error
	switch m.current {
	case StatePlaying, StatePaused:
		err = m.backend.Stop()
	case StateReady:
		err = m.backend.Unprepare()
	}
	if err != nil && !errors.Is(err, ErrNotSupported) {
		m.logger.Warn("forcing idle", slog.String("error", err.Error()))
	}
	changed := m.current != StateIdle
	m.current = StateIdle
	if changed && m.onConfirmed != nil {
		m.onConfirmed(StateIdle)
	}
	return err
}
