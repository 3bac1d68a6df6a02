package forecast

import (
	"fmt"
	"sync"
)

// State is one phase of the per-domain forecast pipeline.
type State string

const (
	StateIdle       State = "idle"
	StateExtracting State = "extracting"
	StateTraining   State = "training"
	StateEvaluating State = "evaluating"
	StatePublished  State = "published"
	StateFailed     State = "failed"
)

// transitions is the legal transition table. Published and Failed return to
// Idle so the next schedule trigger can start a fresh cycle.
var transitions = map[State][]State{
	StateIdle:       {StateExtracting},
	StateExtracting: {StateTraining, StateFailed},
	StateTraining:   {StateEvaluating, StateFailed},
	StateEvaluating: {StatePublished, StateFailed},
	StatePublished:  {StateIdle},
	StateFailed:     {StateIdle},
}

// StateMachine tracks the forecast pipeline phase of one domain and rejects
// illegal transitions.
type StateMachine struct {
	mu      sync.Mutex
	domain  string
	current State
}

// NewStateMachine creates a machine in the Idle state.
func NewStateMachine(domain string) *StateMachine {
	return &StateMachine{domain: domain, current: StateIdle}
}

// Current returns the current state.
func (m *StateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition moves the machine to the target state.
func (m *StateMachine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, allowed := range transitions[m.current] {
		if allowed == to {
			m.current = to
			return nil
		}
	}
	return fmt.Errorf("domain %q: illegal forecast transition %s -> %s", m.domain, m.current, to)
}

// Reset forces the machine back to Idle from a terminal state.
func (m *StateMachine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == StatePublished || m.current == StateFailed {
		m.current = StateIdle
	}
}
