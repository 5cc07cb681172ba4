package align

import (
	"fmt"
	"sync"
	"time"
)

// SystemState represents the lifecycle state of the alignment loop.
type SystemState string

const (
	StateIdle      SystemState = "idle"      // Not running; the only state calibration may run in
	StateAcquiring SystemState = "acquiring" // Running, waiting for the first valid detection
	StateTracking  SystemState = "tracking"  // Steady state, corrections being emitted
	StateFault     SystemState = "fault"     // Persistent loss of lock or source failure; needs stop
)

// DefaultMaxConsecutiveMisses is the number of consecutive frames without
// a valid detection before the loop declares lock lost and faults. A
// single noisy frame must never fault; a small run of them signals a real
// problem (nozzle swapped, shutter closed, lighting failed).
const DefaultMaxConsecutiveMisses = 5

// FaultReason describes why the machine entered Fault.
type FaultReason string

const (
	FaultNone             FaultReason = ""
	FaultSourceDisconnect FaultReason = "source_disconnected"
	FaultLossOfLock       FaultReason = "loss_of_lock"
)

// StateMachine owns the process-wide SystemState. Transitions are the
// only permitted mutation path; every other component reads through
// State() and never writes.
type StateMachine struct {
	mu sync.RWMutex

	state       SystemState
	faultReason FaultReason
	missCount   int
	maxMisses   int

	enteredAt time.Time
}

// NewStateMachine creates a machine in Idle.
func NewStateMachine(maxMisses int) *StateMachine {
	if maxMisses <= 0 {
		maxMisses = DefaultMaxConsecutiveMisses
	}
	return &StateMachine{
		state:     StateIdle,
		maxMisses: maxMisses,
		enteredAt: time.Now(),
	}
}

// State returns the current state.
func (m *StateMachine) State() SystemState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// FaultReason returns why the machine is in Fault, or FaultNone.
func (m *StateMachine) FaultReason() FaultReason {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.faultReason
}

// MissCount returns the current consecutive-miss counter.
func (m *StateMachine) MissCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.missCount
}

// Start transitions Idle → Acquiring. Any other origin is rejected; in
// particular Fault does not self-heal and requires an explicit Stop
// first.
func (m *StateMachine) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return fmt.Errorf("cannot start from %s, must be %s", m.state, StateIdle)
	}
	m.transition(StateAcquiring)
	m.missCount = 0
	m.faultReason = FaultNone
	return nil
}

// Stop transitions any state → Idle. Always permitted; this is the only
// way out of Fault.
func (m *StateMachine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		m.transition(StateIdle)
	}
	m.missCount = 0
	m.faultReason = FaultNone
}

// RecordValidDetection notes a frame that produced a valid alignment
// error. Acquiring promotes to Tracking on the first such frame; in
// either running state the miss counter resets.
func (m *StateMachine) RecordValidDetection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateAcquiring:
		m.transition(StateTracking)
		m.missCount = 0
	case StateTracking:
		m.missCount = 0
	}
}

// RecordMiss notes a frame that produced no valid detection while the
// loop was running. Crossing the consecutive-miss threshold faults the
// machine; below it the frame is simply skipped. Returns true when this
// miss caused the Fault transition.
func (m *StateMachine) RecordMiss() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAcquiring && m.state != StateTracking {
		return false
	}
	m.missCount++
	if m.missCount >= m.maxMisses {
		m.transition(StateFault)
		m.faultReason = FaultLossOfLock
		return true
	}
	return false
}

// RecordSourceFailure faults the machine immediately: a disconnected
// frame source is not recoverable in-loop.
func (m *StateMachine) RecordSourceFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAcquiring && m.state != StateTracking {
		return
	}
	m.transition(StateFault)
	m.faultReason = FaultSourceDisconnect
}

// Running reports whether frames should be acquired and processed.
func (m *StateMachine) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateAcquiring || m.state == StateTracking
}

// transition performs the state change. Caller must hold mu.
func (m *StateMachine) transition(to SystemState) {
	from := m.state
	m.state = to
	m.enteredAt = time.Now()
	Opsf("[State] %s -> %s", from, to)
}
