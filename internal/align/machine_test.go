package align

import "testing"

func TestStateMachineStartStop(t *testing.T) {
	t.Parallel()

	m := NewStateMachine(3)
	if m.State() != StateIdle {
		t.Fatalf("initial state = %s, want %s", m.State(), StateIdle)
	}

	if err := m.Start(); err != nil {
		t.Fatalf("Start from Idle: %v", err)
	}
	if m.State() != StateAcquiring {
		t.Errorf("state after Start = %s, want %s", m.State(), StateAcquiring)
	}

	// Start while running is rejected.
	if err := m.Start(); err == nil {
		t.Error("Start from Acquiring succeeded, want error")
	}

	m.Stop()
	if m.State() != StateIdle {
		t.Errorf("state after Stop = %s, want %s", m.State(), StateIdle)
	}
}

func TestStateMachineAcquiringToTracking(t *testing.T) {
	t.Parallel()

	m := NewStateMachine(3)
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}

	m.RecordValidDetection()
	if m.State() != StateTracking {
		t.Errorf("state after first valid detection = %s, want %s", m.State(), StateTracking)
	}

	// Steady state: further valid detections keep Tracking.
	m.RecordValidDetection()
	if m.State() != StateTracking {
		t.Errorf("state = %s, want %s", m.State(), StateTracking)
	}
}

func TestStateMachineMissThreshold(t *testing.T) {
	t.Parallel()

	m := NewStateMachine(3)
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	m.RecordValidDetection()

	// Two misses: still tracking, counter visible.
	if m.RecordMiss() || m.RecordMiss() {
		t.Fatal("faulted before the miss threshold")
	}
	if m.State() != StateTracking {
		t.Errorf("state after 2 misses = %s, want %s", m.State(), StateTracking)
	}
	if m.MissCount() != 2 {
		t.Errorf("miss count = %d, want 2", m.MissCount())
	}

	// A valid frame resets the counter.
	m.RecordValidDetection()
	if m.MissCount() != 0 {
		t.Errorf("miss count after valid detection = %d, want 0", m.MissCount())
	}

	// Third consecutive miss crosses the threshold.
	m.RecordMiss()
	m.RecordMiss()
	if !m.RecordMiss() {
		t.Fatal("third consecutive miss did not fault")
	}
	if m.State() != StateFault {
		t.Errorf("state = %s, want %s", m.State(), StateFault)
	}
	if m.FaultReason() != FaultLossOfLock {
		t.Errorf("fault reason = %s, want %s", m.FaultReason(), FaultLossOfLock)
	}
}

func TestStateMachineFaultFromAcquiring(t *testing.T) {
	t.Parallel()

	// Start with no valid detections ever: misses during Acquiring also
	// escalate, so a dead scene faults rather than acquiring forever.
	m := NewStateMachine(3)
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	m.RecordMiss()
	m.RecordMiss()
	if !m.RecordMiss() {
		t.Fatal("miss threshold not enforced in Acquiring")
	}
	if m.State() != StateFault {
		t.Errorf("state = %s, want %s", m.State(), StateFault)
	}
}

func TestStateMachineFaultDoesNotSelfHeal(t *testing.T) {
	t.Parallel()

	m := NewStateMachine(2)
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	m.RecordMiss()
	m.RecordMiss()
	if m.State() != StateFault {
		t.Fatal("setup: machine not faulted")
	}

	// Valid detections and further misses are ignored in Fault.
	m.RecordValidDetection()
	if m.State() != StateFault {
		t.Error("valid detection healed Fault without a stop")
	}
	if err := m.Start(); err == nil {
		t.Error("Start from Fault succeeded, want error")
	}

	// Only the explicit stop/start cycle recovers.
	m.Stop()
	if m.State() != StateIdle {
		t.Fatalf("state after Stop = %s", m.State())
	}
	if err := m.Start(); err != nil {
		t.Errorf("Start after stop/start cycle: %v", err)
	}
}

func TestStateMachineSourceFailure(t *testing.T) {
	t.Parallel()

	m := NewStateMachine(5)
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	m.RecordSourceFailure()
	if m.State() != StateFault {
		t.Errorf("state = %s, want %s", m.State(), StateFault)
	}
	if m.FaultReason() != FaultSourceDisconnect {
		t.Errorf("fault reason = %s, want %s", m.FaultReason(), FaultSourceDisconnect)
	}
}
