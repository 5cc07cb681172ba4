package align

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"
)

// recordingSink captures corrections for assertions and can be told to
// fail every call.
type recordingSink struct {
	mu          sync.Mutex
	corrections []Correction
	fail        bool
}

func (r *recordingSink) ApplyCorrection(axis Axis, deltaUm float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return fmt.Errorf("stage rejected correction")
	}
	r.corrections = append(r.corrections, Correction{Axis: axis, DeltaUm: deltaUm, Timestamp: time.Now()})
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.corrections)
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestSupervisor(t *testing.T, source FrameSource, sink CorrectionSink) *Supervisor {
	t.Helper()
	s, err := NewSupervisor(SupervisorConfig{
		Source:               source,
		Sink:                 sink,
		Calibration:          NewCalibrationStore(DefaultCalibration()),
		MaxConsecutiveMisses: 5,
		FrameTimeout:         20 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSupervisorAcquiresAndTracks(t *testing.T) {
	source := NewSyntheticSource(DefaultSyntheticScene(), 5*time.Millisecond)
	sink := &recordingSink{}
	s := newTestSupervisor(t, source, sink)
	defer s.Stop()

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, "tracking state", func() bool {
		return s.Machine().State() == StateTracking
	})
	waitFor(t, 2*time.Second, "corrections", func() bool {
		return sink.count() >= 4 // at least two frames, two axes each
	})

	st := s.Status()
	if st.State != StateTracking {
		t.Errorf("status state = %s, want %s", st.State, StateTracking)
	}
	if st.LastError == nil {
		t.Error("status has no last error while tracking")
	}
	if st.RunID == "" {
		t.Error("status has no run ID while running")
	}

	s.Stop()
	if got := s.Machine().State(); got != StateIdle {
		t.Errorf("state after Stop = %s, want %s", got, StateIdle)
	}
	if s.xCtrl.Integral() != 0 || s.yCtrl.Integral() != 0 {
		t.Error("controllers not reset by Stop")
	}
	// Stop is idempotent.
	s.Stop()
}

func TestSupervisorCorrectionSign(t *testing.T) {
	// With the nozzle right of and above the beam, the error and hence
	// the first (proportional-only) correction must carry the error's
	// sign on each axis.
	sc := DefaultSyntheticScene() // nozzle (160,120), beam (205,98)
	source := NewSyntheticSource(sc, 5*time.Millisecond)
	sink := &recordingSink{}
	s := newTestSupervisor(t, source, sink)
	defer s.Stop()

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, "corrections", func() bool { return sink.count() >= 2 })
	s.Stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	var firstX, firstY *Correction
	for i := range sink.corrections {
		c := sink.corrections[i]
		if c.Axis == AxisX && firstX == nil {
			firstX = &c
		}
		if c.Axis == AxisY && firstY == nil {
			firstY = &c
		}
	}
	if firstX == nil || firstY == nil {
		t.Fatal("missing per-axis corrections")
	}
	// Nozzle.X < Beam.X so error.X < 0; Nozzle.Y > Beam.Y so error.Y > 0.
	if firstX.DeltaUm >= 0 {
		t.Errorf("X correction = %g, want negative", firstX.DeltaUm)
	}
	if firstY.DeltaUm <= 0 {
		t.Errorf("Y correction = %g, want positive", firstY.DeltaUm)
	}
}

func TestSupervisorFaultsOnLossOfLock(t *testing.T) {
	source := NewSyntheticSource(DefaultSyntheticScene(), 5*time.Millisecond)
	source.SetBlank(true)
	sink := &recordingSink{}
	s := newTestSupervisor(t, source, sink)
	defer s.Stop()

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, "fault state", func() bool {
		return s.Machine().State() == StateFault
	})

	st := s.Status()
	if st.FaultReason != FaultLossOfLock {
		t.Errorf("fault reason = %s, want %s", st.FaultReason, FaultLossOfLock)
	}
	if sink.count() != 0 {
		t.Errorf("%d corrections emitted without a single valid detection", sink.count())
	}

	// Fault persists: frames with features appearing again must not
	// silently resume tracking.
	source.SetBlank(false)
	time.Sleep(50 * time.Millisecond)
	if got := s.Machine().State(); got != StateFault {
		t.Errorf("state = %s, want persistent %s", got, StateFault)
	}
	if err := s.Start(); err == nil {
		t.Error("Start from Fault succeeded, want error")
	}

	// Explicit stop/start cycle recovers.
	s.Stop()
	if err := s.Start(); err != nil {
		t.Fatalf("restart after fault: %v", err)
	}
	waitFor(t, 2*time.Second, "tracking after restart", func() bool {
		return s.Machine().State() == StateTracking
	})
}

func TestSupervisorFaultsOnDisconnect(t *testing.T) {
	source := NewSyntheticSource(DefaultSyntheticScene(), 5*time.Millisecond)
	sink := &recordingSink{}
	s := newTestSupervisor(t, source, sink)
	defer s.Stop()

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, "tracking", func() bool {
		return s.Machine().State() == StateTracking
	})

	source.SetDisconnected(true)
	waitFor(t, 2*time.Second, "fault", func() bool {
		return s.Machine().State() == StateFault
	})
	if got := s.Machine().FaultReason(); got != FaultSourceDisconnect {
		t.Errorf("fault reason = %s, want %s", got, FaultSourceDisconnect)
	}
}

func TestSupervisorCalibrate(t *testing.T) {
	sc := DefaultSyntheticScene()
	source := NewSyntheticSource(sc, 5*time.Millisecond)
	sink := &recordingSink{}
	s := newTestSupervisor(t, source, sink)
	defer s.Stop()

	// Rejected while running.
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Calibrate(100); err == nil {
		t.Error("Calibrate accepted while running")
	}
	s.Stop()

	// Rejected for nonsense spacing.
	if _, err := s.Calibrate(0); err == nil {
		t.Error("Calibrate accepted zero spacing")
	}

	// Valid pass: spacing / pixel distance between the two features.
	const spacingUm = 100.0
	got, err := s.Calibrate(spacingUm)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	pixelDist := math.Hypot(sc.NozzleX-sc.BeamX, sc.NozzleY-sc.BeamY)
	want := spacingUm / pixelDist
	if math.Abs(got.UnitsPerPixel-want)/want > 0.05 {
		t.Errorf("UnitsPerPixel = %g, want within 5%% of %g", got.UnitsPerPixel, want)
	}
	if s.cfg.Calibration.Current().UnitsPerPixel != got.UnitsPerPixel {
		t.Error("calibration pass did not publish the new snapshot")
	}
}

func TestSupervisorSinkFailureIsNotFatal(t *testing.T) {
	source := NewSyntheticSource(DefaultSyntheticScene(), 5*time.Millisecond)
	sink := &recordingSink{fail: true}
	s := newTestSupervisor(t, source, sink)
	defer s.Stop()

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, "sink failures", func() bool {
		return s.Status().SinkFailures >= 4
	})
	// The loop keeps computing corrections; failure is an event, not a
	// state transition.
	if got := s.Machine().State(); got != StateTracking {
		t.Errorf("state = %s, want %s despite sink failures", got, StateTracking)
	}
}
