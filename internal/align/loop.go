package align

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder persists supervisor outputs (runs, corrections, events). It is
// an adapter, not a domain layer; the sqlite implementation lives in
// internal/align/storage/sqlite.
type Recorder interface {
	RecordRunStart(runID string, startedAt time.Time) error
	RecordRunStop(runID string, stoppedAt time.Time) error
	RecordCorrection(runID string, sample ErrorSample) error
	RecordEvent(runID, kind, detail string, at time.Time) error
}

// isNilInterface checks if an interface value is nil or contains a nil
// pointer. This handles the Go interface nil pitfall where
// interface{} != nil but the underlying value is nil.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// SupervisorConfig holds dependencies and tunables for the alignment
// supervisor.
type SupervisorConfig struct {
	Source      FrameSource
	Sink        CorrectionSink
	Calibration *CalibrationStore
	Recorder    Recorder // optional

	GainsX PIDGains
	GainsY PIDGains

	// MaxConsecutiveMisses before the loop faults with loss of lock.
	// Zero selects DefaultMaxConsecutiveMisses.
	MaxConsecutiveMisses int

	// FrameTimeout bounds each NextFrame call. It also bounds how long a
	// stop command can go unobserved by the acquisition loop, so it must
	// stay at or under one nominal frame interval.
	FrameTimeout time.Duration
}

// DefaultFrameTimeout matches a 30 fps nominal camera rate.
const DefaultFrameTimeout = 33 * time.Millisecond

// Supervisor sequences acquisition, detection, estimation and correction
// into the closed alignment loop, supervised by the state machine.
//
// Two goroutines run while started: the acquisition loop, paced by the
// frame source, and the processing loop. They meet at a one-deep handoff
// slot with latest-frame-wins semantics: when processing is still busy
// with the previous frame, the new frame overwrites the unconsumed one.
// Acquisition is never blocked by processing; the cost is an occasional
// dropped frame under load, which the PID smoothing tolerates.
type Supervisor struct {
	cfg      SupervisorConfig
	machine  *StateMachine
	detector *Detector
	xCtrl    *AxisController
	yCtrl    *AxisController
	stats    *LoopStats

	slot chan *Frame

	mu             sync.Mutex
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	runID          string
	lastError      *AlignmentError
	lastCorrection struct{ X, Y float64 }
	lastUpdateTime time.Time
}

// NewSupervisor wires a supervisor from its dependencies. Source, Sink
// and Calibration are required.
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("supervisor requires a frame source")
	}
	if isNilInterface(cfg.Sink) {
		return nil, fmt.Errorf("supervisor requires a correction sink")
	}
	if cfg.Calibration == nil {
		return nil, fmt.Errorf("supervisor requires a calibration store")
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = DefaultFrameTimeout
	}
	if cfg.GainsX == (PIDGains{}) {
		cfg.GainsX = DefaultPIDGains()
	}
	if cfg.GainsY == (PIDGains{}) {
		cfg.GainsY = DefaultPIDGains()
	}

	return &Supervisor{
		cfg:      cfg,
		machine:  NewStateMachine(cfg.MaxConsecutiveMisses),
		detector: NewDetector(),
		xCtrl:    NewAxisController(AxisX, cfg.GainsX),
		yCtrl:    NewAxisController(AxisY, cfg.GainsY),
		stats:    NewLoopStats(),
		slot:     make(chan *Frame, 1),
	}, nil
}

// Machine exposes the state machine for read-only callers.
func (s *Supervisor) Machine() *StateMachine {
	return s.machine
}

// Stats exposes the loop statistics for the monitor surface.
func (s *Supervisor) Stats() *LoopStats {
	return s.stats
}

// Start transitions Idle → Acquiring, resets both axis controllers from
// the current calibration, and launches the acquisition and processing
// loops. Starting from any state other than Idle (including Fault) is an
// error.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.machine.Start(); err != nil {
		return err
	}

	s.xCtrl.Reset()
	s.yCtrl.Reset()
	s.lastError = nil
	s.lastCorrection = struct{ X, Y float64 }{}
	s.lastUpdateTime = time.Time{}
	s.drainSlot()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.runID = uuid.NewString()

	if !isNilInterface(s.cfg.Recorder) {
		if err := s.cfg.Recorder.RecordRunStart(s.runID, time.Now()); err != nil {
			Opsf("[Supervisor] Failed to record run start: %v", err)
		}
	}
	Opsf("[Supervisor] Run %s started (calibration %.4f µm/px)",
		s.runID, s.cfg.Calibration.Current().UnitsPerPixel)

	s.wg.Add(2)
	go s.acquireLoop(ctx)
	go s.processLoop(ctx)
	return nil
}

// Stop cancels both loops, discards any in-flight frame, resets the
// controllers and returns the machine to Idle. The stop is complete when
// this returns: no correction is emitted afterwards. Stop is idempotent
// and permitted from every state; it is also the only way out of Fault.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// Wait outside the lock: the processing loop takes it briefly while
	// finishing its current frame.
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.drainSlot()

	wasRunning := s.machine.State() != StateIdle
	s.machine.Stop()
	s.xCtrl.Reset()
	s.yCtrl.Reset()

	if wasRunning && !isNilInterface(s.cfg.Recorder) && s.runID != "" {
		if err := s.cfg.Recorder.RecordRunStop(s.runID, time.Now()); err != nil {
			Opsf("[Supervisor] Failed to record run stop: %v", err)
		}
	}
	if wasRunning {
		Opsf("[Supervisor] Run %s stopped", s.runID)
	}
}

// Calibrate runs a calibration pass: capture one frame, detect both
// features, and derive units-per-pixel from the known physical spacing
// between them. Permitted only while Idle; any other state is rejected
// synchronously with no state change.
func (s *Supervisor) Calibrate(referenceSpacingUm float64) (CalibrationData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.machine.State(); st != StateIdle {
		return CalibrationData{}, fmt.Errorf("calibration requires %s state, currently %s", StateIdle, st)
	}
	if referenceSpacingUm <= 0 {
		return CalibrationData{}, fmt.Errorf("reference spacing must be positive, got %g", referenceSpacingUm)
	}

	frame, err := s.cfg.Source.NextFrame(4 * s.cfg.FrameTimeout)
	if err != nil {
		return CalibrationData{}, fmt.Errorf("calibration capture failed: %w", err)
	}

	current := s.cfg.Calibration.Current()
	det := s.detector.Detect(frame, current)
	if !det.BothValid() {
		return CalibrationData{}, fmt.Errorf("calibration needs both features visible: nozzle=%t beam=%t",
			det.Nozzle.Valid, det.Beam.Valid)
	}

	dx := det.Nozzle.X - det.Beam.X
	dy := det.Nozzle.Y - det.Beam.Y
	pixelDist := math.Hypot(dx, dy)
	if pixelDist < 1 {
		return CalibrationData{}, fmt.Errorf("features too close to calibrate: %.2f px apart", pixelDist)
	}

	next := current
	next.UnitsPerPixel = referenceSpacingUm / pixelDist
	next.CalibratedAt = time.Now()
	if err := s.cfg.Calibration.Publish(next); err != nil {
		return CalibrationData{}, err
	}
	Opsf("[Supervisor] Calibrated: %.2f µm over %.2f px -> %.4f µm/px",
		referenceSpacingUm, pixelDist, next.UnitsPerPixel)
	return next, nil
}

// Gains returns the current per-axis PID gains.
func (s *Supervisor) Gains() (x, y PIDGains) {
	return s.xCtrl.Gains(), s.yCtrl.Gains()
}

// SetGains retunes both controllers. Permitted only while Idle so a
// running loop never sees a mid-cycle gain change.
func (s *Supervisor) SetGains(x, y PIDGains) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.machine.State(); st != StateIdle {
		return fmt.Errorf("gain changes require %s state, currently %s", StateIdle, st)
	}
	s.xCtrl.SetGains(x)
	s.yCtrl.SetGains(y)
	s.xCtrl.Reset()
	s.yCtrl.Reset()
	Diagf("[Supervisor] Gains updated: X{%.3f %.3f %.3f} Y{%.3f %.3f %.3f}",
		x.Kp, x.Ki, x.Kd, y.Kp, y.Ki, y.Kd)
	return nil
}

// Status is the operator-facing snapshot of the loop.
type Status struct {
	State          SystemState     `json:"state"`
	FaultReason    FaultReason     `json:"fault_reason,omitempty"`
	RunID          string          `json:"run_id,omitempty"`
	LastError      *AlignmentError `json:"last_error,omitempty"`
	LastCorrection struct {
		X float64 `json:"x_um"`
		Y float64 `json:"y_um"`
	} `json:"last_correction"`
	FrameRate       float64 `json:"frame_rate"`
	FramesProcessed uint64  `json:"frames_processed"`
	FramesDropped   uint64  `json:"frames_dropped"`
	Misses          uint64  `json:"misses"`
	MissCount       int     `json:"consecutive_misses"`
	SinkFailures    uint64  `json:"sink_failures"`
}

// Status reports the true current state; it never lags a transition.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	lastErr := s.lastError
	lastCorr := s.lastCorrection
	runID := s.runID
	s.mu.Unlock()

	processed, dropped, _, misses, _, sinkFailures := s.stats.Counters()
	st := Status{
		State:           s.machine.State(),
		FaultReason:     s.machine.FaultReason(),
		RunID:           runID,
		LastError:       lastErr,
		FrameRate:       s.stats.FrameRate(),
		FramesProcessed: processed,
		FramesDropped:   dropped,
		Misses:          misses,
		MissCount:       s.machine.MissCount(),
		SinkFailures:    sinkFailures,
	}
	st.LastCorrection.X = lastCorr.X
	st.LastCorrection.Y = lastCorr.Y
	return st
}

// drainSlot discards any in-flight frame left in the handoff slot.
func (s *Supervisor) drainSlot() {
	select {
	case <-s.slot:
	default:
	}
}

// acquireLoop pulls frames from the source at its cadence and publishes
// each into the handoff slot. It observes a stop within one FrameTimeout.
func (s *Supervisor) acquireLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := s.cfg.Source.NextFrame(s.cfg.FrameTimeout)
		switch {
		case err == nil:
			s.publishFrame(frame)
		case err == ErrFrameTimeout:
			// Skipped cycle, no state change.
			s.stats.RecordTimeout()
		case err == ErrSourceDisconnected:
			Opsf("[Supervisor] Frame source disconnected, faulting")
			s.machine.RecordSourceFailure()
			s.recordEvent("source_failure", "frame source disconnected")
			return
		default:
			Opsf("[Supervisor] Frame source error: %v", err)
		}
	}
}

// publishFrame places a frame in the one-deep slot, overwriting any
// unconsumed predecessor (latest-frame-wins).
func (s *Supervisor) publishFrame(frame *Frame) {
	select {
	case s.slot <- frame:
		return
	default:
	}
	// Slot full: drop the stale frame and retry once. If the processing
	// loop raced us and emptied the slot, the second send succeeds; if it
	// grabbed the new frame slot again, dropping ours keeps latest-wins.
	select {
	case <-s.slot:
		s.stats.RecordDrop()
	default:
	}
	select {
	case s.slot <- frame:
	default:
		s.stats.RecordDrop()
	}
}

// processLoop consumes frames from the slot and runs detection,
// estimation and the controller updates for each.
func (s *Supervisor) processLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.slot:
			if !s.machine.Running() {
				continue
			}
			s.processFrame(ctx, frame)
		}
	}
}

func (s *Supervisor) processFrame(ctx context.Context, frame *Frame) {
	calib := s.cfg.Calibration.Current()
	det := s.detector.Detect(frame, calib)
	s.stats.RecordFrame(time.Now())

	alignErr := Estimate(det, calib)
	if alignErr == nil {
		// Transient detection miss: skip the update, coast, count it.
		s.stats.RecordMiss()
		if s.machine.RecordMiss() {
			Opsf("[Supervisor] Loss of lock after %d consecutive misses", s.machine.MissCount())
			s.recordEvent("loss_of_lock", fmt.Sprintf("%d consecutive detection misses", s.machine.MissCount()))
			s.xCtrl.Reset()
			s.yCtrl.Reset()
		}
		return
	}

	wasAcquiring := s.machine.State() == StateAcquiring
	s.machine.RecordValidDetection()
	if wasAcquiring && s.machine.State() == StateTracking {
		Diagf("[Supervisor] Lock acquired: error (%.2f, %.2f) µm", alignErr.X, alignErr.Y)
	}

	s.mu.Lock()
	var dt time.Duration
	if !s.lastUpdateTime.IsZero() {
		dt = frame.Timestamp.Sub(s.lastUpdateTime)
	}
	s.lastUpdateTime = frame.Timestamp
	s.mu.Unlock()

	corrX := s.xCtrl.Update(alignErr.X, dt)
	corrY := s.yCtrl.Update(alignErr.Y, dt)

	// A stop requested mid-frame must not leak a partial correction.
	if ctx.Err() != nil {
		return
	}

	s.emitCorrection(AxisX, corrX)
	s.emitCorrection(AxisY, corrY)

	sample := ErrorSample{
		Timestamp:   frame.Timestamp,
		XUm:         alignErr.X,
		YUm:         alignErr.Y,
		Centered:    alignErr.Centered,
		CorrectionX: corrX,
		CorrectionY: corrY,
	}
	s.stats.RecordError(sample)

	s.mu.Lock()
	s.lastError = alignErr
	s.lastCorrection = struct{ X, Y float64 }{corrX, corrY}
	runID := s.runID
	s.mu.Unlock()

	if !isNilInterface(s.cfg.Recorder) {
		if err := s.cfg.Recorder.RecordCorrection(runID, sample); err != nil {
			Diagf("[Supervisor] Failed to persist correction: %v", err)
		}
	}

	Tracef("[Supervisor] frame %d: error (%.2f, %.2f) µm, correction (%.2f, %.2f) µm, centered=%t",
		frame.Sequence, alignErr.X, alignErr.Y, corrX, corrY, alignErr.Centered)
}

// emitCorrection fires one correction at the sink. Failures are reported
// upward as events, never escalated to a state transition; a persistent
// sink problem is a policy decision for the supervising caller.
func (s *Supervisor) emitCorrection(axis Axis, deltaUm float64) {
	if err := s.cfg.Sink.ApplyCorrection(axis, deltaUm); err != nil {
		s.stats.RecordSinkFailure()
		Opsf("[Supervisor] Correction sink failure on %s: %v", axis, err)
		s.recordEvent("sink_failure", fmt.Sprintf("axis %s: %v", axis, err))
	}
}

func (s *Supervisor) recordEvent(kind, detail string) {
	if isNilInterface(s.cfg.Recorder) {
		return
	}
	s.mu.Lock()
	runID := s.runID
	s.mu.Unlock()
	if err := s.cfg.Recorder.RecordEvent(runID, kind, detail, time.Now()); err != nil {
		Diagf("[Supervisor] Failed to record %s event: %v", kind, err)
	}
}
