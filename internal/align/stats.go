package align

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// ErrorSample is one alignment error measurement retained for the
// monitor surface and offline plotting.
type ErrorSample struct {
	Timestamp   time.Time
	XUm         float64
	YUm         float64
	Centered    bool
	CorrectionX float64
	CorrectionY float64
}

// frameRateWindow is how many recent frame timestamps feed the frame
// rate estimate.
const frameRateWindow = 30

// maxErrorHistory bounds the in-memory error sample ring. At 30 fps this
// covers a bit over a minute, enough for the trend chart; long-term
// history lives in the corrections table.
const maxErrorHistory = 2048

// LoopStats accumulates supervisor counters and recent error history.
// All methods are safe for concurrent use; the processing loop writes,
// the monitor reads.
type LoopStats struct {
	mu sync.RWMutex

	framesProcessed uint64
	framesDropped   uint64
	framesTimedOut  uint64
	misses          uint64
	corrections     uint64
	sinkFailures    uint64

	frameTimes []time.Time
	history    []ErrorSample
}

// NewLoopStats returns an empty stats accumulator.
func NewLoopStats() *LoopStats {
	return &LoopStats{}
}

// RecordFrame notes one processed frame for frame-rate accounting.
func (s *LoopStats) RecordFrame(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framesProcessed++
	s.frameTimes = append(s.frameTimes, t)
	if len(s.frameTimes) > frameRateWindow {
		s.frameTimes = s.frameTimes[len(s.frameTimes)-frameRateWindow:]
	}
}

// RecordDrop notes a frame overwritten in the handoff slot before the
// processing loop consumed it.
func (s *LoopStats) RecordDrop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framesDropped++
}

// RecordTimeout notes a skipped acquisition cycle.
func (s *LoopStats) RecordTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framesTimedOut++
}

// RecordMiss notes a frame with no valid detection.
func (s *LoopStats) RecordMiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.misses++
}

// RecordSinkFailure notes a correction the stage link rejected.
func (s *LoopStats) RecordSinkFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinkFailures++
}

// RecordError appends an error sample (with the corrections that were
// emitted for it) to the history ring.
func (s *LoopStats) RecordError(sample ErrorSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrections++
	s.history = append(s.history, sample)
	if len(s.history) > maxErrorHistory {
		s.history = s.history[len(s.history)-maxErrorHistory:]
	}
}

// FrameRate estimates the processed frame rate (Hz) over the recent
// window, or 0 when fewer than two frames have been seen.
func (s *LoopStats) FrameRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.frameTimes)
	if n < 2 {
		return 0
	}
	span := s.frameTimes[n-1].Sub(s.frameTimes[0]).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(n-1) / span
}

// Counters returns the raw counter values.
func (s *LoopStats) Counters() (processed, dropped, timedOut, misses, corrections, sinkFailures uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.framesProcessed, s.framesDropped, s.framesTimedOut, s.misses, s.corrections, s.sinkFailures
}

// History returns a copy of the retained error samples, oldest first.
func (s *LoopStats) History() []ErrorSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ErrorSample, len(s.history))
	copy(out, s.history)
	return out
}

// ErrorSummary holds aggregate statistics over the retained history.
type ErrorSummary struct {
	Samples  int     `json:"samples"`
	MeanXUm  float64 `json:"mean_x_um"`
	MeanYUm  float64 `json:"mean_y_um"`
	StdXUm   float64 `json:"std_x_um"`
	StdYUm   float64 `json:"std_y_um"`
	Centered int     `json:"centered"`
}

// Summarize computes aggregate error statistics over the history ring.
func (s *LoopStats) Summarize() ErrorSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.history)
	if n == 0 {
		return ErrorSummary{}
	}

	xs := make([]float64, n)
	ys := make([]float64, n)
	centered := 0
	for i, h := range s.history {
		xs[i] = h.XUm
		ys[i] = h.YUm
		if h.Centered {
			centered++
		}
	}

	return ErrorSummary{
		Samples:  n,
		MeanXUm:  stat.Mean(xs, nil),
		MeanYUm:  stat.Mean(ys, nil),
		StdXUm:   stat.StdDev(xs, nil),
		StdYUm:   stat.StdDev(ys, nil),
		Centered: centered,
	}
}
