package align

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Default calibration values used until a calibration pass or an import
// replaces them. Thresholds are 8-bit intensities; areas are pixel counts.
const (
	DefaultUnitsPerPixel   = 1.0 // µm per pixel, placeholder until calibrated
	DefaultNozzleThreshold = 80  // nozzle is dark against the lit background
	DefaultBeamThreshold   = 200 // beam spot is the brightest region
	DefaultMinNozzleArea   = 50
	DefaultMinBeamArea     = 9
	DefaultToleranceUm     = 2.0
)

// CalibrationData is an immutable calibration snapshot.
//
// A snapshot is published wholesale: readers either see the previous
// complete snapshot or the new one, never a mix of fields.
type CalibrationData struct {
	UnitsPerPixel   float64   `json:"units_per_pixel"`
	NozzleThreshold uint8     `json:"nozzle_threshold"`
	BeamThreshold   uint8     `json:"beam_threshold"`
	MinNozzleArea   int       `json:"min_nozzle_area"`
	MinBeamArea     int       `json:"min_beam_area"`
	ToleranceUm     float64   `json:"tolerance_um"`
	CalibratedAt    time.Time `json:"calibrated_at"`
}

// DefaultCalibration returns the startup snapshot used before any
// recorded calibration pass is loaded.
func DefaultCalibration() CalibrationData {
	return CalibrationData{
		UnitsPerPixel:   DefaultUnitsPerPixel,
		NozzleThreshold: DefaultNozzleThreshold,
		BeamThreshold:   DefaultBeamThreshold,
		MinNozzleArea:   DefaultMinNozzleArea,
		MinBeamArea:     DefaultMinBeamArea,
		ToleranceUm:     DefaultToleranceUm,
	}
}

// Validate checks that the snapshot is physically usable.
func (c CalibrationData) Validate() error {
	if c.UnitsPerPixel <= 0 {
		return fmt.Errorf("units_per_pixel must be positive, got %g", c.UnitsPerPixel)
	}
	if c.MinNozzleArea < 1 {
		return fmt.Errorf("min_nozzle_area must be at least 1, got %d", c.MinNozzleArea)
	}
	if c.MinBeamArea < 1 {
		return fmt.Errorf("min_beam_area must be at least 1, got %d", c.MinBeamArea)
	}
	if c.ToleranceUm <= 0 {
		return fmt.Errorf("tolerance_um must be positive, got %g", c.ToleranceUm)
	}
	return nil
}

// CalibrationStore publishes calibration snapshots to concurrent readers.
//
// Publication is a single atomic pointer swap, so the vision pipeline and
// error estimator can read the current snapshot on every frame without
// locking and without ever observing a torn value.
type CalibrationStore struct {
	current atomic.Pointer[CalibrationData]
}

// NewCalibrationStore creates a store seeded with the given snapshot.
func NewCalibrationStore(initial CalibrationData) *CalibrationStore {
	s := &CalibrationStore{}
	s.current.Store(&initial)
	return s
}

// Current returns the latest published snapshot.
func (s *CalibrationStore) Current() CalibrationData {
	return *s.current.Load()
}

// Publish atomically replaces the active snapshot.
func (s *CalibrationStore) Publish(c CalibrationData) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("rejecting calibration: %w", err)
	}
	snap := c
	s.current.Store(&snap)
	Diagf("[Calibration] Published snapshot: %.4f µm/px, thresholds nozzle=%d beam=%d",
		c.UnitsPerPixel, c.NozzleThreshold, c.BeamThreshold)
	return nil
}

// Export returns a copy of the current snapshot for persistence or the
// operator surface. File/storage format is the caller's concern.
func (s *CalibrationStore) Export() CalibrationData {
	return s.Current()
}

// Import validates and publishes an externally supplied snapshot.
func (s *CalibrationStore) Import(c CalibrationData) error {
	return s.Publish(c)
}
