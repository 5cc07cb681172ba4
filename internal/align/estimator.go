package align

import "math"

// Estimate converts a detection result plus calibration into a physical
// alignment error, or nil when either feature is invalid.
//
// Returning nil (coast) rather than a stale or fabricated error is what
// keeps the controllers from integrating garbage during a transient
// detection miss: no error, no controller update, no correction.
//
// Axes are converted independently; the optical axes are assumed aligned
// to the sensor axes, so no rotation correction is applied.
func Estimate(det DetectionResult, calib CalibrationData) *AlignmentError {
	if !det.BothValid() {
		return nil
	}

	e := &AlignmentError{
		X: (det.Nozzle.X - det.Beam.X) * calib.UnitsPerPixel,
		Y: (det.Nozzle.Y - det.Beam.Y) * calib.UnitsPerPixel,
	}
	e.Centered = math.Abs(e.X) < calib.ToleranceUm && math.Abs(e.Y) < calib.ToleranceUm
	return e
}
