package align

import "time"

// Axis identifies one spatial axis of the motion stage.
type Axis string

const (
	AxisX Axis = "x"
	AxisY Axis = "y"
)

// Feature is one detected feature centre in pixel coordinates.
//
// X and Y are sub-pixel. Area is the pixel count of the detected region
// and doubles as the detection confidence: larger regions are trusted
// more, which is also the tie-break rule when multiple candidate regions
// qualify (largest area wins; this heuristic can mis-lock onto large
// debris or specular reflections).
type Feature struct {
	X     float64
	Y     float64
	Area  int
	Valid bool
}

// DetectionResult is the outcome of running the vision pipeline over one
// frame. Either feature may be invalid; the pipeline never substitutes a
// position from a prior frame.
type DetectionResult struct {
	Nozzle    Feature
	Beam      Feature
	FrameSeq  uint64
	Timestamp time.Time
}

// BothValid reports whether nozzle and beam were both found.
func (d DetectionResult) BothValid() bool {
	return d.Nozzle.Valid && d.Beam.Valid
}

// AlignmentError is the nozzle-minus-beam offset in physical units (µm),
// derived from one DetectionResult plus the active calibration.
type AlignmentError struct {
	X        float64 // µm
	Y        float64 // µm
	Centered bool
}

// Correction is one bounded correction command for a single axis.
type Correction struct {
	Axis      Axis
	DeltaUm   float64
	Timestamp time.Time
}

// CorrectionSink accepts correction commands for the motion stage.
//
// ApplyCorrection must not block longer than one frame interval; the
// supervisor treats a returned error as a reportable event, not a fault.
type CorrectionSink interface {
	ApplyCorrection(axis Axis, deltaUm float64) error
}
