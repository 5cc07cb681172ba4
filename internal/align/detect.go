package align

// Detector runs the per-frame vision pipeline: smoothing, nozzle
// silhouette detection, and beam spot detection. A Detector is stateless;
// all tunables come from the calibration snapshot passed to Detect, so a
// calibration update takes effect on the next frame with no coordination.
type Detector struct{}

// NewDetector returns a Detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Detect processes one frame and reports the nozzle and beam positions.
//
// Absence of a feature is a valid "not found" outcome, not an error: the
// corresponding Feature carries Valid=false and the caller decides how to
// react. A fully dark or fully saturated frame yields both invalid.
func (d *Detector) Detect(frame *Frame, calib CalibrationData) DetectionResult {
	result := DetectionResult{
		FrameSeq:  frame.Sequence,
		Timestamp: frame.Timestamp,
	}

	smoothed := Smooth(frame)

	result.Nozzle = d.detectNozzle(smoothed, calib)
	result.Beam = d.detectBeam(smoothed, calib)

	if !result.Nozzle.Valid || !result.Beam.Valid {
		Tracef("[Detect] frame %d: nozzle valid=%t beam valid=%t",
			frame.Sequence, result.Nozzle.Valid, result.Beam.Valid)
	}
	return result
}

// detectNozzle locates the nozzle tip. The nozzle is the darker region
// against the lit background, so binarisation is inverted. The position
// is the centre of the minimal enclosing circle fitted to the boundary of
// the largest qualifying region.
func (d *Detector) detectNozzle(f *Frame, calib CalibrationData) Feature {
	mask := Binarize(f, calib.NozzleThreshold, ThresholdBelow)
	regions := LabelRegions(mask, f.Width, f.Height)
	region := SelectLargestRegion(regions, calib.MinNozzleArea)
	if region == nil {
		return Feature{}
	}

	// A region swallowing most of the frame is a dead or unlit sensor,
	// not a nozzle; under the inverted rule an all-dark capture would
	// otherwise binarise to one full-frame blob.
	if region.Area*10 >= len(f.Pix)*9 {
		return Feature{}
	}

	boundary := BoundaryPixels(region, mask, f.Width, f.Height)
	if len(boundary) == 0 {
		return Feature{}
	}
	circle := MinEnclosingCircle(boundary)

	return Feature{
		X:     circle.X,
		Y:     circle.Y,
		Area:  region.Area,
		Valid: true,
	}
}

// detectBeam locates the reference beam spot. The beam is the brightest
// region, and its intensity-weighted centroid (first-order moment) gives
// a sub-pixel position.
func (d *Detector) detectBeam(f *Frame, calib CalibrationData) Feature {
	mask := Binarize(f, calib.BeamThreshold, ThresholdAbove)
	regions := LabelRegions(mask, f.Width, f.Height)
	region := SelectLargestRegion(regions, calib.MinBeamArea)
	if region == nil {
		return Feature{}
	}

	// Same guard as the nozzle path: a region swallowing most of the
	// frame is a saturated or washed-out capture, and its centroid would
	// land near the frame centre rather than on any beam spot.
	if region.Area*10 >= len(f.Pix)*9 {
		return Feature{}
	}

	var sumW, sumX, sumY float64
	for _, idx := range region.Pixels {
		w := float64(f.Pix[idx])
		sumW += w
		sumX += w * float64(idx%f.Width)
		sumY += w * float64(idx/f.Width)
	}
	if sumW == 0 {
		// Foreground pixels with zero intensity cannot happen under
		// ThresholdAbove unless the threshold is 0 and the region is
		// black; report not-found rather than divide.
		return Feature{}
	}

	return Feature{
		X:     sumX / sumW,
		Y:     sumY / sumW,
		Area:  region.Area,
		Valid: true,
	}
}
