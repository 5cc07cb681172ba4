package align

// ThresholdRule selects how a pixel is classified as foreground.
type ThresholdRule int

const (
	// ThresholdAbove marks pixels strictly brighter than the threshold
	// as foreground (beam spot against a darker scene).
	ThresholdAbove ThresholdRule = iota
	// ThresholdBelow marks pixels strictly darker than the threshold as
	// foreground (nozzle silhouette against the lit background).
	ThresholdBelow
)

// Region is one 8-connected foreground component of a binarised frame.
type Region struct {
	// Pixels holds the flat indices (y*width+x) of the member pixels.
	Pixels []int
	Area   int
	// Bounding box, inclusive.
	MinX, MinY, MaxX, MaxY int
}

// Binarize classifies every pixel of f against threshold under the given
// rule. The returned mask is row-major, true for foreground.
func Binarize(f *Frame, threshold uint8, rule ThresholdRule) []bool {
	mask := make([]bool, len(f.Pix))
	switch rule {
	case ThresholdAbove:
		for i, v := range f.Pix {
			mask[i] = v > threshold
		}
	case ThresholdBelow:
		for i, v := range f.Pix {
			mask[i] = v < threshold
		}
	}
	return mask
}

// LabelRegions finds all 8-connected foreground components of mask using
// an explicit-stack flood fill. The spatial-grid DBSCAN used for sparse
// polar returns is overkill here: a dense pixel grid gives constant-time
// neighbourhood lookup for free, so a plain fill is both simpler and
// faster.
func LabelRegions(mask []bool, width, height int) []Region {
	visited := make([]bool, len(mask))
	var regions []Region
	var stack []int

	for start, fg := range mask {
		if !fg || visited[start] {
			continue
		}

		r := Region{
			MinX: width, MinY: height, MaxX: -1, MaxY: -1,
		}
		stack = stack[:0]
		stack = append(stack, start)
		visited[start] = true

		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			x := idx % width
			y := idx / width
			r.Pixels = append(r.Pixels, idx)
			if x < r.MinX {
				r.MinX = x
			}
			if x > r.MaxX {
				r.MaxX = x
			}
			if y < r.MinY {
				r.MinY = y
			}
			if y > r.MaxY {
				r.MaxY = y
			}

			for dy := -1; dy <= 1; dy++ {
				yy := y + dy
				if yy < 0 || yy >= height {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					xx := x + dx
					if xx < 0 || xx >= width {
						continue
					}
					nIdx := yy*width + xx
					if mask[nIdx] && !visited[nIdx] {
						visited[nIdx] = true
						stack = append(stack, nIdx)
					}
				}
			}
		}

		r.Area = len(r.Pixels)
		regions = append(regions, r)
	}
	return regions
}

// SelectLargestRegion returns the region with the largest area at or above
// minArea, or nil when none qualifies.
//
// Largest-area-wins is a deliberate heuristic: when debris or a specular
// reflection produces multiple candidate regions, the dominant blob is
// preferred even though it can occasionally be the wrong one. No further
// disambiguation is attempted here.
func SelectLargestRegion(regions []Region, minArea int) *Region {
	var best *Region
	for i := range regions {
		r := &regions[i]
		if r.Area < minArea {
			continue
		}
		if best == nil || r.Area > best.Area {
			best = r
		}
	}
	return best
}

// BoundaryPixels returns the subset of a region's pixels that touch a
// non-member 8-neighbour (or the frame edge). The minimal enclosing
// circle only needs the boundary, which keeps the Welzl input small.
func BoundaryPixels(r *Region, mask []bool, width, height int) []Pixel {
	boundary := make([]Pixel, 0, 4*(r.MaxX-r.MinX+r.MaxY-r.MinY+2))
	for _, idx := range r.Pixels {
		x := idx % width
		y := idx / width
		edge := false
		for dy := -1; dy <= 1 && !edge; dy++ {
			yy := y + dy
			for dx := -1; dx <= 1; dx++ {
				xx := x + dx
				if xx < 0 || xx >= width || yy < 0 || yy >= height {
					edge = true
					break
				}
				if !mask[yy*width+xx] {
					edge = true
					break
				}
			}
		}
		if edge {
			boundary = append(boundary, Pixel{X: x, Y: y})
		}
	}
	return boundary
}

// Pixel is an integer pixel coordinate.
type Pixel struct {
	X, Y int
}
