package align

import (
	"math"
	"math/rand"
)

// Circle is a circle in pixel coordinates.
type Circle struct {
	X, Y, R float64
}

// Contains reports whether p lies inside or on the circle, with a small
// epsilon so boundary points survive floating-point noise.
func (c Circle) Contains(x, y float64) bool {
	dx := x - c.X
	dy := y - c.Y
	return dx*dx+dy*dy <= c.R*c.R+1e-7
}

// MinEnclosingCircle computes the minimal circle enclosing all points
// using Welzl's algorithm. The expected runtime is linear after the
// initial shuffle. An empty input yields a zero circle.
//
// The nozzle tip is localised as the centre of this circle fitted to the
// silhouette boundary: the rim of a round nozzle is the dominant feature
// and its enclosing-circle centre is stable against partial occlusion by
// material buildup, unlike a plain centroid.
func MinEnclosingCircle(points []Pixel) Circle {
	if len(points) == 0 {
		return Circle{}
	}

	pts := make([][2]float64, len(points))
	for i, p := range points {
		pts[i] = [2]float64{float64(p.X), float64(p.Y)}
	}
	rand.Shuffle(len(pts), func(i, j int) {
		pts[i], pts[j] = pts[j], pts[i]
	})

	c := Circle{X: pts[0][0], Y: pts[0][1], R: 0}
	for i := 1; i < len(pts); i++ {
		if c.Contains(pts[i][0], pts[i][1]) {
			continue
		}
		c = circleWithOnePoint(pts[:i], pts[i])
	}
	return c
}

// circleWithOnePoint finds the minimal circle enclosing pts with p on its
// boundary.
func circleWithOnePoint(pts [][2]float64, p [2]float64) Circle {
	c := Circle{X: p[0], Y: p[1], R: 0}
	for i := 0; i < len(pts); i++ {
		if c.Contains(pts[i][0], pts[i][1]) {
			continue
		}
		c = circleWithTwoPoints(pts[:i], p, pts[i])
	}
	return c
}

// circleWithTwoPoints finds the minimal circle enclosing pts with p and q
// on its boundary.
func circleWithTwoPoints(pts [][2]float64, p, q [2]float64) Circle {
	c := circleFromTwo(p, q)
	for i := 0; i < len(pts); i++ {
		if c.Contains(pts[i][0], pts[i][1]) {
			continue
		}
		c = circleFromThree(p, q, pts[i])
	}
	return c
}

func circleFromTwo(a, b [2]float64) Circle {
	cx := (a[0] + b[0]) / 2
	cy := (a[1] + b[1]) / 2
	r := math.Hypot(a[0]-b[0], a[1]-b[1]) / 2
	return Circle{X: cx, Y: cy, R: r}
}

// circleFromThree returns the circumcircle of three points. Collinear
// inputs degrade to the enclosing circle of the two extreme points.
func circleFromThree(a, b, c [2]float64) Circle {
	ax, ay := a[0], a[1]
	bx, by := b[0]-ax, b[1]-ay
	cx, cy := c[0]-ax, c[1]-ay

	d := 2 * (bx*cy - by*cx)
	if math.Abs(d) < 1e-12 {
		// Collinear: take the widest pair.
		c1 := circleFromTwo(a, b)
		c2 := circleFromTwo(a, c)
		c3 := circleFromTwo(b, c)
		best := c1
		if c2.R > best.R {
			best = c2
		}
		if c3.R > best.R {
			best = c3
		}
		return best
	}

	ux := (cy*(bx*bx+by*by) - by*(cx*cx+cy*cy)) / d
	uy := (bx*(cx*cx+cy*cy) - cx*(bx*bx+by*by)) / d
	return Circle{
		X: ax + ux,
		Y: ay + uy,
		R: math.Hypot(ux, uy),
	}
}
