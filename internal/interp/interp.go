// Package interp provides the numeric kernel for fan curve evaluation: a
// monotone cubic (PCHIP) interpolator, a linear fallback and range clipping.
//
// The PCHIP derivative rule guarantees that the resulting spline never
// overshoots or oscillates between control points, which keeps interpolated
// fan targets monotonic along a monotonic curve.
package interp

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Point is a single (x, y) control point.
type Point struct {
	X float64
	Y float64
}

// ErrTooFewPoints is returned when a spline is requested for fewer than two
// control points. Callers are expected to fall back to Linear.
var ErrTooFewPoints = errors.New("interp: at least two points required")

// PCHIP is a piecewise cubic Hermite interpolator with monotonicity
// preserving derivative estimates. Instances are immutable after
// construction and safe for concurrent use.
type PCHIP struct {
	xs          []float64
	ys          []float64
	h           []float64
	delta       []float64
	d           []float64
	extrapolate bool
}

// NewPCHIP builds an interpolator over the given control points. The x
// values must be strictly increasing. When extrapolate is false, evaluation
// outside the data domain returns the nearest boundary value; otherwise it
// extrapolates linearly using the boundary derivative.
func NewPCHIP(points []Point, extrapolate bool) (*PCHIP, error) {
	n := len(points)
	if n < 2 {
		return nil, ErrTooFewPoints
	}
	p := &PCHIP{
		xs:          make([]float64, n),
		ys:          make([]float64, n),
		h:           make([]float64, n-1),
		delta:       make([]float64, n-1),
		extrapolate: extrapolate,
	}
	for i, pt := range points {
		p.xs[i] = pt.X
		p.ys[i] = pt.Y
	}
	for i := 0; i < n-1; i++ {
		h := p.xs[i+1] - p.xs[i]
		if h <= 0 {
			return nil, fmt.Errorf("interp: x values must be strictly increasing (index %d)", i+1)
		}
		p.h[i] = h
		p.delta[i] = (p.ys[i+1] - p.ys[i]) / h
	}
	p.d = derivatives(p.h, p.delta)
	return p, nil
}

// derivatives estimates the slope at every control point. Boundary points
// take the adjacent secant slope. Interior points take a weighted harmonic
// mean of the two adjacent secants when both share a sign and are forced to
// zero otherwise, which suppresses overshoot at extrema and plateaus.
func derivatives(h, delta []float64) []float64 {
	n := len(h) + 1
	d := make([]float64, n)
	d[0] = delta[0]
	d[n-1] = delta[n-2]
	for i := 1; i < n-1; i++ {
		d0, d1 := delta[i-1], delta[i]
		if d0*d1 <= 0 {
			d[i] = 0
			continue
		}
		w1 := 2*h[i] + h[i-1]
		w2 := h[i] + 2*h[i-1]
		d[i] = (w1 + w2) / (w1/d0 + w2/d1)
	}
	return d
}

// Eval evaluates the spline at x.
func (p *PCHIP) Eval(x float64) float64 {
	n := len(p.xs)
	if x <= p.xs[0] {
		if p.extrapolate && x < p.xs[0] {
			return p.ys[0] + (x-p.xs[0])*p.d[0]
		}
		return p.ys[0]
	}
	if x >= p.xs[n-1] {
		if p.extrapolate && x > p.xs[n-1] {
			return p.ys[n-1] + (x-p.xs[n-1])*p.d[n-1]
		}
		return p.ys[n-1]
	}

	// Index of the segment whose start is the rightmost x not above the query.
	i := sort.SearchFloat64s(p.xs, x)
	if p.xs[i] > x {
		i--
	}
	if i >= n-1 {
		i = n - 2
	}

	t := (x - p.xs[i]) / p.h[i]
	t2 := t * t
	t3 := t2 * t

	h00 := 2*t3 - 3*t2 + 1
	h10 := t3 - 2*t2 + t
	h01 := -2*t3 + 3*t2
	h11 := t3 - t2

	return h00*p.ys[i] +
		h01*p.ys[i+1] +
		h10*p.h[i]*p.d[i] +
		h11*p.h[i]*p.d[i+1]
}

// Linear performs piecewise linear interpolation over the given points,
// clamping to the boundary values outside the data domain. It tolerates
// degenerate inputs and is the always-available fallback when a spline
// cannot be constructed.
func Linear(x float64, points []Point) float64 {
	if len(points) == 0 {
		return 0
	}
	if x <= points[0].X {
		return points[0].Y
	}
	last := points[len(points)-1]
	if x >= last.X {
		return last.Y
	}
	i := 0
	for i < len(points)-1 && x > points[i+1].X {
		i++
	}
	p0, p1 := points[i], points[i+1]
	if p1.X == p0.X {
		return p0.Y
	}
	return p0.Y + (x-p0.X)*(p1.Y-p0.Y)/(p1.X-p0.X)
}

// Clamp limits v to the inclusive range [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
