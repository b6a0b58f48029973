// Package remap holds the small input transforms that sit in front of the
// transition engine: a velocity curve and controller-to-parameter mappings.
package remap

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrBadCurve is returned when a curve definition cannot be parsed
var ErrBadCurve = errors.New("invalid velocity curve")

// Point is one breakpoint of a curve, both axes normalised to 0..1
type Point struct {
	X, Y float64
}

// Curve maps velocities through a piecewise linear table
type Curve struct {
	points []Point
}

// Linear returns the identity curve
func Linear() Curve {
	return Curve{points: []Point{{0, 0}, {1, 1}}}
}

// NewCurve builds a curve from breakpoints. Points are sorted by X and the
// ends are extended to cover 0..1.
func NewCurve(points []Point) (Curve, error) {
	if len(points) == 0 {
		return Curve{}, fmt.Errorf("%w: no points", ErrBadCurve)
	}
	pts := make([]Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool { return pts[i].X < pts[j].X })
	for _, p := range pts {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			return Curve{}, fmt.Errorf("%w: point %v out of range", ErrBadCurve, p)
		}
	}
	if pts[0].X > 0 {
		pts = append([]Point{{0, pts[0].Y}}, pts...)
	}
	if pts[len(pts)-1].X < 1 {
		pts = append(pts, Point{1, pts[len(pts)-1].Y})
	}
	return Curve{points: pts}, nil
}

// ParseCurve reads "x:y,x:y,..." breakpoints, e.g. "0:0,0.5:0.7,1:1"
func ParseCurve(s string) (Curve, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "linear" {
		return Linear(), nil
	}
	var pts []Point
	for _, pair := range strings.Split(s, ",") {
		xy := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(xy) != 2 {
			return Curve{}, fmt.Errorf("%w: %q", ErrBadCurve, pair)
		}
		x, err := strconv.ParseFloat(xy[0], 64)
		if err != nil {
			return Curve{}, fmt.Errorf("%w: %v", ErrBadCurve, err)
		}
		y, err := strconv.ParseFloat(xy[1], 64)
		if err != nil {
			return Curve{}, fmt.Errorf("%w: %v", ErrBadCurve, err)
		}
		pts = append(pts, Point{x, y})
	}
	return NewCurve(pts)
}

// Value evaluates the curve at x in 0..1
func (c Curve) Value(x float64) float64 {
	pts := c.points
	if len(pts) == 0 {
		return x
	}
	if x <= pts[0].X {
		return pts[0].Y
	}
	for i := 1; i < len(pts); i++ {
		a, b := pts[i-1], pts[i]
		if x <= b.X {
			if b.X == a.X {
				return b.Y
			}
			return a.Y + (x-a.X)*(b.Y-a.Y)/(b.X-a.X)
		}
	}
	return pts[len(pts)-1].Y
}

// Apply maps a MIDI velocity. ok is false when the result is 0 and the note
// should be dropped.
func (c Curve) Apply(velocity int) (int, bool) {
	v := int(math.Round(127 * c.Value(float64(velocity)/127)))
	if v <= 0 {
		return 0, false
	}
	if v > 127 {
		v = 127
	}
	return v, true
}
