package sim

import "math"

// Vec is a point or displacement in arena coordinates.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec) Add(o Vec) Vec {
	return Vec{X: v.X + o.X, Y: v.Y + o.Y}
}

func (v Vec) Sub(o Vec) Vec {
	return Vec{X: v.X - o.X, Y: v.Y - o.Y}
}

func (v Vec) Scale(f float64) Vec {
	return Vec{X: v.X * f, Y: v.Y * f}
}

func (v Vec) Len() float64 {
	return math.Hypot(v.X, v.Y)
}

func (v Vec) IsZero() bool {
	return v.X == 0 && v.Y == 0
}

// Arena is the bounded rectangle [0,Width]x[0,Height].
type Arena struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ContainsX reports whether a circle centred at x fits horizontally.
func (a Arena) ContainsX(x, radius float64) bool {
	return x-radius >= 0 && x+radius <= a.Width
}

// ContainsY reports whether a circle centred at y fits vertically.
func (a Arena) ContainsY(y, radius float64) bool {
	return y-radius >= 0 && y+radius <= a.Height
}

// Contains reports whether the full extent of a circle lies inside the arena.
func (a Arena) Contains(pos Vec, radius float64) bool {
	return a.ContainsX(pos.X, radius) && a.ContainsY(pos.Y, radius)
}

// Clamp moves pos the least distance needed for a circle of radius to fit.
// The arena must be at least 2*radius in each dimension.
func (a Arena) Clamp(pos Vec, radius float64) Vec {
	pos.X = min(max(pos.X, radius), a.Width-radius)
	pos.Y = min(max(pos.Y, radius), a.Height-radius)
	return pos
}

// Entity is a circle with a speed. Color is opaque to the simulation.
type Entity struct {
	ID     string  `json:"id"`
	Pos    Vec     `json:"pos"`
	Radius float64 `json:"radius"`
	Color  string  `json:"color,omitempty"`
	Speed  float64 `json:"speed"`
}

// Overlaps reports whether two circles intersect. Touching circles do not
// overlap.
func Overlaps(a, b Entity) bool {
	return a.Pos.Sub(b.Pos).Len() < a.Radius+b.Radius
}
