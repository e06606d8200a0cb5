package physics

import "math"

type Vec2 struct{ X, Y float64 }

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

func (v Vec2) Scale(f float64) Vec2 { return Vec2{v.X * f, v.Y * f} }

func (v Vec2) Len() float64 { return math.Hypot(v.X, v.Y) }

func (v Vec2) IsZero() bool { return v.X == 0 && v.Y == 0 }

// Normalize returns the unit vector in v's direction. The zero vector and
// non-finite input normalize to zero.
func (v Vec2) Normalize() Vec2 {
	l := v.Len()
	if l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return Vec2{}
	}
	return Vec2{v.X / l, v.Y / l}
}

// Distance computes Euclidean distance between two points.
func Distance(a, b Vec2) float64 { return a.Sub(b).Len() }

// Bounds is an axis-aligned rectangle, inclusive on both ends.
type Bounds struct {
	Min, Max Vec2
}

// Square returns bounds of the given size centred on the origin.
func Square(size float64) Bounds {
	h := size / 2
	return Bounds{Min: Vec2{-h, -h}, Max: Vec2{h, h}}
}

func (b Bounds) Contains(v Vec2) bool {
	return v.X >= b.Min.X && v.X <= b.Max.X && v.Y >= b.Min.Y && v.Y <= b.Max.Y
}

func (b Bounds) Clamp(v Vec2) Vec2 {
	return Vec2{
		X: math.Min(math.Max(v.X, b.Min.X), b.Max.X),
		Y: math.Min(math.Max(v.Y, b.Min.Y), b.Max.Y),
	}
}
