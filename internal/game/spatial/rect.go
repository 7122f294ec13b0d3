package spatial

import "math"

// Rect is an axis-aligned rectangle in block units.
// X, Y is the top-left corner; W, H are non-negative extents.
type Rect struct {
	X, Y float64
	W, H float64
}

// RectAround returns the rectangle [cx-hw, cx+hw] x [cy-hh, cy+hh].
func RectAround(cx, cy, hw, hh float64) Rect {
	return Rect{X: cx - hw, Y: cy - hh, W: 2 * hw, H: 2 * hh}
}

// MaxX returns the right edge.
func (r Rect) MaxX() float64 { return r.X + r.W }

// MaxY returns the bottom edge.
func (r Rect) MaxY() float64 { return r.Y + r.H }

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Intersects reports whether two rectangles overlap. Edges are inclusive so
// zero-size rectangles (points) still intersect the area they sit in.
func (r Rect) Intersects(o Rect) bool {
	return r.X <= o.MaxX() && o.X <= r.MaxX() &&
		r.Y <= o.MaxY() && o.Y <= r.MaxY()
}

// Contains reports whether the point lies inside the rectangle (inclusive).
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.MaxX() && y >= r.Y && y <= r.MaxY()
}

// ContainsBlock reports whether block cell (x, y), covering [x, x+1) x
// [y, y+1), overlaps the rectangle's interior. Cells on the far edge are
// outside, matching the floor/ceil span a region covers.
func (r Rect) ContainsBlock(x, y int) bool {
	fx, fy := float64(x), float64(y)
	return fx+1 > r.X && fx < r.MaxX() && fy+1 > r.Y && fy < r.MaxY()
}

// Clamp restricts the rectangle to [0, width] x [0, height].
func (r Rect) Clamp(width, height float64) Rect {
	minX := math.Max(0, r.X)
	minY := math.Max(0, r.Y)
	maxX := math.Min(width, r.MaxX())
	maxY := math.Min(height, r.MaxY())
	if maxX < minX {
		maxX = minX
	}
	if maxY < minY {
		maxY = minY
	}
	return Rect{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

// Intersection returns the overlapping area of two rectangles (possibly empty).
func (r Rect) Intersection(o Rect) Rect {
	minX := math.Max(r.X, o.X)
	minY := math.Max(r.Y, o.Y)
	maxX := math.Min(r.MaxX(), o.MaxX())
	maxY := math.Min(r.MaxY(), o.MaxY())
	if maxX <= minX || maxY <= minY {
		return Rect{X: minX, Y: minY}
	}
	return Rect{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

// Subtract returns up to four rectangles covering r minus o.
// The pieces do not overlap: full-height left/right strips, then the
// top/bottom strips between them.
func (r Rect) Subtract(o Rect) []Rect {
	in := r.Intersection(o)
	if in.Empty() {
		if r.Empty() {
			return nil
		}
		return []Rect{r}
	}

	out := make([]Rect, 0, 4)
	if in.X > r.X {
		out = append(out, Rect{X: r.X, Y: r.Y, W: in.X - r.X, H: r.H})
	}
	if in.MaxX() < r.MaxX() {
		out = append(out, Rect{X: in.MaxX(), Y: r.Y, W: r.MaxX() - in.MaxX(), H: r.H})
	}
	if in.Y > r.Y {
		out = append(out, Rect{X: in.X, Y: r.Y, W: in.W, H: in.Y - r.Y})
	}
	if in.MaxY() < r.MaxY() {
		out = append(out, Rect{X: in.X, Y: in.MaxY(), W: in.W, H: r.MaxY() - in.MaxY()})
	}
	return out
}
