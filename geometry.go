package treerender

import (
	"fmt"
	"math"
)

// TimeValue identifies a frame on the timeline. Fractional times are legal:
// retimers and slow-motion effects request renders between integer frames.
type TimeValue float64

// ViewIdx identifies a view in a multi-view (e.g. stereo) project.
// View 0 is the main view.
type ViewIdx int

// RenderScale is a per-axis scale factor applied on top of canonical
// coordinates. A scale of (1, 1) is full resolution.
type RenderScale struct {
	X, Y float64
}

// ScaleOne is the identity render scale.
var ScaleOne = RenderScale{X: 1, Y: 1}

// MulLevel returns the scale divided by 2^level on both axes, i.e. the
// effective scale of a mip-map level rendered under this proxy scale.
func (s RenderScale) MulLevel(level uint32) RenderScale {
	f := 1.0 / float64(uint64(1)<<level)
	return RenderScale{X: s.X * f, Y: s.Y * f}
}

// IsOne reports whether the scale is the identity.
func (s RenderScale) IsOne() bool { return s.X == 1 && s.Y == 1 }

// String returns the scale formatted as "x,y".
func (s RenderScale) String() string { return fmt.Sprintf("%g,%g", s.X, s.Y) }

// CombinedScale is the overall scale of a render: the proxy scale with the
// mip-map level folded in.
func CombinedScale(proxyScale RenderScale, mipMapLevel uint32) RenderScale {
	return proxyScale.MulLevel(mipMapLevel)
}

// RectD is an axis-aligned rectangle in canonical (continuous) coordinates.
// X2/Y2 are exclusive. A rectangle with X2 <= X1 or Y2 <= Y1 is null.
type RectD struct {
	X1, Y1, X2, Y2 float64
}

// IsNull reports whether the rectangle has no area.
func (r RectD) IsNull() bool { return r.X2 <= r.X1 || r.Y2 <= r.Y1 }

// Width returns the rectangle width, zero when null.
func (r RectD) Width() float64 {
	if r.X2 <= r.X1 {
		return 0
	}
	return r.X2 - r.X1
}

// Height returns the rectangle height, zero when null.
func (r RectD) Height() float64 {
	if r.Y2 <= r.Y1 {
		return 0
	}
	return r.Y2 - r.Y1
}

// Union returns the smallest rectangle containing both r and o.
// A null rectangle is the identity element.
func (r RectD) Union(o RectD) RectD {
	if r.IsNull() {
		return o
	}
	if o.IsNull() {
		return r
	}
	return RectD{
		X1: math.Min(r.X1, o.X1),
		Y1: math.Min(r.Y1, o.Y1),
		X2: math.Max(r.X2, o.X2),
		Y2: math.Max(r.Y2, o.Y2),
	}
}

// Intersect returns the overlap of r and o, null when they do not meet.
func (r RectD) Intersect(o RectD) RectD {
	out := RectD{
		X1: math.Max(r.X1, o.X1),
		Y1: math.Max(r.Y1, o.Y1),
		X2: math.Min(r.X2, o.X2),
		Y2: math.Min(r.Y2, o.Y2),
	}
	if out.IsNull() {
		return RectD{}
	}
	return out
}

// Intersects reports whether r and o overlap.
func (r RectD) Intersects(o RectD) bool { return !r.Intersect(o).IsNull() }

// Contains reports whether o lies entirely within r.
func (r RectD) Contains(o RectD) bool {
	if o.IsNull() {
		return true
	}
	return o.X1 >= r.X1 && o.Y1 >= r.Y1 && o.X2 <= r.X2 && o.Y2 <= r.Y2
}

// Scaled returns the rectangle with both corners multiplied by the scale.
func (r RectD) Scaled(s RenderScale) RectD {
	return RectD{X1: r.X1 * s.X, Y1: r.Y1 * s.Y, X2: r.X2 * s.X, Y2: r.Y2 * s.Y}
}

// RoundToRectI returns the smallest pixel-aligned rectangle enclosing r.
func (r RectD) RoundToRectI() RectI {
	if r.IsNull() {
		return RectI{}
	}
	return RectI{
		X1: int(math.Floor(r.X1)),
		Y1: int(math.Floor(r.Y1)),
		X2: int(math.Ceil(r.X2)),
		Y2: int(math.Ceil(r.Y2)),
	}
}

// String returns the rectangle formatted as "[x1,y1 .. x2,y2]".
func (r RectD) String() string {
	return fmt.Sprintf("[%g,%g .. %g,%g]", r.X1, r.Y1, r.X2, r.Y2)
}

// RectI is an axis-aligned rectangle in pixel coordinates. X2/Y2 are
// exclusive, matching RectD.
type RectI struct {
	X1, Y1, X2, Y2 int
}

// IsNull reports whether the rectangle has no area.
func (r RectI) IsNull() bool { return r.X2 <= r.X1 || r.Y2 <= r.Y1 }

// Width returns the rectangle width in pixels, zero when null.
func (r RectI) Width() int {
	if r.X2 <= r.X1 {
		return 0
	}
	return r.X2 - r.X1
}

// Height returns the rectangle height in pixels, zero when null.
func (r RectI) Height() int {
	if r.Y2 <= r.Y1 {
		return 0
	}
	return r.Y2 - r.Y1
}

// Union returns the smallest rectangle containing both r and o.
func (r RectI) Union(o RectI) RectI {
	if r.IsNull() {
		return o
	}
	if o.IsNull() {
		return r
	}
	return RectI{
		X1: min(r.X1, o.X1),
		Y1: min(r.Y1, o.Y1),
		X2: max(r.X2, o.X2),
		Y2: max(r.Y2, o.Y2),
	}
}

// ToRectD converts the rectangle to canonical coordinates.
func (r RectI) ToRectD() RectD {
	return RectD{X1: float64(r.X1), Y1: float64(r.Y1), X2: float64(r.X2), Y2: float64(r.Y2)}
}

// String returns the rectangle formatted as "[x1,y1 .. x2,y2]".
func (r RectI) String() string {
	return fmt.Sprintf("[%d,%d .. %d,%d]", r.X1, r.Y1, r.X2, r.Y2)
}
