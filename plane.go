package treerender

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// ImagePlane describes one layer of image data an effect can produce:
// the color plane, or an auxiliary plane such as depth or motion vectors.
//
// Planes are compared by ID, not by pointer, so independently constructed
// descriptions of the same plane are interchangeable.
type ImagePlane struct {
	// Label is the plane name as shown to users, e.g. "Color".
	Label string

	// Format is the texture format a backend would allocate for this plane.
	Format gputypes.TextureFormat

	// NumComponents is the per-pixel channel count, 1 to 4.
	NumComponents int
}

// Standard planes of the compositing pipeline. Effects may define others.
var (
	PlaneColorRGBA = ImagePlane{Label: "Color", Format: gputypes.TextureFormatRGBA8Unorm, NumComponents: 4}
	PlaneAlpha     = ImagePlane{Label: "Alpha", Format: gputypes.TextureFormatR8Unorm, NumComponents: 1}
	PlaneDepth     = ImagePlane{Label: "Depth", Format: gputypes.TextureFormatR32Float, NumComponents: 1}
	PlaneMotionXY  = ImagePlane{Label: "Motion", Format: gputypes.TextureFormatRG32Float, NumComponents: 2}
)

// ID returns the stable identity string of the plane, used as a map key by
// the request registry and the image cache.
func (p ImagePlane) ID() string {
	return fmt.Sprintf("%s/%d/%d", p.Label, p.Format, p.NumComponents)
}

// IsZero reports whether the plane is the zero value (no plane).
func (p ImagePlane) IsZero() bool {
	return p.Label == "" && p.Format == gputypes.TextureFormatUndefined && p.NumComponents == 0
}

// String returns the plane label.
func (p ImagePlane) String() string { return p.Label }
