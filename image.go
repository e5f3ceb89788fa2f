package treerender

import (
	"image"

	"golang.org/x/image/draw"
)

// ImageResult is the payload a finished FrameViewRequest hands to its
// listeners. The engine never inspects pixels; it only moves results
// between requests and retains them until every listener has consumed
// them. Pix may be nil for effects that manage storage elsewhere (GPU
// textures, cache-backed tiles).
type ImageResult struct {
	// Plane identifies which layer of data this result holds.
	Plane ImagePlane

	// Bounds is the pixel-aligned region the result covers, at the
	// result's render scale.
	Bounds RectI

	// Scale is the combined render scale (proxy scale and mip-map level
	// folded together) the result was produced at.
	Scale RenderScale

	// MipMapLevel records the mip-map level of the render that produced
	// this result.
	MipMapLevel uint32

	// Pix holds the pixel data when the producing effect renders on the
	// CPU. Optional.
	Pix *image.RGBA
}

// NewImageResult allocates a CPU-backed result covering bounds.
func NewImageResult(plane ImagePlane, bounds RectI, scale RenderScale, level uint32) *ImageResult {
	return &ImageResult{
		Plane:       plane,
		Bounds:      bounds,
		Scale:       scale,
		MipMapLevel: level,
		Pix:         image.NewRGBA(image.Rect(bounds.X1, bounds.Y1, bounds.X2, bounds.Y2)),
	}
}

// Downscaled returns a copy of the result reduced by the given number of
// mip-map levels, halving width and height per level. Results without CPU
// pixels only have their metadata adjusted. A level of zero returns the
// receiver unchanged.
func (r *ImageResult) Downscaled(levels uint32) *ImageResult {
	if r == nil || levels == 0 {
		return r
	}
	shift := int(levels)
	bounds := RectI{
		X1: r.Bounds.X1 >> shift,
		Y1: r.Bounds.Y1 >> shift,
		X2: (r.Bounds.X2 + (1 << shift) - 1) >> shift,
		Y2: (r.Bounds.Y2 + (1 << shift) - 1) >> shift,
	}
	out := &ImageResult{
		Plane:       r.Plane,
		Bounds:      bounds,
		Scale:       r.Scale.MulLevel(levels),
		MipMapLevel: r.MipMapLevel + levels,
	}
	if r.Pix != nil {
		dst := image.NewRGBA(image.Rect(bounds.X1, bounds.Y1, bounds.X2, bounds.Y2))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), r.Pix, r.Pix.Bounds(), draw.Src, nil)
		out.Pix = dst
	}
	return out
}
