package main

import (
	"image/color"
	"time"

	"github.com/gogpu/treerender"
)

// demoEffect is a CPU-only effect for the demo: it plans its inputs
// over its own region and fills or forwards pixels.
type demoEffect struct {
	node     *treerender.Node
	original *demoEffect
	inputs   []*demoEffect
	rod      treerender.RectD
	fill     color.NRGBA
	delay    time.Duration
}

func newFillEffect(name string, rod treerender.RectD, fill color.NRGBA) *demoEffect {
	e := &demoEffect{rod: rod, fill: fill}
	e.node = treerender.NewNode(name)
	e.node.SetEffect(e)
	return e
}

func newDelayEffect(name string, delay time.Duration, inputs ...*demoEffect) *demoEffect {
	e := &demoEffect{delay: delay, inputs: inputs}
	for _, in := range inputs {
		e.rod = e.rod.Union(in.rod)
	}
	e.node = treerender.NewNode(name)
	e.node.SetEffect(e)
	return e
}

func (e *demoEffect) orig() *demoEffect {
	if e.original != nil {
		return e.original
	}
	return e
}

func (e *demoEffect) Node() *treerender.Node { return e.orig().node }
func (e *demoEffect) IsRenderClone() bool    { return e.original != nil }

func (e *demoEffect) NewRenderClone(treerender.RenderCloneKey) (treerender.Effect, error) {
	return &demoEffect{original: e.orig()}, nil
}

func (e *demoEffect) RemoveRenderClone(*treerender.TreeRender) {}

func (e *demoEffect) RegionOfDefinition(treerender.TimeValue, treerender.ViewIdx, treerender.RenderScale) (treerender.RectD, treerender.Status) {
	return e.orig().rod, treerender.StatusOK
}

func (e *demoEffect) ProducedPlanes(treerender.TimeValue, treerender.ViewIdx) ([]treerender.ImagePlane, treerender.Status) {
	return []treerender.ImagePlane{treerender.PlaneColorRGBA}, treerender.StatusOK
}

func (e *demoEffect) RequestRender(exec *treerender.ExecutionData, req *treerender.FrameViewRequest) treerender.Status {
	for _, input := range e.orig().inputs {
		_, stat := exec.RequestRenderOnInput(req, input, req.Time(), req.View(), req.Plane(), req.CanonicalRoI())
		if treerender.IsFailure(stat) {
			return stat
		}
	}
	return treerender.StatusOK
}

func (e *demoEffect) Render(exec *treerender.ExecutionData, req *treerender.FrameViewRequest) (*treerender.ImageResult, treerender.Status) {
	orig := e.orig()
	if orig.delay > 0 {
		time.Sleep(orig.delay)
	}
	if exec.TreeRender().IsRenderAborted() {
		return nil, treerender.StatusAborted
	}

	bounds := req.CanonicalRoI().Scaled(req.RenderScale()).RoundToRectI()
	out := treerender.NewImageResult(req.Plane(), bounds, req.RenderScale(), req.MipMapLevel())
	for y := bounds.Y1; y < bounds.Y2; y++ {
		for x := bounds.X1; x < bounds.X2; x++ {
			out.Pix.Set(x, y, orig.fill)
		}
	}
	return out, treerender.StatusOK
}
