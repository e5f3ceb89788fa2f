// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package rendertest provides fake effect graphs for exercising the
// tree render engine. Effects render trivial CPU images, count calls,
// and can be told to fail, block, or wait for an abort; nothing here
// touches a GPU.
package rendertest

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/treerender"
)

// ErrCloneRefused is returned by NewRenderClone when RefuseClone is set.
var ErrCloneRefused = errors.New("rendertest: clone refused")

// DefaultRoD is the region of definition effects report unless RoD is
// overridden.
var DefaultRoD = treerender.RectD{X1: 0, Y1: 0, X2: 100, Y2: 100}

// Effect is a fake graph node. Build graphs with NewEffect, then tweak
// the exported knobs before creating a render. The zero knobs give an
// effect that plans its inputs and renders instantly with success.
//
// Clones share the original's knobs and counters; tests configure and
// observe the original only.
type Effect struct {
	node   *treerender.Node
	inputs []*Effect

	original *Effect
	cloneKey treerender.RenderCloneKey

	// RoD is the region of definition reported to the engine.
	RoD treerender.RectD

	// Planes lists the produced planes, preferred first. Defaults to
	// PlaneColorRGBA.
	Planes []treerender.ImagePlane

	// RefuseClone makes NewRenderClone fail with ErrCloneRefused.
	RefuseClone bool

	// PlanStatus, when a failure, is returned from RequestRender.
	PlanStatus treerender.Status

	// RenderStatus, when a failure, is returned from Render instead of
	// producing an image.
	RenderStatus treerender.Status

	// RenderDelay is slept before each render completes.
	RenderDelay time.Duration

	// WaitForAbort makes Render poll the render's abort flag until it is
	// raised, then return StatusAborted.
	WaitForAbort bool

	// Block, when non-nil, is received from before the render proceeds,
	// letting tests hold an effect mid-flight. Close it to release.
	Block chan struct{}

	// Started is closed when a blocking render (WaitForAbort or Block)
	// begins, so tests can sequence against it.
	Started   chan struct{}
	startOnce sync.Once

	renderCount  atomic.Int64
	planCount    atomic.Int64
	cloneCount   atomic.Int64
	removedCount atomic.Int64
}

// NewEffect creates an effect named name whose render depends on the
// given inputs, and attaches it to a fresh node.
func NewEffect(name string, inputs ...*Effect) *Effect {
	e := &Effect{
		inputs:  inputs,
		RoD:     DefaultRoD,
		Planes:  []treerender.ImagePlane{treerender.PlaneColorRGBA},
		Started: make(chan struct{}),
	}
	e.node = treerender.NewNode(name)
	e.node.SetEffect(e)
	return e
}

// root returns the original carrying the knobs and counters.
func (e *Effect) root() *Effect {
	if e.original != nil {
		return e.original
	}
	return e
}

// Node implements treerender.Effect.
func (e *Effect) Node() *treerender.Node { return e.root().node }

// IsRenderClone implements treerender.Effect.
func (e *Effect) IsRenderClone() bool { return e.original != nil }

// NewRenderClone implements treerender.Effect.
func (e *Effect) NewRenderClone(key treerender.RenderCloneKey) (treerender.Effect, error) {
	if e.RefuseClone {
		return nil, ErrCloneRefused
	}
	e.cloneCount.Add(1)
	return &Effect{original: e, cloneKey: key}, nil
}

// RemoveRenderClone implements treerender.Effect.
func (e *Effect) RemoveRenderClone(_ *treerender.TreeRender) {
	e.root().removedCount.Add(1)
}

// RegionOfDefinition implements treerender.Effect.
func (e *Effect) RegionOfDefinition(_ treerender.TimeValue, _ treerender.ViewIdx, _ treerender.RenderScale) (treerender.RectD, treerender.Status) {
	return e.root().RoD, treerender.StatusOK
}

// ProducedPlanes implements treerender.Effect.
func (e *Effect) ProducedPlanes(_ treerender.TimeValue, _ treerender.ViewIdx) ([]treerender.ImagePlane, treerender.Status) {
	return e.root().Planes, treerender.StatusOK
}

// RequestRender implements treerender.Effect: it requests each input
// over this request's own region and plane.
func (e *Effect) RequestRender(exec *treerender.ExecutionData, req *treerender.FrameViewRequest) treerender.Status {
	orig := e.root()
	orig.planCount.Add(1)
	if treerender.IsFailure(orig.PlanStatus) {
		return orig.PlanStatus
	}
	for _, input := range orig.inputs {
		_, stat := exec.RequestRenderOnInput(req, input, req.Time(), req.View(), req.Plane(), req.CanonicalRoI())
		if treerender.IsFailure(stat) {
			return stat
		}
	}
	return treerender.StatusOK
}

// Render implements treerender.Effect.
func (e *Effect) Render(exec *treerender.ExecutionData, req *treerender.FrameViewRequest) (*treerender.ImageResult, treerender.Status) {
	orig := e.root()
	render := exec.TreeRender()

	if orig.WaitForAbort {
		orig.startOnce.Do(func() { close(orig.Started) })
		for !render.IsRenderAborted() {
			time.Sleep(time.Millisecond)
		}
		return nil, treerender.StatusAborted
	}
	if orig.Block != nil {
		orig.startOnce.Do(func() { close(orig.Started) })
		<-orig.Block
	}

	if orig.RenderDelay > 0 {
		time.Sleep(orig.RenderDelay)
	}
	if render.IsRenderAborted() {
		return nil, treerender.StatusAborted
	}
	if treerender.IsFailure(orig.RenderStatus) {
		return nil, orig.RenderStatus
	}

	orig.renderCount.Add(1)
	bounds := req.CanonicalRoI().Scaled(req.RenderScale()).RoundToRectI()
	return treerender.NewImageResult(req.Plane(), bounds, req.RenderScale(), req.MipMapLevel()), treerender.StatusOK
}

// RenderCount returns how many times the effect produced an image.
func (e *Effect) RenderCount() int64 { return e.root().renderCount.Load() }

// PlanCount returns how many times RequestRender ran.
func (e *Effect) PlanCount() int64 { return e.root().planCount.Load() }

// CloneCount returns how many render clones were created.
func (e *Effect) CloneCount() int64 { return e.root().cloneCount.Load() }

// RemovedCount returns how many RemoveRenderClone calls arrived.
func (e *Effect) RemovedCount() int64 { return e.root().removedCount.Load() }

// GroupEffect is a fake group node: it maps group-input placeholder
// nodes to the upstream nodes connected to the group's inputs.
type GroupEffect struct {
	*Effect
	realInputs map[*treerender.Node]*treerender.Node
}

// NewGroup creates a group effect on its own node.
func NewGroup(name string) *GroupEffect {
	g := &GroupEffect{
		Effect:     NewEffect(name),
		realInputs: make(map[*treerender.Node]*treerender.Node),
	}
	// The node must hand back the wrapper, or the engine's Group
	// assertion would only ever see the embedded effect.
	g.node.SetEffect(g)
	return g
}

// Connect wires a group-input placeholder to the node feeding that
// group input, and encloses the placeholder in this group.
func (g *GroupEffect) Connect(placeholder *GroupInputEffect, upstream *Effect) {
	placeholder.Node().SetGroup(g.Node())
	var up *treerender.Node
	if upstream != nil {
		up = upstream.Node()
	}
	g.realInputs[placeholder.Node()] = up
}

// RealInputFor implements treerender.Group.
func (g *GroupEffect) RealInputFor(input *treerender.Node) *treerender.Node {
	return g.realInputs[input]
}

// GroupInputEffect is a fake group-input placeholder.
type GroupInputEffect struct {
	*Effect
	index int
}

// NewGroupInput creates a group-input placeholder for the given input
// index of its enclosing group.
func NewGroupInput(name string, index int) *GroupInputEffect {
	gi := &GroupInputEffect{Effect: NewEffect(name), index: index}
	gi.node.SetEffect(gi)
	return gi
}

// GroupInputIndex implements treerender.GroupInput.
func (g *GroupInputEffect) GroupInputIndex() int { return g.index }

// Drain drives exec to completion without a queue manager, releasing
// every ready task each pass. It fails the test when the execution does
// not finish within timeout.
func Drain(t testingT, exec *treerender.ExecutionData, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		exec.ExecuteAvailableTasks(-1)
		if exec.IsFinished() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("execution did not finish within %v: %d tasks left, status %v",
				timeout, exec.TaskCount(), exec.Status())
		}
		time.Sleep(time.Millisecond)
	}
}

// testingT is the subset of *testing.T Drain needs, kept as an
// interface so the package does not import testing.
type testingT interface {
	Helper()
	Fatalf(format string, args ...any)
}

// Describe returns a short human-readable summary of a request, for
// test failure messages.
func Describe(req *treerender.FrameViewRequest) string {
	if req == nil {
		return "<nil request>"
	}
	return fmt.Sprintf("%s@%g/%d %s", req.Effect().Node().Name(), float64(req.Time()), int(req.View()), req.Status())
}
