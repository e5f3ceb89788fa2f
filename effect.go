package treerender

// RenderCloneKey identifies one render clone of an effect: the clone that
// renders a given frame and view inside a given tree render. The engine
// creates at most one clone per key.
type RenderCloneKey struct {
	Time   TimeValue
	View   ViewIdx
	Render *TreeRender
}

// Effect is the contract between the engine and a node's processing code.
//
// Originals live in the node graph and hold user-visible state. When a
// render starts, the engine asks each original for a render clone: a
// frozen copy whose parameter values cannot change for the duration of
// the render. All render-time calls (RequestRender, Render) are made on
// clones; clone bookkeeping calls (NewRenderClone, RemoveRenderClone) are
// made on originals.
//
// Implementations decide how much state a clone actually copies; an
// effect with no animatable state may return itself, as long as
// IsRenderClone answers correctly for the returned value.
type Effect interface {
	// Node returns the graph identity of the effect. A clone returns the
	// same *Node as its original.
	Node() *Node

	// IsRenderClone reports whether this instance is a render clone.
	IsRenderClone() bool

	// NewRenderClone creates the frozen per-render copy of the effect for
	// the given key. Called on the original, at most once per key.
	NewRenderClone(key RenderCloneKey) (Effect, error)

	// RemoveRenderClone drops the bookkeeping the original keeps for the
	// clones it created for the given render. Called on the original,
	// exactly once, when the render's clones are cleaned up.
	RemoveRenderClone(render *TreeRender)

	// RegionOfDefinition returns the canonical rectangle the effect can
	// produce at the given time, view and scale.
	RegionOfDefinition(t TimeValue, v ViewIdx, scale RenderScale) (RectD, Status)

	// ProducedPlanes lists the planes the effect produces at the given
	// time and view, preferred plane first.
	ProducedPlanes(t TimeValue, v ViewIdx) ([]ImagePlane, Status)

	// RequestRender is the planning hook, called on a clone once per
	// (request, execution). The effect declares what it needs from its
	// inputs through ExecutionData.RequestRenderOnInput, which builds the
	// dependency edges the scheduler runs on. Returning a failure status
	// fails the whole execution.
	RequestRender(exec *ExecutionData, req *FrameViewRequest) Status

	// Render produces the image for the request. Called on a clone, off
	// the planning goroutine, only after every dependency declared in
	// RequestRender has completed. Input results are read back through
	// req.RenderedDependencyImage. Long renders should poll
	// exec.TreeRender().IsRenderAborted() and bail out with StatusAborted.
	Render(exec *ExecutionData, req *FrameViewRequest) (*ImageResult, Status)
}

// GroupInput marks effects that merely forward one input of their
// enclosing group. When the root of a render is a group input, the engine
// redirects the render to the node actually connected to that group
// input. Detected by type assertion.
type GroupInput interface {
	// GroupInputIndex returns which input of the enclosing group this
	// placeholder stands for.
	GroupInputIndex() int
}

// Group is implemented by the effect of a group node. RealInputFor
// resolves a group-input placeholder node to the upstream node connected
// to the matching group input, or nil when that input is disconnected.
type Group interface {
	RealInputFor(input *Node) *Node
}
