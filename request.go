package treerender

import (
	"sync"
)

// FrameViewRequest is one unit of schedulable work: render one (effect,
// time, view, plane, region) to an image. Requests are registered on the
// tree render, so the same request can take part in several executions
// (the main execution and any sub-executions), each with its own dependency
// bookkeeping, while status and the produced image are shared.
//
// Thread Safety: all methods are safe for concurrent use. The request
// mutex is a leaf lock: it is acquired while holding an execution lock,
// never the other way around.
type FrameViewRequest struct {
	effect       Effect
	time         TimeValue
	view         ViewIdx
	plane        ImagePlane
	canonicalRoI RectD
	proxyScale   RenderScale
	mipMapLevel  uint32

	// renderOnce serializes the effect's Render across executions: a
	// request shared with a sub-execution is rendered once, and a second
	// runnable reaching it blocks until the result is stored.
	renderOnce sync.Once

	mu            sync.Mutex
	status        RequestStatus
	producedImage *ImageResult
	perExec       map[*ExecutionData]*requestExecState
}

// requestExecState is the per-execution face of a request: which upstream
// requests it is still waiting on, who is waiting on it, and the upstream
// images retained for it until it runs.
type requestExecState struct {
	planned   bool
	inReady   bool
	remaining int
	deps      map[*FrameViewRequest]int
	listeners map[*FrameViewRequest]struct{}
	retained  map[*FrameViewRequest]*ImageResult
}

func newFrameViewRequest(effect Effect, t TimeValue, v ViewIdx, plane ImagePlane, roi RectD, scale RenderScale, level uint32) *FrameViewRequest {
	return &FrameViewRequest{
		effect:       effect,
		time:         t,
		view:         v,
		plane:        plane,
		canonicalRoI: roi,
		proxyScale:   scale,
		mipMapLevel:  level,
		status:       RequestStatusNotRendered,
		perExec:      make(map[*ExecutionData]*requestExecState),
	}
}

// Effect returns the render clone this request renders.
func (r *FrameViewRequest) Effect() Effect { return r.effect }

// Time returns the frame the request renders.
func (r *FrameViewRequest) Time() TimeValue { return r.time }

// View returns the view the request renders.
func (r *FrameViewRequest) View() ViewIdx { return r.view }

// Plane returns the image plane the request produces.
func (r *FrameViewRequest) Plane() ImagePlane { return r.plane }

// CanonicalRoI returns the region of interest in canonical coordinates.
func (r *FrameViewRequest) CanonicalRoI() RectD { return r.canonicalRoI }

// ProxyScale returns the proxy scale the request renders at.
func (r *FrameViewRequest) ProxyScale() RenderScale { return r.proxyScale }

// MipMapLevel returns the mip-map level the request renders at.
func (r *FrameViewRequest) MipMapLevel() uint32 { return r.mipMapLevel }

// RenderScale returns the combined scale: proxy scale with the mip-map
// level folded in.
func (r *FrameViewRequest) RenderScale() RenderScale {
	return CombinedScale(r.proxyScale, r.mipMapLevel)
}

// Status returns the request's lifecycle state.
func (r *FrameViewRequest) Status() RequestStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SetStatus sets the request's lifecycle state.
func (r *FrameViewRequest) SetStatus(s RequestStatus) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

// ProducedImage returns the image rendered for this request, or nil while
// the request has not completed successfully.
func (r *FrameViewRequest) ProducedImage() *ImageResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.producedImage
}

// setProduced records the rendered image together with the terminal state
// in one step, so listeners promoted afterwards observe both.
func (r *FrameViewRequest) setProduced(img *ImageResult, s RequestStatus) {
	r.mu.Lock()
	r.producedImage = img
	r.status = s
	r.mu.Unlock()
}

// execState returns the per-execution record, creating it when asked to.
// Caller holds r.mu.
func (r *FrameViewRequest) execState(exec *ExecutionData, create bool) *requestExecState {
	st, ok := r.perExec[exec]
	if !ok && create {
		st = &requestExecState{
			deps:      make(map[*FrameViewRequest]int),
			listeners: make(map[*FrameViewRequest]struct{}),
			retained:  make(map[*FrameViewRequest]*ImageResult),
		}
		r.perExec[exec] = st
	}
	return st
}

// AddDependency records that this request consumes other's result within
// exec. The same upstream may be added more than once; the extra edges
// collapse when the upstream finishes.
func (r *FrameViewRequest) AddDependency(exec *ExecutionData, other *FrameViewRequest) {
	r.mu.Lock()
	st := r.execState(exec, true)
	st.deps[other]++
	st.remaining++
	r.mu.Unlock()
}

// MarkDependencyAsRendered removes other from this request's dependencies
// within exec, retains other's produced image for the effect to read back
// during Render, and returns the number of dependencies still pending.
// All edges to the same upstream collapse at once: a finished upstream is
// finished for every region it was asked for.
//
// Returns the remaining count unchanged when other was not a recorded
// dependency.
func (r *FrameViewRequest) MarkDependencyAsRendered(exec *ExecutionData, other *FrameViewRequest) int {
	img := other.ProducedImage()

	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.execState(exec, false)
	if st == nil {
		return 0
	}
	n, ok := st.deps[other]
	if !ok {
		return st.remaining
	}
	delete(st.deps, other)
	st.remaining -= n
	if img != nil {
		st.retained[other] = img
	}
	return st.remaining
}

// NumDependencies returns how many upstream requests exec is still
// waiting on for this request.
func (r *FrameViewRequest) NumDependencies(exec *ExecutionData) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.execState(exec, false)
	if st == nil {
		return 0
	}
	return st.remaining
}

// AddListener records the reverse edge: listener consumes this request's
// result within exec.
func (r *FrameViewRequest) AddListener(exec *ExecutionData, listener *FrameViewRequest) {
	r.mu.Lock()
	st := r.execState(exec, true)
	st.listeners[listener] = struct{}{}
	r.mu.Unlock()
}

// Listeners returns a snapshot of the requests that depend on this one
// within exec. The snapshot is stable: later edge changes do not affect it.
func (r *FrameViewRequest) Listeners(exec *ExecutionData) []*FrameViewRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.execState(exec, false)
	if st == nil {
		return nil
	}
	out := make([]*FrameViewRequest, 0, len(st.listeners))
	for l := range st.listeners {
		out = append(out, l)
	}
	return out
}

// NumListeners returns how many requests depend on this one within exec.
// Used as the scheduling priority: requests with more listeners free more
// downstream work when they finish.
func (r *FrameViewRequest) NumListeners(exec *ExecutionData) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.execState(exec, false)
	if st == nil {
		return 0
	}
	return len(st.listeners)
}

// RenderedDependencyImage returns the retained result of an upstream
// request, for the effect to read while rendering. Only valid between the
// upstream finishing and this request completing.
func (r *FrameViewRequest) RenderedDependencyImage(exec *ExecutionData, dep *FrameViewRequest) *ImageResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.execState(exec, false)
	if st == nil {
		return nil
	}
	return st.retained[dep]
}

// ClearRenderedDependencies drops the upstream images retained for this
// request within exec. Called when the request completes, success or not,
// so input images do not outlive the one consumer that needed them.
func (r *FrameViewRequest) ClearRenderedDependencies(exec *ExecutionData) {
	r.mu.Lock()
	st := r.execState(exec, false)
	if st != nil {
		st.retained = make(map[*FrameViewRequest]*ImageResult)
	}
	r.mu.Unlock()
}

// markPlanned flips the planned flag for exec and reports whether this
// call was the one that flipped it. Guards the planning recursion:
// RequestRender runs once per (request, execution).
func (r *FrameViewRequest) markPlanned(exec *ExecutionData) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.execState(exec, true)
	if st.planned {
		return false
	}
	st.planned = true
	return true
}

// markInReady flips the ready flag for exec and reports whether this call
// was the one that flipped it. Guards against inserting the same request
// into an execution's ready queue twice.
func (r *FrameViewRequest) markInReady(exec *ExecutionData) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.execState(exec, true)
	if st.inReady {
		return false
	}
	st.inReady = true
	return true
}
