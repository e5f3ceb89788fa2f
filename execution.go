package treerender

import (
	"sync"

	"github.com/gogpu/treerender/internal/workerpool"
)

// ExecutionData tracks one scheduling pass over the tree: the set of
// requests still to render, the dependency-free subset ready for dispatch,
// and the merged outcome. A tree render has exactly one main execution and
// any number of sub-executions (color-picker style auxiliary results);
// they share render clones and requests but never dependency bookkeeping.
//
// Thread Safety: all methods are safe for concurrent use. The execution
// mutex may be held while taking individual request mutexes; the reverse
// order never happens.
type ExecutionData struct {
	render       *TreeRender
	isMain       bool
	plane        ImagePlane
	canonicalRoI RectD
	proxyScale   RenderScale
	mipMapLevel  uint32

	mu            sync.Mutex
	status        Status
	allTasks      map[*FrameViewRequest]struct{}
	ready         readyQueue
	live          map[*frameViewRunnable]struct{}
	outputRequest *FrameViewRequest
}

func newExecutionData(render *TreeRender, isMain bool, proxyScale RenderScale, mipMapLevel uint32) *ExecutionData {
	return &ExecutionData{
		render:      render,
		isMain:      isMain,
		proxyScale:  proxyScale,
		mipMapLevel: mipMapLevel,
		status:      StatusOK,
		allTasks:    make(map[*FrameViewRequest]struct{}),
		live:        make(map[*frameViewRunnable]struct{}),
	}
}

// TreeRender returns the render this execution belongs to.
func (e *ExecutionData) TreeRender() *TreeRender { return e.render }

// IsMainExecution reports whether this is the render's main execution, as
// opposed to a sub-execution planned mid-flight.
func (e *ExecutionData) IsMainExecution() bool { return e.isMain }

// Plane returns the plane this execution renders at its root.
func (e *ExecutionData) Plane() ImagePlane { return e.plane }

// CanonicalRoI returns the root region of interest of this execution.
func (e *ExecutionData) CanonicalRoI() RectD { return e.canonicalRoI }

// ProxyScale returns the proxy scale this execution renders at.
func (e *ExecutionData) ProxyScale() RenderScale { return e.proxyScale }

// MipMapLevel returns the mip-map level this execution renders at.
func (e *ExecutionData) MipMapLevel() uint32 { return e.mipMapLevel }

// Status returns the merged outcome of the execution. The first failure
// recorded sticks; later successes never overwrite it.
func (e *ExecutionData) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// OutputRequest returns the request this execution was planned for.
func (e *ExecutionData) OutputRequest() *FrameViewRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outputRequest
}

// TaskCount returns how many requests have not completed yet.
func (e *ExecutionData) TaskCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.allTasks)
}

// HasTasksToExecute reports whether the ready queue holds requests that
// can be dispatched right now.
func (e *ExecutionData) HasTasksToExecute() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready.len() > 0
}

// IsFinished reports whether the execution is drained: nothing running,
// and either every task completed or the execution failed and the tasks
// stranded behind missing dependencies will never run.
func (e *ExecutionData) IsFinished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.live) > 0 {
		return false
	}
	if IsFailure(e.status) {
		return true
	}
	return len(e.allTasks) == 0
}

// AddTaskToRender registers a request with this execution. Requests with
// no pending dependencies are promoted to the ready queue immediately;
// promotion of the same request happens at most once per execution. Safe
// to call concurrently; planning and completion both funnel through here.
func (e *ExecutionData) AddTaskToRender(req *FrameViewRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.allTasks[req] = struct{}{}
	if IsFailure(e.status) {
		// A failed execution promotes nothing further.
		return
	}
	if req.NumDependencies(e) == 0 && req.markInReady(e) {
		prio := req.NumListeners(e)
		e.ready.push(req, prio)
		Logger().Debug("request ready",
			"render", e.render.ID(),
			"node", req.Effect().Node().Name(),
			"priority", prio,
			"ready", e.ready.len())
	}
}

// RequestRenderOnInput is the planning primitive effects call from their
// RequestRender hook: it requests that input renders (plane, canonicalRoI)
// at (t, v) before requester runs, and wires the dependency edges the
// scheduler runs on.
//
// The input effect is cloned for this render on first use. When an
// equivalent request already exists, in this execution or a sibling, it
// is shared and its planning hook is not run again. A nil requester
// plans a root request.
//
// Returns the request and StatusOK, or the failure that aborted planning.
func (e *ExecutionData) RequestRenderOnInput(requester *FrameViewRequest, input Effect, t TimeValue, v ViewIdx, plane ImagePlane, canonicalRoI RectD) (*FrameViewRequest, Status) {
	clone, err := e.render.renderClone(input, t, v)
	if err != nil {
		Logger().Warn("render clone creation failed",
			"render", e.render.ID(),
			"node", nodeName(input),
			"err", err)
		return nil, StatusFailed
	}

	req := e.render.getOrCreateRequest(clone, t, v, plane, canonicalRoI, e.proxyScale, e.mipMapLevel)
	if requester != nil {
		requester.AddDependency(e, req)
		req.AddListener(e, requester)
	}

	if stat := e.planRequest(req); IsFailure(stat) {
		return nil, stat
	}
	e.AddTaskToRender(req)
	return req, StatusOK
}

// planRequest runs the request's planning hook once per (request,
// execution). Requests that already carry a result (satisfied from the
// image cache here, or rendered by a sibling execution) skip planning:
// they have no dependencies to declare.
func (e *ExecutionData) planRequest(req *FrameViewRequest) Status {
	if req.Status() != RequestStatusNotRendered {
		return StatusOK
	}
	if !req.markPlanned(e) {
		return StatusOK
	}
	if img, ok := e.render.cacheLookup(req); ok {
		req.setProduced(img, RequestStatusRendered)
		Logger().Debug("request satisfied from cache",
			"render", e.render.ID(),
			"node", req.Effect().Node().Name())
		return StatusOK
	}
	return req.Effect().RequestRender(e, req)
}

// ExecuteAvailableTasks releases up to n ready requests into the shared
// worker pool, or every ready request when n is -1, and returns how many
// asynchronous tasks were started.
//
// Requests that have nothing to compute, because they are already
// rendered or failed or their execution has failed, run inline on the calling
// goroutine instead of occupying a pool slot; they only propagate their
// result. Inline completions can promote further requests, which the same
// call keeps draining.
func (e *ExecutionData) ExecuteAvailableTasks(n int) int {
	launched := 0
	pool := workerpool.Global()

	for n == -1 || launched < n {
		e.mu.Lock()
		req := e.ready.pop()
		if req == nil {
			e.mu.Unlock()
			break
		}
		r := &frameViewRunnable{exec: e, request: req}
		e.live[r] = struct{}{}
		dispatch := parallelDispatch && !IsFailure(e.status) && req.Status() == RequestStatusNotRendered
		e.mu.Unlock()

		// Submission can block on a saturated pool and completions need
		// the execution lock, so neither path holds it.
		if dispatch {
			Logger().Debug("dispatching request",
				"render", e.render.ID(),
				"node", req.Effect().Node().Name())
			pool.Submit(r.run)
			launched++
			continue
		}
		// Nothing to compute: propagate the result on this goroutine.
		r.run()
	}
	return launched
}

// taskFinished is the completion hook every runnable calls exactly once.
// stat is the task's outcome; for requests that skipped work it is the
// stored outcome being propagated.
func (e *ExecutionData) taskFinished(r *frameViewRunnable, req *FrameViewRequest, stat Status) {
	// Retained input images are released first, success or not, so they
	// never outlive the one consumer that needed them.
	req.ClearRenderedDependencies(e)

	e.mu.Lock()
	if IsFailure(stat) && !IsFailure(e.status) {
		e.status = stat
		e.ready.clear()
		Logger().Debug("execution failed",
			"render", e.render.ID(),
			"node", req.Effect().Node().Name(),
			"status", stat)
	}
	delete(e.allTasks, req)
	delete(e.live, r)
	if !IsFailure(e.status) {
		for _, l := range req.Listeners(e) {
			if l.MarkDependencyAsRendered(e, req) != 0 {
				continue
			}
			if _, ok := e.allTasks[l]; !ok {
				continue
			}
			if !l.markInReady(e) {
				continue
			}
			prio := l.NumListeners(e)
			e.ready.push(l, prio)
			Logger().Debug("request promoted",
				"render", e.render.ID(),
				"node", l.Effect().Node().Name(),
				"priority", prio)
		}
	}
	execStat := e.status
	e.mu.Unlock()

	e.render.setResults(req, execStat)
	e.notifyManager(workerpool.InPoolGoroutine())
}

// notifyManager tells whoever is driving this render that a task slot
// freed up. The render's provider takes precedence when it doubles as a
// queue manager; otherwise the globally registered manager is notified.
func (e *ExecutionData) notifyManager(inPoolGoroutine bool) {
	var qm QueueManager
	if p := e.render.provider; p != nil {
		qm, _ = p.(QueueManager)
	}
	if qm == nil {
		qm = QueueManagerInstance()
	}
	if qm != nil {
		qm.NotifyTaskInRenderFinished(e, inPoolGoroutine)
	}
}

// nodeName is a logging helper tolerant of partially wired effects.
func nodeName(e Effect) string {
	if e == nil {
		return "<nil>"
	}
	return e.Node().String()
}
