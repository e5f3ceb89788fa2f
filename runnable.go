package treerender

import "time"

// frameViewRunnable renders one request within one execution. The
// execution keeps it in liveRunnables until completion; the worker pool
// never owns runnable lifetime.
type frameViewRunnable struct {
	exec    *ExecutionData
	request *FrameViewRequest
}

// run executes the task. If the execution is still healthy and the
// request has not been rendered elsewhere, the effect's Render is
// invoked; otherwise the stored outcome is propagated. The completion
// hook is called exactly once in every path.
func (fr *frameViewRunnable) run() {
	exec, req := fr.exec, fr.request

	stat := exec.Status()
	switch {
	case IsFailure(stat):
		// The execution failed while this task sat in flight. Skip the
		// work and report the execution's own failure. The request is
		// left untouched: it may be shared with a sibling execution that
		// is still healthy and can render it.
	case req.Status() != RequestStatusNotRendered:
		// Cache-satisfied, or rendered by a sibling execution: nothing
		// to compute, propagate the stored outcome.
		stat = statusFromRequest(req.Status())
	default:
		fr.render()
		stat = statusFromRequest(req.Status())
	}

	exec.taskFinished(fr, req, stat)
}

// render invokes the effect once per request across all executions and
// stores the produced image and terminal state on the request.
func (fr *frameViewRunnable) render() {
	exec, req := fr.exec, fr.request
	req.renderOnce.Do(func() {
		render := exec.TreeRender()
		if render.IsRenderAborted() {
			req.SetStatus(RequestStatusAborted)
			return
		}

		begin := time.Now()
		img, stat := req.Effect().Render(exec, req)
		if stats := render.Stats(); stats != nil {
			stats.AddNodeRenderTime(req.Effect().Node(), time.Since(begin))
		}

		if IsFailure(stat) {
			req.setProduced(nil, requestStatusFromStatus(stat))
			return
		}
		req.setProduced(img, RequestStatusRendered)
		render.cacheStore(req, img)
	})
}
