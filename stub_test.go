package treerender

import (
	"sync/atomic"
	"testing"
	"time"
)

// stubEffect is a minimal Effect for unit tests that build requests and
// executions by hand. For full planning scenarios see the external
// tests, which use internal/rendertest.
type stubEffect struct {
	node         *Node
	original     *stubEffect
	inputs       []*stubEffect
	renderStatus Status
	rendered     atomic.Int64
}

func newStubEffect(name string, inputs ...*stubEffect) *stubEffect {
	e := &stubEffect{inputs: inputs}
	e.node = NewNode(name)
	e.node.SetEffect(e)
	return e
}

func (e *stubEffect) orig() *stubEffect {
	if e.original != nil {
		return e.original
	}
	return e
}

func (e *stubEffect) Node() *Node { return e.orig().node }

func (e *stubEffect) IsRenderClone() bool { return e.original != nil }

func (e *stubEffect) NewRenderClone(RenderCloneKey) (Effect, error) {
	return &stubEffect{original: e.orig()}, nil
}

func (e *stubEffect) RemoveRenderClone(*TreeRender) {}

func (e *stubEffect) RegionOfDefinition(TimeValue, ViewIdx, RenderScale) (RectD, Status) {
	return RectD{X1: 0, Y1: 0, X2: 64, Y2: 64}, StatusOK
}

func (e *stubEffect) ProducedPlanes(TimeValue, ViewIdx) ([]ImagePlane, Status) {
	return []ImagePlane{PlaneColorRGBA}, StatusOK
}

func (e *stubEffect) RequestRender(exec *ExecutionData, req *FrameViewRequest) Status {
	for _, input := range e.orig().inputs {
		_, stat := exec.RequestRenderOnInput(req, input, req.Time(), req.View(), req.Plane(), req.CanonicalRoI())
		if IsFailure(stat) {
			return stat
		}
	}
	return StatusOK
}

func (e *stubEffect) Render(exec *ExecutionData, req *FrameViewRequest) (*ImageResult, Status) {
	orig := e.orig()
	if IsFailure(orig.renderStatus) {
		return nil, orig.renderStatus
	}
	orig.rendered.Add(1)
	bounds := req.CanonicalRoI().RoundToRectI()
	return NewImageResult(req.Plane(), bounds, req.RenderScale(), req.MipMapLevel()), StatusOK
}

// newTestExecution builds a render plus a bare execution for tests that
// wire requests manually instead of going through planning.
func newTestExecution(t *testing.T) (*TreeRender, *ExecutionData) {
	t.Helper()
	render := New(Args{TreeRoot: newStubEffect("root")})
	if IsFailure(render.Status()) {
		t.Fatalf("test render construction failed: %v", render.Status())
	}
	return render, newExecutionData(render, true, ScaleOne, 0)
}

// newTestRequest builds a standalone request for effect name.
func newTestRequest(name string) *FrameViewRequest {
	roi := RectD{X1: 0, Y1: 0, X2: 64, Y2: 64}
	return newFrameViewRequest(newStubEffect(name), 0, 0, PlaneColorRGBA, roi, ScaleOne, 0)
}

// waitDrained drives the execution until it is finished, failing the
// test after timeout. Dispatched tasks complete on pool goroutines, so
// the loop keeps releasing whatever their completions promote.
func waitDrained(t *testing.T, exec *ExecutionData, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		exec.ExecuteAvailableTasks(-1)
		if exec.IsFinished() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("execution did not drain within %v: %d tasks left, status %v",
				timeout, exec.TaskCount(), exec.Status())
		}
		time.Sleep(time.Millisecond)
	}
}

// waitTaskCount polls until the execution has at most want pending
// tasks.
func waitTaskCount(t *testing.T, exec *ExecutionData, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for exec.TaskCount() > want {
		if time.Now().After(deadline) {
			t.Fatalf("still %d tasks pending, want <= %d", exec.TaskCount(), want)
		}
		time.Sleep(time.Millisecond)
	}
}
