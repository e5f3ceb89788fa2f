package treerender

import (
	"testing"
	"time"
)

func TestExecutionData_AddTaskPromotesDependencyFree(t *testing.T) {
	_, exec := newTestExecution(t)
	a := newTestRequest("A")

	exec.AddTaskToRender(a)
	if !exec.HasTasksToExecute() {
		t.Error("dependency-free request was not promoted to the ready queue")
	}
	if got := exec.TaskCount(); got != 1 {
		t.Errorf("TaskCount() = %d, want 1", got)
	}
}

func TestExecutionData_PendingDependenciesNotPromoted(t *testing.T) {
	_, exec := newTestExecution(t)
	a := newTestRequest("A")
	b := newTestRequest("B")
	a.AddDependency(exec, b)
	b.AddListener(exec, a)

	exec.AddTaskToRender(a)
	if exec.HasTasksToExecute() {
		t.Error("request with a pending dependency must not be ready")
	}
	exec.AddTaskToRender(b)
	exec.AddTaskToRender(a) // duplicate insertion must not double-promote
	waitDrained(t, exec, 5*time.Second)

	if got := exec.Status(); got != StatusOK {
		t.Errorf("Status() = %v, want ok", got)
	}
	for _, req := range []*FrameViewRequest{a, b} {
		if got := req.Status(); got != RequestStatusRendered {
			t.Errorf("%s Status() = %v, want rendered", req.Effect().Node(), got)
		}
	}
}

func TestExecutionData_PromotionOnCompletion(t *testing.T) {
	// Chain A <- B: A becomes ready only once B has finished, and its
	// effect then sees B's retained image.
	_, exec := newTestExecution(t)
	a := newTestRequest("A")
	b := newTestRequest("B")
	a.AddDependency(exec, b)
	b.AddListener(exec, a)
	exec.AddTaskToRender(a)
	exec.AddTaskToRender(b)

	exec.ExecuteAvailableTasks(-1)
	waitTaskCount(t, exec, 1, 5*time.Second)
	waitDrained(t, exec, 5*time.Second)

	aEff := a.Effect().(*stubEffect)
	bEff := b.Effect().(*stubEffect)
	if got := bEff.rendered.Load(); got != 1 {
		t.Errorf("B rendered %d times, want 1", got)
	}
	if got := aEff.rendered.Load(); got != 1 {
		t.Errorf("A rendered %d times, want 1", got)
	}
}

func TestExecutionData_StickyFailureStopsPromotion(t *testing.T) {
	_, exec := newTestExecution(t)
	b := newTestRequest("B")
	b.Effect().(*stubEffect).renderStatus = StatusFailed
	a := newTestRequest("A")
	a.AddDependency(exec, b)
	b.AddListener(exec, a)
	exec.AddTaskToRender(a)
	exec.AddTaskToRender(b)

	waitDrained(t, exec, 5*time.Second)

	if got := exec.Status(); got != StatusFailed {
		t.Fatalf("Status() = %v, want failed", got)
	}
	if exec.HasTasksToExecute() {
		t.Error("failed execution still has ready tasks")
	}
	if got := a.Effect().(*stubEffect).rendered.Load(); got != 0 {
		t.Errorf("listener of failed request rendered %d times, want 0", got)
	}

	// Tasks added after the failure are recorded but never promoted.
	c := newTestRequest("C")
	exec.AddTaskToRender(c)
	if exec.HasTasksToExecute() {
		t.Error("failed execution promoted a newly added task")
	}
}

func TestExecutionData_FirstFailureWins(t *testing.T) {
	_, exec := newTestExecution(t)
	b := newTestRequest("B")
	b.Effect().(*stubEffect).renderStatus = StatusAborted
	exec.AddTaskToRender(b)
	waitDrained(t, exec, 5*time.Second)
	if got := exec.Status(); got != StatusAborted {
		t.Fatalf("Status() = %v, want aborted", got)
	}

	// A later completion, even a successful one, must not overwrite.
	ok := newTestRequest("OK")
	ok.setProduced(NewImageResult(PlaneColorRGBA, RectI{X2: 4, Y2: 4}, ScaleOne, 0), RequestStatusRendered)
	exec.taskFinished(&frameViewRunnable{exec: exec, request: ok}, ok, StatusOK)
	if got := exec.Status(); got != StatusAborted {
		t.Errorf("Status() after later success = %v, want aborted", got)
	}

	// And a later different failure must not overwrite either.
	bad := newTestRequest("bad")
	exec.taskFinished(&frameViewRunnable{exec: exec, request: bad}, bad, StatusFailed)
	if got := exec.Status(); got != StatusAborted {
		t.Errorf("Status() after later failure = %v, want aborted (first failure wins)", got)
	}
}

func TestExecutionData_FailureDoesNotMarkSharedRequest(t *testing.T) {
	// The main execution and a sub-execution share requests through the
	// render. A failure in one execution must not write a terminal state
	// onto a shared request the other execution still intends to render.
	render, exec1 := newTestExecution(t)
	exec2 := newExecutionData(render, false, ScaleOne, 0)

	roi := RectD{X1: 0, Y1: 0, X2: 32, Y2: 32}
	src := newStubEffect("src")
	shared, stat := exec1.RequestRenderOnInput(nil, src, 0, 0, PlaneColorRGBA, roi)
	if IsFailure(stat) {
		t.Fatalf("planning src in exec1 failed: %v", stat)
	}
	again, stat := exec2.RequestRenderOnInput(nil, src, 0, 0, PlaneColorRGBA, roi)
	if IsFailure(stat) {
		t.Fatalf("planning src in exec2 failed: %v", stat)
	}
	if again != shared {
		t.Fatal("equivalent requests in sibling executions were not shared")
	}

	bad := newStubEffect("bad")
	bad.renderStatus = StatusFailed
	badReq, _ := exec1.RequestRenderOnInput(nil, bad, 0, 0, PlaneColorRGBA, roi)

	// Fail exec1 through the bad task, then complete its still-in-flight
	// task for the shared request.
	(&frameViewRunnable{exec: exec1, request: badReq}).run()
	if got := exec1.Status(); got != StatusFailed {
		t.Fatalf("exec1 Status() = %v, want failed", got)
	}
	(&frameViewRunnable{exec: exec1, request: shared}).run()
	if got := shared.Status(); got != RequestStatusNotRendered {
		t.Fatalf("shared request Status() = %v after exec1 failed, want not rendered", got)
	}

	// The healthy sibling still renders it.
	waitDrained(t, exec2, 5*time.Second)
	if got := exec2.Status(); got != StatusOK {
		t.Errorf("exec2 Status() = %v, want ok", got)
	}
	if got := shared.Status(); got != RequestStatusRendered {
		t.Errorf("shared request Status() = %v, want rendered", got)
	}
	if shared.ProducedImage() == nil {
		t.Error("shared request has no produced image")
	}
}

func TestExecutionData_InlineFastPath(t *testing.T) {
	// A request that already carries a result has nothing to compute:
	// it completes inline and does not count as a started async task.
	_, exec := newTestExecution(t)
	a := newTestRequest("A")
	a.setProduced(NewImageResult(PlaneColorRGBA, RectI{X2: 4, Y2: 4}, ScaleOne, 0), RequestStatusRendered)
	exec.AddTaskToRender(a)

	started := exec.ExecuteAvailableTasks(-1)
	if started != 0 {
		t.Errorf("ExecuteAvailableTasks(-1) = %d async tasks, want 0 (inline)", started)
	}
	if got := exec.TaskCount(); got != 0 {
		t.Errorf("TaskCount() after inline completion = %d, want 0", got)
	}
	if got := a.Effect().(*stubEffect).rendered.Load(); got != 0 {
		t.Errorf("pre-rendered request invoked the effect %d times, want 0", got)
	}
}

func TestExecutionData_ExecuteAvailableTasksBudget(t *testing.T) {
	_, exec := newTestExecution(t)
	for _, name := range []string{"A", "B", "C"} {
		exec.AddTaskToRender(newTestRequest(name))
	}

	started := exec.ExecuteAvailableTasks(2)
	if started != 2 {
		t.Errorf("ExecuteAvailableTasks(2) = %d, want 2", started)
	}
	waitDrained(t, exec, 5*time.Second)
	if got := exec.Status(); got != StatusOK {
		t.Errorf("Status() = %v, want ok", got)
	}
}

func TestExecutionData_TaskCountConservation(t *testing.T) {
	// completed + pending stays equal to the initial task count: the
	// pending count only ever decreases, one task at a time.
	_, exec := newTestExecution(t)
	const n = 16
	for i := 0; i < n; i++ {
		exec.AddTaskToRender(newTestRequest("task"))
	}
	if got := exec.TaskCount(); got != n {
		t.Fatalf("TaskCount() = %d, want %d", got, n)
	}

	last := n
	deadline := time.Now().Add(5 * time.Second)
	for {
		exec.ExecuteAvailableTasks(-1)
		cur := exec.TaskCount()
		if cur > last {
			t.Fatalf("pending tasks grew from %d to %d", last, cur)
		}
		last = cur
		if exec.IsFinished() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("execution did not drain, %d tasks left", cur)
		}
		time.Sleep(time.Millisecond)
	}
	if got := exec.TaskCount(); got != 0 {
		t.Errorf("TaskCount() after drain = %d, want 0", got)
	}
}

func TestExecutionData_NotifiesQueueManager(t *testing.T) {
	prev := QueueManagerInstance()
	t.Cleanup(func() { RegisterQueueManager(prev) })

	notified := make(chan bool, 8)
	RegisterQueueManager(notifierFunc(func(_ *ExecutionData, inPool bool) {
		notified <- inPool
	}))

	_, exec := newTestExecution(t)
	exec.AddTaskToRender(newTestRequest("A"))
	waitDrained(t, exec, 5*time.Second)

	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("queue manager was not notified of task completion")
	}
}

// notifierFunc adapts a function to QueueManager.
type notifierFunc func(*ExecutionData, bool)

func (f notifierFunc) NotifyTaskInRenderFinished(e *ExecutionData, inPool bool) { f(e, inPool) }
