package treerender_test

import (
	"testing"
	"time"

	"github.com/gogpu/treerender"
	"github.com/gogpu/treerender/cache"
	"github.com/gogpu/treerender/internal/rendertest"
)

const drainTimeout = 10 * time.Second

// waitTasks polls until exec has at most want pending tasks.
func waitTasks(t *testing.T, exec *treerender.ExecutionData, want int) {
	t.Helper()
	deadline := time.Now().Add(drainTimeout)
	for exec.TaskCount() > want {
		if time.Now().After(deadline) {
			t.Fatalf("still %d pending tasks, want <= %d", exec.TaskCount(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

// driveUntilFinished drains exec from a background goroutine and
// returns a channel closed on completion. Used when the test has to do
// something (abort, inspect) while tasks are in flight.
func driveUntilFinished(exec *treerender.ExecutionData) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for !exec.IsFinished() {
			exec.ExecuteAvailableTasks(-1)
			time.Sleep(time.Millisecond)
		}
	}()
	return done
}

func TestTreeRender_LinearChain(t *testing.T) {
	// R depends on A, A depends on B: tasks release strictly bottom-up.
	b := rendertest.NewEffect("B")
	a := rendertest.NewEffect("A", b)
	r := rendertest.NewEffect("R", a)

	render := treerender.New(treerender.Args{TreeRoot: r})
	if got := render.Status(); got != treerender.StatusOK {
		t.Fatalf("render Status() = %v, want ok", got)
	}
	exec := render.CreateMainExecution()
	if got := exec.TaskCount(); got != 3 {
		t.Fatalf("planning produced %d tasks, want 3", got)
	}

	// Only B is dependency-free at the start.
	if got := exec.ExecuteAvailableTasks(-1); got != 1 {
		t.Fatalf("initial release started %d tasks, want 1 (B alone)", got)
	}
	waitTasks(t, exec, 2)

	// B finishing promotes A and nothing else.
	if got := exec.ExecuteAvailableTasks(-1); got != 1 {
		t.Fatalf("second release started %d tasks, want 1 (A alone)", got)
	}
	waitTasks(t, exec, 1)

	if got := exec.ExecuteAvailableTasks(-1); got != 1 {
		t.Fatalf("third release started %d tasks, want 1 (R alone)", got)
	}
	rendertest.Drain(t, exec, drainTimeout)

	out := render.OutputRequest()
	if out == nil {
		t.Fatal("OutputRequest() = nil after main execution drained")
	}
	if out.Effect().Node() != r.Node() {
		t.Errorf("output request is %s, want R", rendertest.Describe(out))
	}
	if out.ProducedImage() == nil {
		t.Error("output request carries no produced image")
	}
	for _, e := range []*rendertest.Effect{b, a, r} {
		if got := e.RenderCount(); got != 1 {
			t.Errorf("%s rendered %d times, want 1", e.Node(), got)
		}
	}
}

func TestTreeRender_Diamond(t *testing.T) {
	// R depends on A and C; both depend on B. B renders once, A and C
	// are promoted together.
	b := rendertest.NewEffect("B")
	a := rendertest.NewEffect("A", b)
	c := rendertest.NewEffect("C", b)
	r := rendertest.NewEffect("R", a, c)

	render := treerender.New(treerender.Args{TreeRoot: r})
	exec := render.CreateMainExecution()
	if got := exec.TaskCount(); got != 4 {
		t.Fatalf("planning produced %d tasks, want 4", got)
	}

	if got := exec.ExecuteAvailableTasks(-1); got != 1 {
		t.Fatalf("initial release started %d tasks, want 1 (B alone)", got)
	}
	waitTasks(t, exec, 3)

	if got := exec.ExecuteAvailableTasks(-1); got != 2 {
		t.Fatalf("release after B started %d tasks, want 2 (A and C together)", got)
	}
	rendertest.Drain(t, exec, drainTimeout)

	if got := b.RenderCount(); got != 1 {
		t.Errorf("B rendered %d times, want exactly 1", got)
	}
	if got := render.Status(); got != treerender.StatusOK {
		t.Errorf("render Status() = %v, want ok", got)
	}
	if out := render.OutputRequest(); out == nil || out.Effect().Node() != r.Node() {
		t.Errorf("output request = %s, want R", rendertest.Describe(out))
	}
}

func TestTreeRender_FailurePropagation(t *testing.T) {
	// B fails in the diamond: nothing downstream runs, no deadlock.
	b := rendertest.NewEffect("B")
	b.RenderStatus = treerender.StatusFailed
	a := rendertest.NewEffect("A", b)
	c := rendertest.NewEffect("C", b)
	r := rendertest.NewEffect("R", a, c)

	render := treerender.New(treerender.Args{TreeRoot: r})
	exec := render.CreateMainExecution()
	rendertest.Drain(t, exec, drainTimeout)

	if got := exec.Status(); got != treerender.StatusFailed {
		t.Errorf("execution Status() = %v, want failed", got)
	}
	if got := render.Status(); got != treerender.StatusFailed {
		t.Errorf("render Status() = %v, want failed", got)
	}
	for _, e := range []*rendertest.Effect{a, c, r} {
		if got := e.RenderCount(); got != 0 {
			t.Errorf("%s rendered %d times after upstream failure, want 0", e.Node(), got)
		}
	}
	if out := render.OutputRequest(); out != nil {
		t.Errorf("OutputRequest() = %s, want nil (root never completed)", rendertest.Describe(out))
	}
}

func TestTreeRender_AbortMidFlight(t *testing.T) {
	// B blocks until the abort flag is raised; downstream tasks never
	// run. An unrelated concurrent render is unaffected.
	b := rendertest.NewEffect("B")
	b.WaitForAbort = true
	a := rendertest.NewEffect("A", b)
	c := rendertest.NewEffect("C", b)
	r := rendertest.NewEffect("R", a, c)
	render := treerender.New(treerender.Args{TreeRoot: r})
	exec := render.CreateMainExecution()

	otherRoot := rendertest.NewEffect("other-root", rendertest.NewEffect("other-src"))
	other := treerender.New(treerender.Args{TreeRoot: otherRoot})
	otherExec := other.CreateMainExecution()

	done := driveUntilFinished(exec)
	otherDone := driveUntilFinished(otherExec)

	select {
	case <-b.Started:
	case <-time.After(drainTimeout):
		t.Fatal("B never started rendering")
	}
	render.SetRenderAborted()
	if !render.IsRenderAborted() {
		t.Fatal("IsRenderAborted() = false after SetRenderAborted")
	}

	select {
	case <-done:
	case <-time.After(drainTimeout):
		t.Fatal("aborted render did not drain")
	}
	select {
	case <-otherDone:
	case <-time.After(drainTimeout):
		t.Fatal("unrelated render did not finish")
	}

	if got := render.Status(); got != treerender.StatusAborted {
		t.Errorf("aborted render Status() = %v, want aborted", got)
	}
	for _, e := range []*rendertest.Effect{a, c, r} {
		if got := e.RenderCount(); got != 0 {
			t.Errorf("%s rendered %d times after abort, want 0", e.Node(), got)
		}
	}
	if got := other.Status(); got != treerender.StatusOK {
		t.Errorf("unrelated render Status() = %v, want ok", got)
	}
	if got := otherRoot.RenderCount(); got != 1 {
		t.Errorf("unrelated root rendered %d times, want 1", got)
	}

	// Abort stays raised.
	render.SetRenderAborted()
	if !render.IsRenderAborted() {
		t.Error("abort flag must be monotonic")
	}
}

func TestTreeRender_GroupInputRedirection(t *testing.T) {
	n := rendertest.NewEffect("N")
	group := rendertest.NewGroup("Group")
	input := rendertest.NewGroupInput("Input1", 0)
	group.Connect(input, n)

	render := treerender.New(treerender.Args{TreeRoot: input})
	if got := render.Status(); got != treerender.StatusOK {
		t.Fatalf("render Status() = %v, want ok", got)
	}
	if got := render.Root().Node(); got != n.Node() {
		t.Fatalf("root redirected to %s, want N", got)
	}

	exec := render.CreateMainExecution()
	rendertest.Drain(t, exec, drainTimeout)

	out := render.OutputRequest()
	if out == nil || out.Effect().Node() != n.Node() {
		t.Errorf("output request = %s, want N", rendertest.Describe(out))
	}
	if got := input.RenderCount(); got != 0 {
		t.Errorf("group-input placeholder rendered %d times, want 0", got)
	}
}

func TestTreeRender_GroupInputUnresolvedFailsInit(t *testing.T) {
	group := rendertest.NewGroup("Group")
	input := rendertest.NewGroupInput("Input1", 0)
	group.Connect(input, nil) // disconnected

	render := treerender.New(treerender.Args{TreeRoot: input})
	if got := render.Status(); got != treerender.StatusFailed {
		t.Errorf("render Status() = %v, want failed", got)
	}

	// Operations short-circuit on a failed render.
	exec := render.CreateMainExecution()
	if got := exec.TaskCount(); got != 0 {
		t.Errorf("failed render planned %d tasks, want 0", got)
	}
	if exec.HasTasksToExecute() {
		t.Error("failed render has ready tasks")
	}
}

func TestTreeRender_ExtraResultsOpportunisticFill(t *testing.T) {
	// X sits on the main path: its result is picked up during the main
	// execution and no sub-execution is needed.
	b := rendertest.NewEffect("B")
	x := rendertest.NewEffect("X", b)
	r := rendertest.NewEffect("R", x)

	render := treerender.New(treerender.Args{
		TreeRoot:           r,
		ExtraNodesToSample: []*treerender.Node{x.Node()},
	})
	rendertest.Drain(t, render.CreateMainExecution(), drainTimeout)

	if got := render.ExtraRequestedResult(x.Node()); got == nil {
		t.Error("on-path extra result was not filled opportunistically")
	}
	if extra := render.ExtraResultsExecutions(); len(extra) != 0 {
		t.Errorf("ExtraResultsExecutions() returned %d executions, want 0", len(extra))
	}
}

func TestTreeRender_ExtraResultsSubExecution(t *testing.T) {
	// Y is not reachable from the root: it needs its own sub-execution
	// after the main pass.
	r := rendertest.NewEffect("R", rendertest.NewEffect("B"))
	y := rendertest.NewEffect("Y")

	render := treerender.New(treerender.Args{
		TreeRoot:           r,
		ExtraNodesToSample: []*treerender.Node{y.Node()},
	})
	rendertest.Drain(t, render.CreateMainExecution(), drainTimeout)

	if got := render.ExtraRequestedResult(y.Node()); got != nil {
		t.Fatalf("off-path extra filled during main pass: %s", rendertest.Describe(got))
	}
	extra := render.ExtraResultsExecutions()
	if len(extra) != 1 {
		t.Fatalf("ExtraResultsExecutions() returned %d executions, want 1", len(extra))
	}
	if extra[0].IsMainExecution() {
		t.Error("extra-results execution claims to be the main execution")
	}
	rendertest.Drain(t, extra[0], drainTimeout)

	res := render.ExtraRequestedResult(y.Node())
	if res == nil {
		t.Fatal("extra result still empty after sub-execution drained")
	}
	if res.Status() != treerender.RequestStatusRendered {
		t.Errorf("extra result status = %v, want rendered", res.Status())
	}
	if got := y.RenderCount(); got != 1 {
		t.Errorf("Y rendered %d times, want 1", got)
	}
}

func TestTreeRender_SubExecutionSharesResults(t *testing.T) {
	// A sub-execution over the same coordinates reuses the finished
	// requests of the main execution instead of re-rendering.
	b := rendertest.NewEffect("B")
	r := rendertest.NewEffect("R", b)
	render := treerender.New(treerender.Args{TreeRoot: r})
	rendertest.Drain(t, render.CreateMainExecution(), drainTimeout)

	sub := render.CreateSubExecution(nil, render.Time(), render.View(), render.ProxyScale(), render.MipMapLevel(), nil, nil)
	rendertest.Drain(t, sub, drainTimeout)

	if got := sub.Status(); got != treerender.StatusOK {
		t.Errorf("sub-execution Status() = %v, want ok", got)
	}
	if got := r.RenderCount(); got != 1 {
		t.Errorf("root rendered %d times across main + sub, want 1", got)
	}
	if got := b.RenderCount(); got != 1 {
		t.Errorf("B rendered %d times across main + sub, want 1", got)
	}
}

func TestTreeRender_InitFailures(t *testing.T) {
	t.Run("nil root", func(t *testing.T) {
		render := treerender.New(treerender.Args{})
		if got := render.Status(); got != treerender.StatusFailed {
			t.Errorf("Status() = %v, want failed", got)
		}
	})

	t.Run("clone root", func(t *testing.T) {
		orig := rendertest.NewEffect("orig")
		clone, err := orig.NewRenderClone(treerender.RenderCloneKey{})
		if err != nil {
			t.Fatalf("NewRenderClone() = %v", err)
		}
		render := treerender.New(treerender.Args{TreeRoot: clone})
		if got := render.Status(); got != treerender.StatusFailed {
			t.Errorf("Status() = %v, want failed", got)
		}
	})

	t.Run("negative proxy scale", func(t *testing.T) {
		render := treerender.New(treerender.Args{
			TreeRoot:   rendertest.NewEffect("root"),
			ProxyScale: treerender.RenderScale{X: -1, Y: 1},
		})
		if got := render.Status(); got != treerender.StatusFailed {
			t.Errorf("Status() = %v, want failed", got)
		}
	})

	t.Run("planning failure", func(t *testing.T) {
		root := rendertest.NewEffect("root")
		root.PlanStatus = treerender.StatusFailed
		render := treerender.New(treerender.Args{TreeRoot: root})
		// Construction itself succeeds; the failure lands when the main
		// execution plans.
		exec := render.CreateMainExecution()
		if got := exec.Status(); got != treerender.StatusFailed {
			t.Errorf("execution Status() = %v, want failed", got)
		}
		if got := render.Status(); got != treerender.StatusFailed {
			t.Errorf("render Status() = %v, want failed", got)
		}
	})

	t.Run("clone refused", func(t *testing.T) {
		root := rendertest.NewEffect("root")
		root.RefuseClone = true
		render := treerender.New(treerender.Args{TreeRoot: root})
		exec := render.CreateMainExecution()
		if got := exec.Status(); got != treerender.StatusFailed {
			t.Errorf("execution Status() = %v, want failed", got)
		}
	})
}

func TestTreeRender_CloneRegistry(t *testing.T) {
	b := rendertest.NewEffect("B")
	r := rendertest.NewEffect("R", b, b) // B consumed twice, cloned once
	render := treerender.New(treerender.Args{TreeRoot: r})
	rendertest.Drain(t, render.CreateMainExecution(), drainTimeout)

	if got := b.CloneCount(); got != 1 {
		t.Errorf("B cloned %d times, want 1 (idempotent per key)", got)
	}

	render.CleanupRenderClones()
	if got := b.RemovedCount(); got != 1 {
		t.Errorf("B received %d RemoveRenderClone calls, want 1", got)
	}
	render.CleanupRenderClones() // at most once
	if got := b.RemovedCount(); got != 1 {
		t.Errorf("second cleanup ran again: %d RemoveRenderClone calls", got)
	}
}

func TestTreeRender_MainExecutionCreatedOnce(t *testing.T) {
	render := treerender.New(treerender.Args{TreeRoot: rendertest.NewEffect("root")})
	first := render.CreateMainExecution()
	second := render.CreateMainExecution()
	if first != second {
		t.Error("CreateMainExecution created a second main execution")
	}
	if !first.IsMainExecution() {
		t.Error("main execution does not identify as main")
	}
}

func TestTreeRender_CacheOpportunisticFill(t *testing.T) {
	prev := treerender.ImageCacheInstance()
	t.Cleanup(func() { treerender.RegisterImageCache(prev) })
	treerender.RegisterImageCache(cache.New(64 << 20))

	b := rendertest.NewEffect("cache-B")
	r := rendertest.NewEffect("cache-R", b)

	first := treerender.New(treerender.Args{TreeRoot: r})
	rendertest.Drain(t, first.CreateMainExecution(), drainTimeout)
	if got := b.RenderCount(); got != 1 {
		t.Fatalf("B rendered %d times in first render, want 1", got)
	}

	// Second render over the same coordinates: everything comes out of
	// the cache, nothing renders again.
	second := treerender.New(treerender.Args{TreeRoot: r})
	rendertest.Drain(t, second.CreateMainExecution(), drainTimeout)
	if got := second.Status(); got != treerender.StatusOK {
		t.Errorf("cached render Status() = %v, want ok", got)
	}
	if out := second.OutputRequest(); out == nil || out.ProducedImage() == nil {
		t.Error("cached render has no output image")
	}
	if got := r.RenderCount(); got != 1 {
		t.Errorf("root rendered %d times across both renders, want 1", got)
	}

	// BypassCache disables reads: a third render recomputes.
	third := treerender.New(treerender.Args{TreeRoot: r, BypassCache: true})
	rendertest.Drain(t, third.CreateMainExecution(), drainTimeout)
	if got := r.RenderCount(); got != 2 {
		t.Errorf("root rendered %d times after bypass render, want 2", got)
	}
}

func TestTreeRender_Stats(t *testing.T) {
	stats := treerender.NewRenderStats()
	b := rendertest.NewEffect("stat-B")
	b.RenderDelay = 2 * time.Millisecond
	r := rendertest.NewEffect("stat-R", b)

	render := treerender.New(treerender.Args{TreeRoot: r, Stats: stats})
	rendertest.Drain(t, render.CreateMainExecution(), drainTimeout)

	if got := stats.TasksRendered(); got != 2 {
		t.Errorf("TasksRendered() = %d, want 2", got)
	}
	if got := stats.NodeRenderTime(b.Node()); got <= 0 {
		t.Errorf("NodeRenderTime(B) = %v, want > 0", got)
	}
	snap := stats.Snapshot()
	if snap.Tasks != 2 || snap.Total <= 0 {
		t.Errorf("Snapshot() = %+v, want 2 tasks with positive total", snap)
	}
}

func TestTreeRender_SettingsSnapshot(t *testing.T) {
	t.Cleanup(func() {
		treerender.SetNaNHandlingEnabled(true)
		treerender.SetConcatenationEnabled(true)
	})

	treerender.SetNaNHandlingEnabled(false)
	render := treerender.New(treerender.Args{TreeRoot: rendertest.NewEffect("root")})
	treerender.SetNaNHandlingEnabled(true)

	if render.HandlesNaNs() {
		t.Error("render observed a settings flip after construction")
	}
	if !render.ConcatenatesTransforms() {
		t.Error("default concatenation policy should be enabled")
	}
}

func TestTreeRender_StrokeUpdateArea(t *testing.T) {
	render := treerender.New(treerender.Args{TreeRoot: rendertest.NewEffect("root")})
	if _, ok := render.ActiveStrokeUpdateArea(); ok {
		t.Error("fresh render reports a stroke update area")
	}
	area := treerender.RectI{X1: 1, Y1: 2, X2: 30, Y2: 40}
	render.SetActiveStrokeUpdateArea(area)
	got, ok := render.ActiveStrokeUpdateArea()
	if !ok || got != area {
		t.Errorf("ActiveStrokeUpdateArea() = %v, %v; want %v, true", got, ok, area)
	}
}
