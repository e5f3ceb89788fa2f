// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package queue provides the default queue manager for the tree render
// engine: it drives launched renders through their main execution and
// any extra-results sub-executions, balancing worker-pool slots across
// concurrent renders.
//
// A process typically creates one Manager and registers it:
//
//	m := queue.NewManager()
//	treerender.RegisterQueueManager(m)
//	defer m.Shutdown()
package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/gogpu/treerender"
	"github.com/gogpu/treerender/internal/workerpool"
)

// abortDrainTimeout is the default bound on how long teardown waits for
// a render's in-flight tasks before declaring their goroutines leaked;
// see WithDrainTimeout. It governs
// reporting only: leaked goroutines are logged and counted, never
// interrupted, and cleanup proceeds without them.
const abortDrainTimeout = 5000 * time.Millisecond

// renderState tracks one launched render through its lifecycle phases.
// The phase only ever changes on the scheduler goroutine; main, extras
// and forced are guarded by the manager mutex because the abort path
// reads them from other goroutines.
type renderState struct {
	render *treerender.TreeRender
	main   *treerender.ExecutionData
	extras []*treerender.ExecutionData
	forced bool
	phase  renderPhase
	start  time.Time
	done   chan struct{}
}

type renderPhase int

const (
	phaseMain renderPhase = iota
	phaseExtras
	phaseDone
)

// Manager schedules tree renders onto the shared worker pool. Renders
// launched concurrently share a bounded slot budget; each scheduling
// tick rotates across live executions so one expensive render cannot
// starve the others.
//
// Manager implements treerender.QueueManager.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	slots        *semaphore.Weighted
	slotCount    int64
	maxPerTick   int
	drainTimeout time.Duration

	// inflight counts slots currently acquired, so stray notifications
	// from renders this manager did not dispatch never over-release.
	inflight atomic.Int64

	leaked atomic.Int64

	mu     sync.Mutex
	order  []*renderState
	states map[*treerender.TreeRender]*renderState
	rotate int
	closed bool

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates and starts a manager. The default slot budget is
// the shared worker pool's size; see the Option functions to change it.
func NewManager(opts ...Option) *Manager {
	cfg := options{
		workers:    workerpool.Global().Workers(),
		maxPerTick: 0,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers < 1 {
		cfg.workers = 1
	}
	if cfg.maxPerTick <= 0 {
		cfg.maxPerTick = cfg.workers
	}
	if cfg.drain <= 0 {
		cfg.drain = abortDrainTimeout
	}

	m := &Manager{
		slots:        semaphore.NewWeighted(int64(cfg.workers)),
		slotCount:    int64(cfg.workers),
		maxPerTick:   cfg.maxPerTick,
		drainTimeout: cfg.drain,
		states:       make(map[*treerender.TreeRender]*renderState),
		wake:         make(chan struct{}, 1),
		quit:         make(chan struct{}),
	}
	m.wg.Add(1)
	go m.scheduler()
	return m
}

// LaunchRender queues a render for execution. Planning happens on the
// scheduler goroutine; the call returns immediately. Launching the same
// render twice is a no-op.
func (m *Manager) LaunchRender(render *treerender.TreeRender) {
	if render == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		treerender.Logger().Warn("render launched on a shut down manager", "render", render.ID())
		return
	}
	if _, ok := m.states[render]; ok {
		m.mu.Unlock()
		return
	}
	rs := &renderState{
		render: render,
		phase:  phaseMain,
		start:  time.Now(),
		done:   make(chan struct{}),
	}
	m.states[render] = rs
	m.order = append(m.order, rs)
	m.mu.Unlock()

	treerender.Logger().Debug("render launched",
		"render", render.ID(),
		"provider", providerName(render.Provider()))
	m.poke()
}

// WaitForRenderFinished blocks until the render has fully drained (main
// execution, extra results, clone cleanup) and returns its output
// request and merged status. A render that was never launched returns
// its current state immediately.
func (m *Manager) WaitForRenderFinished(render *treerender.TreeRender) (*treerender.FrameViewRequest, treerender.Status) {
	if render == nil {
		return nil, treerender.StatusFailed
	}
	m.mu.Lock()
	rs := m.states[render]
	m.mu.Unlock()
	if rs != nil {
		<-rs.done
	}
	return render.OutputRequest(), render.Status()
}

// AbortRender requests cancellation of a launched render and waits for
// its tasks to drain, up to the teardown timeout. Tasks that overshoot
// are reported as leaked and the render is completed without them.
func (m *Manager) AbortRender(render *treerender.TreeRender) {
	if render == nil {
		return
	}
	render.SetRenderAborted()

	m.mu.Lock()
	rs := m.states[render]
	m.mu.Unlock()
	if rs == nil {
		return
	}
	m.poke()

	select {
	case <-rs.done:
		return
	case <-time.After(m.drainTimeout):
	}

	// Count what is still running and declare it leaked. Completion
	// itself is handed to the scheduler goroutine, which owns all phase
	// transitions; this path only raises the flag and waits.
	live := 0
	m.mu.Lock()
	execs := rs.liveExecutions()
	rs.forced = true
	m.mu.Unlock()
	for _, exec := range execs {
		if !exec.IsFinished() {
			live++
		}
	}
	m.leaked.Add(int64(live))
	treerender.Logger().Warn("render tasks leaked past teardown timeout",
		"render", render.ID(),
		"executions", live,
		"timeout", m.drainTimeout)
	m.poke()
	<-rs.done
}

// NotifyTaskInRenderFinished implements treerender.QueueManager. Task
// completions on worker goroutines return their slot; every completion
// wakes the scheduler for another tick.
func (m *Manager) NotifyTaskInRenderFinished(_ *treerender.ExecutionData, inPoolGoroutine bool) {
	if inPoolGoroutine {
		// Only give back what this manager handed out.
		for {
			n := m.inflight.Load()
			if n <= 0 {
				break
			}
			if m.inflight.CompareAndSwap(n, n-1) {
				m.slots.Release(1)
				break
			}
		}
	}
	m.poke()
}

// LeakedTaskCount returns how many tasks have overshot the teardown
// timeout since the manager started.
func (m *Manager) LeakedTaskCount() int64 { return m.leaked.Load() }

// Shutdown aborts every active render, waits for each to drain within
// the teardown timeout, and stops the scheduler. The shared worker pool
// stays up; it does not belong to the manager.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	active := make([]*renderState, len(m.order))
	copy(active, m.order)
	m.mu.Unlock()

	for _, rs := range active {
		m.AbortRender(rs.render)
	}
	close(m.quit)
	m.wg.Wait()
}

// poke wakes the scheduler without blocking.
func (m *Manager) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// scheduler is the manager's single scheduling goroutine: planning,
// dispatch and render completion all happen here, so renders never race
// each other through manager state.
func (m *Manager) scheduler() {
	defer m.wg.Done()
	for {
		select {
		case <-m.quit:
			return
		case <-m.wake:
		}
		m.tick()
	}
}

// tick advances every active render once, rotating the starting point
// so slot contention is shared fairly.
func (m *Manager) tick() {
	m.mu.Lock()
	if len(m.order) == 0 {
		m.mu.Unlock()
		return
	}
	m.rotate++
	start := m.rotate % len(m.order)
	snapshot := make([]*renderState, 0, len(m.order))
	snapshot = append(snapshot, m.order[start:]...)
	snapshot = append(snapshot, m.order[:start]...)
	m.mu.Unlock()

	for _, rs := range snapshot {
		m.advance(rs)
	}
}

// advance moves one render through its phases: plan and drain the main
// execution, then the extra-results sub-executions, then complete. Only
// ever runs on the scheduler goroutine.
func (m *Manager) advance(rs *renderState) {
	if rs.phase == phaseDone {
		return
	}
	m.mu.Lock()
	forced := rs.forced
	m.mu.Unlock()
	if forced {
		// An aborted render overshot the drain timeout; finish it now
		// without waiting for its leaked tasks.
		m.complete(rs)
		return
	}
	if m.blockedOnProvider(rs) {
		return
	}

	if rs.main == nil {
		main := rs.render.CreateMainExecution()
		m.mu.Lock()
		rs.main = main
		m.mu.Unlock()
	}

	if rs.phase == phaseMain {
		if !rs.main.IsFinished() {
			m.dispatch(rs.main)
			return
		}
		if treerender.IsFailure(rs.main.Status()) {
			m.complete(rs)
			return
		}
		// Main pass done; whatever extra results it did not produce
		// opportunistically get their own sub-executions now.
		extras := rs.render.ExtraResultsExecutions()
		m.mu.Lock()
		rs.extras = extras
		m.mu.Unlock()
		rs.phase = phaseExtras
	}

	remaining := false
	for _, exec := range rs.extras {
		if exec.IsFinished() {
			continue
		}
		remaining = true
		m.dispatch(exec)
	}
	if remaining {
		return
	}
	m.complete(rs)
}

// dispatch releases ready tasks of one execution into the pool, bounded
// by the free slot budget and the per-tick cap.
func (m *Manager) dispatch(exec *treerender.ExecutionData) {
	if !exec.HasTasksToExecute() {
		return
	}
	want := m.maxPerTick
	got := 0
	for got < want && m.slots.TryAcquire(1) {
		got++
	}
	if got == 0 {
		return
	}
	m.inflight.Add(int64(got))

	started := exec.ExecuteAvailableTasks(got)

	if unused := got - started; unused > 0 {
		m.inflight.Add(-int64(unused))
		m.slots.Release(int64(unused))
	}
}

// blockedOnProvider reports whether the render must wait because an
// earlier render of the same provider asked not to run concurrently
// with it.
func (m *Manager) blockedOnProvider(rs *renderState) bool {
	if !rs.render.PreventsConcurrentRenders() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.order {
		if other == rs {
			return false
		}
		if other.phase != phaseDone && other.render.Provider() == rs.render.Provider() {
			return true
		}
	}
	return false
}

// complete finishes a render: clones are cleaned up, waiters released,
// and the render leaves the active set. Only called from the scheduler
// goroutine, so it never races advance on the same renderState.
func (m *Manager) complete(rs *renderState) {
	m.mu.Lock()
	if rs.phase == phaseDone {
		m.mu.Unlock()
		return
	}
	rs.phase = phaseDone
	delete(m.states, rs.render)
	for i, other := range m.order {
		if other == rs {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	rs.render.CleanupRenderClones()
	close(rs.done)

	treerender.Logger().Info("render finished",
		"render", rs.render.ID(),
		"status", rs.render.Status(),
		"duration", time.Since(rs.start))
	// More slots may be free now; let the remaining renders use them.
	m.poke()
}

// liveExecutions returns the executions a render has in flight.
// Caller holds m.mu.
func (rs *renderState) liveExecutions() []*treerender.ExecutionData {
	execs := make([]*treerender.ExecutionData, 0, 1+len(rs.extras))
	if rs.main != nil {
		execs = append(execs, rs.main)
	}
	execs = append(execs, rs.extras...)
	return execs
}

func providerName(p treerender.Provider) string {
	if p == nil {
		return "none"
	}
	return p.ProviderName()
}
