package treerender

import (
	"errors"
	"sync"

	"github.com/gogpu/gpucontext"
)

// ErrNoContextPool indicates no rendering context pool has been
// registered. Renders still proceed; effects that require a context fail
// individually.
var ErrNoContextPool = errors.New("treerender: no context pool registered")

// RenderContext is a rendering context an effect can attach to while
// producing pixels. It exposes the GPU device of the GoGPU ecosystem;
// CPU contexts report IsGPU() == false and may return nil device
// handles.
//
// The engine only acquires and hands out contexts. It never attaches
// them to a goroutine itself; effect runnables attach as needed.
type RenderContext interface {
	gpucontext.DeviceProvider

	// IsGPU reports whether the context is backed by a GPU device.
	IsGPU() bool
}

// ContextPool hands out rendering contexts to tree renders.
//
// The reuseLast variant returns the most recently vended context instead
// of a fresh one; successive paint strokes use it so that a drawing
// session keeps hitting the same device.
type ContextPool interface {
	// GPUContext returns a GPU rendering context.
	GPUContext(reuseLast bool) (RenderContext, error)

	// CPUContext returns a CPU rendering context.
	CPUContext(reuseLast bool) (RenderContext, error)

	// Close releases every context the pool owns.
	Close()
}

// DrawableItem is an item being painted interactively. It memoizes the
// rendering contexts across the successive tree renders of one stroke so
// the whole stroke renders on one device.
type DrawableItem interface {
	// DrawingContexts returns the contexts memoized on the item, nil
	// when none have been attached yet.
	DrawingContexts() (gpu, cpu RenderContext)

	// SetDrawingContexts memoizes the contexts on the item.
	SetDrawingContexts(gpu, cpu RenderContext)
}

var (
	ctxPoolMu sync.RWMutex
	ctxPool   ContextPool
)

// RegisterContextPool registers the pool tree renders acquire contexts
// from. Only one pool can be registered; a subsequent call replaces and
// closes the previous one. Typically called from a backend package's
// init:
//
//	import _ "github.com/gogpu/treerender/gpu" // wgpu-backed pool
func RegisterContextPool(p ContextPool) {
	ctxPoolMu.Lock()
	old := ctxPool
	ctxPool = p
	ctxPoolMu.Unlock()
	if old != nil && old != p {
		old.Close()
	}
}

// ContextPoolInstance returns the registered context pool, or nil.
func ContextPoolInstance() ContextPool {
	ctxPoolMu.RLock()
	p := ctxPool
	ctxPoolMu.RUnlock()
	return p
}
