package treerender

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Construction failures. New never returns them as errors: the render
// comes back in Failed state and the cause is logged, so a half-built
// render can never leak into the scheduler.
var (
	// ErrNilRootEffect indicates construction without a root effect.
	ErrNilRootEffect = errors.New("treerender: nil root effect")

	// ErrRootIsClone indicates the root effect was a render clone.
	// Renders start from originals; the engine makes its own clones.
	ErrRootIsClone = errors.New("treerender: root effect must be an original, not a render clone")

	// ErrInvalidProxyScale indicates a negative or zero proxy scale.
	ErrInvalidProxyScale = errors.New("treerender: proxy scale must be positive")

	// ErrGroupInputUnresolved indicates the root was a group-input
	// placeholder that could not be redirected to a real upstream node.
	ErrGroupInputUnresolved = errors.New("treerender: group input has no connected upstream node")
)

// Args are the construction arguments of a tree render. TreeRoot is the
// only required field; a zero ProxyScale means full resolution.
type Args struct {
	// Time and View select the frame and view to render.
	Time TimeValue
	View ViewIdx

	// TreeRoot is the output effect the render is rooted at.
	TreeRoot Effect

	// ExtraNodesToSample lists nodes whose results should be sampled
	// alongside the root, such as color pickers or scopes.
	// Results for nodes on the main path are picked up opportunistically;
	// the rest are rendered by dedicated sub-executions afterwards.
	ExtraNodesToSample []*Node

	// ActiveDrawableItem is the item under the user's pen when the
	// render is part of an interactive paint stroke. Optional.
	ActiveDrawableItem DrawableItem

	// Stats receives per-node timing when non-nil.
	Stats *RenderStats

	// CanonicalRoI overrides the rendered region. When nil the root
	// effect's region of definition is used.
	CanonicalRoI *RectD

	// Plane overrides the rendered plane. When nil the root effect's
	// first produced plane is used.
	Plane *ImagePlane

	// ProxyScale and MipMapLevel select the render resolution. The zero
	// ProxyScale is treated as (1, 1).
	ProxyScale  RenderScale
	MipMapLevel uint32

	// Draft requests a lower-quality but faster render.
	Draft bool

	// Playback marks renders that are part of continuous playback.
	Playback bool

	// BypassCache skips image cache reads for this render. Produced
	// results are still written through for later renders.
	BypassCache bool

	// PreventConcurrentRenders asks the queue manager not to overlap
	// this render with another one for the same provider.
	PreventConcurrentRenders bool

	// Provider identifies who the render is performed for.
	Provider Provider
}

// TreeRender renders one frame of an effect tree: it owns the render
// clones, the frame-view requests and the executions that schedule them,
// and funnels every per-task result into one output request plus the
// optional extra sampled results.
//
// Create tree renders with New only.
//
// Thread Safety: all exported methods are safe for concurrent use.
type TreeRender struct {
	id   uuid.UUID
	time TimeValue
	view ViewIdx
	root Effect

	drawable          DrawableItem
	stats             *RenderStats
	plane             *ImagePlane
	canonicalRoI      *RectD
	proxyScale        RenderScale
	mipMapLevel       uint32
	draft             bool
	playback          bool
	bypassCache       bool
	preventConcurrent bool
	provider          Provider

	// Settings snapshot: flipping a global setting never changes a
	// render mid-flight.
	handleNaNs  bool
	concatenate bool

	stateMu sync.Mutex
	state   Status

	clonesMu      sync.Mutex
	clones        map[cloneKey]Effect
	cloneOrder    []Effect
	clonesCleaned bool
	cloneGroup    singleflight.Group

	requestsMu sync.Mutex
	requests   map[requestKey]*FrameViewRequest

	// extrasMu guards the extra-results map, the output request and the
	// active-stroke update rectangle.
	extrasMu      sync.Mutex
	extras        map[*Node]*FrameViewRequest
	outputRequest *FrameViewRequest
	strokeArea    RectI
	hasStrokeArea bool

	gpuContext RenderContext
	cpuContext RenderContext

	aborted atomic.Int64

	execMu     sync.Mutex
	mainExec   *ExecutionData
	executions []*ExecutionData
}

// requestKey addresses one frame-view request within a tree render. Time
// and view are not part of the key: the clone already carries them.
type requestKey struct {
	effect Effect
	plane  string
	roi    RectD
	scale  RenderScale
	mip    uint32
}

// New builds a tree render from args. It never returns nil and never
// panics on bad input: construction failures leave the render in Failed
// state, where every operation short-circuits to empty results.
//
// When the root effect is a group-input placeholder, the render is
// redirected to the node actually connected to the enclosing group's
// matching input before any planning happens.
func New(args Args) *TreeRender {
	r := &TreeRender{
		id:                uuid.New(),
		time:              args.Time,
		view:              args.View,
		drawable:          args.ActiveDrawableItem,
		stats:             args.Stats,
		proxyScale:        normalizeScale(args.ProxyScale),
		mipMapLevel:       args.MipMapLevel,
		draft:             args.Draft,
		playback:          args.Playback,
		bypassCache:       args.BypassCache,
		preventConcurrent: args.PreventConcurrentRenders,
		provider:          args.Provider,
		handleNaNs:        NaNHandlingEnabled(),
		concatenate:       ConcatenationEnabled(),
		state:             StatusOK,
		clones:            make(map[cloneKey]Effect),
		requests:          make(map[requestKey]*FrameViewRequest),
		extras:            make(map[*Node]*FrameViewRequest),
	}
	if args.CanonicalRoI != nil {
		roi := *args.CanonicalRoI
		r.canonicalRoI = &roi
	}
	if args.Plane != nil {
		plane := *args.Plane
		r.plane = &plane
	}
	for _, node := range args.ExtraNodesToSample {
		if node != nil {
			r.extras[node] = nil
		}
	}

	if err := r.init(args); err != nil {
		Logger().Warn("tree render initialization failed", "render", r.id, "err", err)
		r.setState(StatusFailed)
		return r
	}
	return r
}

func (r *TreeRender) init(args Args) error {
	if args.TreeRoot == nil {
		return ErrNilRootEffect
	}
	if args.TreeRoot.IsRenderClone() {
		return ErrRootIsClone
	}
	if args.ProxyScale.X < 0 || args.ProxyScale.Y < 0 {
		return ErrInvalidProxyScale
	}

	root := args.TreeRoot
	if _, ok := root.(GroupInput); ok {
		redirected, err := resolveGroupInput(root)
		if err != nil {
			return err
		}
		Logger().Debug("group-input root redirected",
			"render", r.id,
			"from", root.Node().Name(),
			"to", redirected.Node().Name())
		root = redirected
	}
	r.root = root

	r.fetchRenderContexts()
	return nil
}

// resolveGroupInput maps a group-input placeholder to the node connected
// to the enclosing group's matching input.
func resolveGroupInput(root Effect) (Effect, error) {
	groupNode := root.Node().Group()
	if groupNode == nil {
		return nil, fmt.Errorf("%w: %s is not inside a group", ErrGroupInputUnresolved, root.Node())
	}
	groupEffect, ok := groupNode.Effect().(Group)
	if !ok {
		return nil, fmt.Errorf("%w: enclosing node %s is not a group", ErrGroupInputUnresolved, groupNode)
	}
	realInput := groupEffect.RealInputFor(root.Node())
	if realInput == nil || realInput.Effect() == nil {
		return nil, fmt.Errorf("%w: group %s input %s", ErrGroupInputUnresolved, groupNode, root.Node())
	}
	return realInput.Effect(), nil
}

// fetchRenderContexts acquires one GPU and one CPU rendering context for
// the render. During a paint stroke the contexts memoized on the
// drawable item are reused, so the whole stroke renders on one device.
// Failures are non-fatal: effects that need a context fail individually.
func (r *TreeRender) fetchRenderContexts() {
	pool := ContextPoolInstance()

	if r.drawable != nil {
		gpuCtx, cpuCtx := r.drawable.DrawingContexts()
		if pool != nil && (gpuCtx == nil || cpuCtx == nil) {
			// A partial memo still counts: only the missing half is
			// fetched, then the completed pair is memoized again.
			if gpuCtx == nil {
				gpuCtx = r.acquireContext(pool.GPUContext, true, "gpu")
			}
			if cpuCtx == nil {
				cpuCtx = r.acquireContext(pool.CPUContext, true, "cpu")
			}
			if gpuCtx != nil || cpuCtx != nil {
				r.drawable.SetDrawingContexts(gpuCtx, cpuCtx)
			}
		}
		r.gpuContext, r.cpuContext = gpuCtx, cpuCtx
		return
	}

	if pool == nil {
		return
	}
	r.gpuContext = r.acquireContext(pool.GPUContext, false, "gpu")
	r.cpuContext = r.acquireContext(pool.CPUContext, false, "cpu")
}

func (r *TreeRender) acquireContext(get func(bool) (RenderContext, error), reuseLast bool, kind string) RenderContext {
	ctx, err := get(reuseLast)
	if err != nil {
		Logger().Debug("render context unavailable", "render", r.id, "kind", kind, "err", err)
		return nil
	}
	return ctx
}

func normalizeScale(s RenderScale) RenderScale {
	if s.X == 0 && s.Y == 0 {
		return ScaleOne
	}
	return s
}

// ID returns the unique identity of this render, used to correlate log
// lines and stats across goroutines.
func (r *TreeRender) ID() uuid.UUID { return r.id }

// Time returns the frame being rendered.
func (r *TreeRender) Time() TimeValue { return r.time }

// View returns the view being rendered.
func (r *TreeRender) View() ViewIdx { return r.view }

// Root returns the effect the render is rooted at, after any group-input
// redirection.
func (r *TreeRender) Root() Effect { return r.root }

// ProxyScale returns the proxy scale of the render.
func (r *TreeRender) ProxyScale() RenderScale { return r.proxyScale }

// MipMapLevel returns the mip-map level of the render.
func (r *TreeRender) MipMapLevel() uint32 { return r.mipMapLevel }

// IsDraft reports whether this is a draft-quality render.
func (r *TreeRender) IsDraft() bool { return r.draft }

// IsPlayback reports whether the render is part of continuous playback.
func (r *TreeRender) IsPlayback() bool { return r.playback }

// IsBypassCacheEnabled reports whether image cache reads are skipped.
func (r *TreeRender) IsBypassCacheEnabled() bool { return r.bypassCache }

// PreventsConcurrentRenders reports whether the queue manager should
// avoid overlapping this render with another one of the same provider.
func (r *TreeRender) PreventsConcurrentRenders() bool { return r.preventConcurrent }

// Provider returns who the render is performed for, nil when anonymous.
func (r *TreeRender) Provider() Provider { return r.provider }

// Stats returns the per-node timing sink, nil when stats are off.
func (r *TreeRender) Stats() *RenderStats { return r.stats }

// DrawableItem returns the item being painted, nil outside paint mode.
func (r *TreeRender) DrawableItem() DrawableItem { return r.drawable }

// GPUContext returns the GPU rendering context acquired at construction,
// nil when none was available.
func (r *TreeRender) GPUContext() RenderContext { return r.gpuContext }

// CPUContext returns the CPU rendering context acquired at construction,
// nil when none was available.
func (r *TreeRender) CPUContext() RenderContext { return r.cpuContext }

// HandlesNaNs reports the NaN-scrubbing policy snapshotted when the
// render was created.
func (r *TreeRender) HandlesNaNs() bool { return r.handleNaNs }

// ConcatenatesTransforms reports the transform-concatenation policy
// snapshotted when the render was created.
func (r *TreeRender) ConcatenatesTransforms() bool { return r.concatenate }

// Status returns the merged outcome of the render. The first failure
// observed by any execution sticks.
func (r *TreeRender) Status() Status {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}

func (r *TreeRender) setState(s Status) {
	r.stateMu.Lock()
	if !IsFailure(r.state) {
		r.state = s
	}
	r.stateMu.Unlock()
}

// SetRenderAborted requests cancellation. Monotonic: a render never
// becomes un-aborted. Running effects are not preempted; they observe
// the flag through IsRenderAborted at their own checkpoints.
func (r *TreeRender) SetRenderAborted() {
	if r.aborted.Add(1) == 1 {
		Logger().Debug("render aborted", "render", r.id)
	}
}

// IsRenderAborted reports whether cancellation was requested. Lock-free;
// effects poll it from render kernels.
func (r *TreeRender) IsRenderAborted() bool { return r.aborted.Load() > 0 }

// OutputRequest returns the root request once the main execution has
// completed it, nil before that.
func (r *TreeRender) OutputRequest() *FrameViewRequest {
	r.extrasMu.Lock()
	defer r.extrasMu.Unlock()
	return r.outputRequest
}

// ExtraRequestedResult returns the sampled result for one of the extra
// nodes, nil while it has not been produced.
func (r *TreeRender) ExtraRequestedResult(node *Node) *FrameViewRequest {
	r.extrasMu.Lock()
	defer r.extrasMu.Unlock()
	return r.extras[node]
}

// SetActiveStrokeUpdateArea records the pixel region a paint stroke
// touched since the last render, for the caller to minimize redraws.
func (r *TreeRender) SetActiveStrokeUpdateArea(area RectI) {
	r.extrasMu.Lock()
	r.strokeArea = area
	r.hasStrokeArea = true
	r.extrasMu.Unlock()
}

// ActiveStrokeUpdateArea returns the recorded stroke update region.
func (r *TreeRender) ActiveStrokeUpdateArea() (RectI, bool) {
	r.extrasMu.Lock()
	defer r.extrasMu.Unlock()
	return r.strokeArea, r.hasStrokeArea
}

// setResults is the funnel every completed task reports through.
// Failures stick to the render state. The request is stored as the
// render's output when its effect is the root, and fills the extra slot
// of its node when one exists and is still empty.
func (r *TreeRender) setResults(req *FrameViewRequest, stat Status) {
	if IsFailure(stat) {
		r.setState(stat)
	}
	if req == nil {
		return
	}

	r.extrasMu.Lock()
	defer r.extrasMu.Unlock()
	node := req.Effect().Node()
	if r.root != nil && node == r.root.Node() {
		r.outputRequest = req
		return
	}
	if cur, ok := r.extras[node]; ok && cur == nil {
		r.extras[node] = req
		Logger().Debug("extra result filled", "render", r.id, "node", node.Name())
	}
}

// getOrCreateRequest returns the render's request for the given
// coordinates, allocating it on first use. Requests are shared between
// the main execution and sub-executions.
func (r *TreeRender) getOrCreateRequest(clone Effect, t TimeValue, v ViewIdx, plane ImagePlane, roi RectD, scale RenderScale, mip uint32) *FrameViewRequest {
	key := requestKey{effect: clone, plane: plane.ID(), roi: roi, scale: scale, mip: mip}
	r.requestsMu.Lock()
	defer r.requestsMu.Unlock()
	if req, ok := r.requests[key]; ok {
		return req
	}
	req := newFrameViewRequest(clone, t, v, plane, roi, scale, mip)
	r.requests[key] = req
	return req
}

// CreateMainExecution plans the render's root request and returns the
// main execution. Exactly one main execution exists per tree render; a
// second call is a programming error and returns the first one.
func (r *TreeRender) CreateMainExecution() *ExecutionData {
	r.execMu.Lock()
	if r.mainExec != nil {
		exec := r.mainExec
		r.execMu.Unlock()
		Logger().Warn("main execution requested twice", "render", r.id)
		return exec
	}
	r.execMu.Unlock()

	exec := r.newExecution(true, r.root, r.time, r.view, r.proxyScale, r.mipMapLevel, r.plane, r.canonicalRoI)

	r.execMu.Lock()
	if r.mainExec == nil {
		r.mainExec = exec
		r.executions = append(r.executions, exec)
	} else {
		exec = r.mainExec
	}
	r.execMu.Unlock()
	return exec
}

// MainExecution returns the main execution, nil before
// CreateMainExecution.
func (r *TreeRender) MainExecution() *ExecutionData {
	r.execMu.Lock()
	defer r.execMu.Unlock()
	return r.mainExec
}

// CreateSubExecution plans an auxiliary request that shares this
// render's clones and requests. A nil root renders the tree root again,
// typically at a different scale or region; a non-nil root samples
// another node of the tree. Sub-executions never clean up clones; only
// the tree render's own cleanup does.
func (r *TreeRender) CreateSubExecution(root Effect, t TimeValue, v ViewIdx, proxyScale RenderScale, mip uint32, plane *ImagePlane, roi *RectD) *ExecutionData {
	if root == nil {
		root = r.root
	}
	exec := r.newExecution(false, root, t, v, proxyScale, mip, plane, roi)
	r.execMu.Lock()
	r.executions = append(r.executions, exec)
	r.execMu.Unlock()
	return exec
}

// ExtraResultsExecutions returns one sub-execution per extra node whose
// result the main execution did not produce opportunistically. Nodes on
// the main path, or satisfied from the image cache during planning,
// need no extra pass, so the returned list is often empty. Call after
// the main execution has finished.
func (r *TreeRender) ExtraResultsExecutions() []*ExecutionData {
	r.extrasMu.Lock()
	missing := make([]*Node, 0, len(r.extras))
	for node, req := range r.extras {
		if req == nil {
			missing = append(missing, node)
		}
	}
	r.extrasMu.Unlock()
	sort.Slice(missing, func(i, j int) bool { return missing[i].Name() < missing[j].Name() })

	execs := make([]*ExecutionData, 0, len(missing))
	for _, node := range missing {
		effect := node.Effect()
		if effect == nil {
			Logger().Warn("extra node has no effect", "render", r.id, "node", node.Name())
			continue
		}
		execs = append(execs, r.CreateSubExecution(effect, r.time, r.view, r.proxyScale, r.mipMapLevel, nil, nil))
	}
	return execs
}

// newExecution builds and plans one execution. Planning failures are
// captured into the execution's status (and, for the main execution,
// into the render state) rather than propagated.
func (r *TreeRender) newExecution(isMain bool, root Effect, t TimeValue, v ViewIdx, proxyScale RenderScale, mip uint32, plane *ImagePlane, roi *RectD) *ExecutionData {
	exec := newExecutionData(r, isMain, normalizeScale(proxyScale), mip)

	if st := r.Status(); IsFailure(st) {
		exec.status = st
		return exec
	}

	stat := func() (stat Status) {
		defer func() {
			if p := recover(); p != nil {
				Logger().Warn("panic during render planning", "render", r.id, "panic", fmt.Sprint(p))
				stat = StatusFailed
			}
		}()
		return r.planExecution(exec, root, t, v, plane, roi)
	}()

	if IsFailure(stat) {
		exec.mu.Lock()
		exec.status = stat
		exec.ready.clear()
		exec.mu.Unlock()
		if isMain {
			r.setState(stat)
		}
	}
	return exec
}

// planExecution resolves the plane and region to render, then runs the
// recursive planning pass from the root.
func (r *TreeRender) planExecution(exec *ExecutionData, root Effect, t TimeValue, v ViewIdx, plane *ImagePlane, roi *RectD) Status {
	rootClone, err := r.renderClone(root, t, v)
	if err != nil {
		Logger().Warn("root clone creation failed", "render", r.id, "err", err)
		return StatusFailed
	}

	if plane == nil {
		planes, stat := rootClone.ProducedPlanes(t, v)
		if IsFailure(stat) {
			return stat
		}
		if len(planes) == 0 {
			Logger().Warn("root effect produces no planes", "render", r.id, "node", root.Node().Name())
			return StatusFailed
		}
		plane = &planes[0]
	}
	exec.plane = *plane

	if roi == nil {
		rod, stat := rootClone.RegionOfDefinition(t, v, CombinedScale(exec.proxyScale, exec.mipMapLevel))
		if IsFailure(stat) {
			return stat
		}
		roi = &rod
	}
	exec.canonicalRoI = *roi

	out, stat := exec.RequestRenderOnInput(nil, root, t, v, exec.plane, exec.canonicalRoI)
	if IsFailure(stat) {
		return stat
	}

	exec.mu.Lock()
	exec.outputRequest = out
	ready := exec.ready.len()
	tasks := len(exec.allTasks)
	exec.mu.Unlock()
	if ready == 0 {
		Logger().Warn("planning produced no dependency-free request",
			"render", r.id, "node", root.Node().Name(), "tasks", tasks)
		return StatusFailed
	}
	Logger().Debug("execution planned",
		"render", r.id,
		"node", root.Node().Name(),
		"main", exec.isMain,
		"tasks", tasks,
		"ready", ready)
	return StatusOK
}
