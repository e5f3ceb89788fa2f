package treerender

import (
	"errors"
	"fmt"
)

// ErrRenderFinished indicates a planning call arrived after the render's
// clones were already cleaned up.
var ErrRenderFinished = errors.New("treerender: render clones already cleaned up")

// cloneKey addresses one render clone within a tree render.
type cloneKey struct {
	effect Effect
	time   TimeValue
	view   ViewIdx
}

// renderClone returns the render clone of original for (t, v) within
// this render, creating and registering it on first use. Creation is
// idempotent per key: concurrent callers share one NewRenderClone call
// and get the same clone back.
func (r *TreeRender) renderClone(original Effect, t TimeValue, v ViewIdx) (Effect, error) {
	if original == nil {
		return nil, ErrNilRootEffect
	}
	if original.IsRenderClone() {
		return nil, fmt.Errorf("treerender: effect %s is already a render clone", original.Node())
	}

	key := cloneKey{effect: original, time: t, view: v}
	r.clonesMu.Lock()
	if r.clonesCleaned {
		r.clonesMu.Unlock()
		return nil, ErrRenderFinished
	}
	if c, ok := r.clones[key]; ok {
		r.clonesMu.Unlock()
		return c, nil
	}
	r.clonesMu.Unlock()

	// The clone's parameter snapshot can be expensive to build, so it is
	// created outside the registry lock; singleflight collapses
	// concurrent creations of the same key.
	sfKey := fmt.Sprintf("%p/%v/%d", original.Node(), float64(t), int(v))
	out, err, _ := r.cloneGroup.Do(sfKey, func() (any, error) {
		r.clonesMu.Lock()
		if c, ok := r.clones[key]; ok {
			r.clonesMu.Unlock()
			return c, nil
		}
		r.clonesMu.Unlock()

		clone, err := original.NewRenderClone(RenderCloneKey{Time: t, View: v, Render: r})
		if err != nil {
			return nil, fmt.Errorf("treerender: cloning %s: %w", original.Node(), err)
		}
		if clone == nil {
			return nil, fmt.Errorf("treerender: effect %s returned a nil render clone", original.Node())
		}

		r.clonesMu.Lock()
		if r.clonesCleaned {
			r.clonesMu.Unlock()
			original.RemoveRenderClone(r)
			return nil, ErrRenderFinished
		}
		r.clones[key] = clone
		r.cloneOrder = append(r.cloneOrder, clone)
		r.clonesMu.Unlock()
		return clone, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(Effect), nil
}

// RegisterRenderClone records a clone created outside the planning path,
// so that CleanupRenderClones reaches it. Effects that clone helper
// effects on their own call this.
func (r *TreeRender) RegisterRenderClone(clone Effect) {
	if clone == nil {
		return
	}
	r.clonesMu.Lock()
	if !r.clonesCleaned {
		r.cloneOrder = append(r.cloneOrder, clone)
	}
	r.clonesMu.Unlock()
}

// CleanupRenderClones asks every effect that was cloned for this render
// to drop the clones again. Idempotent: only the first call does work.
// Sub-executions share clones with the render, so nothing is cleaned up
// before the whole render is done.
func (r *TreeRender) CleanupRenderClones() {
	r.clonesMu.Lock()
	if r.clonesCleaned {
		r.clonesMu.Unlock()
		return
	}
	r.clonesCleaned = true
	clones := r.cloneOrder
	r.cloneOrder = nil
	r.clones = nil
	r.clonesMu.Unlock()

	// One RemoveRenderClone per owning effect, even when it was cloned
	// for several frames.
	seen := make(map[*Node]struct{}, len(clones))
	for _, c := range clones {
		node := c.Node()
		if _, ok := seen[node]; ok {
			continue
		}
		seen[node] = struct{}{}
		if original := node.Effect(); original != nil {
			original.RemoveRenderClone(r)
		}
	}
	Logger().Debug("render clones cleaned up", "render", r.ID(), "clones", len(clones))
}
