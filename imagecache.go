package treerender

import "sync"

// ImageKey identifies a rendered image in the cache. Two renders of the
// same node at the same time, view, plane, scale, region and draft
// setting produce interchangeable images.
type ImageKey struct {
	Node        string
	Time        TimeValue
	View        ViewIdx
	Plane       string
	Scale       RenderScale
	MipMapLevel uint32
	RoI         RectD
	Draft       bool
}

// ImageCache stores rendered results across tree renders. The planning
// pass consults it to satisfy requests without scheduling work (unless
// the render bypasses the cache), and completed tasks write through.
//
// The cache package provides the default sharded implementation.
type ImageCache interface {
	Get(key ImageKey) (*ImageResult, bool)
	Put(key ImageKey, img *ImageResult)
}

var (
	imageCacheMu sync.RWMutex
	imageCache   ImageCache
)

// RegisterImageCache registers the cache consulted during planning.
// Registering nil disables caching.
func RegisterImageCache(c ImageCache) {
	imageCacheMu.Lock()
	imageCache = c
	imageCacheMu.Unlock()
}

// ImageCacheInstance returns the registered image cache, or nil.
func ImageCacheInstance() ImageCache {
	imageCacheMu.RLock()
	c := imageCache
	imageCacheMu.RUnlock()
	return c
}

// imageKey builds the cache key for a request rendered under this tree
// render's settings.
func (r *TreeRender) imageKey(req *FrameViewRequest) ImageKey {
	return ImageKey{
		Node:        req.Effect().Node().Name(),
		Time:        req.Time(),
		View:        req.View(),
		Plane:       req.Plane().ID(),
		Scale:       req.ProxyScale(),
		MipMapLevel: req.MipMapLevel(),
		RoI:         req.CanonicalRoI(),
		Draft:       r.draft,
	}
}

// cacheLookup consults the image cache for a request, honoring the
// render's bypass-cache flag.
func (r *TreeRender) cacheLookup(req *FrameViewRequest) (*ImageResult, bool) {
	if r.bypassCache {
		return nil, false
	}
	c := ImageCacheInstance()
	if c == nil {
		return nil, false
	}
	return c.Get(r.imageKey(req))
}

// cacheStore writes a produced image through to the cache. Bypassing the
// cache disables reads only; results stay shareable with later renders.
func (r *TreeRender) cacheStore(req *FrameViewRequest, img *ImageResult) {
	if img == nil {
		return
	}
	c := ImageCacheInstance()
	if c == nil {
		return
	}
	c.Put(r.imageKey(req), img)
}
