// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package cache provides the default image cache for the tree render
// engine: a sharded, byte-budgeted LRU over rendered results.
//
// Register an instance to let planning passes satisfy requests without
// scheduling work:
//
//	treerender.RegisterImageCache(cache.New(512 << 20))
package cache

import (
	"hash/fnv"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gogpu/treerender"
)

// Default configuration constants.
const (
	// shardCount is the number of shards for reduced lock contention.
	// Must be a power of 2 for fast modulo via bitwise AND.
	shardCount = 16

	// shardMask is used for fast shard selection.
	shardMask = shardCount - 1

	// DefaultMaxBytes is the cache budget used when New is given a
	// non-positive size.
	DefaultMaxBytes = 256 << 20

	// metadataCost is charged for results that carry no CPU pixels,
	// covering the entry bookkeeping itself.
	metadataCost = 256
)

// ImageCache is a thread-safe, sharded LRU cache of rendered images,
// evicting by accumulated byte size rather than entry count: one 4K
// frame should not weigh the same as one thumbnail.
//
// Features:
//   - 16 shards for reduced lock contention
//   - LRU eviction against a per-shard byte budget
//   - Atomic statistics for monitoring
//
// ImageCache implements treerender.ImageCache.
type ImageCache struct {
	shards        [shardCount]*imageShard
	maxShardBytes int64

	// Statistics (atomic for zero-allocation reads)
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// imageShard is a single shard: a key index plus an intrusive LRU list
// threaded through the entries. Head is the most recently used.
type imageShard struct {
	mu      sync.Mutex
	entries map[treerender.ImageKey]*imageEntry
	head    *imageEntry
	tail    *imageEntry
	bytes   int64
}

type imageEntry struct {
	key  treerender.ImageKey
	img  *treerender.ImageResult
	cost int64
	prev *imageEntry
	next *imageEntry
}

// New creates an image cache bounded to approximately maxBytes across
// all shards. A non-positive size selects DefaultMaxBytes.
func New(maxBytes int64) *ImageCache {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	c := &ImageCache{maxShardBytes: maxBytes / shardCount}
	if c.maxShardBytes < metadataCost {
		c.maxShardBytes = metadataCost
	}
	for i := range c.shards {
		c.shards[i] = &imageShard{entries: make(map[treerender.ImageKey]*imageEntry)}
	}
	return c
}

// Get retrieves a cached image. On a hit the entry becomes the most
// recently used one of its shard.
func (c *ImageCache) Get(key treerender.ImageKey) (*treerender.ImageResult, bool) {
	shard := c.shards[keyHash(key)&shardMask]

	shard.mu.Lock()
	entry, ok := shard.entries[key]
	if !ok {
		shard.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	shard.moveToFront(entry)
	img := entry.img
	shard.mu.Unlock()

	c.hits.Add(1)
	return img, true
}

// Put stores an image, evicting least recently used entries until the
// shard fits its byte budget. The image is stored as-is (not copied);
// callers must not modify it after caching.
func (c *ImageCache) Put(key treerender.ImageKey, img *treerender.ImageResult) {
	if img == nil {
		return
	}
	cost := imageCost(img)
	shard := c.shards[keyHash(key)&shardMask]

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if existing, ok := shard.entries[key]; ok {
		shard.bytes += cost - existing.cost
		existing.img = img
		existing.cost = cost
		shard.moveToFront(existing)
	} else {
		entry := &imageEntry{key: key, img: img, cost: cost}
		shard.entries[key] = entry
		shard.pushFront(entry)
		shard.bytes += cost
	}

	for shard.bytes > c.maxShardBytes && shard.tail != nil {
		oldest := shard.tail
		if oldest.prev == nil && shard.bytes <= oldest.cost {
			// A single over-budget entry stays: evicting the image we
			// just stored would make the cache useless for it.
			break
		}
		shard.unlink(oldest)
		delete(shard.entries, oldest.key)
		shard.bytes -= oldest.cost
		c.evictions.Add(1)
	}
}

// Delete removes an entry. Returns true if the entry was found.
func (c *ImageCache) Delete(key treerender.ImageKey) bool {
	shard := c.shards[keyHash(key)&shardMask]

	shard.mu.Lock()
	defer shard.mu.Unlock()
	entry, ok := shard.entries[key]
	if !ok {
		return false
	}
	shard.unlink(entry)
	delete(shard.entries, key)
	shard.bytes -= entry.cost
	return true
}

// Clear removes all entries from the cache.
func (c *ImageCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.entries = make(map[treerender.ImageKey]*imageEntry)
		shard.head = nil
		shard.tail = nil
		shard.bytes = 0
		shard.mu.Unlock()
	}
}

// Len returns the total number of cached images across all shards.
func (c *ImageCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		total += len(shard.entries)
		shard.mu.Unlock()
	}
	return total
}

// SizeBytes returns the accumulated byte cost of all cached images.
func (c *ImageCache) SizeBytes() int64 {
	var total int64
	for _, shard := range c.shards {
		shard.mu.Lock()
		total += shard.bytes
		shard.mu.Unlock()
	}
	return total
}

// Stats is a point-in-time snapshot of cache statistics.
type Stats struct {
	Len       int
	SizeBytes int64
	MaxBytes  int64
	Hits      uint64
	Misses    uint64
	HitRate   float64
	Evictions uint64
}

// Stats returns current cache statistics.
func (c *ImageCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Len:       c.Len(),
		SizeBytes: c.SizeBytes(),
		MaxBytes:  c.maxShardBytes * shardCount,
		Hits:      hits,
		Misses:    misses,
		HitRate:   hitRate,
		Evictions: c.evictions.Load(),
	}
}

// ResetStats resets all statistics counters to zero.
func (c *ImageCache) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
}

// moveToFront makes an existing entry the most recently used.
func (s *imageShard) moveToFront(e *imageEntry) {
	if e == s.head {
		return
	}
	s.unlink(e)
	s.pushFront(e)
}

// pushFront inserts an unlinked entry at the head.
func (s *imageShard) pushFront(e *imageEntry) {
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

// unlink removes an entry from the list, clearing its pointers.
func (s *imageShard) unlink(e *imageEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		s.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

// imageCost estimates the resident size of a result in bytes.
func imageCost(img *treerender.ImageResult) int64 {
	if img.Pix == nil {
		return metadataCost
	}
	return int64(len(img.Pix.Pix)) + metadataCost
}

// keyHash computes an FNV-1a hash over the identifying fields of a key,
// for shard selection.
func keyHash(k treerender.ImageKey) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(k.Node))
	_, _ = h.Write([]byte(k.Plane))

	var buf [8]byte
	writeUint64 := func(u uint64) {
		for i := range buf {
			buf[i] = byte(u >> (8 * i))
		}
		_, _ = h.Write(buf[:]) // fnv.Write never returns an error
	}
	writeUint64(math.Float64bits(float64(k.Time)))
	writeUint64(uint64(int64(k.View)))
	writeUint64(math.Float64bits(k.Scale.X))
	writeUint64(math.Float64bits(k.Scale.Y))
	writeUint64(uint64(k.MipMapLevel))
	writeUint64(math.Float64bits(k.RoI.X1))
	writeUint64(math.Float64bits(k.RoI.Y1))
	writeUint64(math.Float64bits(k.RoI.X2))
	writeUint64(math.Float64bits(k.RoI.Y2))
	if k.Draft {
		writeUint64(1)
	}
	return h.Sum64()
}
