package treerender

import (
	"sync"
	"sync/atomic"
	"time"
)

// RenderStats accumulates per-node timing for one tree render. Pass one
// in Args to opt in; collection costs one map insert per finished task.
//
// Thread Safety: safe for concurrent use; runnables on different workers
// record into the same sink.
type RenderStats struct {
	tasks atomic.Int64

	mu      sync.Mutex
	perNode map[*Node]time.Duration
}

// NewRenderStats creates an empty stats sink.
func NewRenderStats() *RenderStats {
	return &RenderStats{perNode: make(map[*Node]time.Duration)}
}

// AddNodeRenderTime adds d to the accumulated render time of node and
// counts one finished task.
func (s *RenderStats) AddNodeRenderTime(node *Node, d time.Duration) {
	s.tasks.Add(1)
	s.mu.Lock()
	s.perNode[node] += d
	s.mu.Unlock()
}

// NodeRenderTime returns the accumulated render time of node.
func (s *RenderStats) NodeRenderTime(node *Node) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perNode[node]
}

// TasksRendered returns how many tasks recorded timing so far.
func (s *RenderStats) TasksRendered() int64 { return s.tasks.Load() }

// StatsSnapshot is a point-in-time copy of collected render statistics.
type StatsSnapshot struct {
	Tasks   int64
	Total   time.Duration
	PerNode map[string]time.Duration
}

// Snapshot returns a copy of the statistics, keyed by node name.
func (s *RenderStats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Tasks:   s.tasks.Load(),
		PerNode: make(map[string]time.Duration),
	}
	s.mu.Lock()
	for node, d := range s.perNode {
		snap.PerNode[node.Name()] += d
		snap.Total += d
	}
	s.mu.Unlock()
	return snap
}
