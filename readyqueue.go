package treerender

import "container/heap"

// readyQueue holds the dependency-free requests of one execution, ordered
// so that requests with more listeners come out first: finishing them
// frees more downstream work. Ties break by insertion order. The priority
// is snapshotted at insertion; it is a dispatch heuristic, not a
// correctness requirement, and a total order is all the scheduler needs.
//
// Not safe for concurrent use on its own; the owning execution's mutex
// guards it.
type readyQueue struct {
	items readyItems
	seq   uint64
}

type readyItem struct {
	req  *FrameViewRequest
	prio int
	seq  uint64
}

type readyItems []readyItem

func (s readyItems) Len() int { return len(s) }

func (s readyItems) Less(i, j int) bool {
	if s[i].prio != s[j].prio {
		return s[i].prio > s[j].prio
	}
	return s[i].seq < s[j].seq
}

func (s readyItems) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

func (s *readyItems) Push(x any) { *s = append(*s, x.(readyItem)) }

func (s *readyItems) Pop() any {
	old := *s
	n := len(old)
	it := old[n-1]
	old[n-1] = readyItem{}
	*s = old[:n-1]
	return it
}

// push inserts a request with the given priority.
func (q *readyQueue) push(req *FrameViewRequest, prio int) {
	q.seq++
	heap.Push(&q.items, readyItem{req: req, prio: prio, seq: q.seq})
}

// pop removes and returns the request with the highest priority, or nil
// when the queue is empty.
func (q *readyQueue) pop() *FrameViewRequest {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(&q.items).(readyItem).req
}

func (q *readyQueue) len() int { return len(q.items) }

// clear drops every queued request. Used when an execution fails: nothing
// further is dispatched from it.
func (q *readyQueue) clear() { q.items = q.items[:0] }
