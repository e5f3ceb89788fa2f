package treerender

import "testing"

func TestReadyQueue_PriorityOrder(t *testing.T) {
	var q readyQueue
	low := newTestRequest("low")
	mid := newTestRequest("mid")
	high := newTestRequest("high")

	q.push(low, 0)
	q.push(high, 5)
	q.push(mid, 2)

	want := []*FrameViewRequest{high, mid, low}
	for i, w := range want {
		got := q.pop()
		if got != w {
			t.Fatalf("pop %d = %s, want %s", i, got.Effect().Node(), w.Effect().Node())
		}
	}
	if q.pop() != nil {
		t.Error("pop on empty queue should return nil")
	}
}

func TestReadyQueue_TieBreakIsInsertionOrder(t *testing.T) {
	var q readyQueue
	first := newTestRequest("first")
	second := newTestRequest("second")
	third := newTestRequest("third")

	q.push(first, 1)
	q.push(second, 1)
	q.push(third, 1)

	for i, w := range []*FrameViewRequest{first, second, third} {
		if got := q.pop(); got != w {
			t.Fatalf("pop %d = %s, want %s", i, got.Effect().Node(), w.Effect().Node())
		}
	}
}

func TestReadyQueue_Clear(t *testing.T) {
	var q readyQueue
	q.push(newTestRequest("A"), 0)
	q.push(newTestRequest("B"), 3)

	q.clear()
	if got := q.len(); got != 0 {
		t.Errorf("len after clear = %d, want 0", got)
	}
	if q.pop() != nil {
		t.Error("pop after clear should return nil")
	}
}
