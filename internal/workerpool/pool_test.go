// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package workerpool

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_Create(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	if !pool.IsRunning() {
		t.Error("pool should be running after creation")
	}
}

func TestPool_CreateDefaultSize(t *testing.T) {
	pool := New(0)
	defer pool.Close()

	expected := runtime.GOMAXPROCS(0)
	if pool.Workers() != expected {
		t.Errorf("Workers() = %d, want %d (GOMAXPROCS)", pool.Workers(), expected)
	}
}

func TestPool_SubmitExecutesAll(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	const n = 100
	var count atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		pool.Submit(func() {
			count.Add(1)
			wg.Done()
		})
	}
	wg.Wait()

	if got := count.Load(); got != n {
		t.Errorf("executed %d items, want %d", got, n)
	}
}

func TestPool_SubmitNil(t *testing.T) {
	pool := New(2)
	defer pool.Close()
	pool.Submit(nil) // must not panic or hang
}

func TestPool_CloseDrainsQueuedWork(t *testing.T) {
	pool := New(2)

	var count atomic.Int64
	for range 20 {
		pool.Submit(func() {
			time.Sleep(time.Millisecond)
			count.Add(1)
		})
	}
	pool.Close()

	if got := count.Load(); got != 20 {
		t.Errorf("Close() left %d of 20 items unexecuted", 20-got)
	}
	if pool.IsRunning() {
		t.Error("pool reports running after Close")
	}
}

func TestPool_SubmitAfterCloseRunsInline(t *testing.T) {
	pool := New(2)
	pool.Close()

	ran := false
	pool.Submit(func() { ran = true })
	if !ran {
		t.Error("Submit after Close must run the item on the caller")
	}
}

func TestInPoolGoroutine(t *testing.T) {
	pool := New(2)
	defer pool.Close()

	if InPoolGoroutine() {
		t.Error("InPoolGoroutine() = true on the test goroutine")
	}

	result := make(chan bool, 1)
	pool.Submit(func() { result <- InPoolGoroutine() })
	select {
	case got := <-result:
		if !got {
			t.Error("InPoolGoroutine() = false inside a worker")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("submitted work never ran")
	}
}

func TestGlobal(t *testing.T) {
	p1 := Global()
	p2 := Global()
	if p1 != p2 {
		t.Error("Global() returned different pools")
	}
	if p1.Workers() < 1 {
		t.Errorf("global pool has %d workers", p1.Workers())
	}
}

func BenchmarkPool_Submit(b *testing.B) {
	pool := New(runtime.GOMAXPROCS(0))
	defer pool.Close()

	var wg sync.WaitGroup
	b.ResetTimer()
	for range b.N {
		wg.Add(1)
		pool.Submit(func() { wg.Done() })
	}
	wg.Wait()
}
