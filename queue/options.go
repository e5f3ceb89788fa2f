// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package queue

import "time"

// Option configures a Manager during creation.
//
// Example:
//
//	// Default: slot budget sized to the shared worker pool.
//	m := queue.NewManager()
//
//	// Small budget for a constrained host:
//	m := queue.NewManager(queue.WithWorkers(2))
type Option func(*options)

// options holds optional configuration for Manager creation.
type options struct {
	workers    int
	maxPerTick int
	drain      time.Duration
}

// WithWorkers sets the slot budget: how many render tasks the manager
// keeps in flight across all renders at once. Values below 1 are
// clamped to 1. The default is the shared worker pool's size.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithMaxTasksPerTick caps how many tasks one execution may receive in
// a single scheduling tick. Lower values trade throughput for fairness
// between concurrent renders. The default is the slot budget.
func WithMaxTasksPerTick(n int) Option {
	return func(o *options) {
		o.maxPerTick = n
	}
}

// WithDrainTimeout sets how long AbortRender and Shutdown wait for a
// render's in-flight tasks before declaring them leaked and completing
// the render without them. Values at or below zero keep the default of
// five seconds.
func WithDrainTimeout(d time.Duration) Option {
	return func(o *options) {
		o.drain = d
	}
}
