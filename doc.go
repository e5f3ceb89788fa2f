// Package treerender schedules node-graph renders for a compositing
// system.
//
// # Overview
//
// treerender is the concurrency core of a node-based compositor in the
// GoGPU ecosystem. Given a directed acyclic graph of image-processing
// effects rooted at an output node, it plans the exact set of per-node
// render tasks a frame needs, tracks the dependencies between them, and
// releases tasks to a shared worker pool as their inputs complete. It
// orchestrates; the effects produce the pixels.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/treerender"
//	    "github.com/gogpu/treerender/queue"
//	)
//
//	m := queue.NewManager()
//	treerender.RegisterQueueManager(m)
//	defer m.Shutdown()
//
//	render := treerender.New(treerender.Args{
//	    Time:     12,
//	    TreeRoot: outputEffect,
//	})
//	m.LaunchRender(render)
//	out, status := m.WaitForRenderFinished(render)
//
// # Architecture
//
// The library is organized into:
//   - Public API: TreeRender, ExecutionData, FrameViewRequest, Effect
//   - Services: queue (default scheduler), cache (image cache),
//     gpu (wgpu-backed context pool)
//   - Internal: workerpool (shared worker goroutines)
//
// A TreeRender owns one main execution and any number of sub-executions
// (auxiliary samples such as color pickers). Each execution is one
// scheduling frontier: the requests still to render and the
// dependency-free subset ready to run. Effects are cloned per render so
// concurrent renders never observe each other's parameter edits.
//
// # Rendering Contexts
//
// At construction a render acquires one GPU and one CPU rendering
// context from the registered pool. Import the gpu package to register
// the wgpu-backed pool:
//
//	import _ "github.com/gogpu/treerender/gpu"
//
// Context acquisition failures are non-fatal; effects that need a
// device fail individually.
//
// # Cancellation
//
// Aborting a render is cooperative: SetRenderAborted raises an atomic
// flag that effects poll from their render kernels. Running kernels are
// never preempted.
package treerender

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
