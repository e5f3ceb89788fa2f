//go:build !nogpu

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpu provides the wgpu-backed rendering context pool for the
// tree render engine.
//
// Importing this package registers a pool that hands out GPU contexts
// backed by gogpu/wgpu devices (Vulkan/Metal/DX12) and CPU contexts
// backed by a software provider:
//
//	import _ "github.com/gogpu/treerender/gpu" // register the pool
//
// If no GPU is available, GPU context requests fail per-call; renders
// proceed and effects that require a device fail individually.
package gpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	types "github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/core"

	"github.com/gogpu/treerender"
)

// ErrNoAdapter indicates no GPU adapter could be acquired on this host.
var ErrNoAdapter = errors.New("gpu: no suitable GPU adapter available")

func init() {
	treerender.RegisterContextPool(NewContextPool())
}

// ContextPool hands out rendering contexts built on one shared wgpu
// instance. GPU contexts each own an adapter/device/queue triple; CPU
// contexts share a software provider with no device handles.
//
// ContextPool implements treerender.ContextPool.
//
// Thread Safety: safe for concurrent use.
type ContextPool struct {
	mu       sync.Mutex
	instance *core.Instance
	contexts []*Context
	lastGPU  *Context
	lastCPU  *Context
	closed   bool
}

// NewContextPool creates a pool. The wgpu instance is created eagerly;
// adapters and devices are requested per context, so construction never
// fails even on GPU-less hosts.
func NewContextPool() *ContextPool {
	return &ContextPool{
		instance: core.NewInstance(&gputypes.InstanceDescriptor{
			Backends: gputypes.BackendsPrimary,
		}),
	}
}

// GPUContext returns a GPU rendering context. With reuseLast set, the
// most recently vended GPU context is returned instead of a fresh one;
// successive paint strokes use this so one drawing session stays on one
// device.
func (p *ContextPool) GPUContext(reuseLast bool) (treerender.RenderContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("gpu: context pool closed")
	}
	if reuseLast && p.lastGPU != nil {
		return p.lastGPU, nil
	}

	ctx, err := p.newGPUContext()
	if err != nil {
		return nil, err
	}
	p.contexts = append(p.contexts, ctx)
	p.lastGPU = ctx
	treerender.Logger().Info("GPU context acquired", "contexts", len(p.contexts))
	return ctx, nil
}

// CPUContext returns a CPU rendering context. CPU contexts are cheap
// and stateless, so reuseLast only affects identity, not resources.
func (p *ContextPool) CPUContext(reuseLast bool) (treerender.RenderContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("gpu: context pool closed")
	}
	if reuseLast && p.lastCPU != nil {
		return p.lastCPU, nil
	}
	ctx := &Context{
		device: softwareDevice{},
		format: gputypes.TextureFormatRGBA8Unorm,
	}
	p.contexts = append(p.contexts, ctx)
	p.lastCPU = ctx
	return ctx, nil
}

// newGPUContext requests an adapter, creates a device and fetches its
// queue. Caller holds p.mu.
func (p *ContextPool) newGPUContext() (*Context, error) {
	adapterID, err := p.instance.RequestAdapter(&gputypes.RequestAdapterOptions{
		PowerPreference: gputypes.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoAdapter, err)
	}

	deviceID, err := core.RequestDevice(adapterID, &types.DeviceDescriptor{
		Label:          "treerender-device",
		RequiredLimits: types.DefaultLimits(),
	})
	if err != nil {
		_ = core.AdapterDrop(adapterID)
		return nil, fmt.Errorf("gpu: device creation failed: %w", err)
	}

	queueID, err := core.GetDeviceQueue(deviceID)
	if err != nil {
		_ = core.DeviceDrop(deviceID)
		_ = core.AdapterDrop(adapterID)
		return nil, fmt.Errorf("gpu: queue retrieval failed: %w", err)
	}

	return &Context{
		isGPU:   true,
		adapter: adapterID,
		device:  wgpuDevice{id: deviceID},
		queueID: queueID,
		format:  gputypes.TextureFormatBGRA8Unorm,
	}, nil
}

// Close releases every context the pool has vended. Contexts must not
// be used afterwards.
func (p *ContextPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, ctx := range p.contexts {
		ctx.release()
	}
	p.contexts = nil
	p.lastGPU = nil
	p.lastCPU = nil
}

// Context is one rendering context vended by the pool.
//
// Context implements treerender.RenderContext.
type Context struct {
	isGPU   bool
	adapter core.AdapterID
	device  gpucontext.Device
	queueID core.QueueID
	format  gputypes.TextureFormat
}

// IsGPU reports whether the context is backed by a GPU device.
func (c *Context) IsGPU() bool { return c.isGPU }

// Device returns the context's device handle.
func (c *Context) Device() gpucontext.Device { return c.device }

// Queue returns the context's submission queue handle.
func (c *Context) Queue() gpucontext.Queue { return queueHandle{id: c.queueID} }

// Adapter returns the context's adapter handle.
func (c *Context) Adapter() gpucontext.Adapter { return adapterHandle{id: c.adapter} }

// SurfaceFormat returns the texture format effects should render in
// when attached to this context.
func (c *Context) SurfaceFormat() gputypes.TextureFormat { return c.format }

func (c *Context) release() {
	if !c.isGPU {
		return
	}
	c.device.Destroy()
	if !c.adapter.IsZero() {
		_ = core.AdapterDrop(c.adapter)
	}
}

// wgpuDevice adapts a wgpu device ID to gpucontext.Device.
type wgpuDevice struct {
	id core.DeviceID
}

func (d wgpuDevice) Poll(wait bool) {}

func (d wgpuDevice) Destroy() {
	if !d.id.IsZero() {
		_ = core.DeviceDrop(d.id)
	}
}

// softwareDevice is the device handle of CPU contexts. It has no GPU
// resources; effects detect it through RenderContext.IsGPU.
type softwareDevice struct{}

func (softwareDevice) Poll(wait bool) {}
func (softwareDevice) Destroy()       {}

type queueHandle struct {
	id core.QueueID
}

type adapterHandle struct {
	id core.AdapterID
}
