package native

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gstate/backend"
	"github.com/gogpu/gstate/variant"
)

// Option configures a Backend.
type Option func(*Backend)

// WithAdapterInfo records the adapter the device was created on. It is
// included in log output and returned by AdapterInfo.
func WithAdapterInfo(info gpucontext.AdapterInfo) Option {
	return func(b *Backend) {
		b.adapter = info
	}
}

// WithPipelineCache shares a pipeline cache between backends on the same device.
func WithPipelineCache(c *PipelineCache) Option {
	return func(b *Backend) {
		if c != nil {
			b.pipelines = c
		}
	}
}

// Backend compiles variants into HAL pipelines and reports binds to an
// armed capture sink.
//
// Backend is safe for concurrent use.
type Backend struct {
	device    hal.Device
	lib       *ShaderLibrary
	pipelines *PipelineCache
	adapter   gpucontext.AdapterInfo

	layout hal.PipelineLayout

	mu        sync.Mutex
	sink      backend.VariantSink
	destroyed bool

	binds  atomic.Int64
	stalls atomic.Int64

	logger atomic.Pointer[slog.Logger]
}

// New creates a backend compiling shaders from lib on device.
func New(device hal.Device, lib *ShaderLibrary, opts ...Option) (*Backend, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	if lib == nil {
		return nil, ErrNilLibrary
	}

	b := &Backend{
		device:    device,
		lib:       lib,
		pipelines: NewPipelineCache(),
		adapter:   gpucontext.AdapterInfo{Name: "unknown", Type: gpucontext.AdapterTypeUnknown},
	}
	for _, opt := range opts {
		opt(b)
	}

	// Variants carry no resource bindings; all pipelines share an empty layout.
	layout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "gstate-variant-layout",
	})
	if err != nil {
		return nil, fmt.Errorf("native: create pipeline layout: %w", err)
	}
	b.layout = layout

	return b, nil
}

// Register creates a backend and registers it as backend.BackendNative.
func Register(device hal.Device, lib *ShaderLibrary, opts ...Option) (*Backend, error) {
	b, err := New(device, lib, opts...)
	if err != nil {
		return nil, err
	}
	backend.Register(backend.BackendNative, func() backend.Backend { return b })
	return b, nil
}

// Name returns backend.BackendNative.
func (b *Backend) Name() string {
	return backend.BackendNative
}

// AdapterInfo returns the adapter the backend runs on.
func (b *Backend) AdapterInfo() gpucontext.AdapterInfo {
	return b.adapter
}

// Library returns the shader library.
func (b *Backend) Library() *ShaderLibrary {
	return b.lib
}

// Pipelines returns the pipeline cache.
func (b *Backend) Pipelines() *PipelineCache {
	return b.pipelines
}

// SetLogger sets the logger for backend diagnostics.
func (b *Backend) SetLogger(l *slog.Logger) {
	b.logger.Store(l)
}

func (b *Backend) log() *slog.Logger {
	if l := b.logger.Load(); l != nil {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// BeginCapture arms capture.
func (b *Backend) BeginCapture(sink backend.VariantSink) error {
	if sink == nil {
		return backend.ErrNilSink
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return ErrDestroyed
	}
	if b.sink != nil {
		return backend.ErrCaptureActive
	}
	b.sink = sink
	return nil
}

// EndCapture disarms capture. It is a no-op when no capture is armed.
func (b *Backend) EndCapture() error {
	b.mu.Lock()
	b.sink = nil
	b.mu.Unlock()
	return nil
}

// BindPipeline returns the pipeline for d, compiling it if it was never
// warmed. The variant is reported to the armed capture sink first.
func (b *Backend) BindPipeline(ctx context.Context, d variant.Descriptor) (Pipeline, error) {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if sink != nil {
		sink.OnVariantBound(d)
	}
	b.binds.Add(1)

	p, created, err := b.pipeline(ctx, d)
	if err != nil {
		return Pipeline{}, err
	}
	if created {
		b.stalls.Add(1)
		b.log().Debug("native: pipeline compiled at bind", "variant", d.String())
	}
	return p, nil
}

// CompileAndCache compiles d into the pipeline cache. Already cached
// variants return immediately.
func (b *Backend) CompileAndCache(ctx context.Context, d variant.Descriptor) error {
	_, created, err := b.pipeline(ctx, d)
	if err != nil {
		return err
	}
	if created {
		b.log().Debug("native: pipeline warmed", "variant", d.String(), "adapter", b.adapter.Name)
	}
	return nil
}

// IsCached reports whether d has a compiled pipeline.
func (b *Backend) IsCached(d variant.Descriptor) bool {
	return b.pipelines.Contains(d.Key())
}

// Binds returns the number of BindPipeline calls.
func (b *Backend) Binds() int64 {
	return b.binds.Load()
}

// Stalls returns the number of binds that had to compile.
func (b *Backend) Stalls() int64 {
	return b.stalls.Load()
}

// Destroy releases every pipeline and the shared layout. Capture is
// disarmed and later compiles fail with ErrDestroyed.
func (b *Backend) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	b.sink = nil
	b.mu.Unlock()

	b.pipelines.DestroyAll(b.device)
	if b.layout != nil {
		b.device.DestroyPipelineLayout(b.layout)
		b.layout = nil
	}
}

func (b *Backend) pipeline(ctx context.Context, d variant.Descriptor) (Pipeline, bool, error) {
	if err := ctx.Err(); err != nil {
		return Pipeline{}, false, err
	}
	if err := d.Validate(); err != nil {
		return Pipeline{}, false, fmt.Errorf("%w: %w", backend.ErrUnsupportedVariant, err)
	}

	b.mu.Lock()
	destroyed := b.destroyed
	b.mu.Unlock()
	if destroyed {
		return Pipeline{}, false, ErrDestroyed
	}

	n := d.Normalized()
	return b.pipelines.GetOrCreate(n.Key(), func() (Pipeline, error) {
		switch n.Kind {
		case variant.KindCompute:
			return b.createCompute(&n)
		default:
			return b.createRender(&n)
		}
	})
}

// shaderModule translates one stage and creates its module. The caller
// destroys the module once the pipeline exists.
func (b *Backend) shaderModule(stage variant.Stage, keywords []string) (hal.ShaderModule, error) {
	code, err := b.lib.SPIRV(stage.Shader, keywords)
	if err != nil {
		return nil, err
	}
	module, err := b.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  stage.String(),
		Source: hal.ShaderSource{SPIRV: code},
	})
	if err != nil {
		return nil, fmt.Errorf("native: create shader module %s: %w", stage, err)
	}
	return module, nil
}

func (b *Backend) createCompute(d *variant.Descriptor) (Pipeline, error) {
	if err := b.lib.CheckKeywords(d.Keywords, d.Compute.Shader); err != nil {
		return Pipeline{}, fmt.Errorf("%w: %w", backend.ErrUnsupportedVariant, err)
	}

	module, err := b.shaderModule(d.Compute, d.Keywords)
	if err != nil {
		return Pipeline{}, err
	}
	defer b.device.DestroyShaderModule(module)

	p, err := b.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   d.String(),
		Layout:  b.layout,
		Compute: hal.ComputeState{Module: module, EntryPoint: d.Compute.EntryPoint},
	})
	if err != nil {
		return Pipeline{}, fmt.Errorf("native: create compute pipeline: %w", err)
	}
	return Pipeline{Compute: p}, nil
}

func (b *Backend) createRender(d *variant.Descriptor) (Pipeline, error) {
	shaders := []string{d.Vertex.Shader}
	if d.Fragment.Shader != "" {
		shaders = append(shaders, d.Fragment.Shader)
	}
	if err := b.lib.CheckKeywords(d.Keywords, shaders...); err != nil {
		return Pipeline{}, fmt.Errorf("%w: %w", backend.ErrUnsupportedVariant, err)
	}

	vs, err := b.shaderModule(d.Vertex, d.Keywords)
	if err != nil {
		return Pipeline{}, err
	}
	defer b.device.DestroyShaderModule(vs)

	desc := &hal.RenderPipelineDescriptor{
		Label:  d.String(),
		Layout: b.layout,
		Vertex: hal.VertexState{
			Module:     vs,
			EntryPoint: d.Vertex.EntryPoint,
			Buffers:    d.VertexBuffers,
		},
		Primitive: gputypes.PrimitiveState{
			Topology:  d.Topology,
			FrontFace: d.FrontFace,
			CullMode:  d.CullMode,
		},
		Multisample: gputypes.MultisampleState{
			Count: d.SampleCount,
			Mask:  ^uint64(0),
		},
	}

	if d.DepthFormat != gputypes.TextureFormatUndefined {
		desc.DepthStencil = &hal.DepthStencilState{
			Format:            d.DepthFormat,
			DepthWriteEnabled: d.DepthWriteEnabled,
			DepthCompare:      d.DepthCompare,
			StencilReadMask:   0xFF,
			StencilWriteMask:  0xFF,
		}
	}

	if d.Fragment.Shader != "" {
		fs, err := b.shaderModule(d.Fragment, d.Keywords)
		if err != nil {
			return Pipeline{}, err
		}
		defer b.device.DestroyShaderModule(fs)

		frag := &hal.FragmentState{Module: fs, EntryPoint: d.Fragment.EntryPoint}
		if d.ColorFormat != gputypes.TextureFormatUndefined {
			frag.Targets = []gputypes.ColorTargetState{{
				Format:    d.ColorFormat,
				Blend:     d.Blend,
				WriteMask: gputypes.ColorWriteMaskAll,
			}}
		}
		desc.Fragment = frag
	}

	p, err := b.device.CreateRenderPipeline(desc)
	if err != nil {
		return Pipeline{}, fmt.Errorf("native: create render pipeline: %w", err)
	}
	return Pipeline{Render: p}, nil
}

// Compile-time interface check.
var _ backend.Backend = (*Backend)(nil)
