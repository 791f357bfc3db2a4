// Package backend defines the boundary between variant tracing/warm-up and
// the rendering system that actually binds and compiles pipelines.
//
// A Backend reports the pipeline variants it binds to a VariantSink while
// capture is active, and builds cached pipelines on request during warm-up.
//
// # Backend Registration
//
// Backends are registered by name and selected at runtime. The in-memory
// backend is registered on import:
//
//	import _ "github.com/gogpu/gstate/backend"
//
// Backends that need a device are registered by the host once the device
// exists:
//
//	backend.Register(backend.BackendNative, func() backend.Backend {
//		return native.New(device, library)
//	})
//
// # Backend Selection
//
// Use Default() to get the best available backend, or Get() to request
// a specific backend by name:
//
//	b := backend.Default()
//	b := backend.Get("memory")
//
// # Available Backends
//
//   - "native": gogpu/wgpu HAL device, WGSL compiled with naga (backend/native)
//   - "memory": in-process bookkeeping only (always available)
package backend
