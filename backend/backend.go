package backend

import (
	"context"
	"errors"

	"github.com/gogpu/gstate/variant"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrCaptureActive is returned by BeginCapture when a sink is already attached.
	ErrCaptureActive = errors.New("backend: capture already active")

	// ErrNilSink is returned by BeginCapture when the sink is nil.
	ErrNilSink = errors.New("backend: nil variant sink")

	// ErrUnsupportedVariant is returned by CompileAndCache when the backend
	// cannot build the described pipeline.
	ErrUnsupportedVariant = errors.New("backend: unsupported variant")
)

// VariantSink receives every pipeline variant the backend binds while
// capture is active.
//
// OnVariantBound may be called from any goroutine that drives the backend,
// concurrently with other calls.
type VariantSink interface {
	OnVariantBound(d variant.Descriptor)
}

// Capturer is the capture half of a backend.
type Capturer interface {
	// BeginCapture attaches sink. From the moment BeginCapture returns until
	// EndCapture is called, every pipeline bind is reported to sink.
	BeginCapture(sink VariantSink) error

	// EndCapture detaches the sink. It is a no-op when capture is inactive.
	EndCapture() error
}

// Compiler is the warm-up half of a backend.
type Compiler interface {
	// CompileAndCache builds the pipeline for d and stores it in the
	// backend's pipeline cache. It is idempotent: a descriptor that is
	// already cached returns nil without rebuilding.
	//
	// CompileAndCache must be safe for concurrent use.
	CompileAndCache(ctx context.Context, d variant.Descriptor) error
}

// Backend is the capability boundary to the rendering system.
//
// Backends are registered via Register() and selected via Get() or Default().
type Backend interface {
	// Name returns the backend identifier (e.g., "native", "memory").
	Name() string

	Capturer
	Compiler
}
