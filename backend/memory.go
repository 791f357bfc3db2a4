package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gstate/variant"
)

// Backend name constants.
const (
	// BackendNative is the name of the gogpu/wgpu HAL backend.
	BackendNative = "native"
	// BackendMemory is the name of the in-process bookkeeping backend.
	BackendMemory = "memory"
)

// MemoryBackend is a backend that keeps its pipeline cache as a set of
// descriptor keys. It compiles nothing, which makes it useful for tests,
// dry runs and hosts that only want to record variants.
//
// Bind plays the role of the host's draw path: it binds a pipeline, building
// it on a cache miss (a first-use stall) and reporting it to the capture sink.
//
// Thread safety: MemoryBackend is safe for concurrent use.
type MemoryBackend struct {
	mu     sync.Mutex
	sink   VariantSink
	cached map[variant.Key]struct{}

	failFn func(variant.Descriptor) error
	delay  time.Duration

	attempts atomic.Int64
	binds    atomic.Int64
	stalls   atomic.Int64

	logger atomic.Pointer[slog.Logger]
}

// init registers the memory backend on package import.
func init() {
	Register(BackendMemory, func() Backend {
		return NewMemoryBackend()
	})
}

// NewMemoryBackend creates an empty memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		cached: make(map[variant.Key]struct{}),
	}
}

// Name returns the backend identifier.
func (m *MemoryBackend) Name() string {
	return BackendMemory
}

// SetLogger sets the logger used for per-bind diagnostics.
func (m *MemoryBackend) SetLogger(l *slog.Logger) {
	m.logger.Store(l)
}

// BeginCapture attaches sink.
func (m *MemoryBackend) BeginCapture(sink VariantSink) error {
	if sink == nil {
		return ErrNilSink
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sink != nil {
		return ErrCaptureActive
	}
	m.sink = sink
	return nil
}

// EndCapture detaches the sink.
func (m *MemoryBackend) EndCapture() error {
	m.mu.Lock()
	m.sink = nil
	m.mu.Unlock()
	return nil
}

// Capturing reports whether a sink is attached.
func (m *MemoryBackend) Capturing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sink != nil
}

// Bind binds the pipeline for d as a draw call would. A cache miss builds
// the pipeline on the calling goroutine and counts as a stall.
func (m *MemoryBackend) Bind(d variant.Descriptor) {
	key := d.Key()
	m.binds.Add(1)

	m.mu.Lock()
	_, hit := m.cached[key]
	if !hit {
		m.cached[key] = struct{}{}
	}
	sink := m.sink
	m.mu.Unlock()

	if !hit {
		m.stalls.Add(1)
		if l := m.logger.Load(); l != nil {
			l.Debug("memory: pipeline built on bind", "variant", d.String())
		}
	}
	if sink != nil {
		sink.OnVariantBound(d)
	}
}

// CompileAndCache marks d as cached. It honours the configured delay and
// failure function, and returns ctx.Err() if ctx is done first.
func (m *MemoryBackend) CompileAndCache(ctx context.Context, d variant.Descriptor) error {
	m.attempts.Add(1)

	if err := d.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedVariant, err)
	}

	m.mu.Lock()
	failFn, delay := m.failFn, m.delay
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if failFn != nil {
		if err := failFn(d); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.cached[d.Key()] = struct{}{}
	m.mu.Unlock()
	return nil
}

// SetFailFunc installs a function consulted by CompileAndCache. A non-nil
// result fails that compile. Pass nil to remove it.
func (m *MemoryBackend) SetFailFunc(fn func(variant.Descriptor) error) {
	m.mu.Lock()
	m.failFn = fn
	m.mu.Unlock()
}

// SetCompileDelay makes every CompileAndCache take at least d.
func (m *MemoryBackend) SetCompileDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

// IsCached reports whether the pipeline for d is cached.
func (m *MemoryBackend) IsCached(d variant.Descriptor) bool {
	key := d.Key()
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cached[key]
	return ok
}

// CachedCount returns the number of cached pipelines.
func (m *MemoryBackend) CachedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cached)
}

// Attempts returns the number of CompileAndCache calls so far.
func (m *MemoryBackend) Attempts() int64 {
	return m.attempts.Load()
}

// Binds returns the number of Bind calls so far.
func (m *MemoryBackend) Binds() int64 {
	return m.binds.Load()
}

// Stalls returns the number of binds that had to build their pipeline.
func (m *MemoryBackend) Stalls() int64 {
	return m.stalls.Load()
}
