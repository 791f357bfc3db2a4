package gstate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gstate/backend"
)

// DefaultReportInterval is the period of the variant count diagnostic.
const DefaultReportInterval = time.Second

// TracerConfig configures a Tracer.
type TracerConfig struct {
	// ReportInterval is the period of the variant count diagnostic.
	// Zero or negative disables the diagnostic loop.
	ReportInterval time.Duration

	// LogVariantCount logs the count on every diagnostic wake. The
	// trace gauge is updated either way.
	LogVariantCount bool

	// SavePath is where End persists the collection. Empty means the
	// collection is released instead.
	SavePath string
}

// Tracer drives one trace span over a collection: Idle, Tracing, Idle.
type Tracer struct {
	capturer backend.Capturer
	cfg      TracerConfig

	coll atomic.Pointer[Collection]

	mu sync.Mutex
	// traced is the collection Begin armed. End disarms it even after
	// Release.
	traced   *Collection
	stop     chan struct{}
	loopDone chan struct{}
}

// NewTracer creates a tracer that captures from capturer into c.
func NewTracer(c *Collection, capturer backend.Capturer, cfg TracerConfig) *Tracer {
	t := &Tracer{capturer: capturer, cfg: cfg}
	t.coll.Store(c)
	return t
}

// Collection returns the traced collection, or nil once released.
func (t *Tracer) Collection() *Collection {
	return t.coll.Load()
}

// Release drops the collection. A running diagnostic loop exits at its
// next wake. An active trace stays armed until End, which then disarms it
// without saving.
func (t *Tracer) Release() {
	t.coll.Store(nil)
}

// Begin starts tracing. It is a no-op if the collection is already tracing.
// The diagnostic loop runs until End, Release or ctx cancellation.
func (t *Tracer) Begin(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.coll.Load()
	if c == nil {
		return ErrReleased
	}
	if c.IsTracing() {
		Logger().Warn("gstate: trace already active")
		return nil
	}
	if err := c.BeginTrace(t.capturer); err != nil {
		return err
	}
	t.traced = c
	traceVariants.Set(float64(c.VariantCount()))
	Logger().Info("gstate: trace started")

	if t.cfg.ReportInterval > 0 {
		t.stop = make(chan struct{})
		t.loopDone = make(chan struct{})
		go t.report(ctx, t.stop, t.loopDone)
	}
	return nil
}

// report samples the variant count until stopped. It never mutates the
// collection.
func (t *Tracer) report(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.cfg.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c := t.coll.Load()
		if c == nil {
			return
		}
		n := c.VariantCount()
		traceVariants.Set(float64(n))
		if t.cfg.LogVariantCount {
			Logger().Info("gstate: variant count", "variants", n)
		}
	}
}

// End closes the trace span. The diagnostic loop is stopped and joined
// before capture is disarmed. The version is reset, then the collection is
// saved to SavePath (creating its directory) or released.
// End without a preceding Begin is a no-op.
func (t *Tracer) End() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop != nil {
		close(t.stop)
		<-t.loopDone
		t.stop, t.loopDone = nil, nil
	}
	c := t.traced
	if c == nil {
		return nil
	}
	t.traced = nil

	endErr := c.EndTrace()
	c.resetVersion()
	n := c.VariantCount()
	traceVariants.Set(float64(n))
	Logger().Info("gstate: trace ended", "variants", n)

	if t.coll.Load() == nil {
		Logger().Debug("gstate: collection released before end, not saving")
		return endErr
	}
	if t.cfg.SavePath == "" {
		t.Release()
		return endErr
	}

	if err := os.MkdirAll(filepath.Dir(t.cfg.SavePath), 0o755); err != nil {
		observeIO(opSave, err)
		Logger().Error("gstate: create collection directory", "path", t.cfg.SavePath, "error", err)
		return fmt.Errorf("gstate: save %s: %w", t.cfg.SavePath, err)
	}
	if err := c.SaveToFile(t.cfg.SavePath); err != nil {
		Logger().Error("gstate: save collection", "path", t.cfg.SavePath, "error", err)
		return err
	}
	return endErr
}
