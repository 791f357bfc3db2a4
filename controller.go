package gstate

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gogpu/gstate/backend"
)

// Default configuration values.
const (
	DefaultFileName = "GraphicsStateCollection"
	defaultDirName  = "gstate"
)

// Config configures a Controller.
type Config struct {
	Mode Mode

	// Directory holds the collection file. Empty selects the user cache
	// directory with a warning.
	Directory string

	// FileName is the collection file name without extension.
	FileName string

	// LogVariantCount logs the variant count while tracing.
	LogVariantCount bool

	// ReportInterval is the period of the tracing diagnostic. Zero selects
	// DefaultReportInterval; negative disables it.
	ReportInterval time.Duration

	// Workers is the number of warm-up workers. Zero uses GOMAXPROCS.
	Workers int

	// BatchSize and BatchInterval enable progressive warm-up.
	BatchSize     int
	BatchInterval time.Duration
}

// DefaultConfig returns the default configuration: trace only, default
// file name, variant count logging on, one second report interval.
func DefaultConfig() Config {
	return Config{
		Mode:            ModeTraceOnly,
		FileName:        DefaultFileName,
		LogVariantCount: true,
		ReportInterval:  DefaultReportInterval,
	}
}

type controllerState int

const (
	stateIdle controllerState = iota
	stateRunning
	stateStopped
)

// Controller runs the variant lifecycle selected by Config.Mode.
//
// The host calls Start once when rendering begins and Stop once at
// teardown. In the tracing modes Start begins a trace and Stop ends it,
// saving in ModeTraceAndSave. In ModeLoadAndWarmUp Start loads the
// collection and warms it up in the background; Stop waits for the
// warm-up to drain.
type Controller struct {
	cfg     Config
	backend backend.Backend
	opts    options
	path    string

	mu     sync.Mutex
	state  controllerState
	coll   *Collection
	tracer *Tracer
	sched  *Scheduler
	handle *Handle
}

// NewController creates a controller for b.
func NewController(cfg Config, b backend.Backend, opts ...Option) (*Controller, error) {
	if b == nil {
		return nil, ErrNilBackend
	}
	if !cfg.Mode.valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, cfg.Mode)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.FileName == "" {
		cfg.FileName = DefaultFileName
	}
	if cfg.ReportInterval == 0 {
		cfg.ReportInterval = DefaultReportInterval
	}
	if cfg.Workers < 0 {
		cfg.Workers = 0
	}

	c := &Controller{
		cfg:     cfg,
		backend: b,
		opts:    o,
	}
	c.path = c.resolvePath()
	setActiveBackend(b)

	return c, nil
}

// resolvePath builds directory/filename.graphicsstate.
func (c *Controller) resolvePath() string {
	dir := c.cfg.Directory
	if dir == "" {
		base, err := c.opts.cacheDirFn()
		if err != nil || base == "" {
			base = "."
		}
		dir = filepath.Join(base, defaultDirName)
		Logger().Warn("gstate: no collection directory configured, using default", "dir", dir)
	}
	return filepath.Join(dir, c.cfg.FileName+FileExtension)
}

// Path returns the resolved collection file path.
func (c *Controller) Path() string {
	return c.path
}

// Mode returns the configured mode.
func (c *Controller) Mode() Mode {
	return c.cfg.Mode
}

// Collection returns the collection owned by the controller, or nil
// before Start and after Stop.
func (c *Controller) Collection() *Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coll
}

// WarmUpHandle returns the warm-up handle, or nil when no warm-up runs.
func (c *Controller) WarmUpHandle() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Start enters the configured mode. A failed load is logged and returned
// wrapped in ErrLoad; warm-up is skipped and Stop still releases resources.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateIdle {
		return ErrAlreadyStarted
	}
	c.state = stateRunning

	c.coll = c.opts.collection
	if c.coll == nil {
		c.coll = NewCollection()
	}

	Logger().Info("gstate: starting", "mode", c.cfg.Mode.String(), "backend", c.backend.Name(), "path", c.path)

	if c.cfg.Mode.Tracing() {
		tc := TracerConfig{
			ReportInterval:  c.cfg.ReportInterval,
			LogVariantCount: c.cfg.LogVariantCount,
		}
		if c.cfg.Mode == ModeTraceAndSave {
			tc.SavePath = c.path
		}
		c.tracer = NewTracer(c.coll, c.backend, tc)
		return c.tracer.Begin(ctx)
	}

	if err := c.coll.LoadFromFile(c.path); err != nil {
		Logger().Error("gstate: load failed, skipping warm up", "path", c.path, "error", err)
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}

	sched, err := NewScheduler(c.backend, SchedulerConfig{
		Workers:       c.cfg.Workers,
		BatchSize:     c.cfg.BatchSize,
		BatchInterval: c.cfg.BatchInterval,
	})
	if err != nil {
		return err
	}
	c.sched = sched
	c.handle = sched.WarmUp(ctx, c.coll)

	go notifyWarmUp(c.handle, c.opts.onWarmUp)
	return nil
}

func notifyWarmUp(h *Handle, fn func(Report)) {
	<-h.Done()
	r := h.Report()
	Logger().Info("gstate: warm up finished",
		"attempted", r.Attempted,
		"succeeded", r.Succeeded,
		"failed", r.Failed,
		"duration", r.Duration)
	if fn != nil {
		fn(r)
	}
}

// Stop leaves the configured mode. Tracing modes end the trace, saving in
// ModeTraceAndSave. In ModeLoadAndWarmUp Stop waits for the warm-up until
// ctx is done; remaining units keep draining in the background. Stop is a
// no-op before Start and after the first Stop.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != stateRunning {
		c.mu.Unlock()
		return nil
	}
	c.state = stateStopped
	tracer, sched, h := c.tracer, c.sched, c.handle
	c.coll = nil
	c.mu.Unlock()

	var err error
	if tracer != nil {
		err = tracer.End()
		tracer.Release()
	}

	if sched != nil {
		if h != nil {
			select {
			case <-h.Done():
			case <-ctx.Done():
				err = ctx.Err()
				Logger().Warn("gstate: stop before warm up finished, draining in background")
			}
		}
		if h == nil || h.IsCompleted() {
			sched.Close()
		} else {
			go func() {
				<-h.Done()
				sched.Close()
			}()
		}
	}

	Logger().Info("gstate: stopped", "mode", c.cfg.Mode.String())
	return err
}
