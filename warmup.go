package gstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/gogpu/gstate/backend"
	"github.com/gogpu/gstate/internal/parallel"
	"github.com/gogpu/gstate/variant"
)

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Workers is the number of background compile workers.
	// Zero uses GOMAXPROCS.
	Workers int

	// BatchSize enables progressive warm-up: at most BatchSize units are
	// in flight, and the next batch starts one BatchInterval after the
	// previous batch finished. Zero submits everything at once.
	BatchSize int

	// BatchInterval is the pause between batches.
	BatchInterval time.Duration
}

// Report summarizes a finished warm-up.
type Report struct {
	// Attempted is the number of CompileAndCache calls made.
	Attempted int
	Succeeded int
	Failed    int

	// Skipped counts units that never ran because the pool was closed.
	Skipped int

	Duration time.Duration

	// Err aggregates every unit failure. Nil when all units succeeded.
	Err error
}

// Handle tracks a warm-up started by Scheduler.WarmUp.
type Handle struct {
	done   chan struct{}
	report Report
}

func resolvedHandle(r Report) *Handle {
	h := &Handle{done: make(chan struct{}), report: r}
	close(h.done)
	return h
}

// Done returns a channel closed once every unit has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// IsCompleted reports whether the warm-up has finished.
func (h *Handle) IsCompleted() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the warm-up finishes or ctx is done. Cancelling ctx
// stops the wait, not the warm-up. The returned error is ctx.Err() or the
// aggregated unit failures.
func (h *Handle) Wait(ctx context.Context) (Report, error) {
	select {
	case <-h.done:
		return h.report, h.report.Err
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

// Report returns the final report, or the zero Report while running.
func (h *Handle) Report() Report {
	if !h.IsCompleted() {
		return Report{}
	}
	return h.report
}

// Scheduler warms up collections on a background worker pool.
type Scheduler struct {
	compiler backend.Compiler
	pool     *parallel.WorkerPool
	cfg      SchedulerConfig
}

// NewScheduler creates a scheduler compiling through compiler.
func NewScheduler(compiler backend.Compiler, cfg SchedulerConfig) (*Scheduler, error) {
	if compiler == nil {
		return nil, ErrNilBackend
	}
	if cfg.BatchSize < 0 {
		cfg.BatchSize = 0
	}
	if cfg.BatchInterval < 0 {
		cfg.BatchInterval = 0
	}

	pool := parallel.NewWorkerPool(cfg.Workers)
	pool.SetPanicHandler(func(r any) {
		Logger().Error("gstate: warm-up worker panic", "panic", r)
	})

	return &Scheduler{compiler: compiler, pool: pool, cfg: cfg}, nil
}

// Workers returns the number of background workers.
func (s *Scheduler) Workers() int {
	return s.pool.Workers()
}

// Close stops the worker pool after queued units finish.
func (s *Scheduler) Close() {
	s.pool.Close()
}

// WarmUp schedules one CompileAndCache unit per variant of c and returns
// immediately. Units run with a context detached from ctx's cancellation
// and always drain. A unit failure is logged and recorded; it never stops
// its siblings. An empty collection returns an already completed handle.
//
// c is usually loaded from a file. A writable collection is warmed from a
// snapshot of its current variants. A nil or still tracing collection
// returns a completed handle whose Report.Err is ErrNilCollection or
// ErrTracing.
func (s *Scheduler) WarmUp(ctx context.Context, c *Collection) *Handle {
	switch {
	case c == nil:
		return resolvedHandle(Report{Err: ErrNilCollection})
	case c.IsTracing():
		Logger().Warn("gstate: refusing to warm up a collection that is tracing")
		return resolvedHandle(Report{Err: ErrTracing})
	}

	variants := c.Variants()
	if len(variants) == 0 {
		Logger().Debug("gstate: nothing to warm up")
		return resolvedHandle(Report{})
	}

	h := &Handle{done: make(chan struct{})}
	go s.run(context.WithoutCancel(ctx), variants, h)
	return h
}

// warmupRun accumulates unit results.
type warmupRun struct {
	mu     sync.Mutex
	report Report
	errs   *multierror.Error
}

func (r *warmupRun) record(d *variant.Descriptor, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.report.Attempted++
	if err == nil {
		r.report.Succeeded++
		warmupUnitsTotal.WithLabelValues(resultOK).Inc()
		return
	}
	r.report.Failed++
	r.errs = multierror.Append(r.errs, fmt.Errorf("%s: %w", d.String(), err))
	warmupUnitsTotal.WithLabelValues(resultError).Inc()
}

func (s *Scheduler) run(ctx context.Context, variants []variant.Descriptor, h *Handle) {
	start := time.Now()
	run := &warmupRun{}

	batch := s.cfg.BatchSize
	if batch <= 0 {
		batch = len(variants)
	}

	Logger().Info("gstate: warm up started", "variants", len(variants), "batch", batch, "workers", s.pool.Workers())

	for lo := 0; lo < len(variants); lo += batch {
		if lo > 0 && s.cfg.BatchInterval > 0 {
			time.Sleep(s.cfg.BatchInterval)
		}
		hi := min(lo+batch, len(variants))

		work := make([]func(), 0, hi-lo)
		for i := lo; i < hi; i++ {
			d := &variants[i]
			work = append(work, func() {
				err := s.compile(ctx, d)
				if err != nil {
					Logger().Warn("gstate: warm up unit failed", "variant", d.String(), "error", err)
				} else {
					Logger().Debug("gstate: variant warmed", "variant", d.String())
				}
				run.record(d, err)
			})
		}

		if skipped := s.pool.ExecuteAll(work); skipped > 0 {
			run.mu.Lock()
			run.report.Skipped += skipped
			run.errs = multierror.Append(run.errs, fmt.Errorf("%w: %d units skipped", ErrPoolClosed, skipped))
			run.mu.Unlock()
			warmupUnitsTotal.WithLabelValues(resultSkipped).Add(float64(skipped))
		}
	}

	run.report.Duration = time.Since(start)
	run.report.Err = run.errs.ErrorOrNil()
	warmupDuration.Observe(run.report.Duration.Seconds())

	h.report = run.report
	close(h.done)
}

// compile runs one unit, turning a backend panic into an error.
func (s *Scheduler) compile(ctx context.Context, d *variant.Descriptor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gstate: compile panic: %v", r)
		}
	}()
	return s.compiler.CompileAndCache(ctx, *d)
}
