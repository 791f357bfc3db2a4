package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// PanicHandler receives the value recovered from a panicking work item.
type PanicHandler func(recovered any)

// WorkerPool is a pool of goroutines for background pipeline compilation.
//
// The pool distributes work items across multiple workers, each with their own
// queue. Workers can steal work from other workers when their own queue is empty.
// This keeps all workers busy when some compiles are much slower than others.
//
// A panicking work item is recovered and reported to the pool's PanicHandler;
// it never takes down the worker or the process.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	// workers is the number of worker goroutines.
	workers int

	// workQueues holds per-worker work queues.
	// Each worker primarily pulls from its own queue but can steal from others.
	workQueues []chan func()

	// done signals workers to stop.
	done chan struct{}

	// wg waits for all workers to finish.
	wg sync.WaitGroup

	// running indicates whether the pool is accepting work.
	running atomic.Bool

	// submitMu is held for reading while work is queued and for writing by
	// Close, so no item is queued after the workers start draining.
	submitMu sync.RWMutex

	onPanic PanicHandler
	panics  atomic.Int64
}

// NewWorkerPool creates a new worker pool with the specified number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
// The pool starts immediately and workers begin waiting for work.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	// Buffer size: 2-4x workers helps hide latency
	queueSize := workers * 4
	if queueSize < 8 {
		queueSize = 8
	}

	p := &WorkerPool{
		workers:    workers,
		workQueues: make([]chan func(), workers),
		done:       make(chan struct{}),
	}

	for i := range workers {
		p.workQueues[i] = make(chan func(), queueSize)
	}

	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}

	return p
}

// SetPanicHandler installs the handler for recovered panics.
// Must be called before work is submitted.
func (p *WorkerPool) SetPanicHandler(h PanicHandler) {
	p.onPanic = h
}

// worker is the main loop for each worker goroutine.
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	myQueue := p.workQueues[id]

	for {
		select {
		case <-p.done:
			// Drain remaining work before exiting
			p.drainQueue(myQueue)
			return

		case work := <-myQueue:
			p.run(work)

		default:
			if stolen := p.steal(id); stolen != nil {
				p.run(stolen)
				continue
			}
			// No work available anywhere, block on own queue
			select {
			case <-p.done:
				p.drainQueue(myQueue)
				return
			case work := <-myQueue:
				p.run(work)
			}
		}
	}
}

// run executes a single work item, recovering panics.
func (p *WorkerPool) run(work func()) {
	if work == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			if p.onPanic != nil {
				p.onPanic(r)
			}
		}
	}()
	work()
}

// drainQueue executes all remaining work in a queue.
func (p *WorkerPool) drainQueue(queue chan func()) {
	for {
		select {
		case work := <-queue:
			p.run(work)
		default:
			return
		}
	}
}

// steal attempts to take work from another worker's queue.
// Returns nil if no work is available.
func (p *WorkerPool) steal(myID int) func() {
	for i := range p.workers {
		if i == myID {
			continue
		}

		select {
		case work := <-p.workQueues[i]:
			return work
		default:
		}
	}
	return nil
}

// ExecuteAll distributes work across workers and waits for all of it to
// finish. If the pool is closed, nothing runs and every item is reported as
// skipped.
func (p *WorkerPool) ExecuteAll(work []func()) (skipped int) {
	if len(work) == 0 {
		return 0
	}

	p.submitMu.RLock()
	if !p.running.Load() {
		p.submitMu.RUnlock()
		return len(work)
	}

	var completionWG sync.WaitGroup
	completionWG.Add(len(work))

	for i, fn := range work {
		workerID := i % p.workers

		// Submit to worker's queue (may block if queue is full)
		p.workQueues[workerID] <- func() {
			defer completionWG.Done()
			fn()
		}
	}
	p.submitMu.RUnlock()

	completionWG.Wait()
	return 0
}

// Close gracefully shuts down the pool.
// It stops accepting new work, runs all queued work, and then stops all
// workers. Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	p.submitMu.Lock()
	if !p.running.CompareAndSwap(true, false) {
		p.submitMu.Unlock()
		return
	}
	close(p.done)
	p.submitMu.Unlock()

	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// Panics returns the number of work items that panicked.
func (p *WorkerPool) Panics() int64 {
	return p.panics.Load()
}

// IsRunning returns true if the pool is still accepting work.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}
