package native

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gstate/variant"
)

// Pipeline is a compiled pipeline. Exactly one of Render and Compute is set.
type Pipeline struct {
	Render  hal.RenderPipeline
	Compute hal.ComputePipeline
}

// pipelineEntry is a cached pipeline that may still be compiling.
type pipelineEntry struct {
	ready    chan struct{}
	pipeline Pipeline
	err      error
}

// PipelineCache caches compiled pipelines by variant identity.
//
// Pipeline creation is expensive because it involves shader compilation and
// validation. Concurrent requests for the same variant share one creation;
// requests for different variants create in parallel.
//
// Thread Safety:
// PipelineCache is safe for concurrent use. It uses RWMutex with
// double-check locking for efficient reads and safe writes.
//
// The cache tracks hit/miss statistics for performance monitoring.
type PipelineCache struct {
	mu      sync.RWMutex
	entries map[variant.Key]*pipelineEntry

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewPipelineCache creates an empty pipeline cache.
func NewPipelineCache() *PipelineCache {
	return &PipelineCache{
		entries: make(map[variant.Key]*pipelineEntry),
	}
}

// GetOrCreate returns the pipeline for key, calling create on a miss.
// created reports whether this call created it. A failed creation is not
// cached; the next request retries. A panic in create is returned as
// ErrCreatePanic to this caller and to every waiter.
func (c *PipelineCache) GetOrCreate(key variant.Key, create func() (Pipeline, error)) (p Pipeline, created bool, err error) {
	// Fast path: read lock
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return c.wait(e)
	}

	// Slow path: write lock with double-check
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return c.wait(e)
	}
	e = &pipelineEntry{ready: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	c.misses.Add(1)
	c.create(key, e, create)
	return e.pipeline, e.err == nil, e.err
}

// create fills e and publishes it. e is ready on return even if fn panics.
func (c *PipelineCache) create(key variant.Key, e *pipelineEntry, fn func() (Pipeline, error)) {
	defer func() {
		if r := recover(); r != nil {
			e.pipeline, e.err = Pipeline{}, fmt.Errorf("%w: %v", ErrCreatePanic, r)
		}
		if e.err != nil {
			c.mu.Lock()
			if c.entries[key] == e {
				delete(c.entries, key)
			}
			c.mu.Unlock()
		}
		close(e.ready)
	}()
	e.pipeline, e.err = fn()
}

func (c *PipelineCache) wait(e *pipelineEntry) (Pipeline, bool, error) {
	<-e.ready
	if e.err != nil {
		return Pipeline{}, false, e.err
	}
	c.hits.Add(1)
	return e.pipeline, false, nil
}

// Contains reports whether a compiled pipeline for key is cached.
func (c *PipelineCache) Contains(key variant.Key) bool {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case <-e.ready:
		return e.err == nil
	default:
		return false
	}
}

// Stats returns cache statistics.
//
// These values are read atomically and may not be perfectly synchronized.
func (c *PipelineCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// HitRate returns the cache hit rate (0.0 to 1.0).
//
// Returns 0.0 if no requests have been made.
func (c *PipelineCache) HitRate() float64 {
	hits, misses := c.Stats()
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

// Size returns the number of cached and in-flight pipelines.
func (c *PipelineCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Counts returns the number of compiled render and compute pipelines.
func (c *PipelineCache) Counts() (render, compute int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, e := range c.entries {
		select {
		case <-e.ready:
		default:
			continue
		}
		switch {
		case e.pipeline.Render != nil:
			render++
		case e.pipeline.Compute != nil:
			compute++
		}
	}
	return render, compute
}

// DestroyAll destroys all compiled pipelines on device, waits for in-flight
// creations and clears the cache and statistics.
func (c *PipelineCache) DestroyAll(device hal.Device) {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[variant.Key]*pipelineEntry)
	c.hits.Store(0)
	c.misses.Store(0)
	c.mu.Unlock()

	for _, e := range entries {
		<-e.ready
		if e.err != nil {
			continue
		}
		if e.pipeline.Render != nil {
			device.DestroyRenderPipeline(e.pipeline.Render)
		}
		if e.pipeline.Compute != nil {
			device.DestroyComputePipeline(e.pipeline.Compute)
		}
	}
}
