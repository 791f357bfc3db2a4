package gstate

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/gogpu/gstate/backend"
	"github.com/gogpu/gstate/variant"
)

// Collection is a deduplicated set of pipeline variants plus its trace state.
//
// While tracing, the collection is the capture sink of a backend: every
// variant the backend binds is inserted once. A collection filled by
// LoadFromFile is read-only and can only be warmed up.
//
// Collection is safe for concurrent use. It never holds its lock while
// calling into the backend.
type Collection struct {
	mu       sync.RWMutex
	variants map[variant.Key]variant.Descriptor
	id       uuid.UUID
	version  int64
	tracing  bool
	readOnly bool
	capturer backend.Capturer
}

// NewCollection creates an empty collection with a fresh ID.
func NewCollection() *Collection {
	return &Collection{
		variants: make(map[variant.Key]variant.Descriptor),
		id:       uuid.New(),
	}
}

// ID returns the collection ID. It is persisted and restored by load.
func (c *Collection) ID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// VariantCount returns the number of distinct variants.
func (c *Collection) VariantCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.variants)
}

// Version returns the change counter. It grows by one for every new variant
// and is reset when a trace epoch closes.
func (c *Collection) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// IsTracing reports whether capture is armed.
func (c *Collection) IsTracing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tracing
}

// IsReadOnly reports whether the collection was loaded from a file.
func (c *Collection) IsReadOnly() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readOnly
}

func (c *Collection) resetVersion() {
	c.mu.Lock()
	c.version = 0
	c.mu.Unlock()
}

// BeginTrace arms capture on cap with the collection as sink.
// Calling BeginTrace while already tracing logs a warning and does nothing.
func (c *Collection) BeginTrace(capturer backend.Capturer) error {
	if capturer == nil {
		return ErrNoCapturer
	}

	c.mu.Lock()
	if c.tracing {
		c.mu.Unlock()
		Logger().Warn("gstate: trace already active")
		return nil
	}
	if c.readOnly {
		c.mu.Unlock()
		return ErrReadOnly
	}
	c.tracing = true
	c.capturer = capturer
	c.mu.Unlock()

	if err := capturer.BeginCapture(c); err != nil {
		c.mu.Lock()
		c.tracing = false
		c.capturer = nil
		c.mu.Unlock()
		return fmt.Errorf("gstate: begin capture: %w", err)
	}
	return nil
}

// EndTrace disarms capture. It is a no-op when not tracing.
func (c *Collection) EndTrace() error {
	c.mu.Lock()
	if !c.tracing {
		c.mu.Unlock()
		return nil
	}
	capturer := c.capturer
	c.tracing = false
	c.capturer = nil
	c.mu.Unlock()

	if err := capturer.EndCapture(); err != nil {
		return fmt.Errorf("gstate: end capture: %w", err)
	}
	return nil
}

// OnVariantBound implements backend.VariantSink. The variant is inserted
// only while tracing.
func (c *Collection) OnVariantBound(d variant.Descriptor) {
	if err := d.Validate(); err != nil {
		Logger().Debug("gstate: dropping invalid variant", "error", err)
		return
	}
	n := d.Normalized()
	key := n.Key()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tracing {
		return
	}
	if _, ok := c.variants[key]; ok {
		return
	}
	c.variants[key] = n
	c.version++
	Logger().Debug("gstate: variant captured", "variant", n.String(), "count", len(c.variants))
}

// Add inserts d regardless of trace state. It reports whether d was new.
// Invalid descriptors and read-only collections are never modified.
func (c *Collection) Add(d variant.Descriptor) bool {
	if d.Validate() != nil {
		return false
	}
	n := d.Normalized()
	key := n.Key()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readOnly {
		return false
	}
	if _, ok := c.variants[key]; ok {
		return false
	}
	c.variants[key] = n
	c.version++
	return true
}

// Contains reports whether a variant with the identity of d is present.
func (c *Collection) Contains(d variant.Descriptor) bool {
	key := d.Key()

	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.variants[key]
	return ok
}

// Variants returns copies of all variants sorted by key.
func (c *Collection) Variants() []variant.Descriptor {
	c.mu.RLock()
	keys := make([]variant.Key, 0, len(c.variants))
	for k := range c.variants {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]variant.Descriptor, len(keys))
	for i, k := range keys {
		d := c.variants[k]
		out[i] = d.Clone()
	}
	c.mu.RUnlock()
	return out
}

// WriteTo writes the file encoding of the collection to w.
func (c *Collection) WriteTo(w io.Writer) (int64, error) {
	c.mu.RLock()
	keys := make([]variant.Key, 0, len(c.variants))
	for k := range c.variants {
		keys = append(keys, k)
	}
	id, version := c.id, c.version
	c.mu.RUnlock()

	slices.Sort(keys)
	records := make([][]byte, len(keys))
	for i, k := range keys {
		// Keys are the canonical record encoding.
		records[i] = []byte(k)
	}
	return encodeCollection(w, id, version, records)
}

// ReadFrom replaces the contents of the collection with the collection
// encoded in r. On error the collection is left empty. The collection is
// writable afterwards; LoadFromFile additionally marks it read-only.
func (c *Collection) ReadFrom(r io.Reader) (int64, error) {
	c.mu.Lock()
	if c.tracing {
		c.mu.Unlock()
		return 0, ErrTracing
	}
	c.clearLocked()
	c.mu.Unlock()

	h, descs, n, err := decodeCollection(r)
	if err != nil {
		return n, err
	}

	variants := make(map[variant.Key]variant.Descriptor, len(descs))
	for i := range descs {
		d := descs[i].Normalized()
		variants[d.Key()] = d
	}

	c.mu.Lock()
	c.variants = variants
	c.id = h.ID
	c.version = h.Version
	c.mu.Unlock()
	return n, nil
}

// clearLocked empties the collection. Caller must hold c.mu.
func (c *Collection) clearLocked() {
	c.variants = make(map[variant.Key]variant.Descriptor)
	c.version = 0
	c.readOnly = false
}

// SaveToFile writes the collection to path atomically: the data goes to a
// temporary file in the same directory which is then renamed over path.
// The directory must exist. On failure the collection and any existing file
// at path are unchanged.
func (c *Collection) SaveToFile(path string) (err error) {
	defer func() { observeIO(opSave, err) }()

	var buf bytes.Buffer
	if _, err := c.WriteTo(&buf); err != nil {
		return fmt.Errorf("gstate: encode collection: %w", err)
	}

	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+strings.TrimSuffix(base, FileExtension)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("gstate: save %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("gstate: save %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("gstate: save %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("gstate: save %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("gstate: save %s: %w", path, err)
	}

	Logger().Info("gstate: collection saved", "path", path, "variants", c.VariantCount())
	return nil
}

// LoadFromFile replaces the contents of the collection with the file at
// path. Any failure leaves the collection empty. On success the collection
// is read-only.
func (c *Collection) LoadFromFile(path string) (err error) {
	defer func() { observeIO(opLoad, err) }()

	f, err := os.Open(path)
	if err != nil {
		c.mu.Lock()
		if !c.tracing {
			c.clearLocked()
		}
		c.mu.Unlock()
		return fmt.Errorf("gstate: load %s: %w", path, err)
	}
	defer f.Close()

	if _, err := c.ReadFrom(f); err != nil {
		return fmt.Errorf("gstate: load %s: %w", path, err)
	}

	c.mu.Lock()
	c.readOnly = true
	n := len(c.variants)
	c.mu.Unlock()

	Logger().Info("gstate: collection loaded", "path", path, "variants", n)
	return nil
}
