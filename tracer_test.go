package gstate

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gogpu/gstate/backend"
)

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// captureLogs routes gstate logs to a buffer for the duration of the test.
func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	buf := &syncBuffer{}
	SetLogger(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	return buf
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func loopStopped(done chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

func TestTracer_BeginEndSave(t *testing.T) {
	b := backend.NewMemoryBackend()
	c := NewCollection()
	path := filepath.Join(t.TempDir(), "nested", "dir", "trace"+FileExtension)

	tr := NewTracer(c, b, TracerConfig{ReportInterval: time.Millisecond, SavePath: path})
	if err := tr.Begin(context.Background()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if !c.IsTracing() || !b.Capturing() {
		t.Fatal("Begin did not arm capture")
	}

	b.Bind(computeVariant("a"))
	b.Bind(computeVariant("b"))
	b.Bind(computeVariant("a"))

	if err := tr.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if c.IsTracing() || b.Capturing() {
		t.Error("End did not disarm capture")
	}
	if c.Version() != 0 {
		t.Errorf("Version() = %d after End, want 0", c.Version())
	}
	if tr.Collection() != c {
		t.Error("saving tracer released the collection")
	}

	loaded := NewCollection()
	if err := loaded.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if loaded.VariantCount() != 2 {
		t.Errorf("saved VariantCount() = %d, want 2", loaded.VariantCount())
	}
}

func TestTracer_EndWithoutSaveReleases(t *testing.T) {
	b := backend.NewMemoryBackend()
	tr := NewTracer(NewCollection(), b, TracerConfig{})

	if err := tr.Begin(context.Background()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	b.Bind(computeVariant("a"))
	if err := tr.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if tr.Collection() != nil {
		t.Error("Collection() != nil after End without save path")
	}
	if err := tr.Begin(context.Background()); !errors.Is(err, ErrReleased) {
		t.Errorf("Begin() after release error = %v, want ErrReleased", err)
	}
}

func TestTracer_EndWithoutBeginIsNoop(t *testing.T) {
	c := NewCollection()
	c.Add(computeVariant("a"))
	tr := NewTracer(c, backend.NewMemoryBackend(), TracerConfig{})

	if err := tr.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if tr.Collection() != c || c.Version() != 1 {
		t.Error("End without Begin changed state")
	}
}

func TestTracer_BeginWhileTracingIsNoop(t *testing.T) {
	b := backend.NewMemoryBackend()
	tr := NewTracer(NewCollection(), b, TracerConfig{ReportInterval: time.Hour})

	if err := tr.Begin(context.Background()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	first := tr.loopDone
	if err := tr.Begin(context.Background()); err != nil {
		t.Fatalf("second Begin() error = %v", err)
	}
	if tr.loopDone != first {
		t.Error("second Begin started another diagnostic loop")
	}
	if err := tr.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
}

func TestTracer_DiagnosticReportsCount(t *testing.T) {
	logs := captureLogs(t)
	b := backend.NewMemoryBackend()
	c := NewCollection()
	tr := NewTracer(c, b, TracerConfig{ReportInterval: time.Millisecond, LogVariantCount: true})

	if err := tr.Begin(context.Background()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer tr.End()

	b.Bind(computeVariant("a"))
	b.Bind(computeVariant("b"))

	waitFor(t, "variant count log", func() bool {
		return strings.Contains(logs.String(), "variant count") &&
			strings.Contains(logs.String(), "variants=2")
	})
	waitFor(t, "trace gauge", func() bool {
		return testutil.ToFloat64(traceVariants) == 2
	})
	if c.VariantCount() != 2 {
		t.Errorf("diagnostic loop changed the collection: VariantCount() = %d", c.VariantCount())
	}
}

func TestTracer_DiagnosticStopsOnRelease(t *testing.T) {
	b := backend.NewMemoryBackend()
	c := NewCollection()
	tr := NewTracer(c, b, TracerConfig{ReportInterval: time.Millisecond})
	if err := tr.Begin(context.Background()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	done := tr.loopDone

	tr.Release()
	waitFor(t, "loop exit after release", func() bool { return loopStopped(done) })

	if err := tr.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if b.Capturing() {
		t.Error("backend still capturing after End")
	}
	if c.IsTracing() {
		t.Error("collection still tracing after End")
	}
}

func TestTracer_EndAfterReleaseDisarms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "released"+FileExtension)
	b := backend.NewMemoryBackend()
	c := NewCollection()
	tr := NewTracer(c, b, TracerConfig{SavePath: path})
	if err := tr.Begin(context.Background()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	b.Bind(computeVariant("a"))

	tr.Release()
	if !c.IsTracing() {
		t.Fatal("Release ended the trace")
	}
	if err := tr.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	if b.Capturing() || c.IsTracing() {
		t.Error("End after Release left capture armed")
	}
	// Binds after End are not captured.
	b.Bind(computeVariant("b"))
	if c.VariantCount() != 1 {
		t.Errorf("VariantCount() = %d, want 1", c.VariantCount())
	}
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("released collection was saved: %v", err)
	}
	if err := tr.Begin(context.Background()); !errors.Is(err, ErrReleased) {
		t.Errorf("Begin() after Release error = %v, want ErrReleased", err)
	}
}

func TestTracer_DiagnosticStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := NewTracer(NewCollection(), backend.NewMemoryBackend(), TracerConfig{ReportInterval: time.Hour})
	if err := tr.Begin(ctx); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	done := tr.loopDone

	cancel()
	waitFor(t, "loop exit after cancel", func() bool { return loopStopped(done) })

	// Capture stays armed until End.
	if !tr.Collection().IsTracing() {
		t.Error("context cancel ended the trace")
	}
	if err := tr.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
}

func TestTracer_DisabledDiagnostic(t *testing.T) {
	tr := NewTracer(NewCollection(), backend.NewMemoryBackend(), TracerConfig{ReportInterval: -1})
	if err := tr.Begin(context.Background()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if tr.loopDone != nil {
		t.Error("diagnostic loop started with negative interval")
	}
	if err := tr.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
}
