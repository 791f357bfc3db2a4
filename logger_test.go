package gstate

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/gogpu/gstate/backend"
)

// recordingBackend is a memory backend that remembers the last logger
// handed to it.
type recordingBackend struct {
	*backend.MemoryBackend

	mu     sync.Mutex
	logger *slog.Logger
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{MemoryBackend: backend.NewMemoryBackend()}
}

func (b *recordingBackend) SetLogger(l *slog.Logger) {
	b.mu.Lock()
	b.logger = l
	b.mu.Unlock()
	b.MemoryBackend.SetLogger(l)
}

func (b *recordingBackend) current() *slog.Logger {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logger
}

func TestNopHandler(t *testing.T) {
	var h slog.Handler = nopHandler{}
	ctx := context.Background()

	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if h.Enabled(ctx, level) {
			t.Errorf("Enabled(%v) = true", level)
		}
	}
	if err := h.Handle(ctx, slog.Record{}); err != nil {
		t.Errorf("Handle() = %v", err)
	}
	if _, ok := h.WithAttrs([]slog.Attr{slog.Int("variants", 3)}).(nopHandler); !ok {
		t.Error("WithAttrs did not stay silent")
	}
	if _, ok := h.WithGroup("trace").(nopHandler); !ok {
		t.Error("WithGroup did not stay silent")
	}
}

func TestLogger_SilentUntilSet(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })
	SetLogger(nil)

	l := Logger()
	if l == nil {
		t.Fatal("Logger() = nil")
	}
	if l.Enabled(context.Background(), slog.LevelError) {
		t.Error("logger without SetLogger is enabled")
	}
}

func TestSetLogger_ReceivesTraceEvents(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	custom := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	SetLogger(custom)
	if Logger() != custom {
		t.Fatal("Logger() is not the logger passed to SetLogger")
	}

	tr := NewTracer(NewCollection(), backend.NewMemoryBackend(), TracerConfig{})
	if err := tr.Begin(context.Background()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := tr.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	for _, want := range []string{"trace started", "trace ended"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log output missing %q:\n%s", want, buf.String())
		}
	}

	// Back to silence.
	SetLogger(nil)
	buf.Reset()
	Logger().Error("dropped")
	if buf.Len() != 0 {
		t.Errorf("nil logger still writes: %s", buf.String())
	}
}

func TestController_HandsLoggerToBackend(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() {
		SetLogger(orig)
		setActiveBackend(nil)
	})

	before := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	SetLogger(before)

	b := newRecordingBackend()
	cfg := DefaultConfig()
	cfg.Directory = t.TempDir()
	if _, err := NewController(cfg, b); err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	if b.current() != before {
		t.Error("NewController did not pass the current logger to its backend")
	}

	// A later SetLogger reaches the backend of the newest controller.
	var buf bytes.Buffer
	after := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	SetLogger(after)
	if b.current() != after {
		t.Fatal("SetLogger did not reach the controller's backend")
	}

	b.Bind(computeVariant("uncached"))
	if !strings.Contains(buf.String(), "pipeline built on bind") {
		t.Errorf("backend did not log through the new logger:\n%s", buf.String())
	}
}

func TestLogger_ConcurrentSetAndUse(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var wg sync.WaitGroup
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				SetLogger(slog.Default())
				SetLogger(nil)
				return
			}
			l := Logger()
			if l == nil {
				t.Error("Logger() = nil while loggers are swapped")
				return
			}
			l.Debug("variant captured", "count", i)
		}()
	}
	wg.Wait()
}

func BenchmarkLogger_DisabledDebug(b *testing.B) {
	l := newNopLogger()
	b.ReportAllocs()
	for b.Loop() {
		l.Debug("gstate: variant captured", "count", 1)
	}
}
