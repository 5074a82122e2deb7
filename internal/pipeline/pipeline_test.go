package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"firestige.xyz/frameguard/internal/classifier"
	"firestige.xyz/frameguard/internal/core"
	"firestige.xyz/frameguard/internal/core/decoder"
	"firestige.xyz/frameguard/internal/fixtures"
	"firestige.xyz/frameguard/internal/source"
)

// Mock implementations for testing

// MockSource replays frames, then either reports io.EOF or blocks until the
// context is cancelled.
type MockSource struct {
	name     string
	frames   [][]byte
	block    bool
	readErr  error
	startErr error

	ctx     context.Context
	next    int
	started bool
	stopped bool
}

func NewMockSource(frames ...[]byte) *MockSource {
	return &MockSource{name: "mock0", frames: frames}
}

func (m *MockSource) Name() string { return m.name }

func (m *MockSource) Start(ctx context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.ctx, m.started = ctx, true
	return nil
}

func (m *MockSource) ReadFrame() (core.RawPacket, error) {
	if m.next < len(m.frames) {
		f := m.frames[m.next]
		m.next++
		return core.RawPacket{Data: f, CaptureLen: uint32(len(f)), OrigLen: uint32(len(f)), Timestamp: time.Now()}, nil
	}
	if m.readErr != nil {
		return core.RawPacket{}, m.readErr
	}
	if m.block {
		<-m.ctx.Done()
		return core.RawPacket{}, m.ctx.Err()
	}
	return core.RawPacket{}, io.EOF
}

func (m *MockSource) Stop() error {
	m.stopped = true
	return nil
}

func (m *MockSource) Stats() source.Stats {
	return source.Stats{Received: uint64(m.next)}
}

// MockActuator records every verdict it is asked to apply.
type MockActuator struct {
	mu       sync.Mutex
	verdicts []core.Verdict
	fail     core.Verdict
	failAll  bool
	closed   bool
}

func (m *MockActuator) Apply(v core.Verdict, _ core.RawPacket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verdicts = append(m.verdicts, v)
	if m.failAll && v == m.fail {
		return errors.New("transmit failed")
	}
	return nil
}

func (m *MockActuator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockActuator) Applied() []core.Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Verdict(nil), m.verdicts...)
}

// Test cases

func TestPipeline_BasicFlow(t *testing.T) {
	src := NewMockSource(
		fixtures.TCP4([]byte("hello")),
		fixtures.UDP4(nil),
		fixtures.ARP(),
		fixtures.TCP4(nil)[:30],
		[]byte{0x01},
	)
	act := &MockActuator{}

	p, err := New(Config{
		ID:         1,
		Source:     src,
		Classifier: classifier.New(nil),
		Actuator:   act,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !src.started || !src.stopped {
		t.Errorf("Expected source to be started and stopped, got started=%v stopped=%v", src.started, src.stopped)
	}

	stats := p.Stats()
	if stats.Received != 5 {
		t.Errorf("Expected 5 received frames, got %d", stats.Received)
	}
	if stats.Redirect != 1 {
		t.Errorf("Expected 1 redirected frame, got %d", stats.Redirect)
	}
	if stats.Pass != 4 {
		t.Errorf("Expected 4 passed frames, got %d", stats.Pass)
	}
	if stats.Truncated != 2 {
		t.Errorf("Expected 2 truncated frames, got %d", stats.Truncated)
	}

	want := []core.Verdict{core.Redirect, core.Pass, core.Pass, core.Pass, core.Pass}
	got := act.Applied()
	if len(got) != len(want) {
		t.Fatalf("Expected %d applied verdicts, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Frame %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestPipeline_ActuateErrors(t *testing.T) {
	src := NewMockSource(fixtures.TCP4(nil), fixtures.TCP4(nil), fixtures.UDP6(nil))
	act := &MockActuator{fail: core.Redirect, failAll: true}

	p, err := NewBuilder().
		WithID(2).
		WithSource(src).
		WithClassifier(classifier.New(nil)).
		WithActuator(act).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	stats := p.Stats()
	if stats.ActuateErrors != 2 {
		t.Errorf("Expected 2 actuate errors, got %d", stats.ActuateErrors)
	}
	// Failed actuation does not stop the loop.
	if stats.Received != 3 {
		t.Errorf("Expected 3 received frames, got %d", stats.Received)
	}
}

func TestPipeline_ReadError(t *testing.T) {
	src := NewMockSource(fixtures.TCP4(nil))
	src.readErr = errors.New("ring torn down")

	p, _ := New(Config{ID: 3, Source: src, Classifier: classifier.New(nil)})
	err := p.Run(context.Background())
	if err == nil || !errors.Is(err, src.readErr) {
		t.Fatalf("Expected read error, got %v", err)
	}
	if p.Stats().ReadErrors != 1 {
		t.Errorf("Expected 1 read error, got %d", p.Stats().ReadErrors)
	}
	if !src.stopped {
		t.Error("Expected source to be stopped after a read error")
	}
}

func TestPipeline_StartError(t *testing.T) {
	src := NewMockSource()
	src.startErr = core.ErrUnsupportedPlatform

	p, _ := New(Config{Source: src, Classifier: classifier.New(nil)})
	if err := p.Run(context.Background()); !errors.Is(err, core.ErrUnsupportedPlatform) {
		t.Fatalf("Expected start error, got %v", err)
	}
}

func TestPipeline_StartStop(t *testing.T) {
	src := NewMockSource(fixtures.TCP4(nil))
	src.block = true
	act := &MockActuator{}

	var observed sync.WaitGroup
	observed.Add(1)
	p, err := New(Config{
		ID:         4,
		Source:     src,
		Classifier: classifier.New(nil),
		Actuator:   act,
		Observe: func(_ core.RawPacket, d classifier.Decision) {
			if d.Verdict != core.Redirect {
				t.Errorf("Expected redirect, got %s", d)
			}
			observed.Done()
		},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := p.Start(); err == nil {
		t.Error("Expected second Start to fail")
	}
	observed.Wait()

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	select {
	case <-p.Done():
	default:
		t.Error("Expected Done to be closed after Stop")
	}
	if !act.closed {
		t.Error("Expected actuator to be closed")
	}
}

func TestPipeline_StopNotStarted(t *testing.T) {
	p, _ := New(Config{Source: NewMockSource(), Classifier: classifier.New(nil)})
	if err := p.Stop(); !errors.Is(err, core.ErrPipelineStopped) {
		t.Errorf("Expected ErrPipelineStopped, got %v", err)
	}
}

func TestPipeline_SharedClassifierSwap(t *testing.T) {
	c := classifier.New(nil)
	dropTCP, err := classifier.NewTable([]classifier.Rule{
		{Name: "tcp", EtherType: decoder.EtherTypeIPv4, Protocol: decoder.ProtocolTCP, Verdict: core.Drop},
	})
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}

	first, _ := New(Config{ID: 5, Source: NewMockSource(fixtures.TCP4(nil)), Classifier: c})
	if err := first.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Swap(dropTCP); err != nil {
		t.Fatal(err)
	}
	second, _ := New(Config{ID: 6, Source: NewMockSource(fixtures.TCP4(nil)), Classifier: c})
	if err := second.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if first.Stats().Redirect != 1 {
		t.Errorf("Expected first pipeline to redirect, got %+v", first.Stats())
	}
	if second.Stats().Drop != 1 {
		t.Errorf("Expected second pipeline to drop after swap, got %+v", second.Stats())
	}

	total := first.Stats().Add(second.Stats())
	if total.Received != 2 || total.Redirect != 1 || total.Drop != 1 {
		t.Errorf("Unexpected aggregate stats %+v", total)
	}
}

func TestPipeline_SourceStats(t *testing.T) {
	src := NewMockSource(fixtures.UDP4(nil))
	p, _ := New(Config{Source: src, Classifier: classifier.New(nil)})
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	s, ok := p.SourceStats()
	if !ok || s.Received != 1 {
		t.Errorf("Expected source stats with 1 frame, got %+v ok=%v", s, ok)
	}
}

func TestNew_RequiresSourceAndClassifier(t *testing.T) {
	if _, err := New(Config{Classifier: classifier.New(nil)}); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("Expected ErrConfigInvalid without source, got %v", err)
	}
	if _, err := New(Config{Source: NewMockSource()}); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("Expected ErrConfigInvalid without classifier, got %v", err)
	}
}
