package ledreading

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/har1eyk/led-reading-plugin/internal/domain"
	"github.com/har1eyk/led-reading-plugin/internal/ports"
)

type fakeAcquirer struct{}

func (fakeAcquirer) ReadVoltage(_ context.Context, _ int) (domain.SamplePoint, error) {
	return domain.SamplePoint{Voltage: 0.5, At: time.Now().UTC()}, nil
}

type fakeLED struct{}

func (fakeLED) On(context.Context, string, float64) error { return nil }
func (fakeLED) Off(context.Context, string) error         { return nil }

type fakeStore struct {
	mu       sync.Mutex
	ensured  bool
	inserted [][]domain.Reading
	arrived  chan struct{}
}

func (s *fakeStore) EnsureSchema(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensured = true
	return nil
}

func (s *fakeStore) InsertBurst(_ context.Context, rs []domain.Reading) error {
	s.mu.Lock()
	s.inserted = append(s.inserted, rs)
	s.mu.Unlock()
	select {
	case s.arrived <- struct{}{}:
	default:
	}
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	readings []domain.Reading
}

func (p *fakePublisher) PublishReading(r domain.Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readings = append(p.readings, r)
	return nil
}

type noopObs struct{}

func (noopObs) LogInfo(string, ...ports.Field)            {}
func (noopObs) LogError(string, error, ...ports.Field)    {}
func (noopObs) LogCritical(string, error, ...ports.Field) {}
func (noopObs) IncCounter(string, float64)                {}
func (noopObs) ObserveLatency(string, float64)            {}
func (noopObs) SetGauge(string, float64)                  {}

func testConfig() *Config {
	cfg := Default()
	cfg.Job.Unit = "worker1"
	cfg.Job.Experiment = "exp4"
	cfg.Job.Interval = 50 * time.Millisecond
	cfg.Job.Settle = time.Millisecond
	cfg.Job.Window = 10 * time.Millisecond
	cfg.Job.TargetSamples = 3
	cfg.Channels = []domain.ChannelConfig{{Channel: 1, Angle: domain.ReferenceAngle}}
	cfg.Board.Backend = "sim"
	cfg.Postgres.ConnString = "postgres://localhost/led?sslmode=disable"
	cfg.Metrics.Addr = "127.0.0.1:0"
	return cfg
}

func TestRuntimeRunsBurstsWithInjectedDependencies(t *testing.T) {
	st := &fakeStore{arrived: make(chan struct{}, 4)}
	pub := &fakePublisher{}

	rt, err := NewRuntime(testConfig(),
		WithAcquirer(fakeAcquirer{}),
		WithLED(fakeLED{}),
		WithStore(st),
		WithPublisher(pub),
		WithObservability(noopObs{}),
	)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	select {
	case <-st.arrived:
	case <-time.After(2 * time.Second):
		t.Fatal("no burst persisted")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runtime did not shut down")
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.ensured {
		t.Fatal("schema was not ensured before sampling")
	}
	if len(st.inserted) == 0 {
		t.Fatal("expected at least one persisted burst")
	}
	burst := st.inserted[0]
	if len(burst) != 1 || burst[0].Channel != 1 {
		t.Fatalf("unexpected burst contents: %+v", burst)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.readings) == 0 {
		t.Fatal("expected published readings")
	}
}

func TestNewRuntimeRejectsNilConfig(t *testing.T) {
	if _, err := NewRuntime(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}
