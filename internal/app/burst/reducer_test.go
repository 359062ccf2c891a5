package burst

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/har1eyk/led-reading-plugin/internal/domain"
	"github.com/har1eyk/led-reading-plugin/internal/ports"
)

// scriptedAcquirer returns voltages in order; a NaN entry scripts a failed
// read. When the script runs out it repeats the last entry.
type scriptedAcquirer struct {
	mu       sync.Mutex
	voltages []float64
	calls    int
	delay    time.Duration
}

func (a *scriptedAcquirer) ReadVoltage(ctx context.Context, channel int) (domain.SamplePoint, error) {
	if a.delay > 0 {
		select {
		case <-ctx.Done():
			return domain.SamplePoint{}, ctx.Err()
		case <-time.After(a.delay):
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.calls
	if idx >= len(a.voltages) {
		idx = len(a.voltages) - 1
	}
	a.calls++
	v := a.voltages[idx]
	if math.IsNaN(v) {
		return domain.SamplePoint{}, &ports.AcquisitionError{Channel: channel, Err: errors.New("bus fault")}
	}
	return domain.SamplePoint{Voltage: v, At: time.Now().UTC()}, nil
}

func (a *scriptedAcquirer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type recordingObs struct {
	mu       sync.Mutex
	counters map[string]float64
	gauges   map[string]float64
	errors   []string
	infos    []string
}

func newRecordingObs() *recordingObs {
	return &recordingObs{
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
	}
}

func (o *recordingObs) LogInfo(msg string, fields ...ports.Field) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.infos = append(o.infos, msg)
}

func (o *recordingObs) LogError(msg string, err error, fields ...ports.Field) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors = append(o.errors, msg)
}

func (o *recordingObs) LogCritical(msg string, err error, fields ...ports.Field) {
	o.LogError(msg, err, fields...)
}

func (o *recordingObs) IncCounter(name string, v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counters[name] += v
}

func (o *recordingObs) ObserveLatency(name string, seconds float64) {}

func (o *recordingObs) SetGauge(name string, v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gauges[name] = v
}

func (o *recordingObs) counter(name string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counters[name]
}

func TestReducerCollectsTargetSamples(t *testing.T) {
	acq := &scriptedAcquirer{voltages: []float64{0.5, 0.3, 0.7, 0.4, 0.6}}
	r := &Reducer{Acquirer: acq, Window: time.Second, Target: 5, Obs: newRecordingObs()}

	res, err := r.Reduce(context.Background(), domain.ChannelConfig{Channel: 1, Angle: domain.ReferenceAngle})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if res.Count != 5 {
		t.Fatalf("expected 5 samples, got %d", res.Count)
	}
	if res.Min != 0.3 || res.Max != 0.7 {
		t.Fatalf("expected min 0.3 max 0.7, got %f / %f", res.Min, res.Max)
	}
	if got := res.Mean; math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("expected mean 0.5, got %f", got)
	}
	if res.LastSampleAt.IsZero() {
		t.Fatalf("expected last sample timestamp to be recorded")
	}
	if !res.Channel.IsReference() {
		t.Fatalf("expected result tagged with the reference channel config")
	}
}

func TestReducerReturnsWhenWindowExpires(t *testing.T) {
	acq := &scriptedAcquirer{voltages: []float64{1.0}}
	window := 70 * time.Millisecond
	r := &Reducer{Acquirer: acq, Window: window, Target: 100, Obs: newRecordingObs()}

	start := time.Now()
	res, err := r.Reduce(context.Background(), domain.ChannelConfig{Channel: 2, Angle: 135})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if res.Count == 0 || res.Count >= 100 {
		t.Fatalf("expected a partial burst, got %d samples", res.Count)
	}
	if elapsed > window+100*time.Millisecond {
		t.Fatalf("reduce ran %s, well past the %s window", elapsed, window)
	}
}

func TestReducerAllReadsFail(t *testing.T) {
	acq := &scriptedAcquirer{voltages: []float64{math.NaN()}}
	obs := newRecordingObs()
	r := &Reducer{Acquirer: acq, Window: 60 * time.Millisecond, Target: 3, Obs: obs}

	res, err := r.Reduce(context.Background(), domain.ChannelConfig{Channel: 1, Angle: 45})
	if err != nil {
		t.Fatalf("an all-failed burst is a result, not an error: %v", err)
	}
	if !res.Empty() {
		t.Fatalf("expected empty result, got count %d", res.Count)
	}
	if res.Mean != 0 || res.Min != 0 || res.Max != 0 {
		t.Fatalf("empty result must not carry statistics: %+v", res)
	}
	if obs.counter("led_sample_errors_total") == 0 {
		t.Fatalf("expected sample errors to be counted")
	}
}

func TestReducerFailedReadConsumesCadenceSlot(t *testing.T) {
	acq := &scriptedAcquirer{voltages: []float64{math.NaN(), math.NaN(), 0.9, 0.9}}
	r := &Reducer{Acquirer: acq, Window: time.Second, Target: 2, Obs: newRecordingObs()}

	res, err := r.Reduce(context.Background(), domain.ChannelConfig{Channel: 1, Angle: 90})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("expected 2 samples, got %d", res.Count)
	}
	if got := acq.callCount(); got != 4 {
		t.Fatalf("expected 4 acquisitions (2 failed slots + 2 good), got %d", got)
	}
}

func TestReducerCancelledMidBurst(t *testing.T) {
	acq := &scriptedAcquirer{voltages: []float64{1.0}}
	r := &Reducer{Acquirer: acq, Window: 5 * time.Second, Target: 1000, Obs: newRecordingObs()}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(40 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := r.Reduce(ctx, domain.ChannelConfig{Channel: 1, Angle: 0})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancellation took %s, expected a prompt return", elapsed)
	}
}

func TestReducerCadenceClamp(t *testing.T) {
	r := &Reducer{Window: 100 * time.Millisecond, Target: 100}
	if got := r.Cadence(); got != minCadence {
		t.Fatalf("expected cadence clamped to %s, got %s", minCadence, got)
	}
	r = &Reducer{Window: 3 * time.Second, Target: 12}
	if got := r.Cadence(); got != 250*time.Millisecond {
		t.Fatalf("expected derived cadence 250ms, got %s", got)
	}
}
