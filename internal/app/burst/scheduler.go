package burst

import (
	"context"
	"time"

	"github.com/har1eyk/led-reading-plugin/internal/domain"
	"github.com/har1eyk/led-reading-plugin/internal/ports"
)

// forceOffTimeout bounds the best-effort LED-off cleanup so a wedged driver
// cannot hang shutdown.
const forceOffTimeout = 2 * time.Second

// Scheduler is the periodic burst driver. One cycle walks
// Idle → WaitingSettle → Sampling → Reducing → Publishing → Idle; the
// interval timer restarts when the cycle completes, so a dodged or slow
// cycle shifts subsequent bursts instead of causing catch-up bursts.
//
// All fields must be set before Run; Gate, Store, and Publisher may be nil
// (always clear, and skipped, respectively).
type Scheduler struct {
	Burst      domain.BurstConfig
	Channels   []domain.ChannelConfig
	Unit       string
	Experiment string
	LEDChannel string
	Intensity  float64

	Acquirer  ports.Acquirer
	LED       ports.LED
	Gate      ports.Gate
	Store     ports.Store
	Publisher ports.Publisher
	Obs       ports.Observability
}

// Run drives burst cycles until ctx is cancelled. The first burst fires
// immediately. A tick whose dodge check fails is skipped outright; missed
// bursts are never queued or compensated for.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if s.Gate != nil && !s.Gate.Clear() {
			s.Obs.IncCounter("led_bursts_dodged_total", 1)
			s.Obs.LogInfo("burst_dodged",
				ports.Field{Key: "unit", Value: s.Unit},
				ports.Field{Key: "experiment", Value: s.Experiment})
		} else {
			s.runCycle(ctx)
		}

		if ctx.Err() != nil {
			return nil
		}
		timer.Reset(s.Burst.Interval)
	}
}

// runCycle executes one full burst. Cancellation mid-cycle emits nothing;
// the deferred force-off guarantees "LED on" is paired with "LED off" on
// every exit path.
func (s *Scheduler) runCycle(ctx context.Context) {
	start := time.Now()

	if err := s.LED.On(ctx, s.LEDChannel, s.Intensity); err != nil {
		s.forceLEDOff()
		s.Obs.IncCounter("led_bursts_failed_total", 1)
		s.Obs.LogError("led_on_failed", err,
			ports.Field{Key: "led_channel", Value: s.LEDChannel})
		return
	}
	ledOff := false
	defer func() {
		if !ledOff {
			s.forceLEDOff()
		}
	}()

	// WaitingSettle: let optical output stabilize before measurement.
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.Burst.Settle):
	}

	// Sampling/Reducing: channels share the ADC bus, so strictly one at a
	// time.
	reducer := &Reducer{
		Acquirer: s.Acquirer,
		Window:   s.Burst.Window,
		Target:   s.Burst.TargetSamples,
		Obs:      s.Obs,
	}
	results := make([]domain.BurstResult, 0, len(s.Channels))
	for _, ch := range s.Channels {
		res, err := reducer.Reduce(ctx, ch)
		if err != nil {
			return
		}
		results = append(results, res)
	}

	if err := s.LED.Off(ctx, s.LEDChannel); err != nil {
		s.forceLEDOff()
		ledOff = true
		s.Obs.IncCounter("led_bursts_failed_total", 1)
		s.Obs.LogError("led_off_failed", err,
			ports.Field{Key: "led_channel", Value: s.LEDChannel})
		return
	}
	ledOff = true

	s.publish(ctx, results)
	s.Obs.IncCounter("led_bursts_total", 1)
	s.Obs.ObserveLatency("led_burst_duration_seconds", time.Since(start).Seconds())
}

// publish hands one burst's results to the output sinks as a unit. Every
// channel is emitted, empty ones included, so downstream consumers see the
// gap rather than silence. Sink failures are logged and never stop the
// scheduler loop.
func (s *Scheduler) publish(ctx context.Context, results []domain.BurstResult) {
	completed := time.Now().UTC()

	readings := make([]domain.Reading, 0, len(results))
	for _, res := range results {
		r := domain.Reading{
			Experiment: s.Experiment,
			Unit:       s.Unit,
			Timestamp:  completed,
			Angle:      res.Channel.Angle,
			Channel:    res.Channel.Channel,
			Samples:    res.Count,
			LEDChannel: s.LEDChannel,
			Intensity:  s.Intensity,
		}
		if res.Empty() {
			s.Obs.IncCounter("led_empty_bursts_total", 1)
			s.Obs.LogInfo("empty_burst",
				ports.Field{Key: "channel", Value: res.Channel.Channel})
		} else {
			mean := res.Mean
			r.Reading = &mean
			s.Obs.SetGauge("led_last_reading_volts", res.Mean)
		}
		s.Obs.IncCounter("led_samples_total", float64(res.Count))
		readings = append(readings, r)
	}

	if s.Store != nil {
		if err := s.Store.InsertBurst(ctx, readings); err != nil {
			s.Obs.IncCounter("led_store_errors_total", 1)
			s.Obs.LogError("store_insert_failed", err)
		}
	}
	if s.Publisher != nil {
		for _, r := range readings {
			if err := s.Publisher.PublishReading(r); err != nil {
				s.Obs.IncCounter("led_publish_errors_total", 1)
				s.Obs.LogError("publish_failed", err,
					ports.Field{Key: "channel", Value: r.Channel})
			}
		}
	}
}

func (s *Scheduler) forceLEDOff() {
	ctx, cancel := context.WithTimeout(context.Background(), forceOffTimeout)
	defer cancel()
	_ = s.LED.Off(ctx, s.LEDChannel)
}
