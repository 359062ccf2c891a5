package burst

import (
	"context"
	"time"

	"github.com/har1eyk/led-reading-plugin/internal/domain"
	"github.com/har1eyk/led-reading-plugin/internal/ports"
)

// minCadence is the floor on inter-sample spacing; below this the ADC bus
// cannot keep up and readings smear into each other.
const minCadence = 20 * time.Millisecond

// Reducer collects up to Target readings from one channel within Window and
// reduces them to summary statistics. The acquirer is owned exclusively for
// the duration of one Reduce call.
type Reducer struct {
	Acquirer ports.Acquirer
	Window   time.Duration
	Target   int
	Obs      ports.Observability
}

// Cadence returns the even inter-sample spacing derived from the window and
// target count, clamped to the bus floor.
func (r *Reducer) Cadence() time.Duration {
	if r.Target <= 0 {
		return minCadence
	}
	cadence := r.Window / time.Duration(r.Target)
	if cadence < minCadence {
		cadence = minCadence
	}
	return cadence
}

// Reduce runs the sampling loop for one channel. A failed acquisition is
// skipped and does not count toward the target, but still consumes its
// cadence slot. Reduce returns a non-nil error only when ctx is cancelled;
// an all-failed burst is reported as a result with Count == 0, never as an
// error. It never blocks past Window plus one acquisition's latency.
func (r *Reducer) Reduce(ctx context.Context, ch domain.ChannelConfig) (domain.BurstResult, error) {
	cadence := r.Cadence()
	deadline := time.Now().Add(r.Window)
	res := domain.BurstResult{Channel: ch}

	var sum float64
	for res.Count < r.Target {
		p, err := r.Acquirer.ReadVoltage(ctx, ch.Channel)
		if err != nil {
			if ctx.Err() != nil {
				return domain.BurstResult{}, ctx.Err()
			}
			r.Obs.IncCounter("led_sample_errors_total", 1)
			r.Obs.LogError("sample_read_failed", err,
				ports.Field{Key: "channel", Value: ch.Channel})
		} else {
			if res.Count == 0 || p.Voltage < res.Min {
				res.Min = p.Voltage
			}
			if res.Count == 0 || p.Voltage > res.Max {
				res.Max = p.Voltage
			}
			sum += p.Voltage
			res.Count++
			res.LastSampleAt = p.At
		}

		if res.Count >= r.Target {
			break
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		wait := cadence
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return domain.BurstResult{}, ctx.Err()
		case <-time.After(wait):
		}
		if !time.Now().Before(deadline) {
			break
		}
	}

	if res.Count > 0 {
		res.Mean = sum / float64(res.Count)
	}
	return res, nil
}
