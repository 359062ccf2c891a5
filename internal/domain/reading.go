package domain

import (
	"fmt"
	"time"
)

// ReferenceAngle is the sentinel reported by the reference photodiode
// channel in place of a physical sensing angle.
const ReferenceAngle = -1

// TimestampLayout is the wire/storage format for burst timestamps:
// ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// ChannelConfig identifies one photodiode input. Immutable for the
// lifetime of the job.
type ChannelConfig struct {
	Channel int    `yaml:"channel" json:"channel"`
	Angle   int    `yaml:"angle" json:"angle"`
	Label   string `yaml:"label" json:"label,omitempty"`
}

// IsReference reports whether this channel carries the reference sentinel
// instead of a physical angle.
func (c ChannelConfig) IsReference() bool { return c.Angle == ReferenceAngle }

// BurstConfig holds the timing parameters of one burst cycle.
type BurstConfig struct {
	Interval      time.Duration
	Settle        time.Duration
	Window        time.Duration
	TargetSamples int
}

// SamplePoint is one instantaneous voltage reading and the wall-clock time
// at which the driver read completed.
type SamplePoint struct {
	Voltage float64
	At      time.Time
}

// BurstResult summarizes the samples collected for one channel during one
// burst. Count == 0 means the burst produced no data for this channel; in
// that case Min, Max, and Mean are meaningless and must not be consumed.
type BurstResult struct {
	Channel      ChannelConfig
	Count        int
	Min          float64
	Max          float64
	Mean         float64
	LastSampleAt time.Time
}

// Empty reports whether the burst collected no samples for this channel.
func (r BurstResult) Empty() bool { return r.Count == 0 }

// Reading is the record emitted to the output sinks: one per channel per
// burst. Reading is nil when the burst collected no samples, so downstream
// consumers see the gap rather than a fabricated zero.
type Reading struct {
	Experiment string
	Unit       string
	Timestamp  time.Time
	Reading    *float64
	Angle      int
	Channel    int
	Samples    int
	LEDChannel string
	Intensity  float64
}

// Topic returns the publish topic for this reading under the given prefix,
// e.g. pioreactor/worker1/exp4/led_reading/1.
func (r Reading) Topic(prefix string) string {
	return fmt.Sprintf("%s/%s/%s/led_reading/%d", prefix, r.Unit, r.Experiment, r.Channel)
}

// FormatTimestamp renders t in the canonical storage format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
