package board

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/har1eyk/led-reading-plugin/internal/domain"
	"github.com/har1eyk/led-reading-plugin/internal/ports"
)

// SimConfig configures the simulated board used for fake-data runs and
// tests.
type SimConfig struct {
	Voltages map[int]float64 `yaml:"voltages"` // photodiode channel -> volts
	Noise    float64         `yaml:"noise"`    // peak noise amplitude in volts
	Seed     int64           `yaml:"seed"`
}

func (c *SimConfig) ApplyDefaults() {
	if len(c.Voltages) == 0 {
		c.Voltages = map[int]float64{1: 0.066, 2: 1.18}
	}
}

// SimBoard is a deterministic in-memory board: fixed per-channel voltages
// plus optional uniform noise, and an LED whose state can be inspected.
type SimBoard struct {
	cfg SimConfig

	mu        sync.Mutex
	rng       *rand.Rand
	ledOn     bool
	intensity float64
	failReads int
}

func NewSim(cfg SimConfig) *SimBoard {
	cfg.ApplyDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimBoard{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

func (b *SimBoard) ReadVoltage(ctx context.Context, channel int) (domain.SamplePoint, error) {
	if err := ctx.Err(); err != nil {
		return domain.SamplePoint{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failReads > 0 {
		b.failReads--
		return domain.SamplePoint{}, &ports.AcquisitionError{Channel: channel,
			Err: errors.New("injected read fault")}
	}
	v, ok := b.cfg.Voltages[channel]
	if !ok {
		return domain.SamplePoint{}, &ports.AcquisitionError{Channel: channel,
			Err: fmt.Errorf("no simulated voltage for pd%d", channel)}
	}
	if b.cfg.Noise > 0 {
		v += (b.rng.Float64()*2 - 1) * b.cfg.Noise
	}
	return domain.SamplePoint{Voltage: v, At: time.Now().UTC()}, nil
}

func (b *SimBoard) On(ctx context.Context, channel string, intensityPercent float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ledOn = true
	b.intensity = intensityPercent
	return nil
}

func (b *SimBoard) Off(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ledOn = false
	b.intensity = 0
	return nil
}

// LEDState reports the simulated LED for assertions.
func (b *SimBoard) LEDState() (on bool, intensity float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledOn, b.intensity
}

// FailNextReads makes the next n reads return an AcquisitionError.
func (b *SimBoard) FailNextReads(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failReads = n
}

var (
	_ ports.Acquirer = (*SimBoard)(nil)
	_ ports.LED      = (*SimBoard)(nil)
)
