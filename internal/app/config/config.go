package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/har1eyk/led-reading-plugin/internal/adapters/board"
	"github.com/har1eyk/led-reading-plugin/internal/adapters/mqtt"
	"github.com/har1eyk/led-reading-plugin/internal/adapters/store"
	"github.com/har1eyk/led-reading-plugin/internal/domain"
)

type Config struct {
	Job      JobConfig              `yaml:"job"`
	LED      LEDConfig              `yaml:"led"`
	Channels []domain.ChannelConfig `yaml:"channels"`
	Board    BoardConfig            `yaml:"board"`
	Postgres PostgresConfig         `yaml:"postgres"`
	MQTT     mqtt.Config            `yaml:"mqtt"`
	Dodge    DodgeConfig            `yaml:"dodge"`
	Metrics  MetricsConfig          `yaml:"metrics"`
}

// JobConfig identifies the acting unit/experiment and sets burst timing.
type JobConfig struct {
	Unit          string        `yaml:"unit"`
	Experiment    string        `yaml:"experiment"`
	Interval      time.Duration `yaml:"interval"`
	Settle        time.Duration `yaml:"settle"`
	Window        time.Duration `yaml:"window"`
	TargetSamples int           `yaml:"target_samples"`
}

// LEDConfig selects the logical LED channel and drive intensity.
type LEDConfig struct {
	Channel   string  `yaml:"channel"`   // "A" or "B"
	Intensity float64 `yaml:"intensity"` // percent
}

// BoardConfig selects and configures the acquisition backend.
type BoardConfig struct {
	Backend string             `yaml:"backend"` // "serial", "opcua", or "sim"
	Serial  board.SerialConfig `yaml:"serial"`
	OPCUA   board.OPCUAConfig  `yaml:"opcua"`
	Sim     board.SimConfig    `yaml:"sim"`
}

type PostgresConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

// DodgeConfig controls collision avoidance with the optical-density job.
// Enabled defaults to true whenever an MQTT broker is configured.
type DodgeConfig struct {
	Enabled    *bool    `yaml:"enabled"`
	Topic      string   `yaml:"topic"`
	BusyStates []string `yaml:"busy_states"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a configuration with the stock burst parameters; callers
// still need to fill in identity, board, and sink details.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Job.Interval == 0 {
		c.Job.Interval = 20 * time.Second
	}
	if c.Job.Settle == 0 {
		c.Job.Settle = 200 * time.Millisecond
	}
	if c.Job.Window == 0 {
		c.Job.Window = 3 * time.Second
	}
	if c.Job.TargetSamples == 0 {
		c.Job.TargetSamples = 12
	}
	if c.LED.Channel == "" {
		c.LED.Channel = "B"
	}
	if c.LED.Intensity == 0 {
		c.LED.Intensity = 70
	}
	if len(c.Channels) == 0 {
		c.Channels = []domain.ChannelConfig{
			{Channel: 1, Angle: domain.ReferenceAngle, Label: "reference"},
		}
	}
	if c.Board.Backend == "" {
		c.Board.Backend = "serial"
	}
	if c.Postgres.Table == "" {
		c.Postgres.Table = store.DefaultTable
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	c.MQTT.ApplyDefaults()
	if c.Dodge.Enabled == nil {
		enabled := c.MQTT.Broker != ""
		c.Dodge.Enabled = &enabled
	}
	if len(c.Dodge.BusyStates) == 0 {
		c.Dodge.BusyStates = []string{mqtt.DefaultBusyState}
	}
	if c.Dodge.Topic == "" {
		c.Dodge.Topic = mqtt.ODStateTopic(c.MQTT.TopicPrefix, c.Job.Unit, c.Job.Experiment)
	}

	c.Board.Serial.ApplyDefaults()
	c.Board.OPCUA.ApplyDefaults()
	c.Board.Sim.ApplyDefaults()
}

// DodgeEnabled reports the effective dodge setting after defaults.
func (c *Config) DodgeEnabled() bool {
	return c.Dodge.Enabled != nil && *c.Dodge.Enabled
}

func (c *Config) Validate() error {
	if c.Job.Unit == "" {
		return fmt.Errorf("job.unit is required")
	}
	if c.Job.Experiment == "" {
		return fmt.Errorf("job.experiment is required")
	}
	if c.Job.Interval <= 0 {
		return fmt.Errorf("job.interval must be positive")
	}
	if c.Job.Settle < 0 {
		return fmt.Errorf("job.settle must not be negative")
	}
	if c.Job.Window <= 0 {
		return fmt.Errorf("job.window must be positive")
	}
	if c.Job.TargetSamples < 1 {
		return fmt.Errorf("job.target_samples must be at least 1")
	}
	if c.Job.Settle+c.Job.Window > c.Job.Interval {
		return fmt.Errorf("job.settle + job.window (%s) exceeds job.interval (%s): bursts would overlap",
			c.Job.Settle+c.Job.Window, c.Job.Interval)
	}

	if c.LED.Channel != "A" && c.LED.Channel != "B" {
		return fmt.Errorf("led.channel must be A or B, got %q", c.LED.Channel)
	}
	if c.LED.Intensity <= 0 || c.LED.Intensity > 100 {
		return fmt.Errorf("led.intensity must be in (0, 100], got %v", c.LED.Intensity)
	}

	if len(c.Channels) == 0 || len(c.Channels) > 2 {
		return fmt.Errorf("one or two photodiode channels must be configured, got %d", len(c.Channels))
	}
	refs := 0
	seen := map[int]bool{}
	for _, ch := range c.Channels {
		if ch.Channel != 1 && ch.Channel != 2 {
			return fmt.Errorf("channel index must be 1 or 2, got %d", ch.Channel)
		}
		if seen[ch.Channel] {
			return fmt.Errorf("channel %d configured twice", ch.Channel)
		}
		seen[ch.Channel] = true
		if ch.IsReference() {
			refs++
		} else if ch.Angle < 0 || ch.Angle > 360 {
			return fmt.Errorf("channel %d: angle must be %d (reference) or within [0, 360], got %d",
				ch.Channel, domain.ReferenceAngle, ch.Angle)
		}
	}
	if refs > 1 {
		return fmt.Errorf("at most one channel may carry the reference angle")
	}

	switch c.Board.Backend {
	case "serial":
		if err := c.Board.Serial.Validate(); err != nil {
			return fmt.Errorf("board.serial: %w", err)
		}
	case "opcua":
		if err := c.Board.OPCUA.Validate(); err != nil {
			return fmt.Errorf("board.opcua: %w", err)
		}
	case "sim":
	default:
		return fmt.Errorf("board.backend must be serial, opcua, or sim, got %q", c.Board.Backend)
	}

	if c.Postgres.ConnString == "" {
		return fmt.Errorf("postgres.conn_string is required")
	}
	if c.DodgeEnabled() && c.MQTT.Broker == "" {
		return fmt.Errorf("dodge requires mqtt.broker to watch the OD job state")
	}
	if c.MQTT.Broker != "" {
		if err := c.MQTT.Validate(); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	return nil
}
