package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/har1eyk/led-reading-plugin/internal/domain"
	"github.com/har1eyk/led-reading-plugin/internal/ports"
)

// Config covers both the result publisher and the dodge-gate subscription;
// they share one broker connection.
type Config struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            byte          `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "led_reading"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "pioreactor"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 2 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.Broker == "" {
		return errors.New("broker is required")
	}
	return nil
}

// Dial connects to the broker and blocks until connected or the configured
// timeout elapses. onConnect (optional) runs on the initial connect and on
// every reconnect; subscriptions must be established there so they survive
// a broker restart.
func Dial(cfg Config, onConnect paho.OnConnectHandler) (paho.Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mqtt config: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetOrderMatters(false)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if onConnect != nil {
		opts.SetOnConnectHandler(onConnect)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out after %s", cfg.Broker, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// Publisher announces one compact JSON message per channel per burst.
type Publisher struct {
	client paho.Client
	cfg    Config
}

func NewPublisher(client paho.Client, cfg Config) *Publisher {
	cfg.ApplyDefaults()
	return &Publisher{client: client, cfg: cfg}
}

type readingMessage struct {
	Timestamp        string   `json:"timestamp"`
	Angle            int      `json:"angle"`
	Reading          *float64 `json:"reading,omitempty"`
	NSamples         int      `json:"n_samples"`
	LEDChannel       string   `json:"led_channel"`
	IntensityPercent float64  `json:"intensity_percent"`
}

func (p *Publisher) PublishReading(r domain.Reading) error {
	payload, err := json.Marshal(readingMessage{
		Timestamp:        domain.FormatTimestamp(r.Timestamp),
		Angle:            r.Angle,
		Reading:          r.Reading,
		NSamples:         r.Samples,
		LEDChannel:       r.LEDChannel,
		IntensityPercent: r.Intensity,
	})
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}

	topic := r.Topic(p.cfg.TopicPrefix)
	token := p.client.Publish(topic, p.cfg.QoS, false, payload)
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		return fmt.Errorf("publish to %s: timed out after %s", topic, p.cfg.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

var _ ports.Publisher = (*Publisher)(nil)
