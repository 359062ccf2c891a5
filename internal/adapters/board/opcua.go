package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/har1eyk/led-reading-plugin/internal/domain"
	"github.com/har1eyk/led-reading-plugin/internal/ports"
)

// OPCUAConfig captures the runtime details required to reach a lab rig that
// exposes per-channel photodiode voltage nodes and an LED intensity node
// over OPC UA.
type OPCUAConfig struct {
	Endpoint        string         `yaml:"endpoint"`
	Username        string         `yaml:"username"`
	Password        string         `yaml:"password"`
	SecurityMode    string         `yaml:"security_mode"`
	SecurityPolicy  string         `yaml:"security_policy"`
	ApplicationName string         `yaml:"application_name"`
	VoltageNodes    map[int]string `yaml:"voltage_nodes"` // photodiode channel -> node ID
	LEDNode         string         `yaml:"led_node"`      // intensity percent, writable
}

func (c *OPCUAConfig) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "LED Reading"
	}
}

func (c *OPCUAConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.VoltageNodes) == 0 {
		return errors.New("at least one voltage node must be configured")
	}
	return nil
}

// OPCUABoard reads instantaneous voltages with one-shot read requests and
// drives the LED through attribute writes.
type OPCUABoard struct {
	cfg     OPCUAConfig
	client  *opcua.Client
	nodes   map[int]*ua.NodeID
	ledNode *ua.NodeID
}

// DialOPCUA connects to the rig and resolves the configured node IDs.
func DialOPCUA(ctx context.Context, cfg OPCUAConfig) (*OPCUABoard, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("opcua config: %w", err)
	}

	client, err := opcua.NewClient(cfg.Endpoint, buildClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("opcua connect: %w", err)
	}

	nodes := make(map[int]*ua.NodeID, len(cfg.VoltageNodes))
	for ch, id := range cfg.VoltageNodes {
		nodeID, err := ua.ParseNodeID(id)
		if err != nil {
			_ = client.Close(ctx)
			return nil, fmt.Errorf("parse node id %q: %w", id, err)
		}
		nodes[ch] = nodeID
	}

	b := &OPCUABoard{cfg: cfg, client: client, nodes: nodes}
	if cfg.LEDNode != "" {
		ledID, err := ua.ParseNodeID(cfg.LEDNode)
		if err != nil {
			_ = client.Close(ctx)
			return nil, fmt.Errorf("parse led node id %q: %w", cfg.LEDNode, err)
		}
		b.ledNode = ledID
	}
	return b, nil
}

func (b *OPCUABoard) ReadVoltage(ctx context.Context, channel int) (domain.SamplePoint, error) {
	node, ok := b.nodes[channel]
	if !ok {
		return domain.SamplePoint{}, &ports.AcquisitionError{Channel: channel,
			Err: fmt.Errorf("no voltage node configured for pd%d", channel)}
	}

	req := &ua.ReadRequest{
		MaxAge:             0,
		TimestampsToReturn: ua.TimestampsToReturnServer,
		NodesToRead: []*ua.ReadValueID{
			{NodeID: node, AttributeID: ua.AttributeIDValue},
		},
	}
	resp, err := b.client.Read(ctx, req)
	if err != nil {
		return domain.SamplePoint{}, &ports.AcquisitionError{Channel: channel, Err: err}
	}
	if len(resp.Results) == 0 {
		return domain.SamplePoint{}, &ports.AcquisitionError{Channel: channel,
			Err: errors.New("empty read response")}
	}
	result := resp.Results[0]
	if result.Status != ua.StatusOK {
		return domain.SamplePoint{}, &ports.AcquisitionError{Channel: channel,
			Err: fmt.Errorf("read status %s", result.Status)}
	}
	v, ok := variantToFloat(result.Value)
	if !ok {
		return domain.SamplePoint{}, &ports.AcquisitionError{Channel: channel,
			Err: fmt.Errorf("unsupported value type %T", result.Value)}
	}

	ts := result.ServerTimestamp
	if ts.IsZero() {
		ts = result.SourceTimestamp
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	return domain.SamplePoint{Voltage: v, At: ts.UTC()}, nil
}

func (b *OPCUABoard) On(ctx context.Context, channel string, intensityPercent float64) error {
	return b.writeLED(ctx, channel, intensityPercent, "on")
}

func (b *OPCUABoard) Off(ctx context.Context, channel string) error {
	return b.writeLED(ctx, channel, 0, "off")
}

func (b *OPCUABoard) writeLED(ctx context.Context, channel string, intensity float64, op string) error {
	if b.ledNode == nil {
		return &ports.ActuationError{Op: op, Channel: channel,
			Err: errors.New("no led node configured")}
	}
	v, err := ua.NewVariant(intensity)
	if err != nil {
		return &ports.ActuationError{Op: op, Channel: channel, Err: err}
	}
	req := &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{
			{
				NodeID:      b.ledNode,
				AttributeID: ua.AttributeIDValue,
				Value: &ua.DataValue{
					EncodingMask: ua.DataValueValue,
					Value:        v,
				},
			},
		},
	}
	resp, err := b.client.Write(ctx, req)
	if err != nil {
		return &ports.ActuationError{Op: op, Channel: channel, Err: err}
	}
	if len(resp.Results) == 0 {
		return &ports.ActuationError{Op: op, Channel: channel,
			Err: errors.New("empty write response")}
	}
	if resp.Results[0] != ua.StatusOK {
		return &ports.ActuationError{Op: op, Channel: channel,
			Err: fmt.Errorf("write status %s", resp.Results[0])}
	}
	return nil
}

func (b *OPCUABoard) Close(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	if err := b.client.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildClientOptions(cfg OPCUAConfig) []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(cfg.SecurityMode)),
		opcua.SecurityPolicy(cfg.SecurityPolicy),
		opcua.ApplicationName(cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(cfg.Username, cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

var (
	_ ports.Acquirer = (*OPCUABoard)(nil)
	_ ports.LED      = (*OPCUABoard)(nil)
)
