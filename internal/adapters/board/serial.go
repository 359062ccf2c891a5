package board

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/har1eyk/led-reading-plugin/internal/domain"
	"github.com/har1eyk/led-reading-plugin/internal/ports"
)

const (
	// DefaultBaudRate matches the sampling board firmware.
	DefaultBaudRate = 115200

	defaultReadTimeout = 500 * time.Millisecond
)

// SerialConfig configures the serial-attached sampling board.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

func (c *SerialConfig) ApplyDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
}

func (c *SerialConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	return nil
}

// SerialBoard talks to the sampling board over a line protocol:
//
//	-> READ <pd>
//	<- V <pd> <volts>
//	-> LED <channel> <percent>
//	<- OK
//
// The connection is guarded by a mutex; one request owns the bus at a time.
type SerialBoard struct {
	cfg SerialConfig

	mu   sync.Mutex
	port serial.Port
	rw   io.ReadWriter
	rd   *bufio.Reader
}

// OpenSerial opens the configured port and returns a board that implements
// both the Acquirer and LED ports.
func OpenSerial(cfg SerialConfig) (*SerialBoard, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("serial config: %w", err)
	}

	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	return &SerialBoard{cfg: cfg, port: port, rw: port, rd: bufio.NewReader(port)}, nil
}

func (b *SerialBoard) ReadVoltage(ctx context.Context, channel int) (domain.SamplePoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.SamplePoint{}, err
	}
	line, err := b.exchange(fmt.Sprintf("READ %d", channel))
	if err != nil {
		return domain.SamplePoint{}, &ports.AcquisitionError{Channel: channel, Err: err}
	}
	v, err := parseVoltage(line, channel)
	if err != nil {
		return domain.SamplePoint{}, &ports.AcquisitionError{Channel: channel, Err: err}
	}
	return domain.SamplePoint{Voltage: v, At: time.Now().UTC()}, nil
}

func (b *SerialBoard) On(ctx context.Context, channel string, intensityPercent float64) error {
	return b.setLED(ctx, channel, intensityPercent, "on")
}

func (b *SerialBoard) Off(ctx context.Context, channel string) error {
	return b.setLED(ctx, channel, 0, "off")
}

func (b *SerialBoard) setLED(ctx context.Context, channel string, intensity float64, op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := b.exchange(fmt.Sprintf("LED %s %.1f", channel, intensity))
	if err != nil {
		return &ports.ActuationError{Op: op, Channel: channel, Err: err}
	}
	if strings.TrimSpace(line) != "OK" {
		return &ports.ActuationError{Op: op, Channel: channel,
			Err: fmt.Errorf("unexpected response %q", strings.TrimSpace(line))}
	}
	return nil
}

func (b *SerialBoard) Close() error {
	if b.port == nil {
		return nil
	}
	return b.port.Close()
}

// exchange writes one command line and reads one response line. Callers
// hold the mutex.
func (b *SerialBoard) exchange(cmd string) (string, error) {
	if _, err := fmt.Fprintf(b.rw, "%s\r\n", cmd); err != nil {
		return "", fmt.Errorf("write %q: %w", cmd, err)
	}
	line, err := b.rd.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read response to %q: %w", cmd, err)
	}
	return line, nil
}

func parseVoltage(line string, channel int) (float64, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) != 3 || fields[0] != "V" {
		return 0, fmt.Errorf("unexpected response %q", strings.TrimSpace(line))
	}
	ch, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("bad channel in response %q: %w", line, err)
	}
	if ch != channel {
		return 0, fmt.Errorf("response for pd%d, expected pd%d", ch, channel)
	}
	v, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return 0, fmt.Errorf("bad voltage in response %q: %w", line, err)
	}
	return v, nil
}

var (
	_ ports.Acquirer = (*SerialBoard)(nil)
	_ ports.LED      = (*SerialBoard)(nil)
)
