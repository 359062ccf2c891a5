package ports

import (
	"context"
	"fmt"
)

// LED energizes and de-energizes one logical LED channel. On must always be
// paired with Off on every exit path, including error paths.
type LED interface {
	On(ctx context.Context, channel string, intensityPercent float64) error
	Off(ctx context.Context, channel string) error
}

// ActuationError is an LED on/off failure. It is fatal for the current
// cycle only; the scheduler forces the LED off best-effort and retries at
// the next interval.
type ActuationError struct {
	Op      string // "on" or "off"
	Channel string
	Err     error
}

func (e *ActuationError) Error() string {
	return fmt.Sprintf("led %s channel %s: %v", e.Op, e.Channel, e.Err)
}

func (e *ActuationError) Unwrap() error { return e.Err }
