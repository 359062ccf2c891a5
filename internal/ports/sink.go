package ports

import (
	"context"

	"github.com/har1eyk/led-reading-plugin/internal/domain"
)

// Store persists burst readings. EnsureSchema is idempotent and safe to
// invoke on every job start. InsertBurst writes all channel rows of one
// burst as a single unit.
type Store interface {
	EnsureSchema(ctx context.Context) error
	InsertBurst(ctx context.Context, readings []domain.Reading) error
}

// Publisher announces one channel's reading for a completed burst.
type Publisher interface {
	PublishReading(r domain.Reading) error
}
