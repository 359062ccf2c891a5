package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/har1eyk/led-reading-plugin/internal/domain"
	"github.com/har1eyk/led-reading-plugin/internal/ports"
)

// DefaultTable matches the table name used by the host platform's storage.
const DefaultTable = "led_automation_readings"

// Postgres persists one row per channel per burst through database/sql.
type Postgres struct {
	db    *sql.DB
	table string
}

func NewPostgres(db *sql.DB, table string) *Postgres {
	if table == "" {
		table = DefaultTable
	}
	return &Postgres{db: db, table: table}
}

// EnsureSchema creates the readings table and its query index. Both
// statements are idempotent and run on every job start.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		experiment TEXT NOT NULL,
		unit TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		led_reading DOUBLE PRECISION,
		angle INTEGER NOT NULL,
		channel INTEGER NOT NULL CHECK (channel IN (1, 2))
	)`, p.table)
	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", p.table, err)
	}

	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_ix ON %s (experiment, unit, timestamp)`,
		p.table, p.table)
	if _, err := p.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("create index on %s: %w", p.table, err)
	}
	return nil
}

// InsertBurst writes all channel rows of one burst in a single statement.
// A nil Reading value is stored as NULL so empty bursts stay distinguishable
// from real zero-volt readings.
func (p *Postgres) InsertBurst(ctx context.Context, readings []domain.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(p.table)
	b.WriteString(" (experiment, unit, timestamp, led_reading, angle, channel) VALUES ")

	args := make([]any, 0, len(readings)*6)
	for i, r := range readings {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5, len(args)+6))
		args = append(args,
			r.Experiment,
			r.Unit,
			domain.FormatTimestamp(r.Timestamp),
			r.Reading,
			r.Angle,
			r.Channel,
		)
	}

	if _, err := p.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert burst: %w", err)
	}
	return nil
}

var _ ports.Store = (*Postgres)(nil)
