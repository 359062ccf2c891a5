package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/har1eyk/led-reading-plugin/internal/domain"
)

func TestEnsureSchemaIdempotentDDL(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS led_automation_readings").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS led_automation_readings_ix").
		WillReturnResult(sqlmock.NewResult(0, 0))

	p := NewPostgres(db, "")
	if err := p.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertBurstWritesAllChannels(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	ts := time.Date(2025, 8, 14, 10, 30, 0, 123_000_000, time.UTC)
	reading := 0.066
	readings := []domain.Reading{
		{
			Experiment: "exp4",
			Unit:       "worker1",
			Timestamp:  ts,
			Reading:    &reading,
			Angle:      domain.ReferenceAngle,
			Channel:    1,
			Samples:    12,
		},
		{
			Experiment: "exp4",
			Unit:       "worker1",
			Timestamp:  ts,
			Reading:    nil, // empty burst: persisted as NULL, not 0.0
			Angle:      135,
			Channel:    2,
		},
	}

	expectedQuery := regexp.QuoteMeta(
		"INSERT INTO led_automation_readings (experiment, unit, timestamp, led_reading, angle, channel) " +
			"VALUES ($1,$2,$3,$4,$5,$6),($7,$8,$9,$10,$11,$12)")
	mock.ExpectExec(expectedQuery).
		WithArgs(
			"exp4", "worker1", "2025-08-14T10:30:00.123Z", 0.066, domain.ReferenceAngle, 1,
			"exp4", "worker1", "2025-08-14T10:30:00.123Z", nil, 135, 2,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	p := NewPostgres(db, "")
	if err := p.InsertBurst(context.Background(), readings); err != nil {
		t.Fatalf("insert burst: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertBurstNoReadings(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	p := NewPostgres(db, "")
	if err := p.InsertBurst(context.Background(), nil); err != nil {
		t.Fatalf("expected nil error for empty burst list, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
