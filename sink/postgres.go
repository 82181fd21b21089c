package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/AlexRomero01/Bridge-Server/logger"
	"github.com/AlexRomero01/Bridge-Server/record"
	"github.com/AlexRomero01/Bridge-Server/retry"
)

// PostgresSink is the relational document store backend. Records are stored
// as JSONB rows keyed by the idempotency key.
type PostgresSink struct {
	db  *sql.DB
	dsn string
}

// NewPostgresSink connects to PostgreSQL and prepares the readings table.
func NewPostgresSink(dsn string) (*PostgresSink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN cannot be empty")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("PostgreSQL connection test failed: %v", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Minute * 5)

	s := &PostgresSink{db: db, dsn: dsn}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize PostgreSQL schema: %v", err)
	}

	logger.Info("PostgreSQL document sink initialized")
	return s, nil
}

// initSchema creates the readings table and its indexes.
func (s *PostgresSink) initSchema() error {
	tableSQL := `
	CREATE TABLE IF NOT EXISTS readings (
		idempotency_key TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		epoch TIMESTAMPTZ NOT NULL,
		partial BOOLEAN NOT NULL,
		doc JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`
	indexSQL := `
	CREATE INDEX IF NOT EXISTS idx_readings_device ON readings (device_id);
	CREATE INDEX IF NOT EXISTS idx_readings_epoch ON readings (epoch DESC);
	`

	if _, err := s.db.Exec(tableSQL); err != nil {
		return fmt.Errorf("failed to create readings table: %v", err)
	}
	if _, err := s.db.Exec(indexSQL); err != nil {
		return fmt.Errorf("failed to create readings indexes: %v", err)
	}
	return nil
}

// Name implements Sink.
func (s *PostgresSink) Name() string { return "postgres" }

// Write upserts the record, merging it into any stored row. The top-level
// JSONB concatenation keeps variants absent from the incoming document, and
// a partial commit never downgrades a stored complete one: its stored
// partial flag and seal reason are kept.
func (s *PostgresSink) Write(ctx context.Context, rec record.CommitRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		// Encoding failures never heal on retry.
		return retry.Permanent(fmt.Errorf("serialize commit record %s: %w", rec.Key, err))
	}

	upsertSQL := `
	INSERT INTO readings (idempotency_key, device_id, epoch, partial, doc)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (idempotency_key)
	DO UPDATE SET device_id = EXCLUDED.device_id,
	              epoch = EXCLUDED.epoch,
	              partial = readings.partial AND EXCLUDED.partial,
	              doc = CASE
	                  WHEN EXCLUDED.partial THEN (readings.doc || EXCLUDED.doc)
	                      || jsonb_build_object('partial', readings.partial,
	                                            'seal_reason', readings.doc->'seal_reason')
	                  ELSE readings.doc || EXCLUDED.doc
	              END
	`
	if _, err := s.db.ExecContext(ctx, upsertSQL, rec.Key, rec.Device, rec.Epoch, rec.Partial, doc); err != nil {
		return fmt.Errorf("postgres upsert %s: %w", rec.Key, err)
	}
	return nil
}

// Close closes the database connection pool.
func (s *PostgresSink) Close(_ context.Context) error {
	return s.db.Close()
}

var _ Sink = (*PostgresSink)(nil)
