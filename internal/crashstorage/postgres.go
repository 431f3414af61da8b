package crashstorage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"crashproc/internal/models"
	"crashproc/internal/rules"
)

var _ Destination = (*PostgresIndex)(nil)

const processedSchema = `
CREATE TABLE IF NOT EXISTS processed_crashes (
  crash_id UUID PRIMARY KEY,
  signature TEXT NOT NULL DEFAULT '',
  product TEXT NOT NULL DEFAULT '',
  version TEXT NOT NULL DEFAULT '',
  date_processed TIMESTAMP WITH TIME ZONE,
  data JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processed_crashes_signature ON processed_crashes (signature);
CREATE INDEX IF NOT EXISTS idx_processed_crashes_date_processed ON processed_crashes (date_processed);
`

const upsertProcessed = `
INSERT INTO processed_crashes (
  crash_id, signature, product, version, date_processed, data
)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (crash_id)
DO UPDATE SET signature=EXCLUDED.signature,
  product=EXCLUDED.product,
  version=EXCLUDED.version,
  date_processed=EXCLUDED.date_processed,
  data=EXCLUDED.data`

// PostgresIndex writes processed crashes to the processed_crashes table so
// they can be queried by signature, product and date.
type PostgresIndex struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

// NewPostgresIndex connects to dsn.
func NewPostgresIndex(ctx context.Context, dsn string) (*PostgresIndex, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresIndex{db: db}, nil
}

func (p *PostgresIndex) ensureSchema(ctx context.Context) error {
	p.schemaOnce.Do(func() {
		_, p.schemaErr = p.db.ExecContext(ctx, processedSchema)
	})

	if p.schemaErr != nil {
		return fmt.Errorf("ensure schema: %w", p.schemaErr)
	}

	return nil
}

// SaveProcessed implements Destination.
func (p *PostgresIndex) SaveProcessed(ctx context.Context, crashID string, processed models.ProcessedCrash) error {
	if err := ValidateCrashID(crashID); err != nil {
		return err
	}

	if err := p.ensureSchema(ctx); err != nil {
		return err
	}

	row, err := encodeRow(crashID, processed)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, upsertProcessed,
		row.CrashID, row.Signature, row.Product, row.Version, row.DateProcessed, row.Data)
	if err != nil {
		return fmt.Errorf("upsert processed crash %s: %w", crashID, err)
	}

	return nil
}

// Close closes the connection pool.
func (p *PostgresIndex) Close() error {
	return p.db.Close()
}

// processedRow is one processed_crashes row.
type processedRow struct {
	CrashID       string
	Signature     string
	Product       string
	Version       string
	DateProcessed sql.NullTime
	Data          []byte
}

func encodeRow(crashID string, processed models.ProcessedCrash) (processedRow, error) {
	data, err := json.Marshal(processed)
	if err != nil {
		return processedRow{}, fmt.Errorf("failed to encode processed crash %s: %w", crashID, err)
	}

	text := func(key string) string {
		s, _ := processed[key].(string)
		return s
	}

	row := processedRow{
		CrashID:   crashID,
		Signature: text("signature"),
		Product:   text("product"),
		Version:   text("version"),
		Data:      data,
	}

	switch v := processed["date_processed"].(type) {
	case time.Time:
		row.DateProcessed = sql.NullTime{Time: v.UTC(), Valid: true}
	case string:
		if t, err := rules.ParseISODate(v); err == nil {
			row.DateProcessed = sql.NullTime{Time: t, Valid: true}
		}
	}

	return row, nil
}
