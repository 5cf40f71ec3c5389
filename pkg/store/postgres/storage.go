package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const WorkflowTableSchema = `
	CREATE TABLE IF NOT EXISTS aa_workflows (
		workflow_id TEXT PRIMARY KEY,
		user_ref TEXT NOT NULL,
		workflow_status TEXT NOT NULL DEFAULT 'PENDING',
		consent_flow JSONB NOT NULL DEFAULT '{}'::jsonb,
		data_flow JSONB NOT NULL DEFAULT '{}'::jsonb,
		consent_item JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
`

const WorkflowLookupIndexes = `
	CREATE INDEX IF NOT EXISTS aa_workflows_consent_handle_idx ON aa_workflows ((consent_flow->>'consentHandle'));
	CREATE INDEX IF NOT EXISTS aa_workflows_session_id_idx ON aa_workflows ((data_flow->>'sessionId'));
`

const HoldingsTableSchema = `
	CREATE TABLE IF NOT EXISTS aa_linked_holdings (
		id BIGSERIAL PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		user_ref TEXT NOT NULL,
		isin TEXT NOT NULL,
		name TEXT NOT NULL,
		average_price BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
`

const RawExtractTableSchema = `
	CREATE TABLE IF NOT EXISTS aa_raw_extracts (
		id UUID PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		fip_id TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
`

var bootQueries = []string{
	WorkflowTableSchema,
	WorkflowLookupIndexes,
	HoldingsTableSchema,
	RawExtractTableSchema,
}

type Settings struct {
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

func NewDB(ctx context.Context, settings Settings) (*sql.DB, error) {
	if settings.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}

	db, err := sql.Open("postgres", settings.DSN)
	if err != nil {
		return nil, err
	}
	if settings.MaxOpenConns > 0 {
		db.SetMaxOpenConns(settings.MaxOpenConns)
	}
	if settings.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(settings.ConnMaxLifetime)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the tables and indexes if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, query := range bootQueries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to run boot query: %w", err)
		}
	}
	return nil
}
