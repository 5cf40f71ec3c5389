package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/de-tools/aaflow/pkg/adapters"
	"github.com/de-tools/aaflow/pkg/models/domain"
	"github.com/de-tools/aaflow/pkg/models/store"
	wfstore "github.com/de-tools/aaflow/pkg/store/workflow"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

const uniqueViolation = "23505"

var ErrAlreadyExists = errors.New("workflow already exists")

const selectWorkflow = `
	SELECT workflow_id, user_ref, workflow_status, consent_flow, data_flow, consent_item, created_at, updated_at
	FROM aa_workflows`

type defaultStore struct {
	db *sql.DB
}

func NewStore(db *sql.DB) (wfstore.Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	return &defaultStore{
		db: db,
	}, nil
}

func (s *defaultStore) CreateWorkflow(ctx context.Context, rec *domain.WorkflowRecord) error {
	row, err := adapters.MapDomainWorkflowToStore(rec)
	if err != nil {
		return fmt.Errorf("failed to encode workflow %s: %w", rec.WorkflowID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO aa_workflows (workflow_id, user_ref, workflow_status, consent_flow, data_flow, consent_item)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		row.WorkflowID, row.UserRef, row.Status, string(row.ConsentFlow), string(row.DataFlow), string(row.ConsentItem),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.WorkflowID)
		}
		return fmt.Errorf("failed to insert workflow: %w", err)
	}
	return nil
}

func (s *defaultStore) GetWorkflow(ctx context.Context, workflowID string) (*domain.WorkflowRecord, error) {
	return s.findOne(ctx, selectWorkflow+` WHERE workflow_id = $1`, workflowID)
}

func (s *defaultStore) FindByConsentHandle(ctx context.Context, consentHandle string) (*domain.WorkflowRecord, error) {
	return s.findOne(ctx, selectWorkflow+` WHERE consent_flow->>'consentHandle' = $1 LIMIT 1`, consentHandle)
}

func (s *defaultStore) FindBySessionID(ctx context.Context, sessionID string) (*domain.WorkflowRecord, error) {
	return s.findOne(ctx, selectWorkflow+` WHERE data_flow->>'sessionId' = $1 LIMIT 1`, sessionID)
}

func (s *defaultStore) findOne(ctx context.Context, query string, arg string) (*domain.WorkflowRecord, error) {
	var row store.Workflow
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&row.WorkflowID,
		&row.UserRef,
		&row.Status,
		&row.ConsentFlow,
		&row.DataFlow,
		&row.ConsentItem,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow for %q: %w", arg, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	return adapters.MapStoreWorkflowToDomain(&row)
}

func (s *defaultStore) UpdateStatus(ctx context.Context, workflowID string, status domain.WorkflowStatus) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE aa_workflows SET workflow_status = $2, updated_at = now() WHERE workflow_id = $1`,
		workflowID, string(status),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update workflow status: %w", err)
	}
	return res.RowsAffected()
}

func (s *defaultStore) UpdateField(ctx context.Context, workflowID string, path wfstore.FieldPath, value any) (int64, error) {
	column, key, err := path.Resolve()
	if err != nil {
		return 0, err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrMalformedPayload, path, err)
	}

	// column comes from the fixed path table, never from input.
	query := fmt.Sprintf(
		`UPDATE aa_workflows SET %[1]s = jsonb_set(%[1]s, $2::text[], $3::jsonb, true), updated_at = now() WHERE workflow_id = $1`,
		column,
	)
	res, err := s.db.ExecContext(ctx, query, workflowID, pq.Array([]string{key}), string(encoded))
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", path, err)
	}
	return res.RowsAffected()
}

func (s *defaultStore) SetDataFlowKeys(
	ctx context.Context,
	workflowID string,
	keyMaterial domain.KeyMaterial,
	privateKey string,
) (int64, error) {
	patch, err := json.Marshal(map[string]any{
		"keyMaterial": keyMaterial,
		"privateKey":  privateKey,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: key material: %v", domain.ErrMalformedPayload, err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE aa_workflows SET data_flow = data_flow || $2::jsonb, updated_at = now() WHERE workflow_id = $1`,
		workflowID, string(patch),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to store key material: %w", err)
	}
	return res.RowsAffected()
}

func (s *defaultStore) AppendHoldings(ctx context.Context, holdings []domain.LinkedHolding) error {
	if len(holdings) == 0 {
		return nil
	}
	logger := zerolog.Ctx(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			logger.Warn().Err(err).Msg("failed to roll back holdings transaction")
		}
	}()

	for _, h := range holdings {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO aa_linked_holdings (workflow_id, user_ref, isin, name, average_price)
			VALUES ($1, $2, $3, $4, $5)`,
			h.WorkflowID, h.UserRef, h.ISIN, h.Name, h.AveragePrice,
		)
		if err != nil {
			return fmt.Errorf("failed to insert holding %s: %w", h.ISIN, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit holdings: %w", err)
	}
	return nil
}

func (s *defaultStore) AppendRawExtract(ctx context.Context, extract domain.RawExtract) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO aa_raw_extracts (id, workflow_id, fip_id, payload)
		VALUES ($1, $2, $3, $4)`,
		extract.ID, extract.WorkflowID, extract.FipID, string(extract.Payload),
	)
	if err != nil {
		return fmt.Errorf("failed to insert raw extract: %w", err)
	}
	return nil
}

func (s *defaultStore) ListHoldings(ctx context.Context, workflowID string) ([]domain.LinkedHolding, error) {
	logger := zerolog.Ctx(ctx)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, user_ref, isin, name, average_price, created_at
		FROM aa_linked_holdings
		WHERE workflow_id = $1
		ORDER BY id`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("holdings query failed: %w", err)
	}
	defer func(rows *sql.Rows) {
		err := rows.Close()
		if err != nil {
			logger.Warn().Err(err).Msg("failed to close holdings query rows")
		}
	}(rows)

	var holdings []domain.LinkedHolding
	for rows.Next() {
		var h store.LinkedHolding
		if err := rows.Scan(&h.ID, &h.WorkflowID, &h.UserRef, &h.ISIN, &h.Name, &h.AveragePrice, &h.CreatedAt); err != nil {
			return nil, err
		}
		holdings = append(holdings, adapters.MapStoreHoldingToDomain(h))
	}
	return holdings, rows.Err()
}
