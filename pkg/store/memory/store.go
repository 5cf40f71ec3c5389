// Package memory is an in-process workflow store for tests and local runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/de-tools/aaflow/pkg/models/domain"
	wfstore "github.com/de-tools/aaflow/pkg/store/workflow"
)

type Store struct {
	mu          sync.RWMutex
	workflows   map[string]*domain.WorkflowRecord
	holdings    []domain.LinkedHolding
	rawExtracts []domain.RawExtract
	now         func() time.Time
}

func NewStore() *Store {
	return &Store{
		workflows: make(map[string]*domain.WorkflowRecord),
		now:       time.Now,
	}
}

var _ wfstore.Store = (*Store)(nil)

func (s *Store) CreateWorkflow(_ context.Context, rec *domain.WorkflowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[rec.WorkflowID]; ok {
		return fmt.Errorf("workflow %s already exists", rec.WorkflowID)
	}
	cp := clone(rec)
	if cp.Status == "" {
		cp.Status = domain.WorkflowStatusPending
	}
	cp.CreatedAt = s.now()
	cp.UpdatedAt = cp.CreatedAt
	s.workflows[rec.WorkflowID] = cp
	return nil
}

func (s *Store) GetWorkflow(_ context.Context, workflowID string) (*domain.WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow for %q: %w", workflowID, domain.ErrNotFound)
	}
	return clone(rec), nil
}

func (s *Store) FindByConsentHandle(_ context.Context, consentHandle string) (*domain.WorkflowRecord, error) {
	return s.find(consentHandle, func(rec *domain.WorkflowRecord) bool {
		return rec.ConsentFlow.ConsentHandle == consentHandle
	})
}

func (s *Store) FindBySessionID(_ context.Context, sessionID string) (*domain.WorkflowRecord, error) {
	return s.find(sessionID, func(rec *domain.WorkflowRecord) bool {
		return rec.DataFlow.SessionID == sessionID
	})
}

func (s *Store) find(arg string, match func(*domain.WorkflowRecord) bool) (*domain.WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if arg == "" {
		return nil, fmt.Errorf("workflow for %q: %w", arg, domain.ErrNotFound)
	}
	for _, rec := range s.workflows {
		if match(rec) {
			return clone(rec), nil
		}
	}
	return nil, fmt.Errorf("workflow for %q: %w", arg, domain.ErrNotFound)
}

func (s *Store) UpdateStatus(_ context.Context, workflowID string, status domain.WorkflowStatus) (int64, error) {
	return s.update(workflowID, func(rec *domain.WorkflowRecord) error {
		rec.Status = status
		return nil
	})
}

func (s *Store) UpdateField(_ context.Context, workflowID string, path wfstore.FieldPath, value any) (int64, error) {
	if _, _, err := path.Resolve(); err != nil {
		return 0, err
	}
	return s.update(workflowID, func(rec *domain.WorkflowRecord) error {
		switch path {
		case wfstore.PathConsentID:
			return assign(&rec.ConsentFlow.ConsentID, value)
		case wfstore.PathConsentStatus:
			return assign(&rec.ConsentFlow.ConsentStatus, value)
		case wfstore.PathSignedConsent:
			return assign(&rec.ConsentFlow.SignedConsent, value)
		case wfstore.PathSessionID:
			return assign(&rec.DataFlow.SessionID, value)
		case wfstore.PathPrivateKey:
			return assign(&rec.DataFlow.PrivateKey, value)
		case wfstore.PathKeyMaterial:
			var km domain.KeyMaterial
			if err := assign(&km, value); err != nil {
				return err
			}
			rec.DataFlow.KeyMaterial = &km
		}
		return nil
	})
}

func (s *Store) SetDataFlowKeys(
	_ context.Context,
	workflowID string,
	keyMaterial domain.KeyMaterial,
	privateKey string,
) (int64, error) {
	return s.update(workflowID, func(rec *domain.WorkflowRecord) error {
		km := keyMaterial
		rec.DataFlow.KeyMaterial = &km
		rec.DataFlow.PrivateKey = privateKey
		return nil
	})
}

func (s *Store) update(workflowID string, fn func(*domain.WorkflowRecord) error) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.workflows[workflowID]
	if !ok {
		return 0, nil
	}
	if err := fn(rec); err != nil {
		return 0, err
	}
	rec.UpdatedAt = s.now()
	return 1, nil
}

func (s *Store) AppendHoldings(_ context.Context, holdings []domain.LinkedHolding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdings = append(s.holdings, holdings...)
	return nil
}

func (s *Store) AppendRawExtract(_ context.Context, extract domain.RawExtract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawExtracts = append(s.rawExtracts, extract)
	return nil
}

func (s *Store) ListHoldings(_ context.Context, workflowID string) ([]domain.LinkedHolding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.LinkedHolding
	for _, h := range s.holdings {
		if h.WorkflowID == workflowID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *Store) RawExtracts() []domain.RawExtract {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.RawExtract(nil), s.rawExtracts...)
}

// assign copies value into dst through JSON, the way a document store would.
func assign(dst any, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return nil
}

func clone(rec *domain.WorkflowRecord) *domain.WorkflowRecord {
	cp := *rec
	if rec.DataFlow.KeyMaterial != nil {
		km := *rec.DataFlow.KeyMaterial
		cp.DataFlow.KeyMaterial = &km
	}
	if rec.ConsentItem.ConsentDetail.FITypes != nil {
		cp.ConsentItem.ConsentDetail.FITypes = append([]string(nil), rec.ConsentItem.ConsentDetail.FITypes...)
	}
	return &cp
}
