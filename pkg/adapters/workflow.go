package adapters

import (
	"encoding/json"
	"fmt"

	"github.com/de-tools/aaflow/pkg/models/domain"
	"github.com/de-tools/aaflow/pkg/models/store"
)

func MapStoreWorkflowToDomain(w *store.Workflow) (*domain.WorkflowRecord, error) {
	if w == nil {
		return nil, nil
	}

	rec := &domain.WorkflowRecord{
		WorkflowID: w.WorkflowID,
		UserRef:    w.UserRef,
		Status:     domain.WorkflowStatus(w.Status),
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.UpdatedAt,
	}
	if err := unmarshalDocument(w.ConsentFlow, &rec.ConsentFlow); err != nil {
		return nil, fmt.Errorf("consentFlow: %w", err)
	}
	if err := unmarshalDocument(w.DataFlow, &rec.DataFlow); err != nil {
		return nil, fmt.Errorf("dataFlow: %w", err)
	}
	if err := unmarshalDocument(w.ConsentItem, &rec.ConsentItem); err != nil {
		return nil, fmt.Errorf("consentItem: %w", err)
	}
	return rec, nil
}

func MapDomainWorkflowToStore(rec *domain.WorkflowRecord) (*store.Workflow, error) {
	consentFlow, err := json.Marshal(rec.ConsentFlow)
	if err != nil {
		return nil, err
	}
	dataFlow, err := json.Marshal(rec.DataFlow)
	if err != nil {
		return nil, err
	}
	consentItem, err := json.Marshal(rec.ConsentItem)
	if err != nil {
		return nil, err
	}

	status := string(rec.Status)
	if status == "" {
		status = string(domain.WorkflowStatusPending)
	}

	return &store.Workflow{
		WorkflowID:  rec.WorkflowID,
		UserRef:     rec.UserRef,
		Status:      status,
		ConsentFlow: consentFlow,
		DataFlow:    dataFlow,
		ConsentItem: consentItem,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

func MapStoreHoldingToDomain(h store.LinkedHolding) domain.LinkedHolding {
	return domain.LinkedHolding{
		WorkflowID:   h.WorkflowID,
		UserRef:      h.UserRef,
		ISIN:         h.ISIN,
		Name:         h.Name,
		AveragePrice: h.AveragePrice,
	}
}

func unmarshalDocument(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return nil
}
