// Package workflow defines the workflow record store: the only place a
// workflow record is mutated.
package workflow

import (
	"context"
	"fmt"

	"github.com/de-tools/aaflow/pkg/models/domain"
)

// FieldPath names one nested field of a workflow record that UpdateField may merge.
type FieldPath string

const (
	PathConsentID     FieldPath = "consentFlow.consentId"
	PathConsentStatus FieldPath = "consentFlow.consentStatus"
	PathSignedConsent FieldPath = "consentFlow.signedConsent"
	PathSessionID     FieldPath = "dataFlow.sessionId"
	PathKeyMaterial   FieldPath = "dataFlow.keyMaterial"
	PathPrivateKey    FieldPath = "dataFlow.privateKey"
)

var fieldPaths = map[FieldPath][2]string{
	PathConsentID:     {"consent_flow", "consentId"},
	PathConsentStatus: {"consent_flow", "consentStatus"},
	PathSignedConsent: {"consent_flow", "signedConsent"},
	PathSessionID:     {"data_flow", "sessionId"},
	PathKeyMaterial:   {"data_flow", "keyMaterial"},
	PathPrivateKey:    {"data_flow", "privateKey"},
}

// Resolve splits a path into its document column and key.
func (p FieldPath) Resolve() (column string, key string, err error) {
	parts, ok := fieldPaths[p]
	if !ok {
		return "", "", fmt.Errorf("%w: unsupported field path %q", domain.ErrMalformedPayload, string(p))
	}
	return parts[0], parts[1], nil
}

type Store interface {
	CreateWorkflow(ctx context.Context, rec *domain.WorkflowRecord) error
	GetWorkflow(ctx context.Context, workflowID string) (*domain.WorkflowRecord, error)
	FindByConsentHandle(ctx context.Context, consentHandle string) (*domain.WorkflowRecord, error)
	FindBySessionID(ctx context.Context, sessionID string) (*domain.WorkflowRecord, error)

	// UpdateStatus sets the workflow status and returns the number of matched
	// records. Zero means the workflow vanished; callers log and carry on.
	UpdateStatus(ctx context.Context, workflowID string, status domain.WorkflowStatus) (int64, error)
	// UpdateField merges a single nested field. Concurrent writers to the same
	// field are last-write-wins.
	UpdateField(ctx context.Context, workflowID string, path FieldPath, value any) (int64, error)
	// SetDataFlowKeys stores both halves of the key pair in one write.
	SetDataFlowKeys(ctx context.Context, workflowID string, keyMaterial domain.KeyMaterial, privateKey string) (int64, error)

	AppendHoldings(ctx context.Context, holdings []domain.LinkedHolding) error
	AppendRawExtract(ctx context.Context, extract domain.RawExtract) error
	ListHoldings(ctx context.Context, workflowID string) ([]domain.LinkedHolding, error)
}

// RawExtractSink receives decoded FI objects. The workflow store is one; the
// S3 sink is another.
type RawExtractSink interface {
	AppendRawExtract(ctx context.Context, extract domain.RawExtract) error
}
