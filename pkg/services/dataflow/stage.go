// Package dataflow runs the three provider steps that take an approved
// consent to a pending FI data session. Each step reads what it needs from
// the workflow record, so any of them can be re-run on its own.
package dataflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/de-tools/aaflow/pkg/metrics"
	"github.com/de-tools/aaflow/pkg/models/api"
	"github.com/de-tools/aaflow/pkg/models/domain"
	"github.com/de-tools/aaflow/pkg/store/workflow"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	StepSignedConsent = "fetch_signed_consent"
	StepKeyMaterial   = "generate_key_material"
	StepRequestData   = "request_fi_data"

	timestampLayout = "2006-01-02T15:04:05.000Z"
)

type ConsentProvider interface {
	GetSignedConsent(ctx context.Context, consentID string) (string, error)
	RequestFIData(ctx context.Context, req api.FIRequest) (*api.FIRequestResponse, error)
}

type KeyCustody interface {
	GenerateKey(ctx context.Context) (*api.GenerateKeyResponse, error)
}

type Stage struct {
	store    workflow.Store
	provider ConsentProvider
	keys     KeyCustody
	metrics  *metrics.Metrics

	now      func() time.Time
	newTxnID func() string
}

func NewStage(store workflow.Store, provider ConsentProvider, keys KeyCustody, m *metrics.Metrics) *Stage {
	return &Stage{
		store:    store,
		provider: provider,
		keys:     keys,
		metrics:  m,
		now:      time.Now,
		newTxnID: uuid.NewString,
	}
}

// Run executes the three steps in order and stops at the first failure.
// Work already persisted by earlier steps is kept.
func (s *Stage) Run(ctx context.Context, workflowID string) error {
	steps := []func(context.Context, string) error{
		s.FetchSignedConsent,
		s.GenerateKeyMaterial,
		s.RequestFIData,
	}
	for _, step := range steps {
		if err := step(ctx, workflowID); err != nil {
			return err
		}
	}
	return nil
}

// FetchSignedConsent stores the provider's signed consent for the recorded consent id.
func (s *Stage) FetchSignedConsent(ctx context.Context, workflowID string) (err error) {
	defer func() { s.metrics.Step(StepSignedConsent, err) }()
	logger := zerolog.Ctx(ctx).With().Str("workflow_id", workflowID).Logger()

	rec, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	consentID := rec.ConsentFlow.ConsentID
	if consentID == "" {
		return fmt.Errorf("%w: workflow %s has no consent id", domain.ErrMalformedPayload, workflowID)
	}

	signed, err := s.provider.GetSignedConsent(ctx, consentID)
	if err != nil {
		logger.Error().Err(err).Str("consent_id", consentID).Msg("failed to fetch signed consent")
		return err
	}
	if _, err := s.store.UpdateField(ctx, workflowID, workflow.PathSignedConsent, signed); err != nil {
		return err
	}

	logger.Info().Str("consent_id", consentID).Msg("signed consent stored")
	return nil
}

// GenerateKeyMaterial obtains the workflow's key pair. A workflow keeps the
// first pair it gets; later calls are no-ops.
func (s *Stage) GenerateKeyMaterial(ctx context.Context, workflowID string) error {
	logger := zerolog.Ctx(ctx).With().Str("workflow_id", workflowID).Logger()

	rec, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		s.metrics.Step(StepKeyMaterial, err)
		return err
	}
	if rec.DataFlow.HasKeys() {
		s.metrics.StepSkipped(StepKeyMaterial)
		logger.Debug().Msg("key material already present")
		return nil
	}

	resp, err := s.keys.GenerateKey(ctx)
	if err != nil {
		s.metrics.Step(StepKeyMaterial, err)
		logger.Error().Err(err).Msg("failed to generate key material")
		return err
	}
	_, err = s.store.SetDataFlowKeys(ctx, workflowID, resp.KeyMaterial, resp.PrivateKey)
	s.metrics.Step(StepKeyMaterial, err)
	if err != nil {
		return err
	}

	logger.Info().Msg("key material stored")
	return nil
}

// RequestFIData asks the provider to prepare the consented data and records
// the session id it returns. Transaction id and timestamp are fresh per call.
func (s *Stage) RequestFIData(ctx context.Context, workflowID string) (err error) {
	defer func() { s.metrics.Step(StepRequestData, err) }()
	logger := zerolog.Ctx(ctx).With().Str("workflow_id", workflowID).Logger()

	rec, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	req, err := s.buildRequest(rec)
	if err != nil {
		return err
	}

	resp, err := s.provider.RequestFIData(ctx, req)
	if err != nil {
		logger.Error().Err(err).Str("txnid", req.TxnID).Msg("FI data request failed")
		return err
	}
	if _, err := s.store.UpdateField(ctx, workflowID, workflow.PathSessionID, resp.SessionID); err != nil {
		return err
	}

	logger.Info().
		Str("txnid", req.TxnID).
		Str("session_id", resp.SessionID).
		Msg("FI data requested")
	return nil
}

func (s *Stage) buildRequest(rec *domain.WorkflowRecord) (api.FIRequest, error) {
	flow := rec.ConsentFlow
	switch {
	case flow.ConsentID == "":
		return api.FIRequest{}, fmt.Errorf("%w: workflow %s has no consent id", domain.ErrMalformedPayload, rec.WorkflowID)
	case flow.SignedConsent == "":
		return api.FIRequest{}, fmt.Errorf("%w: workflow %s has no signed consent", domain.ErrMalformedPayload, rec.WorkflowID)
	case !rec.DataFlow.HasKeys():
		return api.FIRequest{}, fmt.Errorf("%w: workflow %s has no key material", domain.ErrMalformedPayload, rec.WorkflowID)
	}

	return api.FIRequest{
		Ver:         api.FIRequestVersion,
		Timestamp:   s.now().UTC().Format(timestampLayout),
		TxnID:       s.newTxnID(),
		FIDataRange: rec.ConsentItem.ConsentDetail.FIDataRange,
		Consent: api.FIRequestConsent{
			ID:               flow.ConsentID,
			DigitalSignature: DigitalSignature(flow.SignedConsent),
		},
		KeyMaterial: *rec.DataFlow.KeyMaterial,
	}, nil
}

// DigitalSignature returns the signature segment of a compact JWS.
func DigitalSignature(signedConsent string) string {
	return signedConsent[strings.LastIndex(signedConsent, ".")+1:]
}
