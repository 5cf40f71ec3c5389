package webhook

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/de-tools/aaflow/pkg/metrics"
	"github.com/de-tools/aaflow/pkg/models/api"
	"github.com/de-tools/aaflow/pkg/models/domain"
	"github.com/de-tools/aaflow/pkg/providers"
	"github.com/de-tools/aaflow/pkg/services/consent"
	"github.com/de-tools/aaflow/pkg/signature"
	"github.com/rs/zerolog"
)

const HealthMessage = "ok, all good!"

// ErrBadSignature marks a provider callback whose detached signature does not verify.
var ErrBadSignature = errors.New("invalid request signature")

type ConsentStage interface {
	HandleNotification(ctx context.Context, n api.ConsentStatusNotification) (*consent.Result, error)
}

type DataFlowStage interface {
	FetchSignedConsent(ctx context.Context, workflowID string) error
	GenerateKeyMaterial(ctx context.Context, workflowID string) error
	RequestFIData(ctx context.Context, workflowID string) error
}

type Dispatcher interface {
	OnProviderNotification(ctx context.Context, n api.FIStatusNotification) (string, error)
	OnFallbackTimer(ctx context.Context, workflowID string) error
}

type Handler struct {
	consent    ConsentStage
	dataFlow   DataFlowStage
	dispatcher Dispatcher
	metrics    *metrics.Metrics

	// providerKey, when set, is checked against x-jws-signature on provider callbacks.
	providerKey *rsa.PublicKey
}

func NewHandler(consent ConsentStage, dataFlow DataFlowStage, dispatcher Dispatcher, m *metrics.Metrics) *Handler {
	return &Handler{
		consent:    consent,
		dataFlow:   dataFlow,
		dispatcher: dispatcher,
		metrics:    m,
	}
}

// WithSignatureCheck makes the consent and FI callbacks require a detached
// signature by the provider's key over the raw body.
func (h *Handler) WithSignatureCheck(key *rsa.PublicKey) *Handler {
	h.providerKey = key
	return h
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(HealthMessage))
}

func (h *Handler) ConsentNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body api.ConsentNotification
	err := h.decodeCallback(r, &body)
	if err == nil {
		err = body.Validate()
	}
	if err != nil {
		h.metrics.Notification("consent", err)
		writeError(ctx, w, err)
		return
	}

	res, err := h.consent.HandleNotification(ctx, *body.ConsentStatusNotification)
	h.metrics.Notification("consent", err)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, api.WorkflowRef{WorkflowID: res.WorkflowID})
}

func (h *Handler) FINotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body api.FINotification
	err := h.decodeCallback(r, &body)
	if err == nil {
		err = body.Validate()
	}
	if err != nil {
		h.metrics.Notification("fi", err)
		writeError(ctx, w, err)
		return
	}

	workflowID, err := h.dispatcher.OnProviderNotification(ctx, *body.FIStatusNotification)
	h.metrics.Notification("fi", err)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, api.WorkflowRef{WorkflowID: workflowID})
}

func (h *Handler) SignedConsent(w http.ResponseWriter, r *http.Request) {
	h.workflowStep(w, r, h.dataFlow.FetchSignedConsent)
}

func (h *Handler) KeyMaterial(w http.ResponseWriter, r *http.Request) {
	h.workflowStep(w, r, h.dataFlow.GenerateKeyMaterial)
}

func (h *Handler) RequestData(w http.ResponseWriter, r *http.Request) {
	h.workflowStep(w, r, h.dataFlow.RequestFIData)
}

// FallbackTask is the target of the delayed readiness task.
func (h *Handler) FallbackTask(w http.ResponseWriter, r *http.Request) {
	h.workflowStep(w, r, h.dispatcher.OnFallbackTimer)
}

func (h *Handler) workflowStep(w http.ResponseWriter, r *http.Request, step func(context.Context, string) error) {
	ctx := r.Context()

	var ref api.WorkflowRef
	err := decode(r, &ref)
	if err == nil {
		err = ref.Validate()
	}
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	ctx = zerolog.Ctx(ctx).With().Str("workflow_id", ref.WorkflowID).Logger().WithContext(ctx)
	if err := step(ctx, ref.WorkflowID); err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, ref)
}

// decode reads a JSON body whatever the declared content type is.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return nil
}

// decodeCallback is decode for provider callbacks, verifying the signature
// over the raw body first when a provider key is configured.
func (h *Handler) decodeCallback(r *http.Request, dst any) error {
	if h.providerKey == nil {
		return decode(r, dst)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if err := signature.Verify(r.Header.Get(providers.HeaderJWSSignature), body, h.providerKey); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return nil
}

// StatusFor maps an error to its HTTP status. Lookup misses are 5xx: a
// callback for a record we do not have is a data problem worth alerting on.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadSignature):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrMalformedPayload):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusInternalServerError
	case domain.IsProviderError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := StatusFor(err)
	zerolog.Ctx(ctx).Error().Err(err).Int("status", status).Msg("request failed")
	writeJSON(ctx, w, status, api.ErrorResponse{Error: err.Error()})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to encode response")
	}
}
