// Package readiness turns the provider's data-ready callback and the
// fallback timer into one readiness event per trigger.
package readiness

import (
	"context"

	"github.com/de-tools/aaflow/pkg/bus"
	"github.com/de-tools/aaflow/pkg/metrics"
	"github.com/de-tools/aaflow/pkg/models/api"
	"github.com/de-tools/aaflow/pkg/store/workflow"
	"github.com/rs/zerolog"
)

const (
	SourceProvider = "provider"
	SourceFallback = "fallback"
)

type Dispatcher struct {
	store     workflow.Store
	publisher bus.Publisher
	metrics   *metrics.Metrics
}

func NewDispatcher(store workflow.Store, publisher bus.Publisher, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{store: store, publisher: publisher, metrics: m}
}

// OnProviderNotification resolves the session to its workflow and publishes.
func (d *Dispatcher) OnProviderNotification(ctx context.Context, n api.FIStatusNotification) (string, error) {
	logger := zerolog.Ctx(ctx).With().Str("session_id", n.SessionID).Logger()

	rec, err := d.store.FindBySessionID(ctx, n.SessionID)
	if err != nil {
		logger.Error().Err(err).Msg("no workflow for session")
		return "", err
	}
	logger.Info().Str("session_status", n.SessionStatus).Msg("FI data ready notification")
	return rec.WorkflowID, d.publish(logger.WithContext(ctx), rec.WorkflowID, SourceProvider)
}

// OnFallbackTimer publishes for a workflow whose provider callback may never come.
func (d *Dispatcher) OnFallbackTimer(ctx context.Context, workflowID string) error {
	if _, err := d.store.GetWorkflow(ctx, workflowID); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("workflow_id", workflowID).Msg("fallback for unknown workflow")
		return err
	}
	return d.publish(ctx, workflowID, SourceFallback)
}

func (d *Dispatcher) publish(ctx context.Context, workflowID, source string) error {
	logger := zerolog.Ctx(ctx)
	if err := d.publisher.Publish(ctx, api.ReadinessEvent{WorkflowID: workflowID}); err != nil {
		logger.Error().Err(err).Str("workflow_id", workflowID).Msg("failed to publish readiness event")
		return err
	}
	d.metrics.ReadinessPublished(source)
	logger.Info().Str("workflow_id", workflowID).Str("source", source).Msg("readiness event published")
	return nil
}
