// Package consent handles the provider's consent status callback.
package consent

import (
	"context"
	"errors"
	"time"

	"github.com/de-tools/aaflow/pkg/models/api"
	"github.com/de-tools/aaflow/pkg/scheduler"
	"github.com/de-tools/aaflow/pkg/store/workflow"
	"github.com/rs/zerolog"
)

const DefaultFallbackDelay = 180 * time.Second

// DataFlow runs the signed-consent, key-material and FI-request steps.
type DataFlow interface {
	Run(ctx context.Context, workflowID string) error
}

type Config struct {
	FallbackDelay time.Duration
}

type Result struct {
	WorkflowID string
	// FallbackArmed is false when a fallback for the workflow was already pending.
	FallbackArmed bool
}

type Stage struct {
	store     workflow.Store
	dataFlow  DataFlow
	scheduler scheduler.Scheduler
	config    Config
	now       func() time.Time
}

func NewStage(store workflow.Store, dataFlow DataFlow, sched scheduler.Scheduler, config Config) *Stage {
	if config.FallbackDelay <= 0 {
		config.FallbackDelay = DefaultFallbackDelay
	}
	return &Stage{
		store:     store,
		dataFlow:  dataFlow,
		scheduler: sched,
		config:    config,
		now:       time.Now,
	}
}

// HandleNotification records the consent decision on the matching workflow,
// runs the data flow and arms the readiness fallback. The status is recorded
// as reported and does not gate the data flow.
func (s *Stage) HandleNotification(ctx context.Context, n api.ConsentStatusNotification) (*Result, error) {
	logger := zerolog.Ctx(ctx).With().Str("consent_handle", n.ConsentHandle).Logger()

	rec, err := s.store.FindByConsentHandle(ctx, n.ConsentHandle)
	if err != nil {
		logger.Error().Err(err).Msg("no workflow for consent handle")
		return nil, err
	}
	workflowID := rec.WorkflowID
	logger = logger.With().Str("workflow_id", workflowID).Logger()
	ctx = logger.WithContext(ctx)

	if _, err := s.store.UpdateField(ctx, workflowID, workflow.PathConsentID, n.ConsentID); err != nil {
		return nil, err
	}
	if _, err := s.store.UpdateField(ctx, workflowID, workflow.PathConsentStatus, n.ConsentStatus); err != nil {
		return nil, err
	}

	if err := s.dataFlow.Run(ctx, workflowID); err != nil {
		logger.Error().Err(err).Str("consent_status", n.ConsentStatus).Msg("data flow failed")
		return nil, err
	}
	result := &Result{WorkflowID: workflowID}

	err = s.scheduler.Schedule(ctx, scheduler.Task{
		Name:         workflowID,
		WorkflowID:   workflowID,
		ScheduleTime: s.now().Add(s.config.FallbackDelay),
	})
	switch {
	case errors.Is(err, scheduler.ErrTaskExists):
		logger.Warn().Msg("fallback task already pending")
	case err != nil:
		logger.Error().Err(err).Msg("failed to arm fallback task")
		return nil, err
	default:
		result.FallbackArmed = true
	}

	logger.Info().Bool("fallback_armed", result.FallbackArmed).Msg("consent processed")
	return result, nil
}
