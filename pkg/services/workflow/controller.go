package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/de-tools/aaflow/pkg/bus"
	"github.com/de-tools/aaflow/pkg/models/api"
	"github.com/de-tools/aaflow/pkg/services/fi"
	"github.com/rs/zerolog"
)

const (
	LoopFallback = "fallback-scheduler"
)

// Processor runs the decrypt and extract pipeline for one workflow.
type Processor interface {
	Process(ctx context.Context, workflowID string) (*fi.BatchResult, error)
}

// Loop is a long running background task.
type Loop interface {
	Run(ctx context.Context)
}

type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type loopDescriptor struct {
	cancelFunc context.CancelFunc
	runner     *Runner
}

// DefaultController wires the readiness subscription to the pipeline and
// keeps the background loops (the fallback scheduler) running.
type DefaultController struct {
	subscriber bus.Subscriber
	processor  Processor
	loops      map[string]Loop

	mu      sync.Mutex
	started bool
	running map[string]loopDescriptor
}

func NewController(subscriber bus.Subscriber, processor Processor, loops map[string]Loop) *DefaultController {
	return &DefaultController{
		subscriber: subscriber,
		processor:  processor,
		loops:      loops,
		running:    make(map[string]loopDescriptor),
	}
}

func (ctrl *DefaultController) Start(ctx context.Context) error {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()

	if ctrl.started {
		return fmt.Errorf("controller already started")
	}
	if err := ctrl.subscriber.Subscribe(ctx, ctrl.HandleReadiness); err != nil {
		return err
	}
	for name, loop := range ctrl.loops {
		ctrl.startLoop(ctx, name, loop)
	}
	ctrl.started = true
	return nil
}

// Stop cancels every loop and waits for it to return.
func (ctrl *DefaultController) Stop(_ context.Context) error {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()

	for name, desc := range ctrl.running {
		desc.cancelFunc()
		<-desc.runner.Done()
		delete(ctrl.running, name)
	}
	ctrl.started = false
	return nil
}

// HandleReadiness is the bus handler. A duplicate or late event is a no-op
// because the pipeline re-checks the workflow status.
func (ctrl *DefaultController) HandleReadiness(ctx context.Context, event api.ReadinessEvent) error {
	logger := zerolog.Ctx(ctx).With().Str("workflow_id", event.WorkflowID).Logger()

	res, err := ctrl.processor.Process(logger.WithContext(ctx), event.WorkflowID)
	if err != nil {
		return err
	}
	if res.Skipped {
		logger.Info().Str("reason", res.Reason).Msg("readiness event skipped")
	}
	return nil
}

func (ctrl *DefaultController) startLoop(ctx context.Context, name string, loop Loop) {
	ctx, cancel := context.WithCancel(ctx)
	logger := zerolog.Ctx(ctx).With().Str("loop", name).Logger()

	runner := NewRunner(loop)
	ctrl.running[name] = loopDescriptor{
		cancelFunc: cancel,
		runner:     runner,
	}

	logger.Info().Msg("starting background loop")
	go runner.Run(logger.WithContext(ctx))
}
