package commands

import (
	"context"

	"github.com/de-tools/aaflow/pkg/services/fi"
	"github.com/de-tools/aaflow/pkg/store/workflow"
)

type DataFlow interface {
	FetchSignedConsent(ctx context.Context, workflowID string) error
	GenerateKeyMaterial(ctx context.Context, workflowID string) error
	RequestFIData(ctx context.Context, workflowID string) error
}

type Fallback interface {
	OnFallbackTimer(ctx context.Context, workflowID string) error
}

type Processor interface {
	Process(ctx context.Context, workflowID string) (*fi.BatchResult, error)
}

// Env is what the operator commands act on.
type Env struct {
	Store    workflow.Store
	DataFlow DataFlow
	Fallback Fallback
	Pipeline Processor
	Close    func() error
}

type Loader func(ctx context.Context) (*Env, error)

func withEnv(ctx context.Context, load Loader, fn func(env *Env) error) error {
	env, err := load(ctx)
	if err != nil {
		return err
	}
	if env.Close != nil {
		defer func() { _ = env.Close() }()
	}
	return fn(env)
}
