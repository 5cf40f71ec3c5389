package bus

import (
	"context"
	"sync"

	"github.com/de-tools/aaflow/pkg/models/api"
	"github.com/rs/zerolog"
)

// MemoryBus delivers synchronously to every subscriber inside Publish.
type MemoryBus struct {
	mu        sync.Mutex
	handlers  []subscription
	published []api.ReadinessEvent
}

type subscription struct {
	ctx     context.Context
	handler Handler
}

var _ Bus = (*MemoryBus)(nil)

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Publish(ctx context.Context, event api.ReadinessEvent) error {
	if _, err := Encode(event); err != nil {
		return err
	}

	b.mu.Lock()
	b.published = append(b.published, event)
	handlers := append([]subscription(nil), b.handlers...)
	b.mu.Unlock()

	for _, sub := range handlers {
		if err := sub.handler(sub.ctx, event); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("workflow_id", event.WorkflowID).Msg("readiness handler failed")
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, subscription{ctx: ctx, handler: handler})
	return nil
}

func (b *MemoryBus) Published() []api.ReadinessEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]api.ReadinessEvent(nil), b.published...)
}
