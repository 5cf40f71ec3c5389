// Package bus carries readiness events between the webhook side and the
// decrypt/extract consumer. Delivery is at-least-once at best; consumers
// re-check workflow state instead of trusting the event.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/de-tools/aaflow/pkg/models/api"
	"github.com/de-tools/aaflow/pkg/models/domain"
)

const DefaultSubject = "pub-aa-fi-ready"

type Publisher interface {
	Publish(ctx context.Context, event api.ReadinessEvent) error
}

type Handler func(ctx context.Context, event api.ReadinessEvent) error

type Subscriber interface {
	Subscribe(ctx context.Context, handler Handler) error
}

type Bus interface {
	Publisher
	Subscriber
}

func Encode(event api.ReadinessEvent) ([]byte, error) {
	if event.WorkflowID == "" {
		return nil, fmt.Errorf("%w: readiness event without workflowId", domain.ErrMalformedPayload)
	}
	return json.Marshal(event)
}

func Decode(data []byte) (api.ReadinessEvent, error) {
	var event api.ReadinessEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if event.WorkflowID == "" {
		return event, fmt.Errorf("%w: readiness event without workflowId", domain.ErrMalformedPayload)
	}
	return event, nil
}
