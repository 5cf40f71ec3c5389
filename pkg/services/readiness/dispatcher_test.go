package readiness

import (
	"context"
	"testing"

	"github.com/de-tools/aaflow/pkg/bus"
	"github.com/de-tools/aaflow/pkg/models/api"
	"github.com/de-tools/aaflow/pkg/models/domain"
	"github.com/de-tools/aaflow/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Dispatcher, *bus.MemoryBus) {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.CreateWorkflow(context.Background(), &domain.WorkflowRecord{
		WorkflowID: "W1",
		DataFlow:   domain.DataFlow{SessionID: "S1"},
	}))
	b := bus.NewMemoryBus()
	return NewDispatcher(store, b, nil), b
}

func TestOnProviderNotification(t *testing.T) {
	d, b := setup(t)

	id, err := d.OnProviderNotification(context.Background(), api.FIStatusNotification{SessionID: "S1", SessionStatus: "COMPLETED"})
	require.NoError(t, err)
	assert.Equal(t, "W1", id)
	assert.Equal(t, []api.ReadinessEvent{{WorkflowID: "W1"}}, b.Published())
}

func TestOnProviderNotification_UnknownSession(t *testing.T) {
	d, b := setup(t)

	_, err := d.OnProviderNotification(context.Background(), api.FIStatusNotification{SessionID: "S-unknown"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, b.Published())
}

func TestOnFallbackTimer(t *testing.T) {
	d, b := setup(t)

	require.NoError(t, d.OnFallbackTimer(context.Background(), "W1"))
	assert.Equal(t, []api.ReadinessEvent{{WorkflowID: "W1"}}, b.Published())

	assert.ErrorIs(t, d.OnFallbackTimer(context.Background(), "W-unknown"), domain.ErrNotFound)
	assert.Len(t, b.Published(), 1)
}

func TestBothPathsPublish(t *testing.T) {
	d, b := setup(t)
	ctx := context.Background()

	require.NoError(t, d.OnFallbackTimer(ctx, "W1"))
	_, err := d.OnProviderNotification(ctx, api.FIStatusNotification{SessionID: "S1"})
	require.NoError(t, err)

	assert.Equal(t, []api.ReadinessEvent{{WorkflowID: "W1"}, {WorkflowID: "W1"}}, b.Published())
}
