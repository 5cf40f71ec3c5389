package memory

import (
	"context"
	"testing"

	"github.com/de-tools/aaflow/pkg/models/domain"
	wfstore "github.com/de-tools/aaflow/pkg/store/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	require.NoError(t, s.CreateWorkflow(context.Background(), &domain.WorkflowRecord{
		WorkflowID:  "W1",
		UserRef:     "U1",
		ConsentFlow: domain.ConsentFlow{ConsentHandle: "H1"},
	}))
	return s
}

func TestStore_LookupsAndFieldUpdates(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	rec, err := s.FindByConsentHandle(ctx, "H1")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusPending, rec.Status)

	n, err := s.UpdateField(ctx, "W1", wfstore.PathSessionID, "S1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, err = s.FindBySessionID(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "W1", rec.WorkflowID)

	_, err = s.FindBySessionID(ctx, "S2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_UpdateStatusIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	for i := 0; i < 2; i++ {
		n, err := s.UpdateStatus(ctx, "W1", domain.WorkflowStatusSuccess)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	}

	n, err := s.UpdateStatus(ctx, "missing", domain.WorkflowStatusSuccess)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_KeyMaterialRoundTripsThroughFieldPath(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	_, err := s.UpdateField(ctx, "W1", wfstore.PathKeyMaterial, domain.KeyMaterial{Curve: "Curve25519", Nonce: "n1"})
	require.NoError(t, err)
	_, err = s.UpdateField(ctx, "W1", wfstore.PathPrivateKey, "pk")
	require.NoError(t, err)

	rec, err := s.GetWorkflow(ctx, "W1")
	require.NoError(t, err)
	require.True(t, rec.DataFlow.HasKeys())
	assert.Equal(t, "n1", rec.DataFlow.KeyMaterial.Nonce)
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	rec, err := s.GetWorkflow(ctx, "W1")
	require.NoError(t, err)
	rec.Status = domain.WorkflowStatusSuccess

	again, err := s.GetWorkflow(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusPending, again.Status)
}

func TestStore_RejectsUnknownPath(t *testing.T) {
	s := seeded(t)
	_, err := s.UpdateField(context.Background(), "W1", wfstore.FieldPath("workflowStatus"), "SUCCESS")
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}
