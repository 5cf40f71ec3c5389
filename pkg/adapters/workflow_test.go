package adapters

import (
	"testing"

	"github.com/de-tools/aaflow/pkg/models/domain"
	"github.com/de-tools/aaflow/pkg/models/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapDomainWorkflowToStore_DefaultsStatus(t *testing.T) {
	row, err := MapDomainWorkflowToStore(&domain.WorkflowRecord{
		WorkflowID:  "W1",
		UserRef:     "U1",
		ConsentFlow: domain.ConsentFlow{ConsentHandle: "H1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "PENDING", row.Status)
	assert.JSONEq(t, `{"consentHandle":"H1"}`, string(row.ConsentFlow))
	assert.JSONEq(t, `{}`, string(row.DataFlow))
}

func TestMapStoreWorkflowToDomain(t *testing.T) {
	row := &store.Workflow{
		WorkflowID:  "W1",
		UserRef:     "U1",
		Status:      "SUCCESS",
		ConsentFlow: []byte(`{"consentHandle":"H1","consentId":"C1","consentStatus":"ACTIVE"}`),
		DataFlow:    []byte(`{"sessionId":"S1","privateKey":"pk","keyMaterial":{"cryptoAlg":"ECDH"}}`),
	}

	rec, err := MapStoreWorkflowToDomain(row)
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowStatusSuccess, rec.Status)
	assert.Equal(t, "C1", rec.ConsentFlow.ConsentID)
	assert.Equal(t, "S1", rec.DataFlow.SessionID)
	assert.True(t, rec.DataFlow.HasKeys())
	assert.True(t, rec.ConsentItem.ConsentDetail.FIDataRange.IsZero())
}

func TestMapStoreWorkflowToDomain_Malformed(t *testing.T) {
	_, err := MapStoreWorkflowToDomain(&store.Workflow{WorkflowID: "W1", DataFlow: []byte(`[`)})
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)

	rec, err := MapStoreWorkflowToDomain(nil)
	assert.NoError(t, err)
	assert.Nil(t, rec)
}
