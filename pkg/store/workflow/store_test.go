package workflow

import (
	"testing"

	"github.com/de-tools/aaflow/pkg/models/domain"
	"github.com/stretchr/testify/assert"
)

func TestFieldPath_Resolve(t *testing.T) {
	column, key, err := PathSessionID.Resolve()
	assert.NoError(t, err)
	assert.Equal(t, "data_flow", column)
	assert.Equal(t, "sessionId", key)

	column, key, err = PathConsentStatus.Resolve()
	assert.NoError(t, err)
	assert.Equal(t, "consent_flow", column)
	assert.Equal(t, "consentStatus", key)

	_, _, err = FieldPath("workflowStatus").Resolve()
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}
