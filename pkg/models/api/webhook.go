package api

import (
	"fmt"

	"github.com/de-tools/aaflow/pkg/models/domain"
)

// ConsentNotification is the body of POST /Consent/Notification.
type ConsentNotification struct {
	ConsentStatusNotification *ConsentStatusNotification `json:"ConsentStatusNotification"`
}

type ConsentStatusNotification struct {
	ConsentStatus string `json:"consentStatus"`
	ConsentID     string `json:"consentId"`
	ConsentHandle string `json:"consentHandle"`
}

func (n ConsentNotification) Validate() error {
	if n.ConsentStatusNotification == nil {
		return fmt.Errorf("%w: missing ConsentStatusNotification", domain.ErrMalformedPayload)
	}
	return n.ConsentStatusNotification.Validate()
}

func (n ConsentStatusNotification) Validate() error {
	if n.ConsentHandle == "" {
		return fmt.Errorf("%w: missing consentHandle", domain.ErrMalformedPayload)
	}
	if n.ConsentID == "" {
		return fmt.Errorf("%w: missing consentId", domain.ErrMalformedPayload)
	}
	if n.ConsentStatus == "" {
		return fmt.Errorf("%w: missing consentStatus", domain.ErrMalformedPayload)
	}
	return nil
}

// FINotification is the body of POST /FI/Notification.
type FINotification struct {
	FIStatusNotification *FIStatusNotification `json:"FIStatusNotification"`
}

type FIStatusNotification struct {
	SessionStatus string `json:"sessionStatus"`
	SessionID     string `json:"sessionId"`
}

func (n FINotification) Validate() error {
	if n.FIStatusNotification == nil {
		return fmt.Errorf("%w: missing FIStatusNotification", domain.ErrMalformedPayload)
	}
	if n.FIStatusNotification.SessionID == "" {
		return fmt.Errorf("%w: missing sessionId", domain.ErrMalformedPayload)
	}
	return nil
}

// WorkflowRef is the body of the internal step endpoints and the fallback task,
// and the response of every webhook.
type WorkflowRef struct {
	WorkflowID string `json:"workflow_id"`
}

func (r WorkflowRef) Validate() error {
	if r.WorkflowID == "" {
		return fmt.Errorf("%w: missing workflow_id", domain.ErrMalformedPayload)
	}
	return nil
}

type ErrorResponse struct {
	Error string `json:"error"`
}
