package domain

import "time"

type WorkflowStatus string

const (
	WorkflowStatusPending WorkflowStatus = "PENDING"
	WorkflowStatusSuccess WorkflowStatus = "SUCCESS"
)

// IsTerminal reports whether no further processing should happen for the status.
// Anything that is not SUCCESS is treated as in progress.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusSuccess
}

type WorkflowRecord struct {
	WorkflowID  string         `json:"workflowId"`
	UserRef     string         `json:"userRef"`
	Status      WorkflowStatus `json:"workflowStatus"`
	ConsentFlow ConsentFlow    `json:"consentFlow"`
	DataFlow    DataFlow       `json:"dataFlow"`
	ConsentItem ConsentItem    `json:"consentItem"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

type ConsentFlow struct {
	ConsentHandle string `json:"consentHandle"`
	ConsentID     string `json:"consentId,omitempty"`
	ConsentStatus string `json:"consentStatus,omitempty"`
	SignedConsent string `json:"signedConsent,omitempty"`
}

// DataFlow holds the ephemeral key pair and session of one decrypt cycle.
// PrivateKey never leaves this service.
type DataFlow struct {
	SessionID   string       `json:"sessionId,omitempty"`
	KeyMaterial *KeyMaterial `json:"keyMaterial,omitempty"`
	PrivateKey  string       `json:"privateKey,omitempty"`
}

func (d DataFlow) HasKeys() bool {
	return d.KeyMaterial != nil && d.PrivateKey != ""
}

type KeyMaterial struct {
	CryptoAlg   string      `json:"cryptoAlg"`
	Curve       string      `json:"curve"`
	Params      string      `json:"params"`
	DHPublicKey DHPublicKey `json:"DHPublicKey"`
	Nonce       string      `json:"Nonce"`
}

type DHPublicKey struct {
	Expiry     string `json:"expiry"`
	Parameters string `json:"Parameters"`
	KeyValue   string `json:"KeyValue"`
}

type ConsentItem struct {
	ConsentDetail ConsentDetail `json:"ConsentDetail"`
}

type ConsentDetail struct {
	ConsentStart  string    `json:"consentStart,omitempty"`
	ConsentExpiry string    `json:"consentExpiry,omitempty"`
	FITypes       []string  `json:"fiTypes,omitempty"`
	FIDataRange   DateRange `json:"FIDataRange"`
}

type DateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (r DateRange) IsZero() bool {
	return r.From == "" && r.To == ""
}
