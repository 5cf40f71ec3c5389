package domain

import (
	"encoding/json"
	"time"
)

// LinkedHolding is one normalized asset row. Rows are created, never updated.
type LinkedHolding struct {
	WorkflowID   string `json:"workflowId"`
	UserRef      string `json:"userRef"`
	ISIN         string `json:"isin"`
	Name         string `json:"name"`
	AveragePrice int64  `json:"averagePrice"`
}

// RawExtract is one decrypted and decoded FI object, kept as delivered.
type RawExtract struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflowId"`
	FipID      string          `json:"fipId"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"createdAt"`
}
