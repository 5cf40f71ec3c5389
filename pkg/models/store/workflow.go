package store

import "time"

// Workflow is one aa_workflows row. The nested flows are stored as JSONB documents.
type Workflow struct {
	WorkflowID  string
	UserRef     string
	Status      string
	ConsentFlow []byte
	DataFlow    []byte
	ConsentItem []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type LinkedHolding struct {
	ID           int64
	WorkflowID   string
	UserRef      string
	ISIN         string
	Name         string
	AveragePrice int64
	CreatedAt    time.Time
}
