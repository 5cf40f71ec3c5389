package api

// ReadinessEvent is published when a workflow's FI data may be ready.
// Consumers treat it as a trigger to re-check, never as exactly-once.
type ReadinessEvent struct {
	WorkflowID string `json:"workflowId"`
}
