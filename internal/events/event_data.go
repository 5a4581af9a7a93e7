package events

import "time"

// DecisionExecutedData contains data for DecisionExecuted events
type DecisionExecutedData struct {
	TraceID   string  `json:"trace_id"`
	Type      string  `json:"decision_type"`
	Tier      string  `json:"tier"`
	ImpactUsd float64 `json:"impact_usd"`
	Success   bool    `json:"success"`
	DryRun    bool    `json:"dry_run"`
	TxID      string  `json:"tx_id,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// ApprovalQueuedData contains data for ApprovalQueued events
type ApprovalQueuedData struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	AmountUsd   float64   `json:"amount_usd"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ApprovalResolvedData contains data for ApprovalResolved events.
// Outcome is "approved", "rejected", or "expired".
type ApprovalResolvedData struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
}

// PostPublishedData contains data for PostPublished events
type PostPublishedData struct {
	Destination string `json:"destination"`
	Content     string `json:"content"`
}

// BriefingSentData contains data for BriefingSent events
type BriefingSentData struct {
	ActiveAgents int `json:"active_agents"`
	IntelItems   int `json:"intel_items"`
	Processed    int `json:"processed"`
}

// ChildSpawnedData contains data for ChildSpawned events
type ChildSpawnedData struct {
	TokenAddress string `json:"token_address"`
	AgentName    string `json:"agent_name"`
	Symbol       string `json:"symbol,omitempty"`
}

// ChildStoppedData contains data for ChildStopped events
type ChildStoppedData struct {
	TokenAddress string `json:"token_address"`
	AgentName    string `json:"agent_name"`
	Reason       string `json:"reason,omitempty"`
}

// AgentStatusChangedData contains data for AgentStatusChanged events
type AgentStatusChangedData struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Task   string `json:"task,omitempty"`
}

// CycleCompletedData contains data for CycleCompleted events
type CycleCompletedData struct {
	TraceID    string  `json:"trace_id"`
	Decisions  int     `json:"decisions"`
	Executed   int     `json:"executed"`
	Failed     int     `json:"failed"`
	DurationMs float64 `json:"duration_ms"`
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
	Sha256    string `json:"sha256"`
}

// GCCompletedData contains data for GCCompleted events
type GCCompletedData struct {
	RowsRemoved int64 `json:"rows_removed"`
}
