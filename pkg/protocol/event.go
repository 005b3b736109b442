package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Sync event types published on SubjectSync.
const (
	EventAgentRegister   = "agent_register"
	EventAgentUpdate     = "agent_update"
	EventAgentDeregister = "agent_deregister"
)

// Sync priorities. Records flagged critical_registration are propagated first.
const (
	PriorityStandard = "standard"
	PriorityHigh     = "priority"
)

// SyncEvent announces a registry change to replicas and observers.
type SyncEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	AgentID   string `json:"agent_id"`
	DID       string `json:"did,omitempty"`
	Priority  string `json:"priority"`
	Timestamp int64  `json:"timestamp"`
}

// NewSyncEvent creates a SyncEvent with a generated ID and current timestamp.
func NewSyncEvent(eventType, agentID string, critical bool) SyncEvent {
	priority := PriorityStandard
	if critical {
		priority = PriorityHigh
	}
	return SyncEvent{
		ID:        "evt_" + uuid.NewString(),
		Type:      eventType,
		AgentID:   agentID,
		Priority:  priority,
		Timestamp: time.Now().Unix(),
	}
}
