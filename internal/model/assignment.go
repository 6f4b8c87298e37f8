package model

import "time"

// Agent is a user holding the support-agent capability.
type Agent struct {
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	LastActiveAt time.Time `json:"last_active_at,omitzero"`
}

// AssignmentRecord is one append-only routing decision.
type AssignmentRecord struct {
	ID              int64     `json:"id"`
	AgentUserID     string    `json:"agent_user_id"`
	RequesterUserID string    `json:"requester_user_id"`
	ConversationID  string    `json:"conversation_id"`
	AssignedAt      time.Time `json:"assigned_at"`
	RequestSummary  string    `json:"request_summary"`
}

// PresenceRecord is the last time a user made an authenticated request.
type PresenceRecord struct {
	UserID       string    `json:"user_id"`
	LastActiveAt time.Time `json:"last_active_at"`
}
