package model

import (
	"encoding/json"
	"time"
)

// EventType discriminates channel frames in both directions.
type EventType string

const (
	EventMessage            EventType = "message"
	EventTyping             EventType = "typing"
	EventRead               EventType = "read"
	EventPing               EventType = "ping"
	EventPong               EventType = "pong"
	EventCartItemAdded      EventType = "cart_item_added"
	EventCartItemRemoved    EventType = "cart_item_removed"
	EventCartItemUpdated    EventType = "cart_item_updated"
	EventCartCleared        EventType = "cart_cleared"
	EventUnreadCountChanged EventType = "unread_count_changed"
	EventError              EventType = "error"

	// EventAdmitted acknowledges a successful admission. Older receivers
	// ignore it like any other unknown type.
	EventAdmitted EventType = "admitted"
)

// IsKnown reports whether t is part of the channel schema. Receivers skip
// frames with unknown types instead of failing.
func (t EventType) IsKnown() bool {
	switch t {
	case EventMessage, EventTyping, EventRead, EventPing, EventPong,
		EventCartItemAdded, EventCartItemRemoved, EventCartItemUpdated, EventCartCleared,
		EventUnreadCountChanged, EventError, EventAdmitted:
		return true
	}
	return false
}

// Event is a single channel frame. Broadcast frames carry the entity, a
// per-entity sequence and the actor that triggered them; control frames
// (ping, pong, admitted, error) leave those empty.
type Event struct {
	Type        EventType       `json:"type"`
	EntityKind  EntityKind      `json:"entity_kind,omitempty"`
	EntityID    string          `json:"entity_id,omitempty"`
	Sequence    uint64          `json:"sequence,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	TriggeredBy *Actor          `json:"triggered_by,omitempty"`
	SentAt      time.Time       `json:"sent_at,omitzero"`
}

// MessagePayload accompanies EventMessage.
type MessagePayload struct {
	Message *Message `json:"message"`
}

// TypingPayload accompanies EventTyping.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// ReadPayload accompanies EventRead.
type ReadPayload struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}

// CartItemPayload accompanies EventCartItemAdded and EventCartItemUpdated.
type CartItemPayload struct {
	Item *CartItem `json:"item"`
}

// CartItemRemovedPayload accompanies EventCartItemRemoved.
type CartItemRemovedPayload struct {
	ItemID string `json:"item_id"`
}

// CartClearedPayload accompanies EventCartCleared.
type CartClearedPayload struct {
	OwnerID string `json:"owner_id"`
}

// UnreadCountPayload accompanies EventUnreadCountChanged. Count is the
// number of conversations with at least one unread message.
type UnreadCountPayload struct {
	Count int `json:"count"`
}

// AdmittedPayload accompanies EventAdmitted.
type AdmittedPayload struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	Role         Role      `json:"role"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// ErrorPayload accompanies EventError.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
