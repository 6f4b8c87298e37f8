package model

import "time"

// Conversation is a chat thread between two or more users.
type Conversation struct {
	ID        string    `json:"id"`
	IsGroup   bool      `json:"is_group"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
}

// Participant is a user's membership in a conversation.
type Participant struct {
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	Role           Role       `json:"role"`
	JoinedAt       time.Time  `json:"joined_at"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
}

// Message is a single chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderRole     Role      `json:"sender_role"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

// CartItem is one line in a user's cart.
type CartItem struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	ListingID string    `json:"listing_id"`
	Quantity  int       `json:"quantity"`
	Note      string    `json:"note,omitempty"`
	AddedAt   time.Time `json:"added_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
