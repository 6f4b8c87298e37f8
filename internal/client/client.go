// Package client provides a transport-agnostic interface for the relay
// service and an HTTP/JSON implementation that talks to the relay REST API.
package client

import (
	"context"
	"time"

	"github.com/alfredjeanlab/relay/internal/model"
)

// RelayClient is the interface the relay CLI commands use to communicate
// with a relay server. It is implemented by HTTPClient.
type RelayClient interface {
	// Capability tokens
	IssueToken(ctx context.Context, entity model.EntityKey) (*IssuedToken, error)

	// Conversations
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*model.Message, error)
	SendMessage(ctx context.Context, conversationID, body string) (*model.Message, error)
	MarkRead(ctx context.Context, conversationID string) (*model.ReadPayload, error)
	Typing(ctx context.Context, conversationID string) error
	UnreadCount(ctx context.Context) (int, error)

	// Cart
	ListCartItems(ctx context.Context, ownerID string) ([]*model.CartItem, error)
	AddCartItem(ctx context.Context, ownerID string, req *CartItemRequest) (*model.CartItem, error)
	UpdateCartItem(ctx context.Context, ownerID, itemID string, req *CartItemRequest) (*model.CartItem, error)
	RemoveCartItem(ctx context.Context, ownerID, itemID string) error
	ClearCart(ctx context.Context, ownerID string) (int, error)

	// Support routing and presence
	RouteSupport(ctx context.Context, summary string) (*RouteResponse, error)
	OnlineAgents(ctx context.Context) ([]*model.Agent, error)
	Presence(ctx context.Context, staleThreshold time.Duration) (*PresenceResponse, error)

	// Health
	Health(ctx context.Context) (*HealthResponse, error)

	// Lifecycle
	Close() error
}

// IssuedToken is the response from IssueToken.
type IssuedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CartItemRequest holds parameters for adding or updating a cart item.
// Nil pointer fields mean "don't change" on update; on add a nil quantity
// defaults to 1.
type CartItemRequest struct {
	ListingID string  `json:"listing_id,omitempty"`
	Quantity  *int    `json:"quantity,omitempty"`
	Note      *string `json:"note,omitempty"`
}

// Route outcomes reported by RouteSupport.
const (
	OutcomeRouted            = "routed"
	OutcomeNoAgentsAvailable = "no_agents_available"
)

// RouteResponse is the response from RouteSupport. Only Outcome is set
// when no agent was available.
type RouteResponse struct {
	Outcome                string `json:"outcome"`
	ConversationID         string `json:"conversation_id,omitempty"`
	AgentID                string `json:"agent_id,omitempty"`
	AgentName              string `json:"agent_name,omitempty"`
	IsExistingConversation bool   `json:"is_existing_conversation,omitempty"`
}

// PresenceEntry is one user in the server's presence roster.
type PresenceEntry struct {
	UserID       string    `json:"user_id"`
	LastActiveAt time.Time `json:"last_active_at"`
	FirstSeen    time.Time `json:"first_seen"`
	IdleSecs     float64   `json:"idle_secs"`
	RequestCount int64     `json:"request_count"`
	Online       bool      `json:"online"`
}

// PresenceResponse is the response from Presence.
type PresenceResponse struct {
	Users     []PresenceEntry `json:"users"`
	Threshold string          `json:"threshold"`
}

// HealthResponse is the response from Health.
type HealthResponse struct {
	Status string `json:"status"`
	Hub    struct {
		Actors      int   `json:"actors"`
		Connections int64 `json:"connections"`
	} `json:"hub"`
}
