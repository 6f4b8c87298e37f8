package store

import (
	"context"
	"errors"
	"time"

	"github.com/alfredjeanlab/relay/internal/model"
)

// ErrNotFound is returned when the requested row or entity does not exist.
var ErrNotFound = errors.New("not found")

// Store is the narrow view of marketplace storage used by the
// coordination layer. Implementations own all locking; callers never hold
// a lock across these calls.
type Store interface {
	// Users
	GetUserRole(ctx context.Context, userID string) (model.Role, error)
	// CanAccess reports whether userID may read or manage entity. A missing
	// entity is ErrNotFound, not a denial.
	CanAccess(ctx context.Context, userID string, entity model.EntityKey) (bool, error)

	// Conversations
	CreateConversation(ctx context.Context, c *model.Conversation, participants []*model.Participant) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListParticipants(ctx context.Context, conversationID string) ([]*model.Participant, error)
	// FindDirectConversation returns the non-group conversation whose
	// participants are exactly userA and userB, or ErrNotFound.
	FindDirectConversation(ctx context.Context, userA, userB string) (*model.Conversation, error)
	MarkRead(ctx context.Context, conversationID, userID string, at time.Time) error

	// Messages
	CreateMessage(ctx context.Context, m *model.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*model.Message, error)
	// UnreadConversationCount counts conversations in which userID has at
	// least one message from someone else newer than their last read.
	UnreadConversationCount(ctx context.Context, userID string) (int, error)

	// Cart
	AddCartItem(ctx context.Context, item *model.CartItem) error
	GetCartItem(ctx context.Context, ownerID, itemID string) (*model.CartItem, error)
	UpdateCartItem(ctx context.Context, item *model.CartItem) error
	RemoveCartItem(ctx context.Context, ownerID, itemID string) error
	ClearCart(ctx context.Context, ownerID string) (int, error)
	ListCartItems(ctx context.Context, ownerID string) ([]*model.CartItem, error)

	// Agents and assignment history
	ListAgents(ctx context.Context) ([]*model.Agent, error)
	// AssignmentCounts returns the number of assignments per agent,
	// restricted to agentIDs. Agents with no history are absent.
	AssignmentCounts(ctx context.Context, agentIDs []string) (map[string]int, error)
	RecordAssignment(ctx context.Context, rec *model.AssignmentRecord) error
	// ListAssignments returns records with ID > afterID in ID order.
	ListAssignments(ctx context.Context, afterID int64, limit int) ([]*model.AssignmentRecord, error)

	// Presence
	LastActiveAt(ctx context.Context, userID string) (time.Time, error)
	// TouchPresence records activity; an older timestamp never replaces a
	// newer one.
	TouchPresence(ctx context.Context, userID string, at time.Time) error

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
