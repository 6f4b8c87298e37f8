// Package fanout delivers committed state changes to live subscribers.
//
// Handlers call Publish (or one of the typed helpers) after their storage
// write has committed. Delivery is best-effort: failures are logged and
// never reach the caller, so a slow or broken subscriber can not fail a
// write that already succeeded.
package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/relay/internal/clock"
	"github.com/alfredjeanlab/relay/internal/events"
	"github.com/alfredjeanlab/relay/internal/model"
)

// Broadcaster delivers an event to the local connections of one entity.
// *hub.Hub satisfies it.
type Broadcaster interface {
	Broadcast(ctx context.Context, entity model.EntityKey, typ model.EventType, payload json.RawMessage, by *model.Actor) (uint64, error)
}

// UnreadSource is the storage needed to recompute unread badges.
type UnreadSource interface {
	ListParticipants(ctx context.Context, conversationID string) ([]*model.Participant, error)
	UnreadConversationCount(ctx context.Context, userID string) (int, error)
}

// deliveryTimeout bounds the delivery work for one committed change.
const deliveryTimeout = 5 * time.Second

// detach keeps ctx values but not its cancellation. Delivery of a
// committed write outlives the request that made it.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
}

// Options configures a Fanout. Publisher and NodeID enable the cross-node
// mirror; with a nil Publisher events stay on this node.
type Options struct {
	Publisher events.Publisher
	NodeID    string
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Fanout publishes events to the hub and, optionally, the event bus.
type Fanout struct {
	hub    Broadcaster
	unread UnreadSource
	pub    events.Publisher
	nodeID string
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a Fanout.
func New(hub Broadcaster, unread UnreadSource, opts Options) *Fanout {
	if opts.Publisher == nil {
		opts.Publisher = events.LocalPublisher{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Fanout{
		hub:    hub,
		unread: unread,
		pub:    opts.Publisher,
		nodeID: opts.NodeID,
		clock:  opts.Clock,
		logger: opts.Logger.With("component", "fanout"),
	}
}

// Publish broadcasts one event for the entity kind/id. payload is encoded
// as JSON; a nil payload sends none.
func (f *Fanout) Publish(ctx context.Context, kind model.EntityKind, id string, typ model.EventType, payload any, by *model.Actor) {
	ctx, cancel := detach(ctx)
	defer cancel()
	f.publish(ctx, kind, id, typ, payload, by)
}

func (f *Fanout) publish(ctx context.Context, kind model.EntityKind, id string, typ model.EventType, payload any, by *model.Actor) {
	entity := model.EntityKey{Kind: kind, ID: id}
	log := f.logger.With("entity", entity.String(), "type", typ)

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			log.Error("encoding payload", "error", err)
			return
		}
		raw = b
	}

	if _, err := f.hub.Broadcast(ctx, entity, typ, raw, by); err != nil {
		log.Warn("local broadcast failed", "error", err)
	}

	env := events.Envelope{
		Origin:      f.nodeID,
		Entity:      entity,
		Type:        typ,
		Payload:     raw,
		TriggeredBy: by,
		PublishedAt: f.clock.Now(),
	}
	if err := f.pub.Publish(ctx, events.Subject(entity), env); err != nil {
		log.Warn("mirroring event failed", "error", err)
	}
}

// MessageCreated broadcasts msg to its conversation and refreshes the
// unread badge of every other participant.
func (f *Fanout) MessageCreated(ctx context.Context, msg *model.Message, by *model.Actor) {
	ctx, cancel := detach(ctx)
	defer cancel()
	f.publish(ctx, model.EntityConversation, msg.ConversationID, model.EventMessage, model.MessagePayload{Message: msg}, by)
	f.refreshUnread(ctx, msg.ConversationID, msg.SenderID)
}

// ConversationRead broadcasts a read receipt and refreshes the reader's
// own badge on their other devices.
func (f *Fanout) ConversationRead(ctx context.Context, conversationID string, by *model.Actor, at time.Time) {
	ctx, cancel := detach(ctx)
	defer cancel()
	f.publish(ctx, model.EntityConversation, conversationID, model.EventRead, model.ReadPayload{
		ConversationID: conversationID,
		UserID:         by.UserID,
		ReadAt:         at,
	}, by)
	f.publishUnread(ctx, by.UserID)
}

// Typing broadcasts a typing indicator. Nothing is stored.
func (f *Fanout) Typing(ctx context.Context, conversationID string, by *model.Actor) {
	f.Publish(ctx, model.EntityConversation, conversationID, model.EventTyping, model.TypingPayload{
		ConversationID: conversationID,
		UserID:         by.UserID,
	}, by)
}

// CartItemAdded broadcasts a new cart line to the owner's cart.
func (f *Fanout) CartItemAdded(ctx context.Context, item *model.CartItem, by *model.Actor) {
	f.Publish(ctx, model.EntityCart, item.OwnerID, model.EventCartItemAdded, model.CartItemPayload{Item: item}, by)
}

// CartItemUpdated broadcasts a changed cart line.
func (f *Fanout) CartItemUpdated(ctx context.Context, item *model.CartItem, by *model.Actor) {
	f.Publish(ctx, model.EntityCart, item.OwnerID, model.EventCartItemUpdated, model.CartItemPayload{Item: item}, by)
}

// CartItemRemoved broadcasts the removal of one cart line.
func (f *Fanout) CartItemRemoved(ctx context.Context, ownerID, itemID string, by *model.Actor) {
	f.Publish(ctx, model.EntityCart, ownerID, model.EventCartItemRemoved, model.CartItemRemovedPayload{ItemID: itemID}, by)
}

// CartCleared broadcasts that every line of the owner's cart is gone.
func (f *Fanout) CartCleared(ctx context.Context, ownerID string, by *model.Actor) {
	f.Publish(ctx, model.EntityCart, ownerID, model.EventCartCleared, model.CartClearedPayload{OwnerID: ownerID}, by)
}

func (f *Fanout) refreshUnread(ctx context.Context, conversationID, senderID string) {
	participants, err := f.unread.ListParticipants(ctx, conversationID)
	if err != nil {
		f.logger.Warn("listing participants for unread fan-out",
			"conversation", conversationID,
			"error", err)
		return
	}
	for _, p := range participants {
		if p.UserID == senderID {
			continue
		}
		f.publishUnread(ctx, p.UserID)
	}
}

func (f *Fanout) publishUnread(ctx context.Context, userID string) {
	n, err := f.unread.UnreadConversationCount(ctx, userID)
	if err != nil {
		f.logger.Warn("counting unread conversations", "user", userID, "error", err)
		return
	}
	f.publish(ctx, model.EntityUser, userID, model.EventUnreadCountChanged, model.UnreadCountPayload{Count: n}, nil)
}
