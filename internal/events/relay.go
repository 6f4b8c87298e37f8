package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/relay/internal/model"
)

// Subscriber streams raw envelopes published by any node.
type Subscriber interface {
	// Subscribe delivers payloads for subjects matching topic until the
	// returned cancel func is called or the subscriber is closed.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}

// Sink receives relayed broadcasts. *hub.Hub satisfies it.
type Sink interface {
	Broadcast(ctx context.Context, entity model.EntityKey, typ model.EventType, payload json.RawMessage, by *model.Actor) (uint64, error)
}

// Relay injects broadcasts published by other nodes into the local hub.
type Relay struct {
	nodeID string
	sub    Subscriber
	sink   Sink
	logger *slog.Logger
}

// NewRelay creates a relay for nodeID. Envelopes whose Origin equals
// nodeID are skipped since the local hub already delivered them.
func NewRelay(nodeID string, sub Subscriber, sink Sink, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		nodeID: nodeID,
		sub:    sub,
		sink:   sink,
		logger: logger.With("component", "relay", "node", nodeID),
	}
}

// Run subscribes to every relay subject and forwards foreign envelopes
// until ctx is cancelled or the subscription closes.
func (r *Relay) Run(ctx context.Context) error {
	ch, cancel, err := r.sub.Subscribe(SubjectAll)
	if err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	defer cancel()

	r.logger.Info("relay started", "subject", SubjectAll)
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, data)
		}
	}
}

func (r *Relay) handle(ctx context.Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("relay: malformed envelope", "error", err)
		return
	}
	if env.Origin == r.nodeID {
		return
	}
	if !env.Entity.Kind.IsValid() || env.Entity.ID == "" {
		r.logger.Warn("relay: envelope without a valid entity", "origin", env.Origin)
		return
	}
	if _, err := r.sink.Broadcast(ctx, env.Entity, env.Type, env.Payload, env.TriggeredBy); err != nil {
		r.logger.Warn("relay: local broadcast failed",
			"entity", env.Entity.String(),
			"type", env.Type,
			"error", err)
	}
}
