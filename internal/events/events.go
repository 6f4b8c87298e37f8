// Package events mirrors entity broadcasts across relay nodes over NATS.
//
// Every broadcast published on one node is also sent to the subject
// relay.<kind>.<entity> wrapped in an Envelope that names the origin node.
// A Relay on each node subscribes to relay.> and re-broadcasts envelopes
// from other nodes into its local hub, so clients connected to any node
// see every event for their entity.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/alfredjeanlab/relay/internal/model"
)

// SubjectPrefix is the root of every relay subject.
const SubjectPrefix = "relay"

// SubjectAll matches every relay subject.
const SubjectAll = SubjectPrefix + ".>"

// subjectToken replaces characters that carry meaning in NATS subjects.
// The envelope keeps the exact entity ID; the subject only routes.
var subjectToken = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// Subject returns the NATS subject for an entity.
func Subject(entity model.EntityKey) string {
	return SubjectPrefix + "." + string(entity.Kind) + "." + subjectToken.Replace(entity.ID)
}

// Envelope is the cross-node form of one broadcast.
type Envelope struct {
	Origin      string          `json:"origin"`
	Entity      model.EntityKey `json:"entity"`
	Type        model.EventType `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	TriggeredBy *model.Actor    `json:"triggered_by,omitempty"`
	PublishedAt time.Time       `json:"published_at"`
}

// Publisher sends an Envelope to the other nodes on topic, normally
// Subject(envelope.Entity).
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// LocalPublisher keeps every broadcast on this node. A deployment without
// RELAY_NATS_URL runs a single node and uses it in place of NATS.
type LocalPublisher struct{}

func (LocalPublisher) Publish(context.Context, string, any) error { return nil }

func (LocalPublisher) Close() error { return nil }
