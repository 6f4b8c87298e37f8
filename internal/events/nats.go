package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// subscriptionBuffer is the per-subscription backlog before messages are
// dropped.
const subscriptionBuffer = 256

// dial opens a NATS connection that keeps reconnecting for the life of the
// process. opts are applied after the defaults.
func dial(url, name string, opts []nats.Option) (*nats.Conn, error) {
	all := append([]nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}, opts...)
	nc, err := nats.Connect(url, all...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher publishes JSON-encoded events to NATS subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := dial(url, "relay-publisher", opts)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return p.conn.Publish(topic, data)
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber delivers raw payloads from NATS subjects.
type NATSSubscriber struct {
	conn    *nats.Conn
	dropped atomic.Int64
}

// NewNATSSubscriber connects to the NATS server at url. Extra options such
// as disconnect handlers are applied after the defaults.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	nc, err := dial(url, "relay-subscriber", opts)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc}, nil
}

// subscription bridges one NATS subscription to a buffered channel. The
// NATS callback never blocks: when the buffer is full the message is
// counted as dropped and remote clients recover through their normal
// resync.
type subscription struct {
	owner *NATSSubscriber
	sub   *nats.Subscription
	ch    chan []byte

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func (s *subscription) deliver(msg *nats.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg.Data:
	default:
		s.owner.dropped.Add(1)
	}
}

func (s *subscription) cancel() {
	s.once.Do(func() {
		if s.sub != nil {
			_ = s.sub.Unsubscribe()
		}
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// Subscribe returns a channel of payloads published on topic, which may
// use wildcards such as SubjectAll. The returned cancel function
// unsubscribes and closes the channel; buffered payloads can still be
// drained after cancel.
func (n *NATSSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	s := &subscription{owner: n, ch: make(chan []byte, subscriptionBuffer)}

	sub, err := n.conn.Subscribe(topic, s.deliver)
	if err != nil {
		s.cancel()
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	s.sub = sub

	// The subscription must reach the server before we return, or a
	// publish from another connection right after could miss it.
	if err := n.conn.Flush(); err != nil {
		s.cancel()
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}
	return s.ch, s.cancel, nil
}

// Dropped returns how many payloads were discarded because a consumer
// fell behind.
func (n *NATSSubscriber) Dropped() int64 {
	return n.dropped.Load()
}

func (n *NATSSubscriber) Close() error {
	n.conn.Close()
	return nil
}
