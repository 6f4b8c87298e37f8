// Package live keeps a client subscribed to one relay entity.
//
// A Client fetches a capability token, dials the entity's channel and
// re-dials with exponential backoff when the connection drops. After too
// many consecutive failures it gives up and reports ErrGaveUp; the caller
// must start a new Client (the equivalent of a page refresh). The
// transitions live in the pure Policy.Next; Client only performs the side
// effects of entering each state.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/relay/internal/clock"
	"github.com/alfredjeanlab/relay/internal/model"
)

// ErrGaveUp is reported once the client stops retrying.
var ErrGaveUp = errors.New("connection lost; refresh to reconnect")

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("live: client closed")

// ErrNotConnected is returned by Send while no connection is up.
var ErrNotConnected = errors.New("live: not connected")

// Heartbeat defaults.
const (
	DefaultPingInterval = 25 * time.Second
	DefaultPongTimeout  = 60 * time.Second
	DefaultDialTimeout  = 15 * time.Second
)

// TokenSource issues a fresh capability token for entity.
type TokenSource interface {
	Token(ctx context.Context, entity model.EntityKey) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context, entity model.EntityKey) (string, error)

func (f TokenFunc) Token(ctx context.Context, entity model.EntityKey) (string, error) {
	return f(ctx, entity)
}

// Conn is one established channel. ReadFrame blocks until a frame arrives
// or the connection fails; Close unblocks it.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
}

// Dialer opens a channel for entity using tok.
type Dialer interface {
	Dial(ctx context.Context, entity model.EntityKey, tok string) (Conn, error)
}

// Config configures a Client.
type Config struct {
	Entity       model.EntityKey
	Tokens       TokenSource
	Dialer       Dialer
	Policy       Policy
	PingInterval time.Duration
	PongTimeout  time.Duration
	DialTimeout  time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger

	// OnEvent receives every non-duplicate broadcast and control frame
	// except pong. It runs on the client goroutine and must not block.
	OnEvent func(model.Event)
	// OnState is called after every state change.
	OnState func(State)
}

type inputKind int

const (
	inEvent inputKind = iota
	inDialResult
	inFrame
	inReadError
	inTick
	inSend
)

type input struct {
	kind  inputKind
	ev    Event
	gen   uint64
	conn  Conn
	err   error
	frame []byte
	reply chan error
}

// Client is a reconnecting subscriber for one entity.
type Client struct {
	cfg    Config
	policy Policy
	logger *slog.Logger

	inbox chan input
	done  chan struct{}
	exit  chan struct{}
	once  sync.Once

	mu       sync.Mutex
	snapshot State
	err      error

	// Owned by the run goroutine.
	state     State
	gen       uint64
	conn      Conn
	timer     *clock.Timer
	ticker    *clock.Ticker
	tickStop  chan struct{}
	lastHeard time.Time
	lastSeq   uint64
}

// New validates cfg and returns an idle Client. Call Start to connect.
func New(cfg Config) (*Client, error) {
	if cfg.Entity.ID == "" || !cfg.Entity.Kind.IsValid() {
		return nil, fmt.Errorf("live: invalid entity %q", cfg.Entity.String())
	}
	if cfg.Tokens == nil || cfg.Dialer == nil {
		return nil, errors.New("live: token source and dialer are required")
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = DefaultPongTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Client{
		cfg:    cfg,
		policy: cfg.Policy.withDefaults(),
		logger: cfg.Logger.With("component", "live", "entity", cfg.Entity.String()),
		inbox:  make(chan input),
		done:   make(chan struct{}),
		exit:   make(chan struct{}),
	}
	go c.run()
	return c, nil
}

// Start begins connecting.
func (c *Client) Start() { c.post(input{kind: inEvent, ev: EventStart}) }

// Resume forces an immediate attempt when the client is disconnected or
// waiting out a backoff. It has no effect once connected or given up.
func (c *Client) Resume() { c.post(input{kind: inEvent, ev: EventResume}) }

// Close stops any pending retry and closes the live connection. It blocks
// until the client goroutine has exited.
func (c *Client) Close() {
	c.post(input{kind: inEvent, ev: EventClose})
	<-c.exit
}

// State returns the latest state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Err returns ErrGaveUp after the client has given up, otherwise nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send writes a frame of type typ on the live connection.
func (c *Client) Send(ctx context.Context, typ model.EventType, payload any) error {
	ev := model.Event{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding %s frame: %w", typ, err)
		}
		ev.Payload = raw
	}
	frame, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	select {
	case c.inbox <- input{kind: inSend, frame: frame, reply: reply}:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers in to the run goroutine unless it has exited.
func (c *Client) post(in input) bool {
	select {
	case c.inbox <- in:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) run() {
	defer close(c.exit)
	for {
		select {
		case in := <-c.inbox:
			c.handle(in)
		case <-c.done:
			return
		}
	}
}

func (c *Client) handle(in input) {
	switch in.kind {
	case inEvent:
		if in.ev == EventRetry && in.gen != c.gen {
			return
		}
		c.transition(in.ev, nil)
	case inDialResult:
		if in.gen != c.gen || c.state.Status != StatusConnecting {
			if in.conn != nil {
				_ = in.conn.Close()
			}
			return
		}
		if in.err != nil {
			c.logger.Info("connect attempt failed", "attempt", c.state.Attempt+1, "error", in.err)
			c.transition(EventFailed, nil)
			return
		}
		c.transition(EventConnected, in.conn)
	case inFrame:
		if in.gen == c.gen && c.state.Status == StatusConnected {
			c.receive(in.frame)
		}
	case inReadError:
		if in.gen == c.gen && c.state.Status == StatusConnected {
			c.logger.Info("connection dropped", "error", in.err)
			c.transition(EventDropped, nil)
		}
	case inTick:
		if in.gen == c.gen && c.state.Status == StatusConnected {
			c.heartbeat()
		}
	case inSend:
		if c.state.Status != StatusConnected {
			in.reply <- ErrNotConnected
			return
		}
		in.reply <- c.conn.WriteFrame(in.frame)
	}
}

// transition applies ev and runs the entry action of the new state.
func (c *Client) transition(ev Event, conn Conn) {
	prev := c.state
	next := c.policy.Next(prev, ev)
	if next == prev {
		return
	}
	if prev.Status == StatusConnected && next.Status != StatusConnected {
		c.teardownConn()
	}
	if prev.Status == StatusBackoff {
		c.stopTimer()
	}
	c.state = next
	c.logger.Debug("state changed", "from", prev.String(), "to", next.String(), "event", ev.String())

	switch next.Status {
	case StatusConnecting:
		c.gen++
		go c.connect(c.gen)
	case StatusConnected:
		c.gen++
		c.conn = conn
		c.lastSeq = 0
		c.lastHeard = c.cfg.Clock.Now()
		go c.readLoop(c.gen, conn)
		c.startHeartbeat(c.gen)
		c.logger.Info("connected")
	case StatusBackoff:
		c.gen++
		delay := c.policy.Delay(next.Attempt)
		gen := c.gen
		c.timer = c.cfg.Clock.AfterFunc(delay, func() {
			c.post(input{kind: inEvent, ev: EventRetry, gen: gen})
		})
		c.logger.Info("retrying", "attempt", next.Attempt, "delay", delay)
	case StatusGaveUp:
		c.gen++
		c.logger.Warn("giving up", "attempts", next.Attempt)
	case StatusClosed:
		c.gen++
		c.stopTimer()
		c.teardownConn()
	}

	c.mu.Lock()
	c.snapshot = next
	if next.Status == StatusGaveUp {
		c.err = ErrGaveUp
	}
	c.mu.Unlock()

	if c.cfg.OnState != nil {
		c.cfg.OnState(next)
	}
	if next.Status == StatusGaveUp || next.Status == StatusClosed {
		c.once.Do(func() { close(c.done) })
	}
}

// connect fetches a token and dials; it never touches client state.
func (c *Client) connect(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	defer cancel()

	tok, err := c.cfg.Tokens.Token(ctx, c.cfg.Entity)
	if err != nil {
		c.postResult(input{kind: inDialResult, gen: gen, err: fmt.Errorf("fetching token: %w", err)})
		return
	}
	conn, err := c.cfg.Dialer.Dial(ctx, c.cfg.Entity, tok)
	if err != nil {
		c.postResult(input{kind: inDialResult, gen: gen, err: fmt.Errorf("dialing: %w", err)})
		return
	}
	c.postResult(input{kind: inDialResult, gen: gen, conn: conn})
}

func (c *Client) postResult(in input) {
	if !c.post(in) && in.conn != nil {
		_ = in.conn.Close()
	}
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			c.post(input{kind: inReadError, gen: gen, err: err})
			return
		}
		if !c.post(input{kind: inFrame, gen: gen, frame: frame}) {
			return
		}
	}
}

// receive handles one inbound frame: any frame proves liveness, pongs stop
// there, and broadcasts at or below the last seen sequence are dropped.
func (c *Client) receive(frame []byte) {
	c.lastHeard = c.cfg.Clock.Now()

	var ev model.Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		c.logger.Warn("ignoring malformed frame", "error", err)
		return
	}
	if ev.Type == model.EventPong || !ev.Type.IsKnown() {
		return
	}
	if ev.Sequence > 0 {
		if ev.Sequence <= c.lastSeq {
			c.logger.Debug("dropping duplicate", "sequence", ev.Sequence, "last", c.lastSeq)
			return
		}
		c.lastSeq = ev.Sequence
	}
	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(ev)
	}
}

func (c *Client) startHeartbeat(gen uint64) {
	c.ticker = c.cfg.Clock.NewTicker(c.cfg.PingInterval)
	c.tickStop = make(chan struct{})
	go func(ticks <-chan time.Time, stop <-chan struct{}) {
		for {
			select {
			case <-ticks:
				if !c.post(input{kind: inTick, gen: gen}) {
					return
				}
			case <-stop:
				return
			}
		}
	}(c.ticker.C, c.tickStop)
}

// heartbeat drops a connection that has been silent for PongTimeout and
// otherwise sends a ping.
func (c *Client) heartbeat() {
	if c.cfg.Clock.Now().Sub(c.lastHeard) >= c.cfg.PongTimeout {
		c.logger.Info("heartbeat timeout", "last_heard", c.lastHeard)
		c.transition(EventDropped, nil)
		return
	}
	frame, _ := json.Marshal(model.Event{Type: model.EventPing})
	if err := c.conn.WriteFrame(frame); err != nil {
		c.logger.Info("ping failed", "error", err)
		c.transition(EventDropped, nil)
	}
}

func (c *Client) teardownConn() {
	if c.ticker != nil {
		c.ticker.Stop()
		close(c.tickStop)
		c.ticker = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
