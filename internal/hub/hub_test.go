package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/relay/internal/clock"
	"github.com/alfredjeanlab/relay/internal/model"
	"github.com/alfredjeanlab/relay/internal/token"
)

var (
	testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	convA     = model.EntityKey{Kind: model.EntityConversation, ID: "cv-a"}
	convB     = model.EntityKey{Kind: model.EntityConversation, ID: "cv-b"}
)

// fakeTransport records frames and close calls.
type fakeTransport struct {
	mu        sync.Mutex
	frames    [][]byte
	closed    bool
	closeCode int
	sendErr   error
	block     chan struct{} // when non-nil, Send waits on it
	notify    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{notify: make(chan struct{}, 1024)}
}

func (f *fakeTransport) Send(ctx context.Context, frame []byte) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, frame)
	f.notify <- struct{}{}
	return nil
}

func (f *fakeTransport) Close(code int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.closeCode = code
	}
	return nil
}

func (f *fakeTransport) events(t *testing.T) []model.Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Event, 0, len(f.frames))
	for _, fr := range f.frames {
		var ev model.Event
		if err := json.Unmarshal(fr, &ev); err != nil {
			t.Fatalf("bad frame %s: %v", fr, err)
		}
		out = append(out, ev)
	}
	return out
}

// broadcastEvents returns only frames carrying a sequence.
func (f *fakeTransport) broadcastEvents(t *testing.T) []model.Event {
	t.Helper()
	var out []model.Event
	for _, ev := range f.events(t) {
		if ev.Sequence > 0 {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeTransport) closeState() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.closeCode
}

// waitFrames blocks until the transport has received n frames.
func (f *fakeTransport) waitFrames(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		f.mu.Lock()
		got := len(f.frames)
		f.mu.Unlock()
		if got >= n {
			return
		}
		select {
		case <-f.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d frames, have %d", n, got)
		}
	}
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type testEnv struct {
	hub   *Hub
	clock *clock.FakeClock
	svc   *token.Service
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	clk := clock.Fake(testEpoch)
	svc, err := token.NewService([]byte("0123456789abcdef0123456789abcdef"), nil, clk)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	cfg.Clock = clk
	h := New(svc, cfg)
	t.Cleanup(h.Close)
	return &testEnv{hub: h, clock: clk, svc: svc}
}

func (e *testEnv) mint(t *testing.T, user string, entity model.EntityKey) string {
	t.Helper()
	now := e.clock.Now()
	tok, err := e.svc.Mint(&token.Claims{
		Subject:    user,
		EntityKind: entity.Kind,
		EntityID:   entity.ID,
		Role:       model.RoleCustomer,
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(token.Lifetime).Unix(),
		ID:         "nonce-" + user,
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return tok
}

func (e *testEnv) admit(t *testing.T, user string, entity model.EntityKey) *fakeTransport {
	t.Helper()
	tr := newFakeTransport()
	if _, err := e.hub.Admit(context.Background(), entity, tr, e.mint(t, user, entity)); err != nil {
		t.Fatalf("Admit(%s, %s): %v", user, entity, err)
	}
	tr.waitFrames(t, 1) // admitted frame
	return tr
}

func (e *testEnv) broadcast(t *testing.T, entity model.EntityKey, body string) uint64 {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"body": body})
	seq, err := e.hub.Broadcast(context.Background(), entity, model.EventMessage, payload, &model.Actor{UserID: "u-1", Role: model.RoleCustomer})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	return seq
}

func TestAdmit_SendsAdmittedFrame(t *testing.T) {
	env := newTestEnv(t, Config{})
	tr := newFakeTransport()
	ack, err := env.hub.Admit(context.Background(), convA, tr, env.mint(t, "u-1", convA))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if ack.UserID != "u-1" || ack.Entity != convA || ack.ConnectionID == "" {
		t.Errorf("unexpected ack %+v", ack)
	}

	tr.waitFrames(t, 1)
	evs := tr.events(t)
	if evs[0].Type != model.EventAdmitted || evs[0].Sequence != 0 {
		t.Errorf("first frame = %+v, want admitted control frame", evs[0])
	}
	if got := env.hub.Stats(); got.Actors != 1 || got.Connections != 1 {
		t.Errorf("Stats = %+v", got)
	}
}

func TestAdmit_InvalidTokenClosesWith4401(t *testing.T) {
	env := newTestEnv(t, Config{})
	tr := newFakeTransport()
	_, err := env.hub.Admit(context.Background(), convA, tr, "garbage")
	if !errors.Is(err, token.ErrInvalid) {
		t.Fatalf("expected token.ErrInvalid, got %v", err)
	}
	if closed, code := tr.closeState(); !closed || code != CloseInvalidToken {
		t.Errorf("closed=%v code=%d, want 4401", closed, code)
	}
	if got := env.hub.Stats().Connections; got != 0 {
		t.Errorf("connections = %d, want 0", got)
	}
}

func TestAdmit_ExpiredTokenClosesWith4401(t *testing.T) {
	env := newTestEnv(t, Config{})
	tok := env.mint(t, "u-1", convA)
	env.clock.Advance(token.Lifetime)

	tr := newFakeTransport()
	if _, err := env.hub.Admit(context.Background(), convA, tr, tok); !errors.Is(err, token.ErrExpired) {
		t.Fatalf("expected token.ErrExpired, got %v", err)
	}
	if _, code := tr.closeState(); code != CloseInvalidToken {
		t.Errorf("code = %d, want 4401", code)
	}
}

func TestAdmit_EntityMismatchClosesWith4403(t *testing.T) {
	env := newTestEnv(t, Config{})
	tr := newFakeTransport()
	_, err := env.hub.Admit(context.Background(), convB, tr, env.mint(t, "u-1", convA))
	if !errors.Is(err, token.ErrEntityMismatch) {
		t.Fatalf("expected token.ErrEntityMismatch, got %v", err)
	}
	if closed, code := tr.closeState(); !closed || code != CloseEntityMismatch {
		t.Errorf("closed=%v code=%d, want 4403", closed, code)
	}
}

func TestAdmit_RejectionCreatesNoActor(t *testing.T) {
	env := newTestEnv(t, Config{})
	expired := env.mint(t, "u-1", convA)
	env.clock.Advance(token.Lifetime)

	for name, tc := range map[string]struct {
		entity model.EntityKey
		tok    string
	}{
		"garbage":  {convA, "garbage"},
		"expired":  {convA, expired},
		"mismatch": {convB, env.mint(t, "u-2", convA)},
	} {
		if _, err := env.hub.Admit(context.Background(), tc.entity, newFakeTransport(), tc.tok); err == nil {
			t.Fatalf("%s: Admit succeeded", name)
		}
	}
	if got := env.hub.Stats().Actors; got != 0 {
		t.Errorf("actors after rejected admissions = %d, want 0", got)
	}
}

func TestAdmit_SameTransportIsNoOp(t *testing.T) {
	env := newTestEnv(t, Config{})
	tr := newFakeTransport()
	tok := env.mint(t, "u-1", convA)

	first, err := env.hub.Admit(context.Background(), convA, tr, tok)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	second, err := env.hub.Admit(context.Background(), convA, tr, tok)
	if err != nil {
		t.Fatalf("re-Admit: %v", err)
	}
	if first.ConnectionID != second.ConnectionID {
		t.Errorf("re-admission created a new connection: %s vs %s", first.ConnectionID, second.ConnectionID)
	}
	if got := env.hub.Stats().Connections; got != 1 {
		t.Errorf("connections = %d, want 1", got)
	}

	env.broadcast(t, convA, "once")
	tr.waitFrames(t, 2)
	if n := len(tr.broadcastEvents(t)); n != 1 {
		t.Errorf("broadcast delivered %d times, want 1", n)
	}
}

func TestBroadcast_SequenceIncrementsPerCall(t *testing.T) {
	env := newTestEnv(t, Config{})
	for i := 1; i <= 3; i++ {
		// Same payload each time; no dedup is attempted.
		if seq := env.broadcast(t, convA, "same"); seq != uint64(i) {
			t.Fatalf("call %d: sequence = %d", i, seq)
		}
	}
}

func TestBroadcast_OrderedPerConnection(t *testing.T) {
	env := newTestEnv(t, Config{QueueSize: 256})
	c1 := env.admit(t, "u-1", convA)
	c2 := env.admit(t, "u-2", convA)

	const n = 100
	for i := 0; i < n; i++ {
		env.broadcast(t, convA, fmt.Sprint(i))
	}
	for _, tr := range []*fakeTransport{c1, c2} {
		tr.waitFrames(t, n+1)
		evs := tr.broadcastEvents(t)
		if len(evs) != n {
			t.Fatalf("got %d events, want %d", len(evs), n)
		}
		for i, ev := range evs {
			if ev.Sequence != uint64(i+1) {
				t.Fatalf("event %d has sequence %d", i, ev.Sequence)
			}
			if ev.EntityID != convA.ID || ev.TriggeredBy == nil || ev.TriggeredBy.UserID != "u-1" {
				t.Fatalf("event %d has wrong envelope: %+v", i, ev)
			}
		}
	}
}

func TestBroadcast_ConcurrentCallersSeeTotalOrder(t *testing.T) {
	env := newTestEnv(t, Config{QueueSize: 1024})
	tr := env.admit(t, "u-1", convA)

	const workers, each = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				if _, err := env.hub.Broadcast(context.Background(), convA, model.EventTyping, nil, nil); err != nil {
					t.Errorf("Broadcast: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	tr.waitFrames(t, workers*each+1)
	evs := tr.broadcastEvents(t)
	for i, ev := range evs {
		if ev.Sequence != uint64(i+1) {
			t.Fatalf("delivery %d has sequence %d; sequences must be gapless and ordered", i, ev.Sequence)
		}
	}
}

func TestBroadcast_EntitiesAreIsolated(t *testing.T) {
	env := newTestEnv(t, Config{})
	a := env.admit(t, "u-1", convA)
	b := env.admit(t, "u-2", convB)

	env.broadcast(t, convA, "for a")
	env.broadcast(t, convA, "for a again")
	if seq := env.broadcast(t, convB, "for b"); seq != 1 {
		t.Errorf("convB sequence = %d, want 1 (independent counter)", seq)
	}

	a.waitFrames(t, 3)
	b.waitFrames(t, 2)
	for _, ev := range a.broadcastEvents(t) {
		if ev.EntityID != convA.ID {
			t.Errorf("connection on A received %s event", ev.EntityID)
		}
	}
	if evs := b.broadcastEvents(t); len(evs) != 1 || evs[0].EntityID != convB.ID {
		t.Errorf("connection on B received %+v", evs)
	}
}

func TestBroadcast_FailingTransportIsRemovedOthersContinue(t *testing.T) {
	env := newTestEnv(t, Config{})
	good := env.admit(t, "u-1", convA)
	bad := env.admit(t, "u-2", convA)

	bad.mu.Lock()
	bad.sendErr = errors.New("broken pipe")
	bad.mu.Unlock()

	env.broadcast(t, convA, "first")
	eventually(t, "failing connection removal", func() bool { return env.hub.Stats().Connections == 1 })

	env.broadcast(t, convA, "second")
	good.waitFrames(t, 3)
	if n := len(good.broadcastEvents(t)); n != 2 {
		t.Errorf("healthy connection got %d events, want 2", n)
	}
	eventually(t, "failed transport close", func() bool { closed, _ := bad.closeState(); return closed })
}

func TestBroadcast_SlowConsumerIsDropped(t *testing.T) {
	env := newTestEnv(t, Config{QueueSize: 2})
	slow := newFakeTransport()
	slow.block = make(chan struct{})
	if _, err := env.hub.Admit(context.Background(), convA, slow, env.mint(t, "u-1", convA)); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	// The writer holds the admitted frame in Send; two more fill the
	// queue and the next overflows it.
	for i := 0; i < 4; i++ {
		env.broadcast(t, convA, fmt.Sprint(i))
	}
	if got := env.hub.Stats().Connections; got != 0 {
		t.Fatalf("connections = %d, want slow consumer dropped", got)
	}
	close(slow.block)
	eventually(t, "slow consumer close", func() bool {
		closed, code := slow.closeState()
		return closed && code == CloseSlowConsumer
	})
}

func TestRemove_IsIdempotent(t *testing.T) {
	env := newTestEnv(t, Config{})
	tr := env.admit(t, "u-1", convA)

	env.hub.Remove(context.Background(), convA, tr)
	env.hub.Remove(context.Background(), convA, tr)
	env.hub.Remove(context.Background(), convB, tr) // no actor at all

	if got := env.hub.Stats().Connections; got != 0 {
		t.Errorf("connections = %d, want 0", got)
	}
	eventually(t, "transport close", func() bool {
		closed, code := tr.closeState()
		return closed && code == CloseNormal
	})
}

func TestPing_RepliesOnlyToCaller(t *testing.T) {
	env := newTestEnv(t, Config{})
	pinger := env.admit(t, "u-1", convA)
	other := env.admit(t, "u-2", convA)

	if err := env.hub.Ping(context.Background(), convA, pinger); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	pinger.waitFrames(t, 2)
	evs := pinger.events(t)
	if evs[1].Type != model.EventPong {
		t.Errorf("expected pong, got %s", evs[1].Type)
	}

	// A broadcast after the ping proves other's queue has been drained
	// past the point where a stray pong would have appeared.
	env.broadcast(t, convA, "marker")
	other.waitFrames(t, 2)
	for _, ev := range other.events(t) {
		if ev.Type == model.EventPong {
			t.Error("pong leaked to another connection")
		}
	}

	if err := env.hub.Ping(context.Background(), convB, pinger); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Ping on unknown entity: %v", err)
	}
}

func TestIdleActorIsReclaimed(t *testing.T) {
	env := newTestEnv(t, Config{IdleTimeout: time.Minute})
	env.broadcast(t, convA, "nobody listening")
	if got := env.hub.Stats().Actors; got != 1 {
		t.Fatalf("actors = %d, want 1", got)
	}

	env.clock.Advance(59 * time.Second)
	env.broadcast(t, convA, "resets the window")
	env.clock.Advance(59 * time.Second)
	if got := env.hub.Stats().Actors; got != 1 {
		t.Fatalf("actor reclaimed before the idle window elapsed")
	}

	env.clock.Advance(time.Second)
	eventually(t, "actor reclaim", func() bool { return env.hub.Stats().Actors == 0 })

	// A fresh actor starts a new sequence.
	if seq := env.broadcast(t, convA, "again"); seq != 1 {
		t.Errorf("sequence after reclaim = %d, want 1", seq)
	}
}

func TestActorWithConnectionsIsNotReclaimed(t *testing.T) {
	env := newTestEnv(t, Config{IdleTimeout: time.Minute})
	tr := env.admit(t, "u-1", convA)

	env.clock.Advance(10 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	if got := env.hub.Stats().Actors; got != 1 {
		t.Fatalf("actor with a live connection was reclaimed")
	}

	env.hub.Remove(context.Background(), convA, tr)
	env.clock.Advance(time.Minute)
	eventually(t, "actor reclaim after last removal", func() bool { return env.hub.Stats().Actors == 0 })
}

func TestClose_ClosesTransportsAndRejectsNewWork(t *testing.T) {
	env := newTestEnv(t, Config{})
	tr := env.admit(t, "u-1", convA)

	env.hub.Close()
	eventually(t, "transport close", func() bool {
		closed, code := tr.closeState()
		return closed && code == CloseGoingAway
	})
	if _, err := env.hub.Broadcast(context.Background(), convA, model.EventTyping, nil, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Broadcast after Close: %v", err)
	}
}
