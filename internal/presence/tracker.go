// Package presence answers "is this user online right now?".
//
// The Tracker keeps an in-memory map of recent activity, updated by the
// HTTP auth middleware on every authenticated request. The persisted
// presence record in the store is consulted for users this node has not
// seen; when both exist the newer timestamp wins. A background reaper
// evicts entries that have been idle for a long time and, when write-back
// is enabled, first flushes recent activity to the store so other nodes
// see it.
package presence

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/relay/internal/clock"
	"github.com/alfredjeanlab/relay/internal/model"
	"github.com/alfredjeanlab/relay/internal/store"
)

// DefaultThreshold is how recent activity must be for a user to count as
// online.
const DefaultThreshold = 60 * time.Second

// Source is the persisted presence record.
type Source interface {
	LastActiveAt(ctx context.Context, userID string) (time.Time, error)
	TouchPresence(ctx context.Context, userID string, at time.Time) error
}

// Entry is a snapshot of one user's in-memory presence state.
type Entry struct {
	UserID       string    `json:"user_id"`
	LastActiveAt time.Time `json:"last_active_at"`
	FirstSeen    time.Time `json:"first_seen"`
	IdleSecs     float64   `json:"idle_secs"`
	RequestCount int64     `json:"request_count"`
	Online       bool      `json:"online"`
}

// ReaperConfig configures the background flush/evict loop.
type ReaperConfig struct {
	// EvictAfter is how long an entry may stay idle before it is dropped
	// from memory. Default: 10 minutes.
	EvictAfter time.Duration

	// SweepInterval is how often the reaper runs. Default: 30 seconds.
	SweepInterval time.Duration

	// OnOffline is called for each user that crossed the online threshold
	// since the previous sweep. Called outside the lock.
	OnOffline func(userID string)

	// WriteBack flushes local activity to the shared presence record so
	// other nodes see it. When false the record is only read.
	WriteBack bool
}

// Tracker maintains recent user activity.
type Tracker struct {
	mu    sync.RWMutex
	users map[string]*userState

	src       Source
	clock     clock.Clock
	threshold time.Duration
	logger    *slog.Logger

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type userState struct {
	firstSeen time.Time
	lastSeen  time.Time
	requests  int64
	dirty     bool // lastSeen not yet flushed to src
	offline   bool // reported offline by the last sweep
}

// New creates a tracker. src may be nil, in which case only in-memory
// activity is considered.
func New(src Source, clk clock.Clock, logger *slog.Logger, threshold time.Duration) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Tracker{
		users:     make(map[string]*userState),
		src:       src,
		clock:     clk,
		threshold: threshold,
		logger:    logger.With("component", "presence"),
	}
}

// Threshold returns the online window.
func (t *Tracker) Threshold() time.Duration { return t.threshold }

// Touch records activity for userID at the current time.
func (t *Tracker) Touch(userID string) {
	if userID == "" {
		return
	}
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.users[userID]
	if !ok {
		state = &userState{firstSeen: now}
		t.users[userID] = state
	}
	if now.After(state.lastSeen) {
		state.lastSeen = now
	}
	state.requests++
	state.dirty = true
	state.offline = false
}

// LastActive returns the most recent known activity for userID, combining
// memory and the store. ok is false when neither has a record. Store
// failures are logged and treated as no record.
func (t *Tracker) LastActive(ctx context.Context, userID string) (time.Time, bool) {
	t.mu.RLock()
	var mem time.Time
	if state, ok := t.users[userID]; ok {
		mem = state.lastSeen
	}
	t.mu.RUnlock()

	// Memory within the window is authoritative enough; skip the store.
	if !mem.IsZero() && t.clock.Now().Sub(mem) < t.threshold {
		return mem, true
	}
	if t.src == nil {
		return mem, !mem.IsZero()
	}

	stored, err := t.src.LastActiveAt(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			t.logger.Warn("presence lookup failed", "user", userID, "error", err)
		}
		return mem, !mem.IsZero()
	}
	if stored.After(mem) {
		return stored, true
	}
	return mem, !mem.IsZero()
}

// IsOnline reports whether userID was active within the threshold. A
// missing record means offline; it is never an error.
func (t *Tracker) IsOnline(ctx context.Context, userID string) bool {
	last, ok := t.LastActive(ctx, userID)
	return ok && t.isFresh(last)
}

func (t *Tracker) isFresh(last time.Time) bool {
	return t.clock.Now().Sub(last) < t.threshold
}

// Online filters candidates to those currently online and orders them by
// most recent activity, ties broken by user ID. The returned agents are
// copies carrying the effective LastActiveAt.
func (t *Tracker) Online(ctx context.Context, candidates []*model.Agent) []*model.Agent {
	out := make([]*model.Agent, 0, len(candidates))
	for _, c := range candidates {
		last := c.LastActiveAt
		if seen, ok := t.LastActive(ctx, c.UserID); ok && seen.After(last) {
			last = seen
		}
		if last.IsZero() || !t.isFresh(last) {
			continue
		}
		a := *c
		a.LastActiveAt = last
		out = append(out, &a)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastActiveAt.Equal(out[j].LastActiveAt) {
			return out[i].LastActiveAt.After(out[j].LastActiveAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Roster returns a snapshot of in-memory entries, most recently active
// first. staleThreshold excludes entries idle longer than it; pass 0 to
// include everything.
func (t *Tracker) Roster(staleThreshold time.Duration) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.clock.Now()
	entries := make([]Entry, 0, len(t.users))
	for id, state := range t.users {
		idle := now.Sub(state.lastSeen)
		if staleThreshold > 0 && idle > staleThreshold {
			continue
		}
		entries = append(entries, Entry{
			UserID:       id,
			LastActiveAt: state.lastSeen,
			FirstSeen:    state.firstSeen,
			IdleSecs:     idle.Seconds(),
			RequestCount: state.requests,
			Online:       idle < t.threshold,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].LastActiveAt.Equal(entries[j].LastActiveAt) {
			return entries[i].LastActiveAt.After(entries[j].LastActiveAt)
		}
		return entries[i].UserID < entries[j].UserID
	})
	return entries
}

// Len returns the number of users tracked in memory.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.users)
}

// StartReaper launches the background flush/evict loop. Call Stop to shut
// it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.EvictAfter == 0 {
		cfg.EvictAfter = 10 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 30 * time.Second
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	ticker := t.clock.NewTicker(cfg.SweepInterval)
	go t.reapLoop(cfg, ticker)
	t.logger.Info("reaper started",
		"threshold", t.threshold,
		"evict_after", cfg.EvictAfter,
		"sweep_interval", cfg.SweepInterval,
		"write_back", t.writesBack(cfg))
}

// Stop shuts down the reaper goroutine, flushing pending activity first
// when write-back is on.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig, ticker *clock.Ticker) {
	defer close(t.reaperDone)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			if t.writesBack(cfg) {
				t.flush()
			}
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

type flushItem struct {
	userID string
	at     time.Time
}

// sweep reports users that went offline, evicts long-idle entries and
// flushes dirty ones when write-back is on.
func (t *Tracker) sweep(cfg *ReaperConfig) {
	now := t.clock.Now()
	writeBack := t.writesBack(cfg)
	var wentOffline []string

	t.mu.Lock()
	for id, state := range t.users {
		idle := now.Sub(state.lastSeen)
		if !state.offline && idle >= t.threshold {
			state.offline = true
			wentOffline = append(wentOffline, id)
		}
		// With write-back, dirty entries are kept until flushed so no
		// activity is lost.
		if (!writeBack || !state.dirty) && idle > cfg.EvictAfter {
			delete(t.users, id)
		}
	}
	t.mu.Unlock()

	if writeBack {
		t.flush()
	}

	sort.Strings(wentOffline)
	for _, id := range wentOffline {
		t.logger.Debug("user went offline", "user", id)
		if cfg.OnOffline != nil {
			cfg.OnOffline(id)
		}
	}
}

func (t *Tracker) writesBack(cfg *ReaperConfig) bool {
	return cfg.WriteBack && t.src != nil
}

// flush writes dirty entries to the store. Entries that fail stay dirty
// and are retried on the next sweep.
func (t *Tracker) flush() {
	if t.src == nil {
		return
	}

	t.mu.Lock()
	var pending []flushItem
	for id, state := range t.users {
		if state.dirty {
			pending = append(pending, flushItem{userID: id, at: state.lastSeen})
			state.dirty = false
		}
	}
	t.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, item := range pending {
		if err := t.src.TouchPresence(ctx, item.userID, item.at); err != nil {
			t.logger.Warn("presence flush failed", "user", item.userID, "error", err)
			t.mu.Lock()
			if state, ok := t.users[item.userID]; ok {
				state.dirty = true
			}
			t.mu.Unlock()
		}
	}
}
