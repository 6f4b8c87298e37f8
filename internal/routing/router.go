// Package routing assigns an incoming support request to the least-loaded
// online agent and opens (or reuses) a direct conversation with them.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alfredjeanlab/relay/internal/clock"
	"github.com/alfredjeanlab/relay/internal/idgen"
	"github.com/alfredjeanlab/relay/internal/model"
	"github.com/alfredjeanlab/relay/internal/store"
)

var (
	// ErrNoAgentsAvailable means no agent is online. It is an expected
	// outcome, not a failure.
	ErrNoAgentsAvailable = errors.New("no agents available")
	// ErrEmptySummary is returned for a blank request summary.
	ErrEmptySummary = errors.New("request summary is required")
)

// Presence filters agents down to the online ones, most recently active
// first.
type Presence interface {
	Online(ctx context.Context, candidates []*model.Agent) []*model.Agent
}

// Notifier is told about the opening message once the route commits.
type Notifier interface {
	MessageCreated(ctx context.Context, msg *model.Message, by *model.Actor)
}

// Result describes a successful route.
type Result struct {
	ConversationID         string `json:"conversation_id"`
	AgentID                string `json:"agent_id"`
	AgentName              string `json:"agent_name"`
	IsExistingConversation bool   `json:"is_existing_conversation"`
}

// Router picks agents for support requests.
type Router struct {
	store    store.Store
	presence Presence
	notifier Notifier
	clock    clock.Clock
	logger   *slog.Logger
}

// New creates a Router. notifier may be nil.
func New(s store.Store, p Presence, n Notifier, clk clock.Clock, logger *slog.Logger) *Router {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:    s,
		presence: p,
		notifier: n,
		clock:    clk,
		logger:   logger.With("component", "router"),
	}
}

// Route assigns requesterID's request to an online agent. Reads happen
// before any write; the conversation, assignment record and opening
// message are written in one transaction, and the message is broadcast
// after it commits. When no agent is online it returns
// ErrNoAgentsAvailable and writes nothing.
func (r *Router) Route(ctx context.Context, requesterID, summary string) (*Result, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, ErrEmptySummary
	}
	if err := model.ValidateSummary(summary); err != nil {
		return nil, err
	}

	agent, err := r.selectAgent(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	var (
		res    = &Result{AgentID: agent.UserID, AgentName: agent.DisplayName}
		msg    *model.Message
		sender *model.Actor
	)
	err = r.store.RunInTransaction(ctx, func(tx store.Store) error {
		role, err := tx.GetUserRole(ctx, requesterID)
		if err != nil {
			return fmt.Errorf("requester role: %w", err)
		}
		sender = &model.Actor{UserID: requesterID, Role: role}
		now := r.clock.Now()

		conv, err := tx.FindDirectConversation(ctx, requesterID, agent.UserID)
		switch {
		case err == nil:
			res.IsExistingConversation = true
		case errors.Is(err, store.ErrNotFound):
			conv, err = openConversation(ctx, tx, sender, agent.UserID, now)
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("finding conversation: %w", err)
		}
		res.ConversationID = conv.ID

		if err := tx.RecordAssignment(ctx, &model.AssignmentRecord{
			AgentUserID:     agent.UserID,
			RequesterUserID: requesterID,
			ConversationID:  conv.ID,
			AssignedAt:      now,
			RequestSummary:  summary,
		}); err != nil {
			return fmt.Errorf("recording assignment: %w", err)
		}

		id, err := idgen.Message()
		if err != nil {
			return err
		}
		msg = &model.Message{
			ID:             id,
			ConversationID: conv.ID,
			SenderID:       requesterID,
			SenderRole:     role,
			Body:           summary,
			CreatedAt:      now,
		}
		if err := tx.CreateMessage(ctx, msg); err != nil {
			return fmt.Errorf("creating opening message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("routing request from %s: %w", requesterID, err)
	}

	if r.notifier != nil {
		r.notifier.MessageCreated(ctx, msg, sender)
	}
	r.logger.Info("request routed",
		"requester", requesterID,
		"agent", agent.UserID,
		"conversation", res.ConversationID,
		"existing", res.IsExistingConversation)
	return res, nil
}

// selectAgent returns the online agent with the fewest recorded
// assignments. Ties go to the agent listed first by Presence.Online.
func (r *Router) selectAgent(ctx context.Context, requesterID string) (*model.Agent, error) {
	agents, err := r.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	candidates := agents[:0:0]
	for _, a := range agents {
		if a.UserID != requesterID {
			candidates = append(candidates, a)
		}
	}

	online := r.presence.Online(ctx, candidates)
	switch len(online) {
	case 0:
		r.logger.Info("no agents online", "requester", requesterID, "agents", len(agents))
		return nil, ErrNoAgentsAvailable
	case 1:
		return online[0], nil
	}

	ids := make([]string, len(online))
	for i, a := range online {
		ids[i] = a.UserID
	}
	counts, err := r.store.AssignmentCounts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading assignment counts: %w", err)
	}

	best := online[0]
	for _, a := range online[1:] {
		if counts[a.UserID] < counts[best.UserID] {
			best = a
		}
	}
	return best, nil
}

func openConversation(ctx context.Context, tx store.Store, requester *model.Actor, agentID string, now time.Time) (*model.Conversation, error) {
	id, err := idgen.Conversation()
	if err != nil {
		return nil, err
	}
	conv := &model.Conversation{ID: id, CreatedAt: now, CreatedBy: requester.UserID}
	participants := []*model.Participant{
		{ConversationID: id, UserID: requester.UserID, Role: requester.Role, JoinedAt: now},
		{ConversationID: id, UserID: agentID, Role: model.RoleAgent, JoinedAt: now},
	}
	if err := tx.CreateConversation(ctx, conv, participants); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return conv, nil
}
