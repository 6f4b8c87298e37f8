package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/relay/internal/model"
	"github.com/alfredjeanlab/relay/internal/store"
)

// mockStore is an in-memory store.Store for handler tests.
type mockStore struct {
	mu sync.Mutex

	roles         map[string]model.Role
	names         map[string]string
	conversations map[string]*model.Conversation
	participants  map[string][]*model.Participant
	messages      map[string][]*model.Message
	cart          map[string][]*model.CartItem
	assignments   []*model.AssignmentRecord
	presence      map[string]time.Time
}

func newMockStore() *mockStore {
	return &mockStore{
		roles:         map[string]model.Role{},
		names:         map[string]string{},
		conversations: map[string]*model.Conversation{},
		participants:  map[string][]*model.Participant{},
		messages:      map[string][]*model.Message{},
		cart:          map[string][]*model.CartItem{},
		presence:      map[string]time.Time{},
	}
}

func (m *mockStore) addUser(id string, role model.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[id] = role
	m.names[id] = "User " + id
}

func (m *mockStore) addConversation(id string, userIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[id] = &model.Conversation{ID: id, IsGroup: len(userIDs) > 2}
	for _, u := range userIDs {
		m.participants[id] = append(m.participants[id], &model.Participant{ConversationID: id, UserID: u, Role: m.roles[u]})
	}
}

func (m *mockStore) GetUserRole(_ context.Context, userID string) (model.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[userID]
	if !ok {
		return "", fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
	}
	return role, nil
}

func (m *mockStore) CanAccess(_ context.Context, userID string, entity model.EntityKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch entity.Kind {
	case model.EntityConversation:
		if _, ok := m.conversations[entity.ID]; !ok {
			return false, store.ErrNotFound
		}
		for _, p := range m.participants[entity.ID] {
			if p.UserID == userID {
				return true, nil
			}
		}
		return false, nil
	default:
		if _, ok := m.roles[entity.ID]; !ok {
			return false, store.ErrNotFound
		}
		return entity.ID == userID, nil
	}
}

func (m *mockStore) CreateConversation(_ context.Context, c *model.Conversation, ps []*model.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = c
	m.participants[c.ID] = ps
	return nil
}

func (m *mockStore) GetConversation(_ context.Context, id string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (m *mockStore) ListParticipants(_ context.Context, id string) ([]*model.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Participant(nil), m.participants[id]...), nil
}

func (m *mockStore) FindDirectConversation(_ context.Context, a, b string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.conversations {
		ps := m.participants[id]
		if c.IsGroup || len(ps) != 2 {
			continue
		}
		if (ps[0].UserID == a && ps[1].UserID == b) || (ps[0].UserID == b && ps[1].UserID == a) {
			return c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) MarkRead(_ context.Context, convID, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants[convID] {
		if p.UserID == userID {
			t := at
			p.LastReadAt = &t
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *mockStore) CreateMessage(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return store.ErrNotFound
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	return nil
}

func (m *mockStore) ListMessages(_ context.Context, convID string, limit int) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[convID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]*model.Message(nil), msgs...), nil
}

func (m *mockStore) UnreadConversationCount(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, ps := range m.participants {
		for _, p := range ps {
			if p.UserID != userID {
				continue
			}
			for _, msg := range m.messages[id] {
				if msg.SenderID != userID && (p.LastReadAt == nil || msg.CreatedAt.After(*p.LastReadAt)) {
					n++
					break
				}
			}
		}
	}
	return n, nil
}

func (m *mockStore) AddCartItem(_ context.Context, item *model.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cart[item.OwnerID] = append(m.cart[item.OwnerID], item)
	return nil
}

func (m *mockStore) GetCartItem(_ context.Context, owner, itemID string) (*model.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.cart[owner] {
		if it.ID == itemID {
			clone := *it
			return &clone, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) UpdateCartItem(_ context.Context, item *model.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, it := range m.cart[item.OwnerID] {
		if it.ID == item.ID {
			m.cart[item.OwnerID][i] = item
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *mockStore) RemoveCartItem(_ context.Context, owner, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.cart[owner]
	for i, it := range items {
		if it.ID == itemID {
			m.cart[owner] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *mockStore) ClearCart(_ context.Context, owner string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.cart[owner])
	delete(m.cart, owner)
	return n, nil
}

func (m *mockStore) ListCartItems(_ context.Context, owner string) ([]*model.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.CartItem(nil), m.cart[owner]...), nil
}

func (m *mockStore) ListAgents(_ context.Context) ([]*model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Agent
	for id, role := range m.roles {
		if role == model.RoleAgent {
			out = append(out, &model.Agent{UserID: id, DisplayName: m.names[id], LastActiveAt: m.presence[id]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *mockStore) AssignmentCounts(_ context.Context, ids []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	out := map[string]int{}
	for _, a := range m.assignments {
		if want[a.AgentUserID] {
			out[a.AgentUserID]++
		}
	}
	return out, nil
}

func (m *mockStore) RecordAssignment(_ context.Context, rec *model.AssignmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = int64(len(m.assignments) + 1)
	m.assignments = append(m.assignments, rec)
	return nil
}

func (m *mockStore) ListAssignments(_ context.Context, afterID int64, limit int) ([]*model.AssignmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.AssignmentRecord
	for _, a := range m.assignments {
		if a.ID > afterID && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockStore) LastActiveAt(_ context.Context, userID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.presence[userID]
	if !ok {
		return time.Time{}, store.ErrNotFound
	}
	return t, nil
}

func (m *mockStore) TouchPresence(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if at.After(m.presence[userID]) {
		m.presence[userID] = at
	}
	return nil
}

func (m *mockStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(m)
}

func (m *mockStore) Close() error { return nil }

var _ store.Store = (*mockStore)(nil)
