package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/relay/internal/clock"
	"github.com/alfredjeanlab/relay/internal/fanout"
	"github.com/alfredjeanlab/relay/internal/hub"
	"github.com/alfredjeanlab/relay/internal/model"
	"github.com/alfredjeanlab/relay/internal/presence"
	"github.com/alfredjeanlab/relay/internal/routing"
	"github.com/alfredjeanlab/relay/internal/token"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	store   *mockStore
	clock   *clock.FakeClock
	tokens  *token.Service
	hub     *hub.Hub
	srv     *Server
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ms := newMockStore()
	clk := clock.Fake(testEpoch)

	tokens, err := token.NewService([]byte(strings.Repeat("k", token.MinSecretLength)), ms, clk)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	h := hub.New(tokens, hub.Config{Clock: clk, Logger: logger})
	t.Cleanup(h.Close)
	f := fanout.New(h, ms, fanout.Options{NodeID: "node-test", Clock: clk, Logger: logger})
	p := presence.New(ms, clk, logger, presence.DefaultThreshold)
	r := routing.New(ms, p, f, clk, logger)

	srv := New(ms, tokens, h, f, r, p, Options{Clock: clk, Logger: logger})
	return &testEnv{
		store:   ms,
		clock:   clk,
		tokens:  tokens,
		hub:     h,
		srv:     srv,
		handler: srv.NewHTTPHandler(""),
	}
}

// do sends a request as userID ("" for anonymous) and returns the recorder.
func (e *testEnv) do(method, path, userID string, body any) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) issue(t *testing.T, userID string, entity model.EntityKey) string {
	t.Helper()
	w := e.do("POST", "/v1/tokens", userID, map[string]string{
		"entity_kind": string(entity.Kind),
		"entity_id":   entity.ID,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("issue token: status %d: %s", w.Code, w.Body.String())
	}
	var out issueTokenOutput
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	return out.Token
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestIssueToken(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser("u1", model.RoleCustomer)
	env.store.addUser("u2", model.RoleProvider)
	env.store.addConversation("cv-1", "u1", "u2")

	tests := []struct {
		name   string
		userID string
		kind   string
		id     string
		want   int
	}{
		{"participant", "u1", "conversation", "cv-1", http.StatusCreated},
		{"own cart", "u2", "cart", "u2", http.StatusCreated},
		{"anonymous", "", "conversation", "cv-1", http.StatusUnauthorized},
		{"unknown user", "ghost", "conversation", "cv-1", http.StatusUnauthorized},
		{"other cart", "u1", "cart", "u2", http.StatusForbidden},
		{"missing conversation", "u1", "conversation", "cv-404", http.StatusNotFound},
		{"bad kind", "u1", "listing", "l-1", http.StatusBadRequest},
		{"missing id", "u1", "cart", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("POST", "/v1/tokens", tt.userID, map[string]string{"entity_kind": tt.kind, "entity_id": tt.id})
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestIssueToken_ExpiresAfterLifetime(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser("u1", model.RoleCustomer)

	w := env.do("POST", "/v1/tokens", "u1", map[string]string{"entity_kind": "user", "entity_id": "u1"})
	var out issueTokenOutput
	decodeJSON(t, w, &out)
	if !out.ExpiresAt.Equal(testEpoch.Add(token.Lifetime)) {
		t.Errorf("expires_at = %v, want %v", out.ExpiresAt, testEpoch.Add(token.Lifetime))
	}
	claims, err := env.tokens.Verify(out.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "u1" || claims.Role != model.RoleCustomer {
		t.Errorf("claims = %+v", claims)
	}
}

func TestChannelPrecheck(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser("u1", model.RoleCustomer)
	env.store.addUser("u2", model.RoleProvider)
	env.store.addConversation("cv-1", "u1", "u2")
	tok := env.issue(t, "u1", model.EntityKey{Kind: model.EntityConversation, ID: "cv-1"})

	outsider := env.issue(t, "u2", model.EntityKey{Kind: model.EntityCart, ID: "u2"})

	tests := []struct {
		name string
		path string
		want int
	}{
		{"missing token", "/v1/connect/conversation/cv-1", http.StatusUnauthorized},
		{"garbage token", "/v1/connect/conversation/cv-1?token=abc", http.StatusUnauthorized},
		{"wrong entity", "/v1/connect/conversation/cv-2?token=" + tok, http.StatusForbidden},
		{"token for another kind", "/v1/connect/conversation/cv-1?token=" + outsider, http.StatusForbidden},
		{"unknown kind", "/v1/connect/listing/cv-1?token=" + tok, http.StatusNotFound},
		{"sse wrong entity", "/v1/stream/cart/u1?token=" + tok, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("GET", tt.path, "", nil)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestChannelPrecheck_ExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser("u1", model.RoleCustomer)
	tok := env.issue(t, "u1", model.EntityKey{Kind: model.EntityUser, ID: "u1"})

	env.clock.Advance(token.Lifetime + time.Second)
	w := env.do("GET", "/v1/connect/user/u1?token="+tok, "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func dialChannel(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", path, err, status)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) model.Event {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var ev model.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return ev
}

func TestConnect_ReceivesBroadcasts(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser("u1", model.RoleCustomer)
	env.store.addUser("u2", model.RoleProvider)
	env.store.addConversation("cv-1", "u1", "u2")
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	tok := env.issue(t, "u2", model.EntityKey{Kind: model.EntityConversation, ID: "cv-1"})
	ws := dialChannel(t, ts, "/v1/connect/conversation/cv-1?token="+tok)

	admitted := readEvent(t, ws)
	if admitted.Type != model.EventAdmitted {
		t.Fatalf("first frame = %s, want admitted", admitted.Type)
	}
	var ack model.AdmittedPayload
	_ = json.Unmarshal(admitted.Payload, &ack)
	if ack.UserID != "u2" || ack.Role != model.RoleProvider {
		t.Errorf("admitted payload = %+v", ack)
	}

	w := env.do("POST", "/v1/conversations/cv-1/messages", "u1", map[string]string{"body": "is this still available?"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create message: %d %s", w.Code, w.Body.String())
	}

	ev := readEvent(t, ws)
	if ev.Type != model.EventMessage || ev.Sequence != 1 {
		t.Fatalf("frame = %s seq %d, want message seq 1", ev.Type, ev.Sequence)
	}
	if ev.TriggeredBy == nil || ev.TriggeredBy.UserID != "u1" {
		t.Errorf("triggered_by = %+v", ev.TriggeredBy)
	}
	var mp model.MessagePayload
	_ = json.Unmarshal(ev.Payload, &mp)
	if mp.Message == nil || mp.Message.Body != "is this still available?" {
		t.Errorf("payload = %s", ev.Payload)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if pong := readEvent(t, ws); pong.Type != model.EventPong || pong.Sequence != 0 {
		t.Errorf("frame = %s seq %d, want unsequenced pong", pong.Type, pong.Sequence)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing"}`)); err != nil {
		t.Fatalf("write typing: %v", err)
	}
	typing := readEvent(t, ws)
	if typing.Type != model.EventTyping || typing.Sequence != 2 {
		t.Errorf("frame = %s seq %d, want typing seq 2", typing.Type, typing.Sequence)
	}
}

func TestConnect_UserChannelGetsUnreadCount(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser("u1", model.RoleCustomer)
	env.store.addUser("u2", model.RoleProvider)
	env.store.addConversation("cv-1", "u1", "u2")
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	tok := env.issue(t, "u2", model.EntityKey{Kind: model.EntityUser, ID: "u2"})
	ws := dialChannel(t, ts, "/v1/connect/user/u2?token="+tok)
	if ev := readEvent(t, ws); ev.Type != model.EventAdmitted {
		t.Fatalf("first frame = %s", ev.Type)
	}

	env.do("POST", "/v1/conversations/cv-1/messages", "u1", map[string]string{"body": "hello"})

	ev := readEvent(t, ws)
	if ev.Type != model.EventUnreadCountChanged {
		t.Fatalf("frame = %s, want unread_count_changed", ev.Type)
	}
	if string(ev.Payload) != `{"count":1}` {
		t.Errorf("payload = %s", ev.Payload)
	}
}

func TestStream_DeliversEvents(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser("u1", model.RoleCustomer)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	tok := env.issue(t, "u1", model.EntityKey{Kind: model.EntityCart, ID: "u1"})
	resp, err := http.Get(ts.URL + "/v1/stream/cart/u1?token=" + tok)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	lines := make(chan string, 32)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	next := func(prefix string) string {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream ended waiting for %q", prefix)
				}
				if strings.HasPrefix(line, prefix) {
					return strings.TrimPrefix(line, prefix)
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	if got := next("event:"); got != string(model.EventAdmitted) {
		t.Fatalf("first event = %q", got)
	}

	w := env.do("POST", "/v1/carts/u1/items", "u1", map[string]any{"listing_id": "lst-9", "quantity": 2})
	if w.Code != http.StatusCreated {
		t.Fatalf("add item: %d %s", w.Code, w.Body.String())
	}

	if id := next("id:"); id != "1" {
		t.Errorf("id = %q, want 1", id)
	}
	if got := next("event:"); got != string(model.EventCartItemAdded) {
		t.Errorf("event = %q", got)
	}
	var ev model.Event
	if err := json.Unmarshal([]byte(next("data:")), &ev); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if ev.EntityKind != model.EntityCart || ev.EntityID != "u1" {
		t.Errorf("event entity = %s:%s", ev.EntityKind, ev.EntityID)
	}
}

func TestMessages(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser("u1", model.RoleCustomer)
	env.store.addUser("u2", model.RoleProvider)
	env.store.addUser("u3", model.RoleCustomer)
	env.store.addConversation("cv-1", "u1", "u2")

	tests := []struct {
		name   string
		userID string
		path   string
		body   any
		want   int
	}{
		{"participant", "u1", "/v1/conversations/cv-1/messages", map[string]string{"body": "hi"}, http.StatusCreated},
		{"empty body", "u1", "/v1/conversations/cv-1/messages", map[string]string{"body": "  "}, http.StatusBadRequest},
		{"bad json", "u1", "/v1/conversations/cv-1/messages", "nope", http.StatusBadRequest},
		{"outsider", "u3", "/v1/conversations/cv-1/messages", map[string]string{"body": "hi"}, http.StatusForbidden},
		{"missing conversation", "u1", "/v1/conversations/cv-9/messages", map[string]string{"body": "hi"}, http.StatusNotFound},
		{"anonymous", "", "/v1/conversations/cv-1/messages", map[string]string{"body": "hi"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("POST", tt.path, tt.userID, tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	w := env.do("GET", "/v1/conversations/cv-1/messages", "u2", nil)
	var list struct {
		Messages []*model.Message `json:"messages"`
	}
	decodeJSON(t, w, &list)
	if len(list.Messages) != 1 || list.Messages[0].SenderRole != model.RoleCustomer {
		t.Fatalf("messages = %+v", list.Messages)
	}
}

func TestUnreadAndMarkRead(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser("u1", model.RoleCustomer)
	env.store.addUser("u2", model.RoleProvider)
	env.store.addConversation("cv-1", "u1", "u2")

	env.do("POST", "/v1/conversations/cv-1/messages", "u1", map[string]string{"body": "ping"})

	var unread model.UnreadCountPayload
	decodeJSON(t, env.do("GET", "/v1/unread", "u2", nil), &unread)
	if unread.Count != 1 {
		t.Fatalf("unread = %d, want 1", unread.Count)
	}

	env.clock.Advance(time.Second)
	w := env.do("POST", "/v1/conversations/cv-1/read", "u2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("mark read: %d %s", w.Code, w.Body.String())
	}
	decodeJSON(t, env.do("GET", "/v1/unread", "u2", nil), &unread)
	if unread.Count != 0 {
		t.Errorf("unread after read = %d, want 0", unread.Count)
	}
}

func TestTyping(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser("u1", model.RoleCustomer)
	env.store.addConversation("cv-1", "u1")

	if w := env.do("POST", "/v1/conversations/cv-1/typing", "u1", nil); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if got := len(env.store.messages["cv-1"]); got != 0 {
		t.Errorf("typing stored %d messages", got)
	}
}

func TestCartLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser("u1", model.RoleCustomer)
	env.store.addUser("u2", model.RoleCustomer)

	w := env.do("POST", "/v1/carts/u1/items", "u1", map[string]any{"listing_id": "lst-1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add: %d %s", w.Code, w.Body.String())
	}
	var item model.CartItem
	decodeJSON(t, w, &item)
	if item.Quantity != 1 || item.OwnerID != "u1" {
		t.Fatalf("item = %+v", item)
	}

	if w := env.do("POST", "/v1/carts/u1/items", "u2", map[string]any{"listing_id": "lst-1"}); w.Code != http.StatusForbidden {
		t.Errorf("foreign add status = %d, want 403", w.Code)
	}
	if w := env.do("POST", "/v1/carts/u1/items", "u1", map[string]any{"listing_id": "lst-2", "quantity": 0}); w.Code != http.StatusBadRequest {
		t.Errorf("zero quantity status = %d, want 400", w.Code)
	}

	path := "/v1/carts/u1/items/" + item.ID
	w = env.do("PATCH", path, "u1", map[string]any{"quantity": 3, "note": "gift"})
	if w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
	decodeJSON(t, w, &item)
	if item.Quantity != 3 || item.Note != "gift" || item.ListingID != "lst-1" {
		t.Errorf("updated item = %+v", item)
	}
	if w := env.do("PATCH", path, "u1", map[string]any{"listing_id": "lst-9"}); w.Code != http.StatusBadRequest {
		t.Errorf("listing change status = %d, want 400", w.Code)
	}
	if w := env.do("PATCH", "/v1/carts/u1/items/ci-missing", "u1", map[string]any{"quantity": 2}); w.Code != http.StatusNotFound {
		t.Errorf("missing item status = %d, want 404", w.Code)
	}

	if w := env.do("DELETE", path, "u1", nil); w.Code != http.StatusNoContent {
		t.Errorf("remove status = %d, want 204", w.Code)
	}
	if w := env.do("DELETE", path, "u1", nil); w.Code != http.StatusNotFound {
		t.Errorf("second remove status = %d, want 404", w.Code)
	}

	env.do("POST", "/v1/carts/u1/items", "u1", map[string]any{"listing_id": "lst-3"})
	env.do("POST", "/v1/carts/u1/items", "u1", map[string]any{"listing_id": "lst-4"})
	var cleared map[string]int
	decodeJSON(t, env.do("DELETE", "/v1/carts/u1/items", "u1", nil), &cleared)
	if cleared["removed"] != 2 {
		t.Errorf("removed = %d, want 2", cleared["removed"])
	}

	var list struct {
		Items []*model.CartItem `json:"items"`
	}
	decodeJSON(t, env.do("GET", "/v1/carts/u1/items", "u1", nil), &list)
	if list.Items == nil || len(list.Items) != 0 {
		t.Errorf("items after clear = %v", list.Items)
	}
}

func TestRoute(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser("u1", model.RoleCustomer)
	env.store.addUser("a1", model.RoleAgent)

	var out struct {
		Outcome        string `json:"outcome"`
		ConversationID string `json:"conversation_id"`
		AgentID        string `json:"agent_id"`
	}
	w := env.do("POST", "/v1/support/route", "u1", map[string]string{"summary": "refund please"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	decodeJSON(t, w, &out)
	if out.Outcome != outcomeNoAgentsAvailable || out.ConversationID != "" {
		t.Fatalf("offline agents: %+v", out)
	}
	if len(env.store.assignments) != 0 {
		t.Fatal("no assignment should be recorded without agents")
	}

	// The agent's own request marks it online.
	env.do("GET", "/v1/health", "a1", nil)

	decodeJSON(t, env.do("POST", "/v1/support/route", "u1", map[string]string{"summary": "refund please"}), &out)
	if out.Outcome != outcomeRouted || out.AgentID != "a1" || out.ConversationID == "" {
		t.Fatalf("routed: %+v", out)
	}
	msgs := env.store.messages[out.ConversationID]
	if len(msgs) != 1 || msgs[0].Body != "refund please" || msgs[0].SenderID != "u1" {
		t.Errorf("opening message = %+v", msgs)
	}

	if w := env.do("POST", "/v1/support/route", "u1", map[string]string{"summary": " "}); w.Code != http.StatusBadRequest {
		t.Errorf("empty summary status = %d, want 400", w.Code)
	}
	if w := env.do("POST", "/v1/support/route", "", map[string]string{"summary": "x"}); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", w.Code)
	}
}

func TestOnlineAgentsAndRoster(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser("a1", model.RoleAgent)
	env.store.addUser("a2", model.RoleAgent)

	env.do("GET", "/v1/health", "a2", nil)

	var agents struct {
		Agents []*model.Agent `json:"agents"`
	}
	decodeJSON(t, env.do("GET", "/v1/agents/online", "", nil), &agents)
	if len(agents.Agents) != 1 || agents.Agents[0].UserID != "a2" {
		t.Fatalf("online agents = %+v", agents.Agents)
	}

	env.clock.Advance(presence.DefaultThreshold)
	decodeJSON(t, env.do("GET", "/v1/agents/online", "", nil), &agents)
	if len(agents.Agents) != 0 {
		t.Errorf("agents after threshold = %+v", agents.Agents)
	}

	var roster struct {
		Users     []presence.Entry `json:"users"`
		Threshold string           `json:"threshold"`
	}
	decodeJSON(t, env.do("GET", "/v1/presence", "", nil), &roster)
	if len(roster.Users) != 1 || roster.Users[0].UserID != "a2" || roster.Threshold != "1m0s" {
		t.Errorf("roster = %+v", roster)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do("GET", "/v1/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out struct {
		Status string    `json:"status"`
		Hub    hub.Stats `json:"hub"`
	}
	decodeJSON(t, w, &out)
	if out.Status != "ok" || out.Hub.Connections != 0 {
		t.Errorf("health = %+v", out)
	}
}

func TestServiceToken(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser("u1", model.RoleCustomer)
	handler := env.srv.NewHTTPHandler("secret")

	req := httptest.NewRequest("GET", "/v1/unread", nil)
	req.Header.Set(UserHeader, "u1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("without bearer: %d, want 401", w.Code)
	}

	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("with bearer: %d, want 200", w.Code)
	}

	// Channel endpoints authenticate with capability tokens instead.
	tok := env.issue(t, "u1", model.EntityKey{Kind: model.EntityUser, ID: "u1"})
	req = httptest.NewRequest("GET", "/v1/connect/user/u2?token="+tok, nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("channel without bearer: %d, want 403 from the token check", w.Code)
	}
}

func TestClientFrameTouchesPresence(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser("u1", model.RoleCustomer)
	entity := model.EntityKey{Kind: model.EntityUser, ID: "u1"}
	env.srv.handleClientFrame(context.Background(), entity, nil, "u1", model.RoleCustomer, []byte(`{"type":"something_new"}`))
	if !env.srv.Presence.IsOnline(context.Background(), "u1") {
		t.Error("inbound frame should mark the sender online")
	}
}
