package server

import (
	"encoding/json"
	"net/http"
	"strings"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests must include a valid
// Authorization: Bearer <token> header, except GET /v1/health and the
// channel endpoints, which authenticate with capability tokens.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tokens", s.handleIssueToken)
	mux.HandleFunc("GET /v1/connect/{kind}/{id}", s.handleConnect)
	mux.HandleFunc("GET /v1/stream/{kind}/{id}", s.handleStream)
	mux.HandleFunc("GET /v1/conversations/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /v1/conversations/{id}/messages", s.handleCreateMessage)
	mux.HandleFunc("POST /v1/conversations/{id}/read", s.handleMarkRead)
	mux.HandleFunc("POST /v1/conversations/{id}/typing", s.handleTyping)
	mux.HandleFunc("GET /v1/carts/{owner}/items", s.handleListCartItems)
	mux.HandleFunc("POST /v1/carts/{owner}/items", s.handleAddCartItem)
	mux.HandleFunc("PATCH /v1/carts/{owner}/items/{item}", s.handleUpdateCartItem)
	mux.HandleFunc("DELETE /v1/carts/{owner}/items/{item}", s.handleRemoveCartItem)
	mux.HandleFunc("DELETE /v1/carts/{owner}/items", s.handleClearCart)
	mux.HandleFunc("GET /v1/unread", s.handleUnreadCount)
	mux.HandleFunc("POST /v1/support/route", s.handleRoute)
	mux.HandleFunc("GET /v1/agents/online", s.handleOnlineAgents)
	mux.HandleFunc("GET /v1/presence", s.handlePresenceRoster)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return AuthMiddleware(authToken, s.IdentityMiddleware(mux))
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"hub":    s.hub.Stats(),
	})
}

// IdentityMiddleware attaches the gateway-supplied user ID to the request
// context and records the user's activity for presence.
func (s *Server) IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID != "" {
			if s.Presence != nil {
				s.Presence.Touch(userID)
			}
			r = r.WithContext(withUser(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return inputError("invalid JSON body")
	}
	return nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
