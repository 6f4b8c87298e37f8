package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/relay/internal/live"
	"github.com/alfredjeanlab/relay/internal/model"
)

// UserHeader carries the acting user ID. The relay trusts it from the
// gateway; the CLI sets it directly.
const UserHeader = "X-User-ID"

// HTTPClient implements RelayClient using the relay HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	userID     string
	httpClient *http.Client
}

var _ RelayClient = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request. userID is sent as the acting user.
func NewHTTPClient(baseURL, token, userID string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		userID:     userID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// BaseURL returns the server URL the client targets.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Capability tokens ---

func (c *HTTPClient) IssueToken(ctx context.Context, entity model.EntityKey) (*IssuedToken, error) {
	body := map[string]string{
		"entity_kind": string(entity.Kind),
		"entity_id":   entity.ID,
	}
	var tok IssuedToken
	if err := c.doJSON(ctx, http.MethodPost, "/v1/tokens", body, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// TokenSource returns a live.TokenSource that issues a fresh token from
// this server on every connection attempt.
func (c *HTTPClient) TokenSource() live.TokenSource {
	return live.TokenFunc(func(ctx context.Context, entity model.EntityKey) (string, error) {
		tok, err := c.IssueToken(ctx, entity)
		if err != nil {
			return "", err
		}
		return tok.Token, nil
	})
}

// --- Conversations ---

func (c *HTTPClient) ListMessages(ctx context.Context, conversationID string, limit int) ([]*model.Message, error) {
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Messages []*model.Message `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *HTTPClient) SendMessage(ctx context.Context, conversationID, body string) (*model.Message, error) {
	var msg model.Message
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, path, map[string]string{"body": body}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *HTTPClient) MarkRead(ctx context.Context, conversationID string) (*model.ReadPayload, error) {
	var read model.ReadPayload
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/read"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &read); err != nil {
		return nil, err
	}
	return &read, nil
}

func (c *HTTPClient) Typing(ctx context.Context, conversationID string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(conversationID)+"/typing", nil, nil)
}

func (c *HTTPClient) UnreadCount(ctx context.Context) (int, error) {
	var resp model.UnreadCountPayload
	if err := c.doJSON(ctx, http.MethodGet, "/v1/unread", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// --- Cart ---

func cartPath(ownerID string) string {
	return "/v1/carts/" + url.PathEscape(ownerID) + "/items"
}

func (c *HTTPClient) ListCartItems(ctx context.Context, ownerID string) ([]*model.CartItem, error) {
	var resp struct {
		Items []*model.CartItem `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, cartPath(ownerID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *HTTPClient) AddCartItem(ctx context.Context, ownerID string, req *CartItemRequest) (*model.CartItem, error) {
	var item model.CartItem
	if err := c.doJSON(ctx, http.MethodPost, cartPath(ownerID), req, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *HTTPClient) UpdateCartItem(ctx context.Context, ownerID, itemID string, req *CartItemRequest) (*model.CartItem, error) {
	var item model.CartItem
	if err := c.doJSON(ctx, http.MethodPatch, cartPath(ownerID)+"/"+url.PathEscape(itemID), req, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *HTTPClient) RemoveCartItem(ctx context.Context, ownerID, itemID string) error {
	return c.doJSON(ctx, http.MethodDelete, cartPath(ownerID)+"/"+url.PathEscape(itemID), nil, nil)
}

func (c *HTTPClient) ClearCart(ctx context.Context, ownerID string) (int, error) {
	var resp struct {
		Removed int `json:"removed"`
	}
	if err := c.doJSON(ctx, http.MethodDelete, cartPath(ownerID), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

// --- Support routing and presence ---

func (c *HTTPClient) RouteSupport(ctx context.Context, summary string) (*RouteResponse, error) {
	var resp RouteResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/support/route", map[string]string{"summary": summary}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) OnlineAgents(ctx context.Context) ([]*model.Agent, error) {
	var resp struct {
		Agents []*model.Agent `json:"agents"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/agents/online", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

func (c *HTTPClient) Presence(ctx context.Context, staleThreshold time.Duration) (*PresenceResponse, error) {
	path := "/v1/presence"
	if staleThreshold > 0 {
		path += "?stale_threshold_secs=" + strconv.Itoa(int(staleThreshold.Seconds()))
	}
	var resp PresenceResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded (for DELETE/204 responses).
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userID != "" {
		req.Header.Set(UserHeader, c.userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
