// Package api is the HTTP client for the chat server's REST surface. The
// server is a black-box CRUD collaborator; this package only shapes requests
// and decodes its {"error": ...} envelope into typed errors.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ageniuscoder/mmchat/client/internal/chat"
	"github.com/ageniuscoder/mmchat/client/internal/conversations"
)

// Error is a non-2xx response. Status 0 means the request never completed.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return "api: " + e.Message
	}
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// Retryable reports whether the caller may usefully retry: transport
// failures and server-side errors are, 4xx rejections are not.
func (e *Error) Retryable() bool {
	return e.Status == 0 || e.Status >= 500
}

// Client talks to one server on behalf of one session. The bearer token is
// captured by Login and attached to every later request.
type Client struct {
	base string
	http *http.Client
	log  *slog.Logger

	mu    sync.Mutex
	token string
}

// New builds a client for the given base URL, e.g. "http://localhost:8080".
func New(base string, log *slog.Logger) *Client {
	return &Client{
		base: base,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log,
	}
}

// Token returns the bearer token captured at login; it doubles as the
// channel credential.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// SetToken injects an existing token, for callers that persist sessions.
func (c *Client) SetToken(tok string) {
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
}

// Login authenticates and stores the returned token. Returns the user id.
func (c *Client) Login(ctx context.Context, username, password string) (int64, error) {
	var out struct {
		Token  string `json:"token"`
		UserID int64  `json:"user_id"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/login", body, &out); err != nil {
		return 0, err
	}
	c.SetToken(out.Token)
	return out.UserID, nil
}

// Signup registers a user and stores the returned token.
func (c *Client) Signup(ctx context.Context, username, password string) (int64, error) {
	var out struct {
		Token  string `json:"token"`
		UserID int64  `json:"user_id"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/signup", body, &out); err != nil {
		return 0, err
	}
	c.SetToken(out.Token)
	return out.UserID, nil
}

// ListConversations fetches every conversation the user participates in.
func (c *Client) ListConversations(ctx context.Context) ([]conversations.Conversation, error) {
	var out struct {
		Conversations []conversations.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// CreateDirectConversation creates (or finds, server-side) the direct
// conversation with the other user.
func (c *Client) CreateDirectConversation(ctx context.Context, otherUserID int64) (conversations.Conversation, error) {
	var out struct {
		Conversation conversations.Conversation `json:"conversation"`
	}
	body := map[string]int64{"other_user_id": otherUserID}
	if err := c.do(ctx, http.MethodPost, "/api/conversations/private", body, &out); err != nil {
		return conversations.Conversation{}, err
	}
	return out.Conversation, nil
}

// CreateGroupConversation creates a named group with the given members.
func (c *Client) CreateGroupConversation(ctx context.Context, name string, memberIDs []int64) (conversations.Conversation, error) {
	var out struct {
		Conversation conversations.Conversation `json:"conversation"`
	}
	body := map[string]any{"name": name, "member_ids": memberIDs}
	if err := c.do(ctx, http.MethodPost, "/api/conversations/group", body, &out); err != nil {
		return conversations.Conversation{}, err
	}
	return out.Conversation, nil
}

// ListMessages fetches one history page, oldest first.
func (c *Client) ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]chat.Message, error) {
	var out struct {
		Messages []chat.Message `json:"messages"`
	}
	path := fmt.Sprintf("/api/conversations/%d/messages?limit=%d&offset=%d", conversationID, limit, offset)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// UpdateMessage is the edit round-trip.
func (c *Client) UpdateMessage(ctx context.Context, messageID int64, content string) error {
	body := map[string]string{"content": content}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/messages/%d", messageID), body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return &Error{Message: err.Error()}
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return &Error{Message: err.Error()}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return &Error{Message: err.Error()}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var envelope struct {
			Error any `json:"error"`
		}
		msg := res.Status
		if err := json.NewDecoder(res.Body).Decode(&envelope); err == nil && envelope.Error != nil {
			msg = fmt.Sprint(envelope.Error)
		}
		return &Error{Status: res.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return &Error{Status: res.StatusCode, Message: "decode response: " + err.Error()}
	}
	return nil
}
