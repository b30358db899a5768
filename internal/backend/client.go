// ABOUTME: REST client for the support backend's conversation, user and team endpoints
// ABOUTME: Handles token auth, paginated list envelopes and transfer/delete writes

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/handoff-console/internal/model"
)

// DefaultAuthScheme prefixes the token in the Authorization header.
const DefaultAuthScheme = "Token"

// maxPages bounds how many "next" links a list call follows.
const maxPages = 50

// Options configure a Client.
type Options struct {
	BaseURL    string
	Token      string
	AuthScheme string
	Timeout    time.Duration
	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the backend REST API.
type Client struct {
	baseURL    string
	token      string
	authScheme string
	http       *http.Client
	logger     *slog.Logger
}

// New creates a client.
func New(opts Options) *Client {
	scheme := opts.AuthScheme
	if scheme == "" {
		scheme = DefaultAuthScheme
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		token:      opts.Token,
		authScheme: scheme,
		http:       hc,
		logger:     logger.With("component", "backend"),
	}
}

// AuthHeader returns the header every request carries. Push feeds dial with it.
func (c *Client) AuthHeader() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", c.authScheme+" "+c.token)
	}
	return h
}

// ListConversations fetches every conversation visible to the operator.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	convs, err := listAll[model.Conversation](ctx, c, "/api/conversations/")
	if err != nil {
		return nil, fmt.Errorf("fetching conversations: %w", err)
	}
	return convs, nil
}

// ListAgents fetches the agents of the operator's provider, with names and presence.
func (c *Client) ListAgents(ctx context.Context) ([]model.Agent, error) {
	agents, err := listAll[model.Agent](ctx, c, "/api/users/?provedor=me")
	if err != nil {
		return nil, fmt.Errorf("fetching agents: %w", err)
	}
	return agents, nil
}

// ListUserStatus fetches presence for the whole tenant.
func (c *Client) ListUserStatus(ctx context.Context) ([]model.Agent, error) {
	var body struct {
		Users []model.Agent `json:"users"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/api/users/status/", &body); err != nil {
		return nil, fmt.Errorf("fetching user status: %w", err)
	}
	return body.Users, nil
}

// ListTeams fetches teams with their ordered members.
func (c *Client) ListTeams(ctx context.Context) ([]model.Team, error) {
	teams, err := listAll[model.Team](ctx, c, "/api/teams/")
	if err != nil {
		return nil, fmt.Errorf("fetching teams: %w", err)
	}
	return teams, nil
}

// ListMessages fetches the message history of one conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID int64) ([]model.Message, error) {
	msgs, err := listAll[model.Message](ctx, c, fmt.Sprintf("/api/conversations/%d/messages/", conversationID))
	if err != nil {
		return nil, fmt.Errorf("fetching messages for conversation %d: %w", conversationID, err)
	}
	return msgs, nil
}

// Transfer reassigns a conversation to an agent. The returned conversation
// is nil when the backend only acknowledges the transfer.
func (c *Client) Transfer(ctx context.Context, conversationID, agentID int64) (*model.Conversation, error) {
	payload, err := json.Marshal(map[string]int64{"user_id": agentID})
	if err != nil {
		return nil, fmt.Errorf("marshaling transfer request: %w", err)
	}

	path := fmt.Sprintf("%s/api/conversations/%d/transfer/", c.baseURL, conversationID)
	resp, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("transferring conversation %d: %w", conversationID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("transferring conversation %d: %w", conversationID, handleErrorResponse(resp))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading transfer response: %w", err)
	}
	conv, err := decodeTransferResult(body, resp.StatusCode)
	if err != nil {
		return nil, fmt.Errorf("transferring conversation %d: %w", conversationID, err)
	}
	return conv, nil
}

func decodeTransferResult(body []byte, code int) (*model.Conversation, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var ack struct {
		ID      int64  `json:"id"`
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, fmt.Errorf("decoding transfer response: %w", err)
	}
	if ack.Success != nil && !*ack.Success {
		return nil, &StatusError{Code: code, Message: ack.Error}
	}
	if ack.ID == 0 {
		return nil, nil
	}

	var conv model.Conversation
	if err := json.Unmarshal(body, &conv); err != nil {
		return nil, fmt.Errorf("decoding transferred conversation: %w", err)
	}
	return &conv, nil
}

// DeleteConversation ends the attendance of a conversation.
func (c *Client) DeleteConversation(ctx context.Context, conversationID int64) error {
	path := fmt.Sprintf("%s/api/conversations/%d/", c.baseURL, conversationID)
	resp, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("deleting conversation %d: %w", conversationID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("deleting conversation %d: %w", conversationID, handleErrorResponse(resp))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range c.AuthHeader() {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	c.logger.Debug("backend request",
		"method", method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start))
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handleErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// listPage is the paginated envelope. Unpaginated endpoints return a bare array.
type listPage[T any] struct {
	Results []T    `json:"results"`
	Next    string `json:"next"`
}

func decodeList[T any](body []byte) ([]T, string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, "", fmt.Errorf("decoding list: %w", err)
		}
		return items, "", nil
	}

	var page listPage[T]
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, "", fmt.Errorf("decoding list envelope: %w", err)
	}
	return page.Results, page.Next, nil
}

func listAll[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	next := c.baseURL + path
	var all []T

	for page := 0; next != ""; page++ {
		if page == maxPages {
			c.logger.Warn("stopping pagination at page limit", "path", path, "pages", maxPages)
			break
		}

		resp, err := c.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			err := handleErrorResponse(resp)
			resp.Body.Close()
			return nil, err
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}

		items, nextURL, err := decodeList[T](body)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)

		next, err = c.resolveNext(nextURL)
		if err != nil {
			return nil, err
		}
	}

	if all == nil {
		all = []T{}
	}
	return all, nil
}

// resolveNext turns a pagination link into an absolute URL on the base host.
func (c *Client) resolveNext(next string) (string, error) {
	if next == "" {
		return "", nil
	}
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	ref, err := url.Parse(next)
	if err != nil {
		return "", fmt.Errorf("parsing next link %q: %w", next, err)
	}
	return base.ResolveReference(ref).String(), nil
}
