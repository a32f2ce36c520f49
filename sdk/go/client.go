package vfxhubsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vfxhub/internal/domain"
	"vfxhub/internal/filters"
)

// Client is a vfxhub HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

type (
	Profile      = domain.Profile
	Project      = domain.Project
	Task         = domain.Task
	Bid          = domain.Bid
	Share        = domain.Share
	Message      = domain.Message
	Notification = domain.Notification
	Post         = domain.Post
	Machine      = domain.Machine
	Transaction  = domain.Transaction
	Change       = domain.Change
	Ledger       = filters.Ledger
)

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		e.Code = env.Error.Code
		e.Message = env.Error.Message
		e.Details = env.Error.Details
	}
	return e
}

type DevLoginResponse struct {
	Token   string  `json:"token"`
	Profile Profile `json:"profile"`
}

// DevLogin mints a token on servers started with dev login enabled.
func (c *Client) DevLogin(ctx context.Context, userID, displayName, role string) (DevLoginResponse, error) {
	body := map[string]any{
		"user_id":      userID,
		"display_name": displayName,
	}
	if role != "" {
		body["role"] = role
	}
	var resp DevLoginResponse
	err := c.do(ctx, http.MethodPost, "auth/dev/login", body, &resp)
	return resp, err
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

func (c *Client) Me(ctx context.Context) (Profile, error) {
	var resp Profile
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

type ProfileInput struct {
	DisplayName string   `json:"display_name"`
	Role        string   `json:"role,omitempty"`
	Skills      []string `json:"skills,omitempty"`
}

func (c *Client) UpdateMe(ctx context.Context, in ProfileInput) (Profile, error) {
	var resp Profile
	err := c.do(ctx, http.MethodPut, "me", in, &resp)
	return resp, err
}

func (c *Client) Profiles(ctx context.Context, role, skill string) ([]Profile, error) {
	q := url.Values{}
	setQuery(q, "role", role)
	setQuery(q, "skill", skill)
	var resp []Profile
	err := c.do(ctx, http.MethodGet, withQuery("profiles", q), nil, &resp)
	return resp, err
}

type APIKey struct {
	ID         string  `json:"id"`
	Name       string  `json:"name,omitempty"`
	Key        string  `json:"key,omitempty"`
	CreatedAt  string  `json:"created_at"`
	LastUsedAt *string `json:"last_used_at,omitempty"`
}

// CreateAPIKey returns the plain key once; only its hash is stored.
func (c *Client) CreateAPIKey(ctx context.Context, name string) (APIKey, error) {
	var resp APIKey
	err := c.do(ctx, http.MethodPost, "api-keys", map[string]any{"name": name}, &resp)
	return resp, err
}

func (c *Client) APIKeys(ctx context.Context) ([]APIKey, error) {
	var resp []APIKey
	err := c.do(ctx, http.MethodGet, "api-keys", nil, &resp)
	return resp, err
}

func (c *Client) RevokeAPIKey(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "api-keys/"+url.PathEscape(id), nil, nil)
}

// ScopeVersion returns the latest change sequence of a scope.
func (c *Client) ScopeVersion(ctx context.Context, scope string) (int64, error) {
	var resp struct {
		Version int64 `json:"version"`
	}
	err := c.do(ctx, http.MethodGet, "scopes/"+url.PathEscape(scope)+"/version", nil, &resp)
	return resp.Version, err
}

type ChangeQuery struct {
	Scope  string
	Tables []string
	After  int64
	Limit  int
}

type ChangePage struct {
	Items      []Change `json:"items"`
	NextCursor int64    `json:"next_cursor"`
}

func (c *Client) Changes(ctx context.Context, cq ChangeQuery) (ChangePage, error) {
	q := url.Values{}
	setQuery(q, "scope", cq.Scope)
	setQuery(q, "table", strings.Join(cq.Tables, ","))
	setInt(q, "after", cq.After)
	setInt(q, "limit", int64(cq.Limit))
	var resp ChangePage
	err := c.do(ctx, http.MethodGet, withQuery("changes", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req.Header)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return newAPIError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) authorize(h http.Header) {
	switch {
	case c.BearerToken != "":
		h.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		h.Set("X-Api-Key", c.APIKey)
	}
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func setQuery(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func setInt(q url.Values, key string, value int64) {
	if value > 0 {
		q.Set(key, fmt.Sprint(value))
	}
}
