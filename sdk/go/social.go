package vfxhubsdk

import (
	"context"
	"net/http"
	"net/url"
)

// Conversations lists the ids of users the caller exchanged messages with.
func (c *Client) Conversations(ctx context.Context) ([]string, error) {
	var resp struct {
		Items []string `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "conversations", nil, &resp)
	return resp.Items, err
}

func (c *Client) Conversation(ctx context.Context, userID string) ([]Message, error) {
	var resp []Message
	err := c.do(ctx, http.MethodGet, "conversations/"+url.PathEscape(userID)+"/messages", nil, &resp)
	return resp, err
}

func (c *Client) SendDirectMessage(ctx context.Context, userID, content string) (Message, error) {
	var resp Message
	err := c.do(ctx, http.MethodPost, "conversations/"+url.PathEscape(userID)+"/messages", map[string]any{"content": content}, &resp)
	return resp, err
}

func (c *Client) ProjectMessages(ctx context.Context, projectID string) ([]Message, error) {
	var resp []Message
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(projectID)+"/messages", nil, &resp)
	return resp, err
}

func (c *Client) SendProjectMessage(ctx context.Context, projectID, content string) (Message, error) {
	var resp Message
	err := c.do(ctx, http.MethodPost, "projects/"+url.PathEscape(projectID)+"/messages", map[string]any{"content": content}, &resp)
	return resp, err
}

func (c *Client) Notifications(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	q := url.Values{}
	if unreadOnly {
		q.Set("unread", "true")
	}
	var resp []Notification
	err := c.do(ctx, http.MethodGet, withQuery("notifications", q), nil, &resp)
	return resp, err
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

func (c *Client) Posts(ctx context.Context, authorID string) ([]Post, error) {
	q := url.Values{}
	setQuery(q, "author_id", authorID)
	var resp []Post
	err := c.do(ctx, http.MethodGet, withQuery("posts", q), nil, &resp)
	return resp, err
}

func (c *Client) CreatePost(ctx context.Context, body string, tags []string) (Post, error) {
	var resp Post
	err := c.do(ctx, http.MethodPost, "posts", map[string]any{"body": body, "tags": tags}, &resp)
	return resp, err
}

func (c *Client) DeletePost(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "posts/"+url.PathEscape(id), nil, nil)
}

func (c *Client) LikePost(ctx context.Context, id string) (Post, error) {
	var resp Post
	err := c.do(ctx, http.MethodPut, "posts/"+url.PathEscape(id)+"/like", nil, &resp)
	return resp, err
}

func (c *Client) UnlikePost(ctx context.Context, id string) (Post, error) {
	var resp Post
	err := c.do(ctx, http.MethodDelete, "posts/"+url.PathEscape(id)+"/like", nil, &resp)
	return resp, err
}

func (c *Client) Machines(ctx context.Context, status string) ([]Machine, error) {
	q := url.Values{}
	setQuery(q, "status", status)
	var resp []Machine
	err := c.do(ctx, http.MethodGet, withQuery("machines", q), nil, &resp)
	return resp, err
}

func (c *Client) RegisterMachine(ctx context.Context, name, specs string) (Machine, error) {
	var resp Machine
	err := c.do(ctx, http.MethodPost, "machines", map[string]any{"name": name, "specs": specs}, &resp)
	return resp, err
}

func (c *Client) AssignMachine(ctx context.Context, id, userID string) (Machine, error) {
	var resp Machine
	err := c.do(ctx, http.MethodPost, "machines/"+url.PathEscape(id)+"/assign", map[string]any{"user_id": userID}, &resp)
	return resp, err
}

func (c *Client) ReleaseMachine(ctx context.Context, id string) (Machine, error) {
	var resp Machine
	err := c.do(ctx, http.MethodPost, "machines/"+url.PathEscape(id)+"/release", nil, &resp)
	return resp, err
}

func (c *Client) SetMachineStatus(ctx context.Context, id, status string) (Machine, error) {
	var resp Machine
	err := c.do(ctx, http.MethodPost, "machines/"+url.PathEscape(id)+"/status", map[string]any{"status": status}, &resp)
	return resp, err
}
