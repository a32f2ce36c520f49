package vfxhubsdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"vfxhub/internal/filters"
)

type ProjectInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Budget      int64    `json:"budget,omitempty"`
	Deadline    *string  `json:"deadline,omitempty"`
	Skills      []string `json:"skills,omitempty"`
}

// ProjectPatch only sends the fields that are set.
type ProjectPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Status      *string   `json:"status,omitempty"`
	Budget      *int64    `json:"budget,omitempty"`
	Deadline    *string   `json:"deadline,omitempty"`
	Skills      *[]string `json:"skills,omitempty"`
}

// ProjectQuery mirrors the server side project filters.
type ProjectQuery struct {
	OwnerID        string
	Statuses       []string
	Query          string
	MinBudget      *int64
	MaxBudget      *int64
	Skills         []string
	MatchAllSkills bool
	CreatedAfter   string
	CreatedBefore  string
	DeadlineBefore string
	Sort           string
	Descending     bool
	Limit          int
	Offset         int
}

func (pq ProjectQuery) values() url.Values {
	q := url.Values{}
	setQuery(q, "owner_id", pq.OwnerID)
	setQuery(q, "status", strings.Join(pq.Statuses, ","))
	setQuery(q, "q", pq.Query)
	if pq.MinBudget != nil {
		q.Set("min_budget", fmt.Sprint(*pq.MinBudget))
	}
	if pq.MaxBudget != nil {
		q.Set("max_budget", fmt.Sprint(*pq.MaxBudget))
	}
	setQuery(q, "skills", strings.Join(pq.Skills, ","))
	if pq.MatchAllSkills {
		q.Set("match_all", "true")
	}
	setQuery(q, "created_after", pq.CreatedAfter)
	setQuery(q, "created_before", pq.CreatedBefore)
	setQuery(q, "deadline_before", pq.DeadlineBefore)
	setQuery(q, "sort", pq.Sort)
	if pq.Descending {
		q.Set("order", "desc")
	}
	setInt(q, "limit", int64(pq.Limit))
	setInt(q, "offset", int64(pq.Offset))
	return q
}

type ProjectStats struct {
	ProjectID string        `json:"project_id"`
	Tasks     filters.Stats `json:"tasks"`
	Bids      filters.Bids  `json:"bids"`
}

func (c *Client) CreateProject(ctx context.Context, in ProjectInput) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", in, &resp)
	return resp, err
}

func (c *Client) Projects(ctx context.Context, pq ProjectQuery) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, withQuery("projects", pq.values()), nil, &resp)
	return resp, err
}

func (c *Client) Project(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) UpdateProject(ctx context.Context, id string, patch ProjectPatch) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPatch, "projects/"+url.PathEscape(id), patch, &resp)
	return resp, err
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "projects/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ProjectStats(ctx context.Context, id string) (ProjectStats, error) {
	var resp ProjectStats
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id)+"/stats", nil, &resp)
	return resp, err
}

type TaskInput struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Budget      int64   `json:"budget,omitempty"`
	DueAt       *string `json:"due_at,omitempty"`
	AssigneeID  string  `json:"assignee_id,omitempty"`
}

type TaskPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	Budget      *int64  `json:"budget,omitempty"`
	DueAt       *string `json:"due_at,omitempty"`
}

type TaskQuery struct {
	Statuses   []string
	AssigneeID string
	Query      string
	DueBefore  string
}

func (c *Client) CreateTask(ctx context.Context, projectID string, in TaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "projects/"+url.PathEscape(projectID)+"/tasks", in, &resp)
	return resp, err
}

func (c *Client) Tasks(ctx context.Context, projectID string, tq TaskQuery) ([]Task, error) {
	q := url.Values{}
	setQuery(q, "status", strings.Join(tq.Statuses, ","))
	setQuery(q, "assignee_id", tq.AssigneeID)
	setQuery(q, "q", tq.Query)
	setQuery(q, "due_before", tq.DueBefore)
	var resp []Task
	err := c.do(ctx, http.MethodGet, withQuery("projects/"+url.PathEscape(projectID)+"/tasks", q), nil, &resp)
	return resp, err
}

func (c *Client) Task(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) UpdateTask(ctx context.Context, id string, patch TaskPatch) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, "tasks/"+url.PathEscape(id), patch, &resp)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "tasks/"+url.PathEscape(id), nil, nil)
}

func (c *Client) PlaceBid(ctx context.Context, taskID string, amount int64, note string) (Bid, error) {
	body := map[string]any{"amount": amount}
	if note != "" {
		body["note"] = note
	}
	var resp Bid
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/bids", body, &resp)
	return resp, err
}

type BidQuery struct {
	TaskID    string
	ProjectID string
	ArtistID  string
	Status    string
}

func (c *Client) Bids(ctx context.Context, bq BidQuery) ([]Bid, error) {
	q := url.Values{}
	setQuery(q, "task_id", bq.TaskID)
	setQuery(q, "project_id", bq.ProjectID)
	setQuery(q, "artist_id", bq.ArtistID)
	setQuery(q, "status", bq.Status)
	var resp []Bid
	err := c.do(ctx, http.MethodGet, withQuery("bids", q), nil, &resp)
	return resp, err
}

func (c *Client) ReviewBid(ctx context.Context, id string, approve bool) (Bid, error) {
	var resp Bid
	err := c.do(ctx, http.MethodPost, "bids/"+url.PathEscape(id)+"/review", map[string]any{"approve": approve}, &resp)
	return resp, err
}

func (c *Client) WithdrawBid(ctx context.Context, id string) (Bid, error) {
	var resp Bid
	err := c.do(ctx, http.MethodPost, "bids/"+url.PathEscape(id)+"/withdraw", nil, &resp)
	return resp, err
}

// RequestShare asks for access to a project or task. An owner may pass a
// grantee to share directly.
func (c *Client) RequestShare(ctx context.Context, kind, resourceID, granteeID string) (Share, error) {
	body := map[string]any{
		"resource_kind": kind,
		"resource_id":   resourceID,
	}
	if granteeID != "" {
		body["grantee_id"] = granteeID
	}
	var resp Share
	err := c.do(ctx, http.MethodPost, "shares", body, &resp)
	return resp, err
}

type ShareQuery struct {
	OwnerID      string
	GranteeID    string
	ResourceKind string
	ResourceID   string
	Status       string
}

func (c *Client) Shares(ctx context.Context, sq ShareQuery) ([]Share, error) {
	q := url.Values{}
	setQuery(q, "owner_id", sq.OwnerID)
	setQuery(q, "grantee_id", sq.GranteeID)
	setQuery(q, "resource_kind", sq.ResourceKind)
	setQuery(q, "resource_id", sq.ResourceID)
	setQuery(q, "status", sq.Status)
	var resp []Share
	err := c.do(ctx, http.MethodGet, withQuery("shares", q), nil, &resp)
	return resp, err
}

func (c *Client) ReviewShare(ctx context.Context, id string, approve bool) (Share, error) {
	var resp Share
	err := c.do(ctx, http.MethodPost, "shares/"+url.PathEscape(id)+"/review", map[string]any{"approve": approve}, &resp)
	return resp, err
}

func (c *Client) DeleteShare(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "shares/"+url.PathEscape(id), nil, nil)
}
