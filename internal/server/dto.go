package server

import (
	"vfxhub/internal/domain"
	"vfxhub/internal/engine"
)

// Request payloads

type ProfileRequest struct {
	DisplayName string   `json:"display_name"`
	Role        string   `json:"role,omitempty" enum:"studio,artist,admin"`
	Skills      []string `json:"skills,omitempty"`
}

type CreateProjectRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Budget      int64    `json:"budget,omitempty"`
	Deadline    *string  `json:"deadline,omitempty"`
	Skills      []string `json:"skills,omitempty"`
}

type UpdateProjectRequest struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Status      *string   `json:"status,omitempty" enum:"open,in_progress,completed,cancelled"`
	Budget      *int64    `json:"budget,omitempty"`
	Deadline    *string   `json:"deadline,omitempty"`
	Skills      *[]string `json:"skills,omitempty"`
}

type CreateTaskRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Budget      int64   `json:"budget,omitempty"`
	DueAt       *string `json:"due_at,omitempty"`
	AssigneeID  string  `json:"assignee_id,omitempty"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"todo,in_progress,completed"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	Budget      *int64  `json:"budget,omitempty"`
	DueAt       *string `json:"due_at,omitempty"`
}

type PlaceBidRequest struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note,omitempty"`
}

type ReviewRequest struct {
	Approve bool `json:"approve"`
}

type ShareRequest struct {
	ResourceKind string `json:"resource_kind" enum:"project,task"`
	ResourceID   string `json:"resource_id"`
	GranteeID    string `json:"grantee_id,omitempty"`
}

type MessageRequest struct {
	Content string `json:"content"`
}

type PostRequest struct {
	Body string   `json:"body"`
	Tags []string `json:"tags,omitempty"`
}

type RegisterMachineRequest struct {
	Name  string `json:"name"`
	Specs string `json:"specs,omitempty"`
}

type AssignMachineRequest struct {
	UserID string `json:"user_id"`
}

type MachineStatusRequest struct {
	Status string `json:"status" enum:"available,offline"`
}

type CoinRequest struct {
	UserID         string `json:"user_id,omitempty"`
	Type           string `json:"type"`
	Amount         int64  `json:"amount"`
	CounterpartyID string `json:"counterparty_id,omitempty"`
	Reference      string `json:"reference,omitempty"`
}

type DevLoginRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty" enum:"studio,artist,admin"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Responses

type DevLoginResponse struct {
	Token   string         `json:"token"`
	Profile domain.Profile `json:"profile"`
}

type BalanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

type VersionResponse struct {
	Scope   string `json:"scope"`
	Version int64  `json:"version"`
}

type ChangesResponse struct {
	Items      []domain.Change `json:"items"`
	NextCursor int64           `json:"next_cursor"`
}

type PartnersResponse struct {
	Items []string `json:"items"`
}

type ProjectStatsResponse = engine.ProjectStats

type APIKeyResponse struct {
	ID         string  `json:"id"`
	Name       string  `json:"name,omitempty"`
	Key        string  `json:"key,omitempty" doc:"Plain key, returned only on creation"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	LastUsedAt *string `json:"last_used_at,omitempty" format:"date-time"`
}

func apiKeyResponse(k domain.APIKey, plain string) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, Name: k.Name, Key: plain, CreatedAt: k.CreatedAt, LastUsedAt: k.LastUsedAt}
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
