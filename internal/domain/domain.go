package domain

import (
	"encoding/json"
	"time"
)

// TimeLayout is the stored timestamp format. It is fixed width so stored
// strings sort in time order, which RFC3339Nano does not guarantee.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Timestamp formats t in UTC with TimeLayout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

const (
	RoleStudio = "studio"
	RoleArtist = "artist"
	RoleAdmin  = "admin"
)

const (
	ProjectOpen       = "open"
	ProjectInProgress = "in_progress"
	ProjectCompleted  = "completed"
	ProjectCancelled  = "cancelled"
)

const (
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
)

const (
	BidPending   = "pending"
	BidApproved  = "approved"
	BidRejected  = "rejected"
	BidWithdrawn = "withdrawn"
)

const (
	SharePending  = "pending"
	ShareApproved = "approved"
	ShareRejected = "rejected"
)

const (
	MachineAvailable = "available"
	MachineAssigned  = "assigned"
	MachineOffline   = "offline"
)

// Coin transaction types. Transfers and donations write two ledger rows.
const (
	TxEarn        = "earn"
	TxSpend       = "spend"
	TxDonate      = "donate"
	TxTransferIn  = "transfer_in"
	TxTransferOut = "transfer_out"
	TxBonus       = "bonus"
	TxPayout      = "payout"
)

var (
	Roles           = []string{RoleStudio, RoleArtist, RoleAdmin}
	ProjectStatuses = []string{ProjectOpen, ProjectInProgress, ProjectCompleted, ProjectCancelled}
	TaskStatuses    = []string{TaskTodo, TaskInProgress, TaskCompleted}
	BidStatuses     = []string{BidPending, BidApproved, BidRejected, BidWithdrawn}
	ShareStatuses   = []string{SharePending, ShareApproved, ShareRejected}
	MachineStatuses = []string{MachineAvailable, MachineAssigned, MachineOffline}
)

// OneOf reports whether v is a member of set.
func OneOf(v string, set []string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

type Profile struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Role        string   `json:"role" enum:"studio,artist,admin"`
	Skills      []string `json:"skills"`
	Balance     int64    `json:"balance"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"owner_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status" enum:"open,in_progress,completed,cancelled"`
	Budget      int64    `json:"budget"`
	Deadline    *string  `json:"deadline,omitempty" format:"date-time"`
	Skills      []string `json:"skills"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"todo,in_progress,completed"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	Budget      int64   `json:"budget"`
	DueAt       *string `json:"due_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type Bid struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	ArtistID  string `json:"artist_id"`
	Amount    int64  `json:"amount"`
	Note      string `json:"note,omitempty"`
	Status    string `json:"status" enum:"pending,approved,rejected,withdrawn"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Share struct {
	ID           string `json:"id"`
	ResourceKind string `json:"resource_kind" enum:"project,task"`
	ResourceID   string `json:"resource_id"`
	OwnerID      string `json:"owner_id"`
	GranteeID    string `json:"grantee_id"`
	Status       string `json:"status" enum:"pending,approved,rejected"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

// Message is either direct (ReceiverID set) or project-scoped (ProjectID set).
type Message struct {
	ID         string  `json:"id"`
	SenderID   string  `json:"sender_id"`
	ReceiverID *string `json:"receiver_id,omitempty"`
	ProjectID  *string `json:"project_id,omitempty"`
	Content    string  `json:"content"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type Notification struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Kind         string `json:"kind"`
	Title        string `json:"title"`
	Body         string `json:"body,omitempty"`
	ResourceKind string `json:"resource_kind,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	Read         bool   `json:"read"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Post struct {
	ID        string   `json:"id"`
	AuthorID  string   `json:"author_id"`
	Body      string   `json:"body"`
	Tags      []string `json:"tags"`
	Likes     int      `json:"likes"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type Machine struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Status     string  `json:"status" enum:"available,assigned,offline"`
	AssignedTo *string `json:"assigned_to,omitempty"`
	Specs      string  `json:"specs,omitempty"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

type Transaction struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	Type           string  `json:"type" enum:"earn,spend,donate,transfer_in,transfer_out,bonus,payout"`
	Amount         int64   `json:"amount"`
	CounterpartyID *string `json:"counterparty_id,omitempty"`
	Reference      string  `json:"reference,omitempty"`
	BalanceAfter   int64   `json:"balance_after"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

// Change is one row of the change feed. A single write may emit one Change
// per affected scope.
type Change struct {
	Seq      int64           `json:"seq"`
	TS       string          `json:"ts" format:"date-time"`
	Scope    string          `json:"scope"`
	Table    string          `json:"table"`
	Op       string          `json:"op" enum:"INSERT,UPDATE,DELETE"`
	RecordID string          `json:"record_id"`
	ActorID  string          `json:"actor_id"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type APIKey struct {
	ID         string  `json:"id"`
	ActorID    string  `json:"actor_id"`
	Name       string  `json:"name,omitempty"`
	KeyHash    string  `json:"-"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	LastUsedAt *string `json:"last_used_at,omitempty" format:"date-time"`
}
