package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"vfxhub/internal/config"
	"vfxhub/internal/db"
	"vfxhub/internal/domain"
	"vfxhub/internal/engine/auth"
	"vfxhub/internal/events"
	"vfxhub/internal/repo"
)

// Publisher receives changes once their transaction has committed.
type Publisher interface {
	Publish(changes ...domain.Change)
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Auth      auth.Service
	Publisher Publisher
	Config    *config.Config
	Logger    *slog.Logger
	Now       func() time.Time
}

func New(conn *db.DB, cfg *config.Config, pub Publisher, logger *slog.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := repo.New(conn)
	return Engine{
		DB:        conn.DB,
		Repo:      r,
		Events:    events.Writer{Dialect: conn.Dialect},
		Auth:      auth.Service{Repo: r},
		Publisher: pub,
		Config:    cfg,
		Logger:    logger,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return domain.Timestamp(e.now())
}

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) error {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports a write that contradicts current state.
type ConflictError struct {
	Message string
}

func (e ConflictError) Error() string { return e.Message }

// InsufficientFundsError is returned when a debit exceeds the balance.
type InsufficientFundsError struct {
	UserID  string
	Balance int64
	Amount  int64
}

func (e InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %d, requested %d", e.Balance, e.Amount)
}

// txn is a write transaction that collects the changes it appends.
type txn struct {
	*sql.Tx
	e       Engine
	now     string
	changes []domain.Change
}

func (t *txn) emit(ctx context.Context, rec events.Record, scopes ...string) error {
	w := t.e.Events
	w.Now = t.e.now
	changes, err := w.Append(ctx, t.Tx, rec, scopes...)
	if err != nil {
		return err
	}
	t.changes = append(t.changes, changes...)
	return nil
}

// notify stores a notification and emits it on the recipient's scope.
func (t *txn) notify(ctx context.Context, actorID string, n domain.Notification) error {
	if n.UserID == "" || n.UserID == actorID {
		return nil
	}
	n.ID = uuid.NewString()
	n.CreatedAt = t.now
	if err := t.e.Repo.InsertNotification(ctx, t.Tx, n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return t.emit(ctx, events.Record{Table: "notifications", Op: events.OpInsert, RecordID: n.ID, ActorID: actorID, Payload: n},
		domain.UserScope(n.UserID))
}

// inTx runs fn in a transaction and publishes the collected changes after
// commit.
func (e Engine) inTx(ctx context.Context, fn func(t *txn) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t := &txn{Tx: tx, e: e, now: e.stamp()}
	if err := fn(t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if e.Publisher != nil && len(t.changes) > 0 {
		e.Publisher.Publish(t.changes...)
	}
	return nil
}

// Actor loads the profile behind an authenticated id.
func (e Engine) Actor(ctx context.Context, tx *sql.Tx, id string) (domain.Profile, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Profile{}, auth.ForbiddenError{Permission: "profile"}
	}
	p, err := e.Repo.GetProfile(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Profile{}, auth.ForbiddenError{Permission: "profile"}
	}
	return p, err
}

func requireText(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", invalid(field, "is required")
	}
	return v, nil
}

func optionalTime(field string, v *string) (*string, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil, nil
	}
	s := strings.TrimSpace(*v)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if _, err := time.Parse(layout, s); err == nil {
			return &s, nil
		}
	}
	return nil, invalid(field, "must be RFC3339 or YYYY-MM-DD")
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[strings.ToLower(s)] {
			continue
		}
		seen[strings.ToLower(s)] = true
		out = append(out, s)
	}
	return out
}
