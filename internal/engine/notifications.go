package engine

import (
	"context"

	"vfxhub/internal/domain"
	"vfxhub/internal/events"
	"vfxhub/internal/repo"
)

func (e Engine) ListNotifications(ctx context.Context, userID string, unreadOnly bool, page repo.Page) ([]domain.Notification, error) {
	return e.Repo.ListNotifications(ctx, userID, unreadOnly, page)
}

// MarkNotificationRead flags one of the user's own notifications.
func (e Engine) MarkNotificationRead(ctx context.Context, userID, id string) error {
	return e.inTx(ctx, func(t *txn) error {
		if err := e.Repo.MarkNotificationRead(ctx, t.Tx, userID, id); err != nil {
			return err
		}
		return t.emit(ctx, events.Record{Table: "notifications", Op: events.OpUpdate, RecordID: id, ActorID: userID,
			Payload: map[string]any{"read": true}}, domain.UserScope(userID))
	})
}

// ScopeVersion returns the latest change sequence on a scope once the actor
// is allowed to observe it.
func (e Engine) ScopeVersion(ctx context.Context, actorID, scope string) (int64, error) {
	actor, err := e.Actor(ctx, nil, actorID)
	if err != nil {
		return 0, err
	}
	if err := e.Auth.CanSubscribe(ctx, actor, scope); err != nil {
		return 0, err
	}
	return e.Repo.LatestSeq(ctx, scope)
}

// Changes reads the change log of a scope after a cursor.
func (e Engine) Changes(ctx context.Context, actorID string, f repo.ChangeFilters) ([]domain.Change, error) {
	actor, err := e.Actor(ctx, nil, actorID)
	if err != nil {
		return nil, err
	}
	if f.Scope == "" {
		if actor.Role != domain.RoleAdmin {
			return nil, invalid("scope", "is required")
		}
	} else if err := e.Auth.CanSubscribe(ctx, actor, f.Scope); err != nil {
		return nil, err
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 500
	}
	return e.Repo.ListChanges(ctx, f)
}
