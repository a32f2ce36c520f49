package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"vfxhub/internal/domain"
	"vfxhub/internal/engine/auth"
	"vfxhub/internal/events"
	"vfxhub/internal/repo"
)

// ShareRequest asks for access to a project or task. When the owner issues
// it for another user the share is approved at once.
type ShareRequest struct {
	ResourceKind string
	ResourceID   string
	GranteeID    string
	ActorID      string
}

func (e Engine) RequestShare(ctx context.Context, req ShareRequest) (domain.Share, error) {
	if req.ResourceKind != "project" && req.ResourceKind != "task" {
		return domain.Share{}, invalid("resource_kind", "must be project or task")
	}
	if req.GranteeID == "" {
		req.GranteeID = req.ActorID
	}
	var share domain.Share
	err := e.inTx(ctx, func(t *txn) error {
		actor, err := e.Actor(ctx, t.Tx, req.ActorID)
		if err != nil {
			return err
		}
		projectID, ownerID, err := e.shareTarget(ctx, t, req.ResourceKind, req.ResourceID)
		if err != nil {
			return err
		}
		if req.GranteeID == ownerID {
			return invalid("grantee_id", "owner already has access")
		}
		byOwner := actor.ID == ownerID || auth.IsAdmin(actor)
		if req.GranteeID != actor.ID && !byOwner {
			return auth.ForbiddenError{Permission: "share.grant"}
		}
		if _, err := e.Repo.GetProfile(ctx, t.Tx, req.GranteeID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return invalid("grantee_id", "unknown user %s", req.GranteeID)
			}
			return err
		}
		if _, err := e.Repo.FindShare(ctx, t.Tx, req.ResourceKind, req.ResourceID, req.GranteeID); err == nil {
			return ConflictError{Message: "share already exists"}
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		share = domain.Share{
			ID:           uuid.NewString(),
			ResourceKind: req.ResourceKind,
			ResourceID:   req.ResourceID,
			OwnerID:      ownerID,
			GranteeID:    req.GranteeID,
			Status:       domain.SharePending,
			CreatedAt:    t.now,
			UpdatedAt:    t.now,
		}
		if byOwner {
			share.Status = domain.ShareApproved
		}
		if err := e.Repo.InsertShare(ctx, t.Tx, share); err != nil {
			return fmt.Errorf("insert share: %w", err)
		}
		if err := t.emit(ctx, events.Record{Table: "shares", Op: events.OpInsert, RecordID: share.ID, ActorID: actor.ID, Payload: share},
			shareScopes(share, projectID)...); err != nil {
			return err
		}
		if byOwner {
			return t.notify(ctx, actor.ID, domain.Notification{
				UserID: share.GranteeID, Kind: "share.granted", Title: "A " + share.ResourceKind + " was shared with you",
				ResourceKind: share.ResourceKind, ResourceID: share.ResourceID,
			})
		}
		return t.notify(ctx, actor.ID, domain.Notification{
			UserID: ownerID, Kind: "share.requested", Title: actor.DisplayName + " requested access to a " + share.ResourceKind,
			ResourceKind: "share", ResourceID: share.ID,
		})
	})
	return share, err
}

// ReviewShare lets the owner approve or reject a pending share.
func (e Engine) ReviewShare(ctx context.Context, id string, approve bool, actorID string) (domain.Share, error) {
	var share domain.Share
	err := e.inTx(ctx, func(t *txn) error {
		actor, err := e.Actor(ctx, t.Tx, actorID)
		if err != nil {
			return err
		}
		share, err = e.Repo.GetShare(ctx, t.Tx, id)
		if err != nil {
			return err
		}
		if share.OwnerID != actor.ID && !auth.IsAdmin(actor) {
			return auth.ForbiddenError{Permission: "share.review"}
		}
		if share.Status != domain.SharePending {
			return ConflictError{Message: "share is " + share.Status}
		}
		share.Status = domain.ShareRejected
		if approve {
			share.Status = domain.ShareApproved
		}
		share.UpdatedAt = t.now
		if err := e.Repo.SetShareStatus(ctx, t.Tx, share.ID, share.Status, t.now); err != nil {
			return err
		}
		projectID, _, err := e.shareTarget(ctx, t, share.ResourceKind, share.ResourceID)
		if err != nil {
			return err
		}
		if err := t.emit(ctx, events.Record{Table: "shares", Op: events.OpUpdate, RecordID: share.ID, ActorID: actor.ID, Payload: share},
			shareScopes(share, projectID)...); err != nil {
			return err
		}
		return t.notify(ctx, actor.ID, domain.Notification{
			UserID: share.GranteeID, Kind: "share." + share.Status, Title: "Your access request was " + share.Status,
			ResourceKind: share.ResourceKind, ResourceID: share.ResourceID,
		})
	})
	return share, err
}

// RevokeShare deletes a share. Either side may revoke it.
func (e Engine) RevokeShare(ctx context.Context, id, actorID string) error {
	return e.inTx(ctx, func(t *txn) error {
		actor, err := e.Actor(ctx, t.Tx, actorID)
		if err != nil {
			return err
		}
		share, err := e.Repo.GetShare(ctx, t.Tx, id)
		if err != nil {
			return err
		}
		if share.OwnerID != actor.ID && share.GranteeID != actor.ID && !auth.IsAdmin(actor) {
			return auth.ForbiddenError{Permission: "share.revoke"}
		}
		projectID, _, err := e.shareTarget(ctx, t, share.ResourceKind, share.ResourceID)
		if err != nil {
			return err
		}
		if err := e.Repo.DeleteShare(ctx, t.Tx, id); err != nil {
			return err
		}
		return t.emit(ctx, events.Record{Table: "shares", Op: events.OpDelete, RecordID: id, ActorID: actor.ID},
			shareScopes(share, projectID)...)
	})
}

// ListShares returns the shares the actor owns or holds.
func (e Engine) ListShares(ctx context.Context, actorID string, f repo.ShareFilters) ([]domain.Share, error) {
	actor, err := e.Actor(ctx, nil, actorID)
	if err != nil {
		return nil, err
	}
	if auth.IsAdmin(actor) {
		return e.Repo.ListShares(ctx, f)
	}
	if f.OwnerID != "" && f.OwnerID != actor.ID {
		return nil, auth.ForbiddenError{Permission: "share.list"}
	}
	if f.GranteeID != "" && f.GranteeID != actor.ID {
		return nil, auth.ForbiddenError{Permission: "share.list"}
	}
	if f.OwnerID == "" && f.GranteeID == "" {
		owned, err := e.Repo.ListShares(ctx, repo.ShareFilters{OwnerID: actor.ID, ResourceKind: f.ResourceKind, ResourceID: f.ResourceID, Status: f.Status})
		if err != nil {
			return nil, err
		}
		held, err := e.Repo.ListShares(ctx, repo.ShareFilters{GranteeID: actor.ID, ResourceKind: f.ResourceKind, ResourceID: f.ResourceID, Status: f.Status})
		if err != nil {
			return nil, err
		}
		return append(owned, held...), nil
	}
	return e.Repo.ListShares(ctx, f)
}

func (e Engine) shareTarget(ctx context.Context, t *txn, kind, id string) (projectID, ownerID string, err error) {
	projectID = id
	if kind == "task" {
		task, err := e.Repo.GetTask(ctx, t.Tx, id)
		if err != nil {
			return "", "", err
		}
		projectID = task.ProjectID
	}
	p, err := e.Repo.GetProject(ctx, t.Tx, projectID)
	if err != nil {
		return "", "", err
	}
	return p.ID, p.OwnerID, nil
}

func shareScopes(s domain.Share, projectID string) []string {
	return []string{domain.ProjectScope(projectID), domain.UserScope(s.OwnerID), domain.UserScope(s.GranteeID)}
}
