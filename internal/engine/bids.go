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

// BidOptions are parameters for placing a bid.
type BidOptions struct {
	TaskID  string
	Amount  int64
	Note    string
	ActorID string
}

// PlaceBid records an artist's offer on a task. An artist holds at most one
// pending or approved bid per task.
func (e Engine) PlaceBid(ctx context.Context, opts BidOptions) (domain.Bid, error) {
	if opts.Amount <= 0 {
		return domain.Bid{}, invalid("amount", "must be positive")
	}
	var bid domain.Bid
	err := e.inTx(ctx, func(t *txn) error {
		actor, err := e.Actor(ctx, t.Tx, opts.ActorID)
		if err != nil {
			return err
		}
		if err := auth.RequireRole(actor, domain.RoleArtist); err != nil {
			return err
		}
		task, err := e.Repo.GetTask(ctx, t.Tx, opts.TaskID)
		if err != nil {
			return err
		}
		if task.Status == domain.TaskCompleted {
			return ConflictError{Message: "task is already completed"}
		}
		p, err := e.Repo.GetProject(ctx, t.Tx, task.ProjectID)
		if err != nil {
			return err
		}
		if p.OwnerID == actor.ID {
			return ConflictError{Message: "cannot bid on your own project"}
		}
		if _, err := e.Repo.ActiveBid(ctx, t.Tx, task.ID, actor.ID); err == nil {
			return ConflictError{Message: "an active bid already exists for this task"}
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		bid = domain.Bid{
			ID:        uuid.NewString(),
			TaskID:    task.ID,
			ArtistID:  actor.ID,
			Amount:    opts.Amount,
			Note:      opts.Note,
			Status:    domain.BidPending,
			CreatedAt: t.now,
			UpdatedAt: t.now,
		}
		if err := e.Repo.InsertBid(ctx, t.Tx, bid); err != nil {
			return fmt.Errorf("insert bid: %w", err)
		}
		if err := t.emit(ctx, events.Record{Table: "bids", Op: events.OpInsert, RecordID: bid.ID, ActorID: actor.ID, Payload: bid},
			domain.ProjectScope(p.ID), domain.UserScope(actor.ID)); err != nil {
			return err
		}
		return t.notify(ctx, actor.ID, domain.Notification{
			UserID: p.OwnerID, Kind: "bid.placed",
			Title: fmt.Sprintf("%s bid %d coins on %s", actor.DisplayName, bid.Amount, task.Title),
			Body:  bid.Note, ResourceKind: "bid", ResourceID: bid.ID,
		})
	})
	return bid, err
}

// ReviewBid approves or rejects a pending bid. Approval assigns the task to
// the artist, starts it and rejects the remaining pending bids.
func (e Engine) ReviewBid(ctx context.Context, bidID string, approve bool, actorID string) (domain.Bid, error) {
	var bid domain.Bid
	err := e.inTx(ctx, func(t *txn) error {
		actor, err := e.Actor(ctx, t.Tx, actorID)
		if err != nil {
			return err
		}
		bid, err = e.Repo.GetBid(ctx, t.Tx, bidID)
		if err != nil {
			return err
		}
		task, err := e.Repo.GetTask(ctx, t.Tx, bid.TaskID)
		if err != nil {
			return err
		}
		p, err := e.Repo.GetProject(ctx, t.Tx, task.ProjectID)
		if err != nil {
			return err
		}
		if err := auth.RequireProjectOwner(p, actor); err != nil {
			return err
		}
		if bid.Status != domain.BidPending {
			return ConflictError{Message: "bid is " + bid.Status}
		}
		status := domain.BidRejected
		if approve {
			status = domain.BidApproved
		}
		if err := t.setBidStatus(ctx, &bid, status, p.ID, actor.ID); err != nil {
			return err
		}
		if !approve {
			return nil
		}
		artist := bid.ArtistID
		task.AssigneeID = &artist
		task.Status = domain.TaskInProgress
		task.UpdatedAt = t.now
		if err := e.Repo.UpdateTask(ctx, t.Tx, task); err != nil {
			return err
		}
		if err := t.emit(ctx, events.Record{Table: "tasks", Op: events.OpUpdate, RecordID: task.ID, ActorID: actor.ID, Payload: task},
			taskScopes(task)...); err != nil {
			return err
		}
		others, err := e.Repo.ListBids(ctx, t.Tx, repo.BidFilters{TaskID: task.ID, Status: domain.BidPending})
		if err != nil {
			return err
		}
		for i := range others {
			if err := t.setBidStatus(ctx, &others[i], domain.BidRejected, p.ID, actor.ID); err != nil {
				return err
			}
		}
		return nil
	})
	return bid, err
}

func (t *txn) setBidStatus(ctx context.Context, bid *domain.Bid, status, projectID, actorID string) error {
	if err := t.e.Repo.SetBidStatus(ctx, t.Tx, bid.ID, status, t.now); err != nil {
		return err
	}
	bid.Status = status
	bid.UpdatedAt = t.now
	if err := t.emit(ctx, events.Record{Table: "bids", Op: events.OpUpdate, RecordID: bid.ID, ActorID: actorID, Payload: bid},
		domain.ProjectScope(projectID), domain.UserScope(bid.ArtistID)); err != nil {
		return err
	}
	if status == domain.BidWithdrawn {
		return nil
	}
	return t.notify(ctx, actorID, domain.Notification{
		UserID: bid.ArtistID, Kind: "bid." + status, Title: "Your bid was " + status,
		ResourceKind: "bid", ResourceID: bid.ID,
	})
}

// WithdrawBid lets the artist retract a pending bid.
func (e Engine) WithdrawBid(ctx context.Context, bidID, actorID string) (domain.Bid, error) {
	var bid domain.Bid
	err := e.inTx(ctx, func(t *txn) error {
		actor, err := e.Actor(ctx, t.Tx, actorID)
		if err != nil {
			return err
		}
		bid, err = e.Repo.GetBid(ctx, t.Tx, bidID)
		if err != nil {
			return err
		}
		if bid.ArtistID != actor.ID && !auth.IsAdmin(actor) {
			return auth.ForbiddenError{Permission: "bid.withdraw"}
		}
		if bid.Status != domain.BidPending {
			return ConflictError{Message: "bid is " + bid.Status}
		}
		task, err := e.Repo.GetTask(ctx, t.Tx, bid.TaskID)
		if err != nil {
			return err
		}
		return t.setBidStatus(ctx, &bid, domain.BidWithdrawn, task.ProjectID, actor.ID)
	})
	return bid, err
}

// ListBids returns the bids an actor may see: all bids on their own
// projects, otherwise only their own.
func (e Engine) ListBids(ctx context.Context, actorID string, f repo.BidFilters) ([]domain.Bid, error) {
	actor, err := e.Actor(ctx, nil, actorID)
	if err != nil {
		return nil, err
	}
	if f.Status != "" && !domain.OneOf(f.Status, domain.BidStatuses) {
		return nil, invalid("status", "must be one of %v", domain.BidStatuses)
	}
	if auth.IsAdmin(actor) {
		return e.Repo.ListBids(ctx, nil, f)
	}
	projectID := f.ProjectID
	if projectID == "" && f.TaskID != "" {
		task, err := e.Repo.GetTask(ctx, nil, f.TaskID)
		if err != nil {
			return nil, err
		}
		projectID = task.ProjectID
	}
	owner := false
	if projectID != "" {
		p, err := e.Repo.GetProject(ctx, nil, projectID)
		if err != nil {
			return nil, err
		}
		owner = p.OwnerID == actor.ID
	}
	if !owner {
		f.ArtistID = actor.ID
	}
	return e.Repo.ListBids(ctx, nil, f)
}
