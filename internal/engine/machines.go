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

// RegisterMachine adds a render machine to the pool. Admin only.
func (e Engine) RegisterMachine(ctx context.Context, name, specs, actorID string) (domain.Machine, error) {
	name, err := requireText("name", name)
	if err != nil {
		return domain.Machine{}, err
	}
	var m domain.Machine
	err = e.inTx(ctx, func(t *txn) error {
		actor, err := e.Actor(ctx, t.Tx, actorID)
		if err != nil {
			return err
		}
		if !auth.IsAdmin(actor) {
			return auth.ForbiddenError{Permission: "machine.register"}
		}
		m = domain.Machine{ID: uuid.NewString(), Name: name, Status: domain.MachineAvailable, Specs: specs, UpdatedAt: t.now}
		if err := e.Repo.InsertMachine(ctx, t.Tx, m); err != nil {
			return fmt.Errorf("insert machine: %w", err)
		}
		return t.emit(ctx, events.Record{Table: "machines", Op: events.OpInsert, RecordID: m.ID, ActorID: actor.ID, Payload: m}, domain.ScopeMachines)
	})
	return m, err
}

// AssignMachine hands an available machine to a user. Admin only.
func (e Engine) AssignMachine(ctx context.Context, id, userID, actorID string) (domain.Machine, error) {
	var m domain.Machine
	err := e.inTx(ctx, func(t *txn) error {
		actor, err := e.Actor(ctx, t.Tx, actorID)
		if err != nil {
			return err
		}
		if !auth.IsAdmin(actor) {
			return auth.ForbiddenError{Permission: "machine.assign"}
		}
		if m, err = e.Repo.GetMachine(ctx, t.Tx, id); err != nil {
			return err
		}
		if m.Status != domain.MachineAvailable {
			return ConflictError{Message: "machine is " + m.Status}
		}
		if _, err := e.Repo.GetProfile(ctx, t.Tx, userID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return invalid("user_id", "unknown user %s", userID)
			}
			return err
		}
		user := userID
		m.AssignedTo = &user
		m.Status = domain.MachineAssigned
		if err := t.saveMachine(ctx, m, actor.ID); err != nil {
			return err
		}
		return t.notify(ctx, actor.ID, domain.Notification{
			UserID: userID, Kind: "machine.assigned", Title: "Machine " + m.Name + " is assigned to you",
			ResourceKind: "machine", ResourceID: m.ID,
		})
	})
	return m, err
}

// ReleaseMachine returns an assigned machine to the pool. The holder or an
// admin may release it.
func (e Engine) ReleaseMachine(ctx context.Context, id, actorID string) (domain.Machine, error) {
	var m domain.Machine
	err := e.inTx(ctx, func(t *txn) error {
		actor, err := e.Actor(ctx, t.Tx, actorID)
		if err != nil {
			return err
		}
		if m, err = e.Repo.GetMachine(ctx, t.Tx, id); err != nil {
			return err
		}
		holder := m.AssignedTo != nil && *m.AssignedTo == actor.ID
		if !holder && !auth.IsAdmin(actor) {
			return auth.ForbiddenError{Permission: "machine.release"}
		}
		if m.Status != domain.MachineAssigned {
			return ConflictError{Message: "machine is " + m.Status}
		}
		m.AssignedTo = nil
		m.Status = domain.MachineAvailable
		return t.saveMachine(ctx, m, actor.ID)
	})
	return m, err
}

// SetMachineStatus moves a machine between available and offline. Going
// offline drops any assignment; assignment itself goes through AssignMachine.
func (e Engine) SetMachineStatus(ctx context.Context, id, status, actorID string) (domain.Machine, error) {
	if !domain.OneOf(status, domain.MachineStatuses) {
		return domain.Machine{}, invalid("status", "must be one of %v", domain.MachineStatuses)
	}
	if status == domain.MachineAssigned {
		return domain.Machine{}, invalid("status", "use assign to hand out a machine")
	}
	var m domain.Machine
	err := e.inTx(ctx, func(t *txn) error {
		actor, err := e.Actor(ctx, t.Tx, actorID)
		if err != nil {
			return err
		}
		if !auth.IsAdmin(actor) {
			return auth.ForbiddenError{Permission: "machine.status"}
		}
		if m, err = e.Repo.GetMachine(ctx, t.Tx, id); err != nil {
			return err
		}
		m.Status = status
		m.AssignedTo = nil
		return t.saveMachine(ctx, m, actor.ID)
	})
	return m, err
}

func (t *txn) saveMachine(ctx context.Context, m domain.Machine, actorID string) error {
	m.UpdatedAt = t.now
	if err := t.e.Repo.UpdateMachine(ctx, t.Tx, m); err != nil {
		return err
	}
	return t.emit(ctx, events.Record{Table: "machines", Op: events.OpUpdate, RecordID: m.ID, ActorID: actorID, Payload: m}, domain.ScopeMachines)
}

func (e Engine) ListMachines(ctx context.Context, status string) ([]domain.Machine, error) {
	if status != "" && !domain.OneOf(status, domain.MachineStatuses) {
		return nil, invalid("status", "must be one of %v", domain.MachineStatuses)
	}
	return e.Repo.ListMachines(ctx, status)
}
