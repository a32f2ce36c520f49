package engine

import (
	"context"
	"errors"
	"fmt"

	"vfxhub/internal/domain"
	"vfxhub/internal/engine/auth"
	"vfxhub/internal/events"
	"vfxhub/internal/repo"
)

// ProfileInput creates or edits a profile.
type ProfileInput struct {
	ID          string
	DisplayName string
	Role        string
	Skills      []string
	ActorID     string
}

// UpsertProfile creates a profile (crediting the signup bonus) or updates an
// existing one. Users edit their own profile; admins may edit any and are the
// only ones allowed to grant the admin role.
func (e Engine) UpsertProfile(ctx context.Context, in ProfileInput) (domain.Profile, error) {
	name, err := requireText("display_name", in.DisplayName)
	if err != nil {
		return domain.Profile{}, err
	}
	if in.ID == "" {
		return domain.Profile{}, invalid("id", "is required")
	}
	if in.Role == "" {
		in.Role = domain.RoleArtist
	}
	if !domain.OneOf(in.Role, domain.Roles) {
		return domain.Profile{}, invalid("role", "must be one of %v", domain.Roles)
	}
	var out domain.Profile
	err = e.inTx(ctx, func(t *txn) error {
		existing, err := e.Repo.GetProfile(ctx, t.Tx, in.ID)
		isNew := errors.Is(err, repo.ErrNotFound)
		if err != nil && !isNew {
			return err
		}
		if in.ActorID != "" && in.ActorID != in.ID {
			actor, err := e.Actor(ctx, t.Tx, in.ActorID)
			if err != nil {
				return err
			}
			if !auth.IsAdmin(actor) {
				return auth.ForbiddenError{Permission: "profile.edit"}
			}
		} else if in.Role == domain.RoleAdmin && (isNew || existing.Role != domain.RoleAdmin) {
			return auth.ForbiddenError{Permission: "role:admin"}
		}
		p := domain.Profile{ID: in.ID, DisplayName: name, Role: in.Role, Skills: cleanList(in.Skills)}
		op := events.OpUpdate
		if isNew {
			op = events.OpInsert
			p.CreatedAt = t.now
			if err := e.Repo.InsertProfile(ctx, t.Tx, p); err != nil {
				return fmt.Errorf("insert profile: %w", err)
			}
		} else {
			p.CreatedAt = existing.CreatedAt
			p.Balance = existing.Balance
			if err := e.Repo.UpdateProfile(ctx, t.Tx, p); err != nil {
				return err
			}
		}
		if err := t.emit(ctx, events.Record{Table: "profiles", Op: op, RecordID: p.ID, ActorID: actorOr(in.ActorID, p.ID), Payload: p},
			domain.UserScope(p.ID)); err != nil {
			return err
		}
		if isNew && e.Config.Coins.SignupBonus > 0 {
			entry, err := t.ledger(ctx, ledgerEntry{UserID: p.ID, Type: domain.TxBonus, Amount: e.Config.Coins.SignupBonus, Reference: "signup", ActorID: p.ID})
			if err != nil {
				return err
			}
			p.Balance = entry.BalanceAfter
		}
		out = p
		return nil
	})
	return out, err
}

// EnsureProfile creates the profile if it does not exist yet and returns it.
func (e Engine) EnsureProfile(ctx context.Context, id, displayName, role string) (domain.Profile, error) {
	p, err := e.Repo.GetProfile(ctx, nil, id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Profile{}, err
	}
	if displayName == "" {
		displayName = id
	}
	// Seeding is a system action: the admin role check applies to users.
	in := ProfileInput{ID: id, DisplayName: displayName, Role: role}
	if role == domain.RoleAdmin {
		return e.seedAdmin(ctx, in)
	}
	return e.UpsertProfile(ctx, in)
}

func (e Engine) seedAdmin(ctx context.Context, in ProfileInput) (domain.Profile, error) {
	p := domain.Profile{ID: in.ID, DisplayName: in.DisplayName, Role: domain.RoleAdmin, Skills: []string{}}
	err := e.inTx(ctx, func(t *txn) error {
		p.CreatedAt = t.now
		if err := e.Repo.InsertProfile(ctx, t.Tx, p); err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		return t.emit(ctx, events.Record{Table: "profiles", Op: events.OpInsert, RecordID: p.ID, ActorID: p.ID, Payload: p},
			domain.UserScope(p.ID))
	})
	return p, err
}

func (e Engine) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	return e.Repo.GetProfile(ctx, nil, id)
}

func (e Engine) ListProfiles(ctx context.Context, f repo.ProfileFilters) ([]domain.Profile, error) {
	if f.Role != "" && !domain.OneOf(f.Role, domain.Roles) {
		return nil, invalid("role", "must be one of %v", domain.Roles)
	}
	return e.Repo.ListProfiles(ctx, f)
}

func actorOr(actorID, fallback string) string {
	if actorID != "" {
		return actorID
	}
	return fallback
}
