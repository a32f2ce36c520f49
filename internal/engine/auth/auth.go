package auth

import (
	"context"
	"database/sql"
	"fmt"

	"vfxhub/internal/domain"
	"vfxhub/internal/repo"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service answers access questions against the store.
type Service struct {
	Repo repo.Repo
}

func IsAdmin(actor domain.Profile) bool {
	return actor.Role == domain.RoleAdmin
}

// RequireRole fails unless the actor holds one of roles. Admins always pass.
func RequireRole(actor domain.Profile, roles ...string) error {
	if IsAdmin(actor) || domain.OneOf(actor.Role, roles) {
		return nil
	}
	return ForbiddenError{Permission: "role:" + roles[0]}
}

// RequireProjectOwner fails unless the actor owns the project or is an admin.
func RequireProjectOwner(p domain.Project, actor domain.Profile) error {
	if IsAdmin(actor) || p.OwnerID == actor.ID {
		return nil
	}
	return ForbiddenError{Permission: "project.owner"}
}

// CanViewProject reports whether the actor takes part in the project: owner,
// assignee, bidder or approved grantee.
func (s Service) CanViewProject(ctx context.Context, tx *sql.Tx, p domain.Project, actor domain.Profile) (bool, error) {
	if IsAdmin(actor) || p.OwnerID == actor.ID {
		return true, nil
	}
	checks := []func(context.Context, *sql.Tx, string, string) (bool, error){
		s.Repo.IsProjectAssignee,
		s.Repo.IsProjectBidder,
		s.Repo.HasApprovedShare,
	}
	for _, check := range checks {
		ok, err := check(ctx, tx, p.ID, actor.ID)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// CanSubscribe authorizes a realtime subscription or change-log read on a
// scope.
func (s Service) CanSubscribe(ctx context.Context, actor domain.Profile, scope string) error {
	parsed, err := domain.ParseScope(scope)
	if err != nil {
		return err
	}
	if IsAdmin(actor) {
		return nil
	}
	switch parsed.Kind {
	case domain.ScopeMachines, domain.ScopePosts:
		return nil
	case domain.ScopeUser:
		if parsed.IDs[0] == actor.ID {
			return nil
		}
	case domain.ScopeConversation:
		if parsed.IDs[0] == actor.ID || parsed.IDs[1] == actor.ID {
			return nil
		}
	case domain.ScopeProject:
		p, err := s.Repo.GetProject(ctx, nil, parsed.IDs[0])
		if err != nil {
			return err
		}
		ok, err := s.CanViewProject(ctx, nil, p, actor)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return ForbiddenError{Permission: "subscribe:" + parsed.Kind}
}
