package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"vfxhub/internal/domain"
	"vfxhub/internal/engine/auth"
	"vfxhub/internal/events"
	"vfxhub/internal/filters"
	"vfxhub/internal/repo"
)

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	Title       string
	Description string
	Budget      int64
	Deadline    *string
	Skills      []string
	ActorID     string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	title, err := requireText("title", opts.Title)
	if err != nil {
		return domain.Project{}, err
	}
	if opts.Budget < 0 {
		return domain.Project{}, invalid("budget", "must not be negative")
	}
	deadline, err := optionalTime("deadline", opts.Deadline)
	if err != nil {
		return domain.Project{}, err
	}
	var p domain.Project
	err = e.inTx(ctx, func(t *txn) error {
		actor, err := e.Actor(ctx, t.Tx, opts.ActorID)
		if err != nil {
			return err
		}
		if err := auth.RequireRole(actor, domain.RoleStudio); err != nil {
			return err
		}
		p = domain.Project{
			ID:          uuid.NewString(),
			OwnerID:     actor.ID,
			Title:       title,
			Description: opts.Description,
			Status:      domain.ProjectOpen,
			Budget:      opts.Budget,
			Deadline:    deadline,
			Skills:      cleanList(opts.Skills),
			CreatedAt:   t.now,
			UpdatedAt:   t.now,
		}
		if err := e.Repo.InsertProject(ctx, t.Tx, p); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		return t.emit(ctx, events.Record{Table: "projects", Op: events.OpInsert, RecordID: p.ID, ActorID: actor.ID, Payload: p},
			domain.ProjectScope(p.ID), domain.UserScope(p.OwnerID))
	})
	return p, err
}

// ProjectUpdateOptions holds optional field updates; nil leaves a field as is.
type ProjectUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Status      *string
	Budget      *int64
	Deadline    *string
	Skills      *[]string
	ActorID     string
}

func (e Engine) UpdateProject(ctx context.Context, opts ProjectUpdateOptions) (domain.Project, error) {
	var p domain.Project
	err := e.inTx(ctx, func(t *txn) error {
		actor, err := e.Actor(ctx, t.Tx, opts.ActorID)
		if err != nil {
			return err
		}
		p, err = e.Repo.GetProject(ctx, t.Tx, opts.ID)
		if err != nil {
			return err
		}
		if err := auth.RequireProjectOwner(p, actor); err != nil {
			return err
		}
		if opts.Title != nil {
			if p.Title, err = requireText("title", *opts.Title); err != nil {
				return err
			}
		}
		if opts.Description != nil {
			p.Description = *opts.Description
		}
		if opts.Status != nil {
			if !domain.OneOf(*opts.Status, domain.ProjectStatuses) {
				return invalid("status", "must be one of %v", domain.ProjectStatuses)
			}
			p.Status = *opts.Status
		}
		if opts.Budget != nil {
			if *opts.Budget < 0 {
				return invalid("budget", "must not be negative")
			}
			p.Budget = *opts.Budget
		}
		if opts.Deadline != nil {
			if p.Deadline, err = optionalTime("deadline", opts.Deadline); err != nil {
				return err
			}
		}
		if opts.Skills != nil {
			p.Skills = cleanList(*opts.Skills)
		}
		p.UpdatedAt = t.now
		if err := e.Repo.UpdateProject(ctx, t.Tx, p); err != nil {
			return err
		}
		return t.emit(ctx, events.Record{Table: "projects", Op: events.OpUpdate, RecordID: p.ID, ActorID: actor.ID, Payload: p},
			domain.ProjectScope(p.ID), domain.UserScope(p.OwnerID))
	})
	return p, err
}

func (e Engine) DeleteProject(ctx context.Context, id, actorID string) error {
	return e.inTx(ctx, func(t *txn) error {
		actor, err := e.Actor(ctx, t.Tx, actorID)
		if err != nil {
			return err
		}
		p, err := e.Repo.GetProject(ctx, t.Tx, id)
		if err != nil {
			return err
		}
		if err := auth.RequireProjectOwner(p, actor); err != nil {
			return err
		}
		if err := e.Repo.DeleteProject(ctx, t.Tx, id); err != nil {
			return err
		}
		return t.emit(ctx, events.Record{Table: "projects", Op: events.OpDelete, RecordID: id, ActorID: actor.ID},
			domain.ProjectScope(id), domain.UserScope(p.OwnerID))
	})
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return e.Repo.GetProject(ctx, nil, id)
}

// ListProjects narrows in SQL by owner and status, then applies the full
// filter in memory.
func (e Engine) ListProjects(ctx context.Context, base repo.ProjectFilters, f filters.ProjectFilter) ([]domain.Project, error) {
	for _, s := range f.Statuses {
		if !domain.OneOf(s, domain.ProjectStatuses) {
			return nil, invalid("status", "must be one of %v", domain.ProjectStatuses)
		}
	}
	if len(f.Statuses) == 1 && base.Status == "" {
		base.Status = f.Statuses[0]
	}
	list, err := e.Repo.ListProjects(ctx, base)
	if err != nil {
		return nil, err
	}
	return filters.ApplyProjects(list, f), nil
}

// ProjectStats aggregates the project's tasks and bids.
type ProjectStats struct {
	ProjectID string        `json:"project_id"`
	Tasks     filters.Stats `json:"tasks"`
	Bids      filters.Bids  `json:"bids"`
}

func (e Engine) ProjectStats(ctx context.Context, projectID string) (ProjectStats, error) {
	if _, err := e.Repo.GetProject(ctx, nil, projectID); err != nil {
		return ProjectStats{}, err
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		return ProjectStats{}, err
	}
	bids, err := e.Repo.ListBids(ctx, nil, repo.BidFilters{ProjectID: projectID})
	if err != nil {
		return ProjectStats{}, err
	}
	return ProjectStats{ProjectID: projectID, Tasks: filters.TaskStats(tasks), Bids: filters.BidSummary(bids)}, nil
}
