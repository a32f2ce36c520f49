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

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ProjectID   string
	Title       string
	Description string
	Budget      int64
	DueAt       *string
	AssigneeID  string
	ActorID     string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	title, err := requireText("title", opts.Title)
	if err != nil {
		return domain.Task{}, err
	}
	if opts.ProjectID == "" {
		return domain.Task{}, invalid("project_id", "is required")
	}
	if opts.Budget < 0 {
		return domain.Task{}, invalid("budget", "must not be negative")
	}
	due, err := optionalTime("due_at", opts.DueAt)
	if err != nil {
		return domain.Task{}, err
	}
	var task domain.Task
	err = e.inTx(ctx, func(t *txn) error {
		actor, err := e.Actor(ctx, t.Tx, opts.ActorID)
		if err != nil {
			return err
		}
		p, err := e.Repo.GetProject(ctx, t.Tx, opts.ProjectID)
		if err != nil {
			return err
		}
		if err := auth.RequireProjectOwner(p, actor); err != nil {
			return err
		}
		task = domain.Task{
			ID:          uuid.NewString(),
			ProjectID:   p.ID,
			Title:       title,
			Description: opts.Description,
			Status:      domain.TaskTodo,
			Budget:      opts.Budget,
			DueAt:       due,
			CreatedAt:   t.now,
			UpdatedAt:   t.now,
		}
		if opts.AssigneeID != "" {
			if _, err := e.Repo.GetProfile(ctx, t.Tx, opts.AssigneeID); err != nil {
				return invalid("assignee_id", "unknown user %s", opts.AssigneeID)
			}
			assignee := opts.AssigneeID
			task.AssigneeID = &assignee
		}
		if err := e.Repo.InsertTask(ctx, t.Tx, task); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return t.emit(ctx, events.Record{Table: "tasks", Op: events.OpInsert, RecordID: task.ID, ActorID: actor.ID, Payload: task},
			taskScopes(task)...)
	})
	return task, err
}

// TaskUpdateOptions encapsulates allowed updates. Assign set to "" clears
// the assignee.
type TaskUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Status      *string
	Assign      *string
	Budget      *int64
	DueAt       *string
	ActorID     string
}

// UpdateTask applies field updates. The project owner may change anything;
// the assignee may only move the status. Any enumerated status may follow
// any other.
func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	var task domain.Task
	err := e.inTx(ctx, func(t *txn) error {
		actor, err := e.Actor(ctx, t.Tx, opts.ActorID)
		if err != nil {
			return err
		}
		task, err = e.Repo.GetTask(ctx, t.Tx, opts.ID)
		if err != nil {
			return err
		}
		p, err := e.Repo.GetProject(ctx, t.Tx, task.ProjectID)
		if err != nil {
			return err
		}
		if auth.RequireProjectOwner(p, actor) != nil {
			isAssignee := task.AssigneeID != nil && *task.AssigneeID == actor.ID
			onlyStatus := opts.Title == nil && opts.Description == nil && opts.Assign == nil && opts.Budget == nil && opts.DueAt == nil
			if !isAssignee || !onlyStatus {
				return auth.ForbiddenError{Permission: "task.edit"}
			}
		}
		previousAssignee := task.AssigneeID
		if opts.Title != nil {
			if task.Title, err = requireText("title", *opts.Title); err != nil {
				return err
			}
		}
		if opts.Description != nil {
			task.Description = *opts.Description
		}
		if opts.Status != nil {
			if !domain.OneOf(*opts.Status, domain.TaskStatuses) {
				return invalid("status", "must be one of %v", domain.TaskStatuses)
			}
			task.Status = *opts.Status
		}
		if opts.Assign != nil {
			if *opts.Assign == "" {
				task.AssigneeID = nil
			} else {
				if _, err := e.Repo.GetProfile(ctx, t.Tx, *opts.Assign); err != nil {
					return invalid("assignee_id", "unknown user %s", *opts.Assign)
				}
				assignee := *opts.Assign
				task.AssigneeID = &assignee
			}
		}
		if opts.Budget != nil {
			if *opts.Budget < 0 {
				return invalid("budget", "must not be negative")
			}
			task.Budget = *opts.Budget
		}
		if opts.DueAt != nil {
			if task.DueAt, err = optionalTime("due_at", opts.DueAt); err != nil {
				return err
			}
		}
		task.UpdatedAt = t.now
		if err := e.Repo.UpdateTask(ctx, t.Tx, task); err != nil {
			return err
		}
		scopes := taskScopes(task)
		if previousAssignee != nil {
			scopes = append(scopes, domain.UserScope(*previousAssignee))
		}
		if err := t.emit(ctx, events.Record{Table: "tasks", Op: events.OpUpdate, RecordID: task.ID, ActorID: actor.ID, Payload: task}, scopes...); err != nil {
			return err
		}
		if task.AssigneeID != nil && (previousAssignee == nil || *previousAssignee != *task.AssigneeID) {
			return t.notify(ctx, actor.ID, domain.Notification{
				UserID: *task.AssigneeID, Kind: "task.assigned", Title: "You were assigned " + task.Title,
				ResourceKind: "task", ResourceID: task.ID,
			})
		}
		return nil
	})
	return task, err
}

func (e Engine) DeleteTask(ctx context.Context, id, actorID string) error {
	return e.inTx(ctx, func(t *txn) error {
		actor, err := e.Actor(ctx, t.Tx, actorID)
		if err != nil {
			return err
		}
		task, err := e.Repo.GetTask(ctx, t.Tx, id)
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
		if err := e.Repo.DeleteTask(ctx, t.Tx, id); err != nil {
			return err
		}
		return t.emit(ctx, events.Record{Table: "tasks", Op: events.OpDelete, RecordID: id, ActorID: actor.ID}, taskScopes(task)...)
	})
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, nil, id)
}

func (e Engine) ListTasks(ctx context.Context, base repo.TaskFilters, f filters.TaskFilter) ([]domain.Task, error) {
	for _, s := range f.Statuses {
		if !domain.OneOf(s, domain.TaskStatuses) {
			return nil, invalid("status", "must be one of %v", domain.TaskStatuses)
		}
	}
	list, err := e.Repo.ListTasks(ctx, base)
	if err != nil {
		return nil, err
	}
	return filters.ApplyTasks(list, f), nil
}

func taskScopes(task domain.Task) []string {
	scopes := []string{domain.ProjectScope(task.ProjectID)}
	if task.AssigneeID != nil {
		scopes = append(scopes, domain.UserScope(*task.AssigneeID))
	}
	return scopes
}
