package repo

import (
	"context"
	"database/sql"
	"strings"

	"vfxhub/internal/domain"
)

const taskColumns = `id, project_id, title, COALESCE(description,''), status, assignee_id, budget, due_at, created_at, updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var assignee, due sql.NullString
	if err := scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &assignee, &t.Budget, &due, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Task{}, err
	}
	t.AssigneeID = ptrFromNull(assignee)
	t.DueAt = ptrFromNull(due)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO tasks(id,project_id,title,description,status,assignee_id,budget,due_at,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Title, nullable(t.Description), t.Status, nullableStringPtr(t.AssigneeID), t.Budget, nullableStringPtr(t.DueAt), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	return expectAffected(r.conn(tx).ExecContext(ctx, `UPDATE tasks SET title=?, description=?, status=?, assignee_id=?, budget=?, due_at=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Status, nullableStringPtr(t.AssigneeID), t.Budget, nullableStringPtr(t.DueAt), t.UpdatedAt, t.ID))
}

func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	t, err := scanTask(r.conn(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return domain.Task{}, ErrNotFound
	}
	return t, err
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	return expectAffected(r.conn(tx).ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id))
}

type TaskFilters struct {
	ProjectID  string
	Status     string
	AssigneeID string
	Page       Page
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`
	limit, limitArgs := f.Page.clause()
	query += limit
	args = append(args, limitArgs...)
	rows, err := r.conn(nil).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
