package repo

import (
	"context"
	"database/sql"
	"strings"

	"vfxhub/internal/domain"
)

const projectColumns = `id, owner_id, title, COALESCE(description,''), status, budget, deadline, skills_json, created_at, updated_at`

func scanProject(scan func(dest ...any) error) (domain.Project, error) {
	var p domain.Project
	var deadline sql.NullString
	var skills string
	if err := scan(&p.ID, &p.OwnerID, &p.Title, &p.Description, &p.Status, &p.Budget, &deadline, &skills, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Project{}, err
	}
	p.Deadline = ptrFromNull(deadline)
	p.Skills = decodeList(skills)
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO projects(id,owner_id,title,description,status,budget,deadline,skills_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.OwnerID, p.Title, nullable(p.Description), p.Status, p.Budget, nullableStringPtr(p.Deadline), encodeList(p.Skills), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	return expectAffected(r.conn(tx).ExecContext(ctx, `UPDATE projects SET title=?, description=?, status=?, budget=?, deadline=?, skills_json=?, updated_at=? WHERE id=?`,
		p.Title, nullable(p.Description), p.Status, p.Budget, nullableStringPtr(p.Deadline), encodeList(p.Skills), p.UpdatedAt, p.ID))
}

func (r Repo) GetProject(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	p, err := scanProject(r.conn(tx).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return domain.Project{}, ErrNotFound
	}
	return p, err
}

func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	return expectAffected(r.conn(tx).ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id))
}

// ProjectFilters narrows ListProjects at the SQL level; finer filtering is
// done in memory by the filters package.
type ProjectFilters struct {
	OwnerID string
	Status  string
	Page    Page
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + projectColumns + ` FROM projects`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	limit, limitArgs := f.Page.clause()
	query += limit
	args = append(args, limitArgs...)
	rows, err := r.conn(nil).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
