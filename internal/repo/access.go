package repo

import (
	"context"
	"database/sql"
)

// exists runs a SELECT 1 probe.
func (r Repo) exists(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	var n int
	err := r.conn(tx).QueryRowContext(ctx, query, args...).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// IsProjectAssignee reports whether the user is assigned to any task of the
// project.
func (r Repo) IsProjectAssignee(ctx context.Context, tx *sql.Tx, projectID, userID string) (bool, error) {
	return r.exists(ctx, tx, `SELECT 1 FROM tasks WHERE project_id=? AND assignee_id=? LIMIT 1`, projectID, userID)
}

// IsProjectBidder reports whether the user has bid on any task of the project.
func (r Repo) IsProjectBidder(ctx context.Context, tx *sql.Tx, projectID, userID string) (bool, error) {
	return r.exists(ctx, tx, `SELECT 1 FROM bids b JOIN tasks t ON t.id=b.task_id WHERE t.project_id=? AND b.artist_id=? LIMIT 1`, projectID, userID)
}

// HasApprovedShare reports whether the user holds an approved share on the
// project or on one of its tasks.
func (r Repo) HasApprovedShare(ctx context.Context, tx *sql.Tx, projectID, userID string) (bool, error) {
	return r.exists(ctx, tx, `SELECT 1 FROM shares WHERE grantee_id=? AND status='approved' AND (
  (resource_kind='project' AND resource_id=?) OR
  (resource_kind='task' AND resource_id IN (SELECT id FROM tasks WHERE project_id=?))
) LIMIT 1`, userID, projectID, projectID)
}

// ProjectParticipants lists everyone whose project scope should see a change:
// the owner, task assignees, bidders and approved grantees.
func (r Repo) ProjectParticipants(ctx context.Context, tx *sql.Tx, projectID string) ([]string, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `
SELECT owner_id FROM projects WHERE id=?
UNION SELECT assignee_id FROM tasks WHERE project_id=? AND assignee_id IS NOT NULL
UNION SELECT b.artist_id FROM bids b JOIN tasks t ON t.id=b.task_id WHERE t.project_id=?
UNION SELECT grantee_id FROM shares WHERE resource_kind='project' AND resource_id=? AND status='approved'`,
		projectID, projectID, projectID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
