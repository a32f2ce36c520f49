package repo

import (
	"context"
	"database/sql"
	"strings"

	"vfxhub/internal/domain"
)

const bidColumns = `id, task_id, artist_id, amount, COALESCE(note,''), status, created_at, updated_at`

func scanBid(scan func(dest ...any) error) (domain.Bid, error) {
	var b domain.Bid
	err := scan(&b.ID, &b.TaskID, &b.ArtistID, &b.Amount, &b.Note, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (r Repo) InsertBid(ctx context.Context, tx *sql.Tx, b domain.Bid) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO bids(id,task_id,artist_id,amount,note,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		b.ID, b.TaskID, b.ArtistID, b.Amount, nullable(b.Note), b.Status, b.CreatedAt, b.UpdatedAt)
	return err
}

func (r Repo) SetBidStatus(ctx context.Context, tx *sql.Tx, id, status, now string) error {
	return expectAffected(r.conn(tx).ExecContext(ctx, `UPDATE bids SET status=?, updated_at=? WHERE id=?`, status, now, id))
}

func (r Repo) GetBid(ctx context.Context, tx *sql.Tx, id string) (domain.Bid, error) {
	b, err := scanBid(r.conn(tx).QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return domain.Bid{}, ErrNotFound
	}
	return b, err
}

type BidFilters struct {
	TaskID    string
	ArtistID  string
	ProjectID string
	Status    string
	Page      Page
}

func (r Repo) ListBids(ctx context.Context, tx *sql.Tx, f BidFilters) ([]domain.Bid, error) {
	var clauses []string
	var args []any
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.ArtistID != "" {
		clauses = append(clauses, "artist_id=?")
		args = append(args, f.ArtistID)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "task_id IN (SELECT id FROM tasks WHERE project_id=?)")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + bidColumns + ` FROM bids`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	limit, limitArgs := f.Page.clause()
	query += limit
	args = append(args, limitArgs...)
	rows, err := r.conn(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ActiveBid returns the artist's pending or approved bid on a task.
func (r Repo) ActiveBid(ctx context.Context, tx *sql.Tx, taskID, artistID string) (domain.Bid, error) {
	row := r.conn(tx).QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE task_id=? AND artist_id=? AND status IN ('pending','approved') LIMIT 1`, taskID, artistID)
	b, err := scanBid(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Bid{}, ErrNotFound
	}
	return b, err
}
