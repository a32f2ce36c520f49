package repo

import (
	"context"
	"database/sql"
	"strings"

	"vfxhub/internal/domain"
)

const shareColumns = `id, resource_kind, resource_id, owner_id, grantee_id, status, created_at, updated_at`

func scanShare(scan func(dest ...any) error) (domain.Share, error) {
	var s domain.Share
	err := scan(&s.ID, &s.ResourceKind, &s.ResourceID, &s.OwnerID, &s.GranteeID, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r Repo) InsertShare(ctx context.Context, tx *sql.Tx, s domain.Share) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO shares(id,resource_kind,resource_id,owner_id,grantee_id,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.ResourceKind, s.ResourceID, s.OwnerID, s.GranteeID, s.Status, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) SetShareStatus(ctx context.Context, tx *sql.Tx, id, status, now string) error {
	return expectAffected(r.conn(tx).ExecContext(ctx, `UPDATE shares SET status=?, updated_at=? WHERE id=?`, status, now, id))
}

func (r Repo) DeleteShare(ctx context.Context, tx *sql.Tx, id string) error {
	return expectAffected(r.conn(tx).ExecContext(ctx, `DELETE FROM shares WHERE id=?`, id))
}

func (r Repo) GetShare(ctx context.Context, tx *sql.Tx, id string) (domain.Share, error) {
	s, err := scanShare(r.conn(tx).QueryRowContext(ctx, `SELECT `+shareColumns+` FROM shares WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return domain.Share{}, ErrNotFound
	}
	return s, err
}

// FindShare looks up the share for a resource and grantee.
func (r Repo) FindShare(ctx context.Context, tx *sql.Tx, kind, resourceID, granteeID string) (domain.Share, error) {
	s, err := scanShare(r.conn(tx).QueryRowContext(ctx, `SELECT `+shareColumns+` FROM shares WHERE resource_kind=? AND resource_id=? AND grantee_id=?`,
		kind, resourceID, granteeID).Scan)
	if err == sql.ErrNoRows {
		return domain.Share{}, ErrNotFound
	}
	return s, err
}

type ShareFilters struct {
	OwnerID      string
	GranteeID    string
	ResourceKind string
	ResourceID   string
	Status       string
}

func (r Repo) ListShares(ctx context.Context, f ShareFilters) ([]domain.Share, error) {
	var clauses []string
	var args []any
	add := func(col, v string) {
		if v != "" {
			clauses = append(clauses, col+"=?")
			args = append(args, v)
		}
	}
	add("owner_id", f.OwnerID)
	add("grantee_id", f.GranteeID)
	add("resource_kind", f.ResourceKind)
	add("resource_id", f.ResourceID)
	add("status", f.Status)
	query := `SELECT ` + shareColumns + ` FROM shares`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.conn(nil).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Share
	for rows.Next() {
		s, err := scanShare(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
