package repo

import (
	"context"
	"database/sql"

	"vfxhub/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	read := 0
	if n.Read {
		read = 1
	}
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO notifications(id,user_id,kind,title,body,resource_kind,resource_id,is_read,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, n.Kind, n.Title, nullable(n.Body), nullable(n.ResourceKind), nullable(n.ResourceID), read, n.CreatedAt)
	return err
}

func (r Repo) ListNotifications(ctx context.Context, userID string, unreadOnly bool, page Page) ([]domain.Notification, error) {
	query := `SELECT id,user_id,kind,title,COALESCE(body,''),COALESCE(resource_kind,''),COALESCE(resource_id,''),is_read,created_at FROM notifications WHERE user_id=?`
	args := []any{userID}
	if unreadOnly {
		query += ` AND is_read=0`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	limit, limitArgs := page.clause()
	query += limit
	args = append(args, limitArgs...)
	rows, err := r.conn(nil).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var read int
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Body, &n.ResourceKind, &n.ResourceID, &read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Read = read != 0
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead flags one of the user's notifications as read.
func (r Repo) MarkNotificationRead(ctx context.Context, tx *sql.Tx, userID, id string) error {
	return expectAffected(r.conn(tx).ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE id=? AND user_id=?`, id, userID))
}
