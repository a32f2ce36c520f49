package repo

import (
	"context"
	"database/sql"

	"vfxhub/internal/domain"
)

const messageColumns = `id, sender_id, receiver_id, project_id, content, created_at`

func scanMessage(scan func(dest ...any) error) (domain.Message, error) {
	var m domain.Message
	var receiver, project sql.NullString
	if err := scan(&m.ID, &m.SenderID, &receiver, &project, &m.Content, &m.CreatedAt); err != nil {
		return domain.Message{}, err
	}
	m.ReceiverID = ptrFromNull(receiver)
	m.ProjectID = ptrFromNull(project)
	return m, nil
}

func (r Repo) InsertMessage(ctx context.Context, tx *sql.Tx, m domain.Message) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO messages(id,sender_id,receiver_id,project_id,content,created_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.SenderID, nullableStringPtr(m.ReceiverID), nullableStringPtr(m.ProjectID), m.Content, m.CreatedAt)
	return err
}

func (r Repo) queryMessages(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := r.conn(nil).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// threadQuery wraps a message selection so a page counts back from the
// newest message while rows still come out oldest first. Offset skips the
// newest rows.
func threadQuery(where string, page Page) (string, []any) {
	if page.Limit <= 0 {
		return `SELECT ` + messageColumns + ` FROM messages WHERE ` + where + ` ORDER BY created_at ASC, id ASC`, nil
	}
	return `SELECT ` + messageColumns + ` FROM (
  SELECT ` + messageColumns + ` FROM messages WHERE ` + where + `
  ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?
) tail ORDER BY created_at ASC, id ASC`, []any{page.Limit, page.Offset}
}

// ListConversation returns the latest page of direct messages between two
// users, oldest first.
func (r Repo) ListConversation(ctx context.Context, a, b string, page Page) ([]domain.Message, error) {
	query, pageArgs := threadQuery(`(sender_id=? AND receiver_id=?) OR (sender_id=? AND receiver_id=?)`, page)
	return r.queryMessages(ctx, query, append([]any{a, b, b, a}, pageArgs...)...)
}

// ListProjectMessages returns the latest page of a project thread, oldest
// first.
func (r Repo) ListProjectMessages(ctx context.Context, projectID string, page Page) ([]domain.Message, error) {
	query, pageArgs := threadQuery(`project_id=?`, page)
	return r.queryMessages(ctx, query, append([]any{projectID}, pageArgs...)...)
}

// ConversationPartners lists the users a given user has exchanged direct
// messages with, most recent first.
func (r Repo) ConversationPartners(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.conn(nil).QueryContext(ctx, `SELECT partner FROM (
  SELECT CASE WHEN sender_id=? THEN receiver_id ELSE sender_id END AS partner, MAX(created_at) AS last_at
  FROM messages
  WHERE receiver_id IS NOT NULL AND (sender_id=? OR receiver_id=?)
  GROUP BY partner
) conv ORDER BY last_at DESC`, userID, userID, userID)
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
