package repo

import (
	"context"
	"database/sql"

	"vfxhub/internal/domain"
)

const postSelect = `SELECT p.id, p.author_id, p.body, p.tags_json, p.created_at,
  (SELECT COUNT(*) FROM post_likes l WHERE l.post_id=p.id) AS likes
FROM posts p`

func scanPost(scan func(dest ...any) error) (domain.Post, error) {
	var p domain.Post
	var tags string
	if err := scan(&p.ID, &p.AuthorID, &p.Body, &tags, &p.CreatedAt, &p.Likes); err != nil {
		return domain.Post{}, err
	}
	p.Tags = decodeList(tags)
	return p, nil
}

func (r Repo) InsertPost(ctx context.Context, tx *sql.Tx, p domain.Post) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO posts(id,author_id,body,tags_json,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.AuthorID, p.Body, encodeList(p.Tags), p.CreatedAt)
	return err
}

func (r Repo) DeletePost(ctx context.Context, tx *sql.Tx, id string) error {
	return expectAffected(r.conn(tx).ExecContext(ctx, `DELETE FROM posts WHERE id=?`, id))
}

func (r Repo) GetPost(ctx context.Context, tx *sql.Tx, id string) (domain.Post, error) {
	p, err := scanPost(r.conn(tx).QueryRowContext(ctx, postSelect+` WHERE p.id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return domain.Post{}, ErrNotFound
	}
	return p, err
}

func (r Repo) ListPosts(ctx context.Context, authorID string, page Page) ([]domain.Post, error) {
	query := postSelect
	var args []any
	if authorID != "" {
		query += ` WHERE p.author_id=?`
		args = append(args, authorID)
	}
	query += ` ORDER BY p.created_at DESC, p.id DESC`
	limit, limitArgs := page.clause()
	query += limit
	args = append(args, limitArgs...)
	rows, err := r.conn(nil).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Post
	for rows.Next() {
		p, err := scanPost(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LikePost records a like; it reports false when the user already liked the
// post.
func (r Repo) LikePost(ctx context.Context, tx *sql.Tx, postID, userID string) (bool, error) {
	res, err := r.conn(tx).ExecContext(ctx, `INSERT INTO post_likes(post_id,user_id) VALUES (?,?) ON CONFLICT DO NOTHING`, postID, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) UnlikePost(ctx context.Context, tx *sql.Tx, postID, userID string) (bool, error) {
	res, err := r.conn(tx).ExecContext(ctx, `DELETE FROM post_likes WHERE post_id=? AND user_id=?`, postID, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
