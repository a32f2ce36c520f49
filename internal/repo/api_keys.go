package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"vfxhub/internal/domain"
)

const apiKeyColumns = `id, actor_id, COALESCE(name,''), key_hash, created_at, last_used_at`

// HashAPIKey is the lookup digest stored instead of the key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(s rowScanner) (domain.APIKey, error) {
	var key domain.APIKey
	var lastUsed sql.NullString
	if err := s.Scan(&key.ID, &key.ActorID, &key.Name, &key.KeyHash, &key.CreatedAt, &lastUsed); err != nil {
		return domain.APIKey{}, err
	}
	key.LastUsedAt = ptrFromNull(lastUsed)
	return key, nil
}

func (r Repo) InsertAPIKey(ctx context.Context, tx *sql.Tx, key domain.APIKey) error {
	if key.ID == "" || key.ActorID == "" || key.KeyHash == "" || key.CreatedAt == "" {
		return errors.New("api key: id, actor_id, key_hash and created_at are required")
	}
	_, err := r.conn(tx).ExecContext(ctx,
		`INSERT INTO api_keys(id, actor_id, name, key_hash, created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.ActorID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	return err
}

func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	key, err := scanAPIKey(r.conn(nil).QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash=?`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.APIKey{}, ErrNotFound
	}
	return key, err
}

// TouchAPIKey records the last successful authentication with a key.
func (r Repo) TouchAPIKey(ctx context.Context, id, at string) error {
	return expectAffected(r.conn(nil).ExecContext(ctx, `UPDATE api_keys SET last_used_at=? WHERE id=?`, at, id))
}

// ListAPIKeys returns an actor's keys, newest first.
func (r Repo) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	rows, err := r.conn(nil).QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE actor_id=? ORDER BY created_at DESC`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteAPIKey removes a key. A non-empty ownerID restricts the delete to
// that owner's keys, so foreign ids look missing.
func (r Repo) DeleteAPIKey(ctx context.Context, id, ownerID string) error {
	query := `DELETE FROM api_keys WHERE id=?`
	args := []any{id}
	if ownerID != "" {
		query += ` AND actor_id=?`
		args = append(args, ownerID)
	}
	return expectAffected(r.conn(nil).ExecContext(ctx, query, args...))
}
