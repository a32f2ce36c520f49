package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"vfxhub/internal/domain"
)

const profileColumns = `id, display_name, role, skills_json, balance, created_at`

func scanProfile(scan func(dest ...any) error) (domain.Profile, error) {
	var p domain.Profile
	var skills string
	if err := scan(&p.ID, &p.DisplayName, &p.Role, &skills, &p.Balance, &p.CreatedAt); err != nil {
		return domain.Profile{}, err
	}
	p.Skills = decodeList(skills)
	return p, nil
}

func (r Repo) InsertProfile(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO profiles(id, display_name, role, skills_json, balance, created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.DisplayName, p.Role, encodeList(p.Skills), p.Balance, p.CreatedAt)
	return err
}

// UpdateProfile rewrites the editable profile fields. Balance is never
// touched here; it only moves through coin transactions.
func (r Repo) UpdateProfile(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	return expectAffected(r.conn(tx).ExecContext(ctx, `UPDATE profiles SET display_name=?, role=?, skills_json=? WHERE id=?`,
		p.DisplayName, p.Role, encodeList(p.Skills), p.ID))
}

func (r Repo) GetProfile(ctx context.Context, tx *sql.Tx, id string) (domain.Profile, error) {
	row := r.conn(tx).QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=?`, id)
	p, err := scanProfile(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Profile{}, ErrNotFound
	}
	return p, err
}

// ProfileFilters narrows ListProfiles.
type ProfileFilters struct {
	Role  string
	Skill string
	Page  Page
}

func (r Repo) ListProfiles(ctx context.Context, f ProfileFilters) ([]domain.Profile, error) {
	var clauses []string
	var args []any
	if f.Role != "" {
		clauses = append(clauses, "role=?")
		args = append(args, f.Role)
	}
	if f.Skill != "" {
		clauses = append(clauses, "skills_json LIKE ?")
		args = append(args, fmt.Sprintf("%%%q%%", f.Skill))
	}
	query := `SELECT ` + profileColumns + ` FROM profiles`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY display_name, id`
	limit, limitArgs := f.Page.clause()
	query += limit
	args = append(args, limitArgs...)
	rows, err := r.conn(nil).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ErrNegativeBalance is returned when a debit would take a balance below zero.
var ErrNegativeBalance = errors.New("balance would go negative")

// AdjustBalance adds delta to the balance and returns the new value. A debit
// larger than the balance leaves the row untouched.
func (r Repo) AdjustBalance(ctx context.Context, tx *sql.Tx, userID string, delta int64) (int64, error) {
	var balance int64
	err := r.conn(tx).QueryRowContext(ctx, `UPDATE profiles SET balance=balance+? WHERE id=? AND balance+? >= 0 RETURNING balance`, delta, userID, delta).Scan(&balance)
	if err == sql.ErrNoRows {
		if _, getErr := r.GetProfile(ctx, tx, userID); getErr != nil {
			return 0, getErr
		}
		return 0, ErrNegativeBalance
	}
	return balance, err
}
