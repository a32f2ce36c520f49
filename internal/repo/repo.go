package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"vfxhub/internal/db"
)

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

// New wraps an open connection.
func New(conn *db.DB) Repo {
	return Repo{DB: conn.DB, Dialect: conn.Dialect}
}

var ErrNotFound = errors.New("not found")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dialectQuerier rebinds placeholders before delegating.
type dialectQuerier struct {
	q       querier
	dialect db.Dialect
}

func (d dialectQuerier) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.q.ExecContext(ctx, db.Rebind(d.dialect, query), args...)
}

func (d dialectQuerier) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.q.QueryContext(ctx, db.Rebind(d.dialect, query), args...)
}

func (d dialectQuerier) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.q.QueryRowContext(ctx, db.Rebind(d.dialect, query), args...)
}

// conn returns tx when non-nil, otherwise the pool.
func (r Repo) conn(tx *sql.Tx) querier {
	if tx != nil {
		return dialectQuerier{q: tx, dialect: r.Dialect}
	}
	return dialectQuerier{q: r.DB, dialect: r.Dialect}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func ptrFromNull(v sql.NullString) *string {
	if !v.Valid || v.String == "" {
		return nil
	}
	s := v.String
	return &s
}

func encodeList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return string(b)
}

func decodeList(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func expectAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Page bounds list queries; zero Limit means unbounded.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) clause() (string, []any) {
	if p.Limit <= 0 {
		return "", nil
	}
	return ` LIMIT ? OFFSET ?`, []any{p.Limit, p.Offset}
}
