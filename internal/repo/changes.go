package repo

import (
	"context"
	"encoding/json"
	"strings"

	"vfxhub/internal/domain"
)

// LatestSeq returns the highest change sequence recorded for a scope, or 0.
// An empty scope reads the global head.
func (r Repo) LatestSeq(ctx context.Context, scope string) (int64, error) {
	var seq int64
	if scope == "" {
		err := r.conn(nil).QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM changes`).Scan(&seq)
		return seq, err
	}
	err := r.conn(nil).QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM changes WHERE scope=?`, scope).Scan(&seq)
	return seq, err
}

// ChangeFilters narrows ListChanges. AfterSeq is exclusive.
type ChangeFilters struct {
	Scope    string
	Tables   []string
	AfterSeq int64
	Limit    int
}

// ListChanges returns changes in sequence order.
func (r Repo) ListChanges(ctx context.Context, f ChangeFilters) ([]domain.Change, error) {
	clauses := []string{"seq > ?"}
	args := []any{f.AfterSeq}
	if f.Scope != "" {
		clauses = append(clauses, "scope=?")
		args = append(args, f.Scope)
	}
	if len(f.Tables) > 0 {
		marks := make([]string, len(f.Tables))
		for i, t := range f.Tables {
			marks[i] = "?"
			args = append(args, t)
		}
		clauses = append(clauses, "table_name IN ("+strings.Join(marks, ",")+")")
	}
	query := `SELECT seq, ts, scope, table_name, op, record_id, actor_id, payload_json FROM changes WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY seq ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.conn(nil).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Change
	for rows.Next() {
		var c domain.Change
		var payload string
		if err := rows.Scan(&c.Seq, &c.TS, &c.Scope, &c.Table, &c.Op, &c.RecordID, &c.ActorID, &payload); err != nil {
			return nil, err
		}
		c.Payload = json.RawMessage(payload)
		out = append(out, c)
	}
	return out, rows.Err()
}
