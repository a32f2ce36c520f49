package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"vfxhub/internal/db"
	"vfxhub/internal/domain"
)

const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// Writer appends change-feed rows inside the caller's transaction.
type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

// Record describes one row change that fans out to several scopes.
type Record struct {
	Table    string
	Op       string
	RecordID string
	ActorID  string
	Payload  any
}

// Append writes one change row per scope and returns them with their
// assigned sequence numbers.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, rec Record, scopes ...string) ([]domain.Change, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := domain.Timestamp(w.Now())
	payload := rec.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal change payload: %w", err)
	}
	out := make([]domain.Change, 0, len(scopes))
	seen := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		if _, dup := seen[scope]; dup || scope == "" {
			continue
		}
		seen[scope] = struct{}{}
		var seq int64
		err := tx.QueryRowContext(ctx, db.Rebind(w.Dialect,
			`INSERT INTO changes(ts,scope,table_name,op,record_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?) RETURNING seq`),
			ts, scope, rec.Table, rec.Op, rec.RecordID, rec.ActorID, string(data)).Scan(&seq)
		if err != nil {
			return nil, fmt.Errorf("append change: %w", err)
		}
		out = append(out, domain.Change{
			Seq:      seq,
			TS:       ts,
			Scope:    scope,
			Table:    rec.Table,
			Op:       rec.Op,
			RecordID: rec.RecordID,
			ActorID:  rec.ActorID,
			Payload:  json.RawMessage(data),
		})
	}
	return out, nil
}
