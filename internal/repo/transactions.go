package repo

import (
	"context"
	"database/sql"

	"vfxhub/internal/domain"
)

func (r Repo) InsertTransaction(ctx context.Context, tx *sql.Tx, t domain.Transaction) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO transactions(id,user_id,type,amount,counterparty_id,reference,balance_after,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.UserID, t.Type, t.Amount, nullableStringPtr(t.CounterpartyID), nullable(t.Reference), t.BalanceAfter, t.CreatedAt)
	return err
}

// ListTransactions returns a user's ledger, newest first.
func (r Repo) ListTransactions(ctx context.Context, userID string, page Page) ([]domain.Transaction, error) {
	query := `SELECT id,user_id,type,amount,counterparty_id,COALESCE(reference,''),balance_after,created_at FROM transactions WHERE user_id=? ORDER BY created_at DESC, id DESC`
	limit, limitArgs := page.clause()
	query += limit
	args := append([]any{userID}, limitArgs...)
	rows, err := r.conn(nil).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var counterparty sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &counterparty, &t.Reference, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.CounterpartyID = ptrFromNull(counterparty)
		out = append(out, t)
	}
	return out, rows.Err()
}
