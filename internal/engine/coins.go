package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"vfxhub/internal/domain"
	"vfxhub/internal/engine/auth"
	"vfxhub/internal/events"
	"vfxhub/internal/repo"
)

// CoinRequest asks for one balance movement.
type CoinRequest struct {
	UserID         string
	Type           string
	Amount         int64
	CounterpartyID string
	Reference      string
	ActorID        string
}

// Coin result error codes.
const (
	CoinInvalidType       = "invalid_type"
	CoinInvalidAmount     = "invalid_amount"
	CoinInsufficientFunds = "insufficient_funds"
	CoinUnknownUser       = "unknown_user"
	CoinForbidden         = "forbidden"
	CoinFailed            = "failed"
)

// CoinResult is the tagged outcome of a coin transaction.
type CoinResult struct {
	OK            bool   `json:"ok"`
	Balance       int64  `json:"balance"`
	TransactionID string `json:"transaction_id,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	Message       string `json:"message,omitempty"`
}

// CoinResultFor folds a transaction outcome into a CoinResult.
func CoinResultFor(tx domain.Transaction, err error) CoinResult {
	if err == nil {
		return CoinResult{OK: true, Balance: tx.BalanceAfter, TransactionID: tx.ID}
	}
	res := CoinResult{ErrorCode: CoinFailed, Message: err.Error()}
	var insufficient InsufficientFundsError
	var validation ValidationError
	var forbidden auth.ForbiddenError
	switch {
	case errors.As(err, &insufficient):
		res.ErrorCode = CoinInsufficientFunds
		res.Balance = insufficient.Balance
	case errors.As(err, &validation) && validation.Field == "type":
		res.ErrorCode = CoinInvalidType
	case errors.As(err, &validation) && validation.Field == "amount":
		res.ErrorCode = CoinInvalidAmount
	case errors.As(err, &validation):
		res.ErrorCode = CoinUnknownUser
	case errors.As(err, &forbidden):
		res.ErrorCode = CoinForbidden
	}
	return res
}

// transfer types move coins between two users and write both sides.
var pairedTypes = map[string]string{
	domain.TxTransferOut: domain.TxTransferIn,
	domain.TxDonate:      domain.TxEarn,
}

// ApplyCoinTransaction is the only way a balance changes. Credits (earn,
// bonus) are admin-only; debits (spend, payout) act on the actor's own
// balance; transfers and donations debit the actor and credit the
// counterparty. The returned transaction is the user's side.
func (e Engine) ApplyCoinTransaction(ctx context.Context, req CoinRequest) (domain.Transaction, error) {
	if req.Amount <= 0 {
		return domain.Transaction{}, invalid("amount", "must be positive")
	}
	switch req.Type {
	case domain.TxEarn, domain.TxBonus, domain.TxSpend, domain.TxPayout, domain.TxDonate, domain.TxTransferOut:
	case domain.TxTransferIn:
		return domain.Transaction{}, invalid("type", "transfer_in is written by transfer_out")
	default:
		return domain.Transaction{}, invalid("type", "unknown transaction type %q", req.Type)
	}
	if req.UserID == "" {
		req.UserID = req.ActorID
	}
	var out domain.Transaction
	err := e.inTx(ctx, func(t *txn) error {
		actor, err := e.Actor(ctx, t.Tx, req.ActorID)
		if err != nil {
			return err
		}
		credit := req.Type == domain.TxEarn || req.Type == domain.TxBonus
		if credit && !auth.IsAdmin(actor) {
			return auth.ForbiddenError{Permission: "coins.credit"}
		}
		if !credit && req.UserID != actor.ID && !auth.IsAdmin(actor) {
			return auth.ForbiddenError{Permission: "coins.debit"}
		}
		paired, isPaired := pairedTypes[req.Type]
		if isPaired {
			if req.CounterpartyID == "" || req.CounterpartyID == req.UserID {
				return invalid("counterparty_id", "a different counterparty is required")
			}
			if _, err := e.Repo.GetProfile(ctx, t.Tx, req.CounterpartyID); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return invalid("counterparty_id", "unknown user %s", req.CounterpartyID)
				}
				return err
			}
		}
		entry, err := t.ledger(ctx, ledgerEntry{
			UserID: req.UserID, Type: req.Type, Amount: req.Amount, Debit: !credit,
			CounterpartyID: req.CounterpartyID, Reference: req.Reference, ActorID: actor.ID,
		})
		if err != nil {
			return err
		}
		if isPaired {
			if _, err := t.ledger(ctx, ledgerEntry{
				UserID: req.CounterpartyID, Type: paired, Amount: req.Amount,
				CounterpartyID: req.UserID, Reference: req.Reference, ActorID: actor.ID,
			}); err != nil {
				return err
			}
			if err := t.notify(ctx, actor.ID, domain.Notification{
				UserID: req.CounterpartyID, Kind: "coins.received",
				Title: fmt.Sprintf("You received %d coins", req.Amount),
				Body:  req.Reference, ResourceKind: "transaction", ResourceID: entry.ID,
			}); err != nil {
				return err
			}
		}
		out = entry
		return nil
	})
	if err == nil {
		e.Logger.Info("coin transaction applied", "user", out.UserID, "type", out.Type, "amount", out.Amount, "balance", out.BalanceAfter)
	}
	return out, err
}

type ledgerEntry struct {
	UserID         string
	Type           string
	Amount         int64
	Debit          bool
	CounterpartyID string
	Reference      string
	ActorID        string
}

// ledger moves the balance and records the ledger row in the same
// transaction.
func (t *txn) ledger(ctx context.Context, in ledgerEntry) (domain.Transaction, error) {
	delta := in.Amount
	if in.Debit {
		delta = -delta
	}
	balance, err := t.e.Repo.AdjustBalance(ctx, t.Tx, in.UserID, delta)
	switch {
	case errors.Is(err, repo.ErrNegativeBalance):
		p, getErr := t.e.Repo.GetProfile(ctx, t.Tx, in.UserID)
		if getErr != nil {
			return domain.Transaction{}, getErr
		}
		return domain.Transaction{}, InsufficientFundsError{UserID: in.UserID, Balance: p.Balance, Amount: in.Amount}
	case errors.Is(err, repo.ErrNotFound):
		return domain.Transaction{}, invalid("user_id", "unknown user %s", in.UserID)
	case err != nil:
		return domain.Transaction{}, err
	}
	entry := domain.Transaction{
		ID:           uuid.NewString(),
		UserID:       in.UserID,
		Type:         in.Type,
		Amount:       in.Amount,
		Reference:    in.Reference,
		BalanceAfter: balance,
		CreatedAt:    t.now,
	}
	if in.CounterpartyID != "" {
		cp := in.CounterpartyID
		entry.CounterpartyID = &cp
	}
	if err := t.e.Repo.InsertTransaction(ctx, t.Tx, entry); err != nil {
		return domain.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	scope := domain.UserScope(in.UserID)
	if err := t.emit(ctx, events.Record{Table: "transactions", Op: events.OpInsert, RecordID: entry.ID, ActorID: in.ActorID, Payload: entry}, scope); err != nil {
		return domain.Transaction{}, err
	}
	if err := t.emit(ctx, events.Record{Table: "profiles", Op: events.OpUpdate, RecordID: in.UserID, ActorID: in.ActorID,
		Payload: map[string]any{"balance": balance}}, scope); err != nil {
		return domain.Transaction{}, err
	}
	return entry, nil
}

// Balance returns the user's current balance.
func (e Engine) Balance(ctx context.Context, userID string) (int64, error) {
	p, err := e.Repo.GetProfile(ctx, nil, userID)
	if err != nil {
		return 0, err
	}
	return p.Balance, nil
}

func (e Engine) CoinHistory(ctx context.Context, userID string, page repo.Page) ([]domain.Transaction, error) {
	return e.Repo.ListTransactions(ctx, userID, page)
}
