package vfxhubsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// Coin result error codes.
const (
	CoinInvalidType       = "invalid_type"
	CoinInvalidAmount     = "invalid_amount"
	CoinInsufficientFunds = "insufficient_funds"
	CoinUnknownUser       = "unknown_user"
	CoinForbidden         = "forbidden"
	CoinFailed            = "failed"
)

// ErrUnexpectedResponse is returned with a generic failure result when the
// coin procedure answers with something that is not a coin result.
var ErrUnexpectedResponse = errors.New("vfxhub: unexpected response shape")

// CoinResult is the validated outcome of the coin procedure. Exactly one of
// TransactionID (OK) or ErrorCode (not OK) is set.
type CoinResult struct {
	OK            bool   `json:"ok"`
	Balance       int64  `json:"balance"`
	TransactionID string `json:"transaction_id,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	Message       string `json:"message,omitempty"`
}

// CoinError is a failed coin result as an error.
type CoinError struct {
	Code    string
	Message string
}

func (e CoinError) Error() string {
	if e.Message == "" {
		return "coins: " + e.Code
	}
	return fmt.Sprintf("coins: %s: %s", e.Code, e.Message)
}

// Err returns nil for a successful result and a CoinError otherwise.
func (r CoinResult) Err() error {
	if r.OK {
		return nil
	}
	return CoinError{Code: r.ErrorCode, Message: r.Message}
}

func unexpectedCoinResult() CoinResult {
	return CoinResult{ErrorCode: CoinFailed, Message: "unexpected response from coin procedure"}
}

// ParseCoinResult validates a raw procedure response once. Anything that
// does not have the result shape becomes a generic failure.
func ParseCoinResult(data []byte) (CoinResult, error) {
	var raw struct {
		OK            *bool  `json:"ok"`
		Balance       *int64 `json:"balance"`
		TransactionID string `json:"transaction_id"`
		ErrorCode     string `json:"error_code"`
		Message       string `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return unexpectedCoinResult(), ErrUnexpectedResponse
	}
	if raw.OK == nil || raw.Balance == nil {
		return unexpectedCoinResult(), ErrUnexpectedResponse
	}
	if *raw.OK && raw.TransactionID == "" {
		return unexpectedCoinResult(), ErrUnexpectedResponse
	}
	if !*raw.OK && raw.ErrorCode == "" {
		return unexpectedCoinResult(), ErrUnexpectedResponse
	}
	return CoinResult{
		OK:            *raw.OK,
		Balance:       *raw.Balance,
		TransactionID: raw.TransactionID,
		ErrorCode:     raw.ErrorCode,
		Message:       raw.Message,
	}, nil
}

type CoinRequest struct {
	UserID         string `json:"user_id,omitempty"`
	Type           string `json:"type"`
	Amount         int64  `json:"amount"`
	CounterpartyID string `json:"counterparty_id,omitempty"`
	Reference      string `json:"reference,omitempty"`
}

// ApplyCoin calls the coin procedure. A domain failure is a result with OK
// false and a nil error; transport and shape failures are errors.
func (c *Client) ApplyCoin(ctx context.Context, in CoinRequest) (CoinResult, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "rpc/coins", in, &raw); err != nil {
		return CoinResult{ErrorCode: CoinFailed, Message: err.Error()}, err
	}
	return ParseCoinResult(raw)
}

type Balance struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// Balance returns a user's coin balance; empty userID means the caller.
func (c *Client) Balance(ctx context.Context, userID string) (Balance, error) {
	q := url.Values{}
	setQuery(q, "user_id", userID)
	var resp Balance
	err := c.do(ctx, http.MethodGet, withQuery("coins/balance", q), nil, &resp)
	return resp, err
}

func (c *Client) Transactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	q := url.Values{}
	setQuery(q, "user_id", userID)
	setInt(q, "limit", int64(limit))
	var resp []Transaction
	err := c.do(ctx, http.MethodGet, withQuery("coins/transactions", q), nil, &resp)
	return resp, err
}

func (c *Client) LedgerSummary(ctx context.Context, userID string) (Ledger, error) {
	q := url.Values{}
	setQuery(q, "user_id", userID)
	var resp Ledger
	err := c.do(ctx, http.MethodGet, withQuery("coins/summary", q), nil, &resp)
	return resp, err
}
