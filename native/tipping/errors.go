package tipping

import (
	"context"
	"errors"
)

// Settlement rejection kinds. Every one of them is terminal for the call that
// produced it and leaves state untouched; retrying is up to the caller.
var (
	ErrInvalidAddresses    = errors.New("tipping: sender and recipient must be non-zero")
	ErrInvalidTipAmount    = errors.New("tipping: amount must be positive")
	ErrInvalidSignature    = errors.New("tipping: malformed signature")
	ErrUnauthorizedRelayer = errors.New("tipping: signature not produced by the authorized relayer")
	ErrNonceAlreadyUsed    = errors.New("tipping: digest already settled")
	ErrSelfTip             = errors.New("tipping: sender and recipient are identical")
	ErrBlacklisted         = errors.New("tipping: address blacklisted")
	ErrAmountExceedsCap    = errors.New("tipping: amount exceeds per-tip maximum")
	ErrDailyCapExceeded    = errors.New("tipping: daily cap exceeded")
	ErrRateLimited         = errors.New("tipping: minimum interval between tips not elapsed")
	ErrUnstakeNotReady     = errors.New("tipping: unstake delay not elapsed")
	ErrUnauthorizedAdmin   = errors.New("tipping: caller is not the owner")

	ErrInsufficientStake   = errors.New("tipping: amount exceeds staked balance")
	ErrNoPendingUnstake    = errors.New("tipping: no pending unstake request")
	ErrInsufficientPending = errors.New("tipping: amount exceeds pending unstake")
	ErrInsufficientBalance = errors.New("tipping: insufficient token balance")
	ErrCustodyNotSet       = errors.New("tipping: custody account not configured")
	ErrReentrantCall       = errors.New("tipping: reentrant call rejected")
	ErrNilState            = errors.New("tipping: state not configured")
	ErrNotInitialised      = errors.New("tipping: settlement policy not initialised")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidAddresses, "invalid_addresses"},
	{ErrInvalidTipAmount, "invalid_tip_amount"},
	{ErrInvalidSignature, "invalid_signature"},
	{ErrUnauthorizedRelayer, "unauthorized_relayer"},
	{ErrNonceAlreadyUsed, "nonce_already_used"},
	{ErrSelfTip, "self_tip"},
	{ErrBlacklisted, "blacklisted"},
	{ErrAmountExceedsCap, "amount_exceeds_cap"},
	{ErrDailyCapExceeded, "daily_cap_exceeded"},
	{ErrRateLimited, "rate_limited"},
	{ErrUnstakeNotReady, "unstake_not_ready"},
	{ErrUnauthorizedAdmin, "unauthorized_admin"},
	{ErrInsufficientStake, "insufficient_stake"},
	{ErrNoPendingUnstake, "no_pending_unstake"},
	{ErrInsufficientPending, "insufficient_pending"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrCustodyNotSet, "custody_not_set"},
	{ErrReentrantCall, "reentrant_call"},
	{ErrNilState, "nil_state"},
	{ErrNotInitialised, "not_initialised"},
	{context.Canceled, "canceled"},
	{context.DeadlineExceeded, "deadline_exceeded"},
}

// ErrorCode maps an engine error onto a stable, label-safe identifier used by
// metrics and the HTTP API. Nil maps to "ok"; anything unrecognised is
// reported as "internal".
func ErrorCode(err error) string {
	if err == nil {
		return "ok"
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "internal"
}

// IsRejection reports whether err is one of the domain rejection kinds, as
// opposed to an infrastructure failure.
func IsRejection(err error) bool {
	code := ErrorCode(err)
	return code != "ok" && code != "internal" && code != "nil_state" && code != "not_initialised"
}
