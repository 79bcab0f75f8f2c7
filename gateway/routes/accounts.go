package routes

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"tipsettle/gateway/middleware"
	"tipsettle/native/tipping"
)

// AmountRequest carries a single token amount.
type AmountRequest struct {
	Amount string `json:"amount"`
}

// StakeResponse mirrors tipping.StakeState.
type StakeResponse struct {
	Staked             string  `json:"staked"`
	PendingUnstake     string  `json:"pendingUnstake"`
	UnstakeRequestedAt *uint64 `json:"unstakeRequestedAt,omitempty"`
	UnlockAt           *uint64 `json:"unlockAt,omitempty"`
}

// SenderResponse mirrors tipping.SenderState.
type SenderResponse struct {
	HasTipped        bool   `json:"hasTipped"`
	LastTipTimestamp uint64 `json:"lastTipTimestamp"`
	DailyDayIndex    uint64 `json:"dailyDayIndex"`
	DailyAmountSoFar string `json:"dailyAmountSoFar"`
}

// AccountResponse is the read-only view of an address.
type AccountResponse struct {
	Address           string         `json:"address"`
	Balance           string         `json:"balance"`
	Blacklisted       bool           `json:"blacklisted"`
	EffectiveDailyCap string         `json:"effectiveDailyCap"`
	Stake             StakeResponse  `json:"stake"`
	Sender            SenderResponse `json:"sender"`
}

func stakeResponse(state *tipping.StakeState, delay uint64) StakeResponse {
	resp := StakeResponse{
		Staked:         amountString(state.StakedBalance),
		PendingUnstake: amountString(state.PendingUnstakeAmount),
	}
	if unlock, ok := state.UnlockAt(delay); ok {
		requested := state.UnstakeRequestedAt
		resp.UnstakeRequestedAt = &requested
		resp.UnlockAt = &unlock
	}
	return resp
}

type stakeCall func(ctx context.Context, sender common.Address, amount *uint256.Int) (*tipping.StakeState, error)

// stakeHandler runs a staking operation on behalf of the authenticated caller.
func (h *handlers) stakeHandler(call func(*handlers) stakeCall) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.CallerFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "caller not authenticated")
			return
		}
		var req AmountRequest
		if err := decodeJSON(r, h.maxBody, &req); err != nil {
			writeBadRequest(w, err)
			return
		}
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		state, err := call(h)(r.Context(), caller, amount)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		policy, err := h.engine.PolicySnapshot(r.Context())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stakeResponse(state, policy.UnstakeDelaySeconds))
	}
}

func (h *handlers) account(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx := r.Context()
	resp := AccountResponse{Address: addr.Hex()}

	balance, err := h.engine.Balance(ctx, addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp.Balance = amountString(balance)
	if resp.Blacklisted, err = h.engine.IsBlacklisted(ctx, addr); err != nil {
		writeEngineError(w, err)
		return
	}
	capacity, err := h.engine.EffectiveDailyCap(ctx, addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp.EffectiveDailyCap = amountString(capacity)
	policy, err := h.engine.PolicySnapshot(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	stake, err := h.engine.StakeState(ctx, addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp.Stake = stakeResponse(stake, policy.UnstakeDelaySeconds)
	sender, err := h.engine.SenderState(ctx, addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp.Sender = SenderResponse{
		HasTipped:        sender.HasTipped,
		LastTipTimestamp: sender.LastTipTimestamp,
		DailyDayIndex:    sender.DailyDayIndex,
		DailyAmountSoFar: amountString(sender.DailyAmountSoFar),
	}
	writeJSON(w, http.StatusOK, resp)
}
