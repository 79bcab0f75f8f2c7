package routes

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"tipsettle/gateway/middleware"
	"tipsettle/native/tipping"
)

// PolicyResponse is the public view of the settlement policy.
type PolicyResponse struct {
	Owner               string `json:"owner"`
	AuthorizedSigner    string `json:"authorizedSigner"`
	Custody             string `json:"custody"`
	MinIntervalSeconds  uint64 `json:"minIntervalSeconds"`
	MaxTipAmount        string `json:"maxTipAmount"`
	BaseDailyCap        string `json:"baseDailyCap"`
	StakeMultiplier     string `json:"stakeMultiplier"`
	UnstakeDelaySeconds uint64 `json:"unstakeDelaySeconds"`
}

// SignerRequest rotates the authorized relayer.
type SignerRequest struct {
	Signer string `json:"signer"`
}

// PolicyParamsRequest replaces the fairness parameters.
type PolicyParamsRequest struct {
	MinIntervalSeconds uint64 `json:"minIntervalSeconds"`
	MaxTipAmount       string `json:"maxTipAmount"`
	BaseDailyCap       string `json:"baseDailyCap"`
	StakeMultiplier    string `json:"stakeMultiplier"`
}

// UnstakeDelayRequest sets the unstake delay.
type UnstakeDelayRequest struct {
	Seconds uint64 `json:"seconds"`
}

// BlacklistRequest toggles an address on the blacklist.
type BlacklistRequest struct {
	Address     string `json:"address"`
	Blacklisted bool   `json:"blacklisted"`
}

// OwnerRequest hands the admin authority to a new owner.
type OwnerRequest struct {
	Owner string `json:"owner"`
}

func policyResponse(p *tipping.Policy) PolicyResponse {
	return PolicyResponse{
		Owner:               p.Owner.Hex(),
		AuthorizedSigner:    p.AuthorizedSigner.Hex(),
		Custody:             p.Custody.Hex(),
		MinIntervalSeconds:  p.MinIntervalSeconds,
		MaxTipAmount:        amountString(p.MaxTipAmount),
		BaseDailyCap:        amountString(p.BaseDailyCap),
		StakeMultiplier:     amountString(p.StakeMultiplier),
		UnstakeDelaySeconds: p.UnstakeDelaySeconds,
	}
}

func (h *handlers) policy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.engine.PolicySnapshot(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policyResponse(policy))
}

// adminHandler decodes T and hands it to apply with the authenticated caller.
// The engine decides whether the caller owns the policy.
func adminHandler[T any](h *handlers, apply func(r *http.Request, caller common.Address, req T) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.CallerFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "caller not authenticated")
			return
		}
		var req T
		if err := decodeJSON(r, h.maxBody, &req); err != nil {
			writeBadRequest(w, err)
			return
		}
		if err := apply(r, caller, req); err != nil {
			if _, parse := err.(parseError); parse {
				writeBadRequest(w, err)
				return
			}
			writeEngineError(w, err)
			return
		}
		h.policy(w, r)
	}
}

type parseError struct{ error }

func (h *handlers) setSigner(r *http.Request, caller common.Address, req SignerRequest) error {
	signer, err := parseAddress("signer", req.Signer)
	if err != nil {
		return parseError{err}
	}
	return h.engine.SetAuthorizedSigner(r.Context(), caller, signer)
}

func (h *handlers) setPolicy(r *http.Request, caller common.Address, req PolicyParamsRequest) error {
	maxTip, err := parseAmount("maxTipAmount", req.MaxTipAmount)
	if err != nil {
		return parseError{err}
	}
	baseCap, err := parseAmount("baseDailyCap", req.BaseDailyCap)
	if err != nil {
		return parseError{err}
	}
	multiplier, err := parseAmount("stakeMultiplier", req.StakeMultiplier)
	if err != nil {
		return parseError{err}
	}
	return h.engine.SetPolicyParameters(r.Context(), caller, tipping.PolicyParams{
		MinIntervalSeconds: req.MinIntervalSeconds,
		MaxTipAmount:       maxTip,
		BaseDailyCap:       baseCap,
		StakeMultiplier:    multiplier,
	})
}

func (h *handlers) setUnstakeDelay(r *http.Request, caller common.Address, req UnstakeDelayRequest) error {
	return h.engine.SetUnstakeDelay(r.Context(), caller, req.Seconds)
}

func (h *handlers) setBlacklist(r *http.Request, caller common.Address, req BlacklistRequest) error {
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		return parseError{err}
	}
	return h.engine.SetBlacklist(r.Context(), caller, addr, req.Blacklisted)
}

func (h *handlers) transferOwnership(r *http.Request, caller common.Address, req OwnerRequest) error {
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		return parseError{err}
	}
	return h.engine.TransferOwnership(r.Context(), caller, owner)
}
