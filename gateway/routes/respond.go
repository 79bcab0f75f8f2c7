package routes

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tipsettle/crypto"
	"tipsettle/native/tipping"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errorStatus = map[string]int{
	"invalid_addresses":    http.StatusBadRequest,
	"invalid_tip_amount":   http.StatusBadRequest,
	"invalid_signature":    http.StatusBadRequest,
	"self_tip":             http.StatusBadRequest,
	"unauthorized_relayer": http.StatusForbidden,
	"unauthorized_admin":   http.StatusForbidden,
	"blacklisted":          http.StatusForbidden,
	"nonce_already_used":   http.StatusConflict,
	"reentrant_call":       http.StatusConflict,
	"amount_exceeds_cap":   http.StatusUnprocessableEntity,
	"daily_cap_exceeded":   http.StatusUnprocessableEntity,
	"insufficient_stake":   http.StatusUnprocessableEntity,
	"no_pending_unstake":   http.StatusUnprocessableEntity,
	"insufficient_pending": http.StatusUnprocessableEntity,
	"insufficient_balance": http.StatusUnprocessableEntity,
	"custody_not_set":      http.StatusUnprocessableEntity,
	"rate_limited":         http.StatusTooManyRequests,
	"unstake_not_ready":    http.StatusTooEarly,
	"not_initialised":      http.StatusServiceUnavailable,
	"canceled":             http.StatusRequestTimeout,
	"deadline_exceeded":    http.StatusRequestTimeout,
}

// StatusFor maps an engine error onto the HTTP status the API reports.
func StatusFor(err error) int {
	if status, ok := errorStatus[tipping.ErrorCode(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, "bad_request", err.Error())
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeError(w, status, tipping.ErrorCode(err), message)
}

func decodeJSON(r *http.Request, limit int64, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// parseAmount accepts base-10 or 0x-prefixed hex. Empty strings are zero so
// the engine reports the rejection.
func parseAmount(field, raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	var (
		v   *uint256.Int
		err error
	)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		v, err = uint256.FromHex(trimmed)
	} else {
		v, err = uint256.FromDecimal(trimmed)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: invalid amount %q", field, raw)
	}
	return v, nil
}

// parseAddress accepts hex or bech32. Empty input is the zero address so the
// engine reports the rejection.
func parseAddress(field, raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	addr, err := crypto.ParseAccount(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

func parseHash(field, raw string) (common.Hash, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	if trimmed == "" {
		return common.Hash{}, nil
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil || len(decoded) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%s: expected 32 byte hex", field)
	}
	return common.BytesToHash(decoded), nil
}

func parseSignature(raw string) (tipping.Signature, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return tipping.Signature{}, fmt.Errorf("%w: signature is not hex", tipping.ErrInvalidSignature)
	}
	return tipping.SignatureFromBytes(decoded)
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
