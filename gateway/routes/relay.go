package routes

import (
	"crypto/ecdsa"
	"net/http"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"tipsettle/native/tipping"
)

// RelayerInfo describes the built-in development relayer.
type RelayerInfo struct {
	Address string `json:"address"`
}

// Relayer signs intents server-side with a local key and settles them. It
// exists for development networks where no external relayer runs; the
// engine still checks the signature against the authorized signer.
type Relayer struct {
	key *ecdsa.PrivateKey
}

// NewRelayer wraps key.
func NewRelayer(key *ecdsa.PrivateKey) *Relayer {
	return &Relayer{key: key}
}

func (h *handlers) relayInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, RelayerInfo{Address: ethcrypto.PubkeyToAddress(h.relayer.key.PublicKey).Hex()})
}

func (h *handlers) relay(w http.ResponseWriter, r *http.Request) {
	var req IntentRequest
	if err := decodeJSON(r, h.maxBody, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	intent, err := req.Intent()
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	_, sig, err := tipping.SignIntent(h.relayer.key, intent)
	if err != nil {
		h.logger.Error("relay signing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	receipt, err := h.engine.Settle(r.Context(), intent, sig)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse(receipt))
}
