package routes

import (
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"tipsettle/native/tipping"
)

// IntentRequest is the wire form of a tip intent. ContentPointer, when set,
// is hashed into ContentRef and must not be combined with it.
type IntentRequest struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Amount         string `json:"amount"`
	ContentRef     string `json:"contentRef,omitempty"`
	ContentPointer string `json:"contentPointer,omitempty"`
	Nonce          string `json:"nonce"`
}

// SettleRequest pairs an intent with the relayer signature.
type SettleRequest struct {
	Intent    IntentRequest `json:"intent"`
	Signature string        `json:"signature"`
}

// DigestResponse exposes the canonical hash of an intent.
type DigestResponse struct {
	Digest string `json:"digest"`
	Packed string `json:"packed"`
}

// ReceiptResponse reports a committed settlement.
type ReceiptResponse struct {
	Digest            string `json:"digest"`
	From              string `json:"from"`
	To                string `json:"to"`
	Amount            string `json:"amount"`
	ContentRef        string `json:"contentRef"`
	Nonce             string `json:"nonce"`
	Signer            string `json:"signer"`
	SettledAt         uint64 `json:"settledAt"`
	DailyAmountSoFar  string `json:"dailyAmountSoFar"`
	EffectiveDailyCap string `json:"effectiveDailyCap"`
}

// DigestStatusResponse reports whether a digest has been consumed.
type DigestStatusResponse struct {
	Digest string `json:"digest"`
	Used   bool   `json:"used"`
}

// Intent converts the wire form into a TipIntent.
func (r IntentRequest) Intent() (tipping.TipIntent, error) {
	from, err := parseAddress("from", r.From)
	if err != nil {
		return tipping.TipIntent{}, err
	}
	to, err := parseAddress("to", r.To)
	if err != nil {
		return tipping.TipIntent{}, err
	}
	amount, err := parseAmount("amount", r.Amount)
	if err != nil {
		return tipping.TipIntent{}, err
	}
	nonce, err := parseAmount("nonce", r.Nonce)
	if err != nil {
		return tipping.TipIntent{}, err
	}
	if r.ContentRef != "" && r.ContentPointer != "" {
		return tipping.TipIntent{}, fmt.Errorf("contentRef and contentPointer are mutually exclusive")
	}
	ref := tipping.ContentRefFromPointer(r.ContentPointer)
	if r.ContentRef != "" {
		if ref, err = parseHash("contentRef", r.ContentRef); err != nil {
			return tipping.TipIntent{}, err
		}
	}
	return tipping.TipIntent{From: from, To: to, Amount: amount, ContentRef: ref, Nonce: nonce}, nil
}

func receiptResponse(receipt *tipping.Receipt) ReceiptResponse {
	return ReceiptResponse{
		Digest:            receipt.Digest.Hex(),
		From:              receipt.Intent.From.Hex(),
		To:                receipt.Intent.To.Hex(),
		Amount:            amountString(receipt.Intent.Amount),
		ContentRef:        receipt.Intent.ContentRef.Hex(),
		Nonce:             amountString(receipt.Intent.Nonce),
		Signer:            receipt.Signer.Hex(),
		SettledAt:         receipt.SettledAt,
		DailyAmountSoFar:  amountString(receipt.DailyAmountSoFar),
		EffectiveDailyCap: amountString(receipt.EffectiveCap),
	}
}

func (h *handlers) digest(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, DigestResponse{
		Digest: tipping.Digest(intent).Hex(),
		Packed: hexutil.Encode(tipping.EncodePacked(intent)),
	})
}

func (h *handlers) settle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := decodeJSON(r, h.maxBody, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	intent, err := req.Intent.Intent()
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	sig, err := parseSignature(req.Signature)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	receipt, err := h.engine.Settle(r.Context(), intent, sig)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse(receipt))
}

func (h *handlers) digestStatus(w http.ResponseWriter, r *http.Request) {
	digest, err := parseHash("digest", chi.URLParam(r, "digest"))
	if err != nil || digest == (common.Hash{}) {
		writeBadRequest(w, fmt.Errorf("digest: expected 32 byte hex"))
		return
	}
	used, err := h.engine.IsDigestUsed(r.Context(), digest)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DigestStatusResponse{Digest: digest.Hex(), Used: used})
}
