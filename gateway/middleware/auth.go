package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"tipsettle/gateway/auth"
	"tipsettle/observability/logging"
)

type contextKey string

// ContextKeyCaller holds the authenticated wallet address.
const ContextKeyCaller contextKey = "gateway.caller"

// WalletAuth rejects requests that do not carry a valid wallet signature and
// stores the recovered address on the request context.
type WalletAuth struct {
	authenticator *auth.Authenticator
	logger        *slog.Logger
	maxBody       int64
	onReject      func(reason string)
}

// NewWalletAuth wraps authenticator. onReject may be nil.
func NewWalletAuth(authenticator *auth.Authenticator, maxBody int64, logger *slog.Logger, onReject func(reason string)) *WalletAuth {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBody <= 0 || maxBody > int64(auth.MaxBodyForSignature) {
		maxBody = int64(auth.MaxBodyForSignature)
	}
	return &WalletAuth{authenticator: authenticator, logger: logger, maxBody: maxBody, onReject: onReject}
}

// Middleware enforces authentication on every wrapped route.
func (a *WalletAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, a.maxBody+1))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		if int64(len(body)) > a.maxBody {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		principal, err := a.authenticator.Authenticate(r, body)
		if err != nil {
			a.logger.Warn("gateway auth rejected",
				"path", r.URL.Path,
				"error", err,
				logging.MaskField("signature", r.Header.Get(auth.HeaderSignature)),
			)
			if a.onReject != nil {
				a.onReject("auth")
			}
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ContextKeyCaller, principal.Address)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerFromContext returns the authenticated wallet, if any.
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(ContextKeyCaller).(common.Address)
	return caller, ok
}
