package routes

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"tipsettle/gateway/middleware"
	"tipsettle/native/tipping"
)

// Engine is the settlement surface the HTTP API drives.
type Engine interface {
	Settle(ctx context.Context, intent tipping.TipIntent, sig tipping.Signature) (*tipping.Receipt, error)
	Stake(ctx context.Context, sender common.Address, amount *uint256.Int) (*tipping.StakeState, error)
	InitiateUnstake(ctx context.Context, sender common.Address, amount *uint256.Int) (*tipping.StakeState, error)
	WithdrawUnstaked(ctx context.Context, sender common.Address, amount *uint256.Int) (*tipping.StakeState, error)

	SetAuthorizedSigner(ctx context.Context, caller, signer common.Address) error
	SetPolicyParameters(ctx context.Context, caller common.Address, params tipping.PolicyParams) error
	SetUnstakeDelay(ctx context.Context, caller common.Address, seconds uint64) error
	SetBlacklist(ctx context.Context, caller, addr common.Address, listed bool) error
	TransferOwnership(ctx context.Context, caller, owner common.Address) error

	IsDigestUsed(ctx context.Context, digest common.Hash) (bool, error)
	EffectiveDailyCap(ctx context.Context, addr common.Address) (*uint256.Int, error)
	StakeState(ctx context.Context, addr common.Address) (*tipping.StakeState, error)
	SenderState(ctx context.Context, addr common.Address) (*tipping.SenderState, error)
	PolicySnapshot(ctx context.Context) (*tipping.Policy, error)
	IsBlacklisted(ctx context.Context, addr common.Address) (bool, error)
	Balance(ctx context.Context, addr common.Address) (*uint256.Int, error)
}

// Rate limit groups understood by New.
const (
	LimitTips    = "tips"
	LimitAccount = "account"
	LimitRead    = "read"
)

// Config wires the API. Only Engine and Auth are required.
type Config struct {
	Engine        Engine
	Auth          *middleware.WalletAuth
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	Stream        *Stream
	Relayer       *Relayer
	MaxBodyBytes  int64
	Logger        *slog.Logger
}

type handlers struct {
	engine  Engine
	relayer *Relayer
	maxBody int64
	logger  *slog.Logger
}

// New builds the HTTP API.
func New(cfg Config) http.Handler {
	h := &handlers{engine: cfg.Engine, relayer: cfg.Relayer, maxBody: cfg.MaxBodyBytes, logger: cfg.Logger}
	if h.maxBody <= 0 {
		h.maxBody = 1 << 16
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}

	limit := func(key string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return cfg.RateLimiter.Middleware(key)
	}
	observe := func(route string) func(http.Handler) http.Handler {
		if cfg.Observability == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return cfg.Observability.Middleware(route)
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(pub chi.Router) {
			pub.Use(limit(LimitTips))
			pub.With(observe("tips.digest")).Post("/tips/digest", h.digest)
			pub.With(observe("tips.settle")).Post("/tips", h.settle)
			if cfg.Relayer != nil {
				pub.With(observe("relay.info")).Get("/relay", h.relayInfo)
				pub.With(observe("relay.settle")).Post("/relay", h.relay)
			}
		})

		v1.Group(func(read chi.Router) {
			read.Use(limit(LimitRead))
			read.With(observe("tips.status")).Get("/tips/{digest}", h.digestStatus)
			read.With(observe("policy")).Get("/policy", h.policy)
			read.With(observe("accounts")).Get("/accounts/{address}", h.account)
			if cfg.Stream != nil {
				read.With(observe("events.stream")).Get("/events/stream", cfg.Stream.ServeHTTP)
			}
		})

		v1.Group(func(authed chi.Router) {
			authed.Use(limit(LimitAccount))
			authed.Use(cfg.Auth.Middleware)

			authed.With(observe("stake.deposit")).Post("/stake", h.stakeHandler(func(h *handlers) stakeCall { return h.engine.Stake }))
			authed.With(observe("stake.unstake")).Post("/stake/unstake", h.stakeHandler(func(h *handlers) stakeCall { return h.engine.InitiateUnstake }))
			authed.With(observe("stake.withdraw")).Post("/stake/withdraw", h.stakeHandler(func(h *handlers) stakeCall { return h.engine.WithdrawUnstaked }))

			authed.With(observe("admin.signer")).Post("/admin/signer", adminHandler(h, h.setSigner))
			authed.With(observe("admin.policy")).Post("/admin/policy", adminHandler(h, h.setPolicy))
			authed.With(observe("admin.unstakeDelay")).Post("/admin/unstake-delay", adminHandler(h, h.setUnstakeDelay))
			authed.With(observe("admin.blacklist")).Post("/admin/blacklist", adminHandler(h, h.setBlacklist))
			authed.With(observe("admin.owner")).Post("/admin/owner", adminHandler(h, h.transferOwnership))
		})
	})
	return r
}
