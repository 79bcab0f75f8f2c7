package main

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tipsettle/config"
	"tipsettle/core/events"
	"tipsettle/core/genesis"
	"tipsettle/core/state"
	"tipsettle/gateway/auth"
	"tipsettle/gateway/middleware"
	"tipsettle/gateway/routes"
	"tipsettle/native/tipping"
	"tipsettle/observability"
	"tipsettle/storage"
)

type node struct {
	db      *storage.LevelDB
	manager *state.Manager
	engine  *tipping.Engine
	stream  *routes.Stream
	handler http.Handler
}

// buildNode opens the state database, seeds it from genesis on first start
// and wires the engine into the HTTP API. relayerKey may be nil.
func buildNode(cfg *config.Config, logger *slog.Logger, relayerKey *ecdsa.PrivateKey) (*node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	manager := state.NewManager(db)
	if err := initialiseState(cfg.GenesisFile, manager, logger); err != nil {
		db.Close()
		return nil, err
	}

	engine := tipping.NewEngine(manager)
	engine.SetLogger(logger)
	engine.SetMetrics(observability.Tipping())

	gatewayMetrics := observability.Gateway()
	stream := routes.NewStream(cfg.Gateway.StreamBuffer, gatewayMetrics, logger)
	engine.SetEmitter(events.Fanout{observability.Events(), stream})

	limit := middleware.RateLimit{RequestsPerMinute: cfg.Gateway.RequestsPerMinute, Burst: cfg.Gateway.Burst}
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		routes.LimitTips:    limit,
		routes.LimitAccount: limit,
		routes.LimitRead:    limit,
	}, gatewayMetrics.RecordThrottle)
	authenticator := auth.NewAuthenticator(cfg.Gateway.AuthSkew(), 0, nil, auth.NewStoreNoncePersistence(db))

	var relayer *routes.Relayer
	if relayerKey != nil {
		relayer = routes.NewRelayer(relayerKey)
	}
	router := routes.New(routes.Config{
		Engine:        engine,
		Auth:          middleware.NewWalletAuth(authenticator, cfg.Gateway.MaxBodyBytes, logger, gatewayMetrics.RecordThrottle),
		RateLimiter:   limiter,
		Observability: middleware.NewObservability("tipd", gatewayMetrics, logger, cfg.Environment == "dev"),
		Stream:        stream,
		Relayer:       relayer,
		MaxBodyBytes:  cfg.Gateway.MaxBodyBytes,
		Logger:        logger,
	})

	return &node{
		db:      db,
		manager: manager,
		engine:  engine,
		stream:  stream,
		handler: otelhttp.NewHandler(router, "tipd"),
	}, nil
}

// initialiseState applies the genesis file unless the database already holds
// a policy, in which case the file is not read at all.
func initialiseState(path string, manager *state.Manager, logger *slog.Logger) error {
	tx, err := manager.Begin()
	if err != nil {
		return err
	}
	policy, ok, err := tx.Policy()
	tx.Discard()
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	if !ok {
		spec, err := genesis.LoadGenesisSpec(path)
		if err != nil {
			return err
		}
		if err := genesis.Apply(spec, manager); err != nil && !errors.Is(err, genesis.ErrAlreadyInitialised) {
			return fmt.Errorf("apply genesis: %w", err)
		}
		policy = spec.SettlementPolicy()
		logger.Info("genesis applied", "file", path, "owner", policy.Owner.Hex())
	}
	if policy.MaxTipAmount == nil || policy.MaxTipAmount.IsZero() {
		logger.Warn("max tip amount is zero; every settlement will be rejected")
	}
	if policy.AuthorizedSigner == (common.Address{}) {
		logger.Warn("authorized signer unset; settlement is paused")
	}
	return nil
}

func (n *node) Close() {
	n.db.Close()
}
