package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tipsettle/cmd/internal/passphrase"
	"tipsettle/config"
	"tipsettle/crypto"
	"tipsettle/observability/logging"
	telemetry "tipsettle/observability/otel"
)

const defaultPassphraseEnv = "TIP_RELAYER_PASSPHRASE"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tipd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.toml", "path to node configuration")
	flag.Parse()

	bootstrap := passphrase.NewSource(defaultPassphraseEnv, "relayer")
	cfg, err := config.Load(cfgPath, config.WithKeystorePassphrase(os.Getenv(defaultPassphraseEnv)))
	if errors.Is(err, config.ErrPassphraseRequired) {
		pass, passErr := bootstrap.Get()
		if passErr != nil {
			return passErr
		}
		cfg, err = config.Load(cfgPath, config.WithKeystorePassphrase(pass))
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service: "tipd",
		Env:     cfg.Environment,
		File:    cfg.LogFile,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.FromTelemetry("tipd", cfg.Environment, cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	var relayerKey *ecdsa.PrivateKey
	if cfg.Relayer.Enabled {
		source := bootstrap
		if cfg.Relayer.PassphraseEnv != defaultPassphraseEnv {
			source = passphrase.NewSource(cfg.Relayer.PassphraseEnv, "relayer")
		}
		pass, err := source.Get()
		if err != nil {
			return err
		}
		key, err := crypto.LoadFromKeystore(cfg.RelayerKeystorePath, pass)
		if err != nil {
			return fmt.Errorf("load relayer key: %w", err)
		}
		relayerKey = key.PrivateKey
		logger.Warn("development relayer enabled", "address", key.PubKey().EthAddress().Hex())
	}

	n, err := buildNode(cfg, logger, relayerKey)
	if err != nil {
		return err
	}
	defer n.Close()

	apiServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           n.handler,
		ReadHeaderTimeout: cfg.Gateway.ReadHeaderTimeoutDuration(),
		ReadTimeout:       cfg.Gateway.ReadTimeoutDuration(),
		WriteTimeout:      cfg.Gateway.WriteTimeoutDuration(),
		IdleTimeout:       cfg.Gateway.IdleTimeoutDuration(),
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           metricsMux,
		ReadHeaderTimeout: cfg.Gateway.ReadHeaderTimeoutDuration(),
	}

	errCh := make(chan error, 2)
	for _, srv := range []*http.Server{apiServer, metricsServer} {
		listener, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		logger.Info("listening", "addr", listener.Addr().String())
		go func(srv *http.Server, listener net.Listener) {
			if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv, listener)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case serveErr = <-errCh:
		logger.Error("server failed", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range []*http.Server{apiServer, metricsServer} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", "addr", srv.Addr, "error", err)
		}
	}
	return serveErr
}
