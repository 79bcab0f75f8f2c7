package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"tipsettle/config"
)

const testGenesis = `
owner: "0x00000000000000000000000000000000000000f0"
authorizedSigner: "0x00000000000000000000000000000000000000f1"
custody: "0x00000000000000000000000000000000000000c0"
policy:
  minIntervalSeconds: 60
  maxTipAmount: "0"
  baseDailyCap: "500"
  stakeMultiplier: "1"
  unstakeDelaySeconds: 86400
alloc:
  "0x00000000000000000000000000000000000000a1": "900"
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	genesisPath := filepath.Join(dir, "genesis.yaml")
	if err := os.WriteFile(genesisPath, []byte(testGenesis), 0o600); err != nil {
		t.Fatalf("write genesis: %v", err)
	}
	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.GenesisFile = genesisPath
	return cfg
}

func TestBuildNodeAppliesGenesisOnce(t *testing.T) {
	cfg := testConfig(t)
	var logs strings.Builder
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	n, err := buildNode(cfg, logger, nil)
	if err != nil {
		t.Fatalf("build node: %v", err)
	}
	balance, err := n.engine.Balance(context.Background(), common.HexToAddress("0xa1"))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Uint64() != 900 {
		t.Fatalf("expected genesis allocation of 900, got %s", balance)
	}
	if !strings.Contains(logs.String(), "max tip amount is zero") {
		t.Fatalf("expected zero max tip warning, got %q", logs.String())
	}
	n.Close()

	// The genesis file is not consulted once the database is initialised.
	if err := os.Remove(cfg.GenesisFile); err != nil {
		t.Fatalf("remove genesis: %v", err)
	}
	n, err = buildNode(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err != nil {
		t.Fatalf("rebuild node: %v", err)
	}
	defer n.Close()

	res := httptest.NewRecorder()
	n.handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/accounts/0x00000000000000000000000000000000000000a1", nil))
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), `"balance":"900"`) {
		t.Fatalf("unexpected account response %d: %s", res.Code, res.Body.String())
	}
}

func TestBuildNodeFailsWithoutGenesis(t *testing.T) {
	cfg := testConfig(t)
	cfg.GenesisFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := buildNode(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil); err == nil {
		t.Fatalf("expected missing genesis to fail")
	}
}
