package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tipsettle/crypto"
)

const testKeystorePassphrase = "test-passphrase"

func TestLoadParsesSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `ListenAddress = "0.0.0.0:7000"
MetricsAddress = "127.0.0.1:9300"
DataDir = "./data"
GenesisFile = "genesis.yaml"
Environment = "staging"
LogFile = "/var/log/tipd.log"

[gateway]
RequestsPerMinute = 120.0
Burst = 10
AuthSkewSeconds = 60
ReadTimeout = 20
StreamBuffer = 8

[telemetry]
Endpoint = "otel:4318"
Insecure = true
Headers = "x-team=tips"
Metrics = true
Traces = true
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != "0.0.0.0:7000" || cfg.MetricsAddress != "127.0.0.1:9300" {
		t.Fatalf("unexpected addresses: %+v", cfg)
	}
	if cfg.Gateway.RequestsPerMinute != 120 || cfg.Gateway.Burst != 10 || cfg.Gateway.AuthSkewSeconds != 60 {
		t.Fatalf("unexpected gateway section: %+v", cfg.Gateway)
	}
	if cfg.Gateway.ReadTimeoutDuration().Seconds() != 20 {
		t.Fatalf("unexpected read timeout %s", cfg.Gateway.ReadTimeoutDuration())
	}
	if cfg.Gateway.WriteTimeout != 15 || cfg.Gateway.MaxBodyBytes != 1<<16 {
		t.Fatalf("gateway defaults not applied: %+v", cfg.Gateway)
	}
	if !cfg.Telemetry.Traces || cfg.Telemetry.Endpoint != "otel:4318" {
		t.Fatalf("unexpected telemetry section: %+v", cfg.Telemetry)
	}
	if cfg.Relayer.Enabled || cfg.RelayerKeystorePath != "" {
		t.Fatalf("relayer should stay disabled: %+v", cfg.Relayer)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := "ListenAddress = \":8080\"\nDataDir = \"d\"\nGenesisFile = \"g\"\nValidatorKey = \"abc\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "ValidatorKey") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"listen":      func(c *Config) { c.ListenAddress = "nope" },
		"data dir":    func(c *Config) { c.DataDir = " " },
		"genesis":     func(c *Config) { c.GenesisFile = "" },
		"environment": func(c *Config) { c.Environment = "qa" },
		"rate":        func(c *Config) { c.Gateway.RequestsPerMinute = -1 },
		"skew":        func(c *Config) { c.Gateway.AuthSkewSeconds = -5 },
		"prod relayer": func(c *Config) {
			c.Environment = "prod"
			c.Relayer.Enabled = true
			c.RelayerKeystorePath = "k"
		},
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected %s to be rejected", name)
			}
		})
	}
}

func TestLoadWithoutPassphraseFailsToCreateDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error when no keystore passphrase is provided")
	}
}

func TestLoadCreatesKeystoreWithPassphrase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path, WithKeystorePassphrase(testKeystorePassphrase), WithKeystoreStrength(crypto.KeystoreLight))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RelayerKeystorePath == "" {
		t.Fatalf("expected relayer keystore path to be set")
	}
	if _, err := os.Stat(cfg.RelayerKeystorePath); err != nil {
		t.Fatalf("expected keystore file to exist: %v", err)
	}
	key, err := crypto.LoadFromKeystore(cfg.RelayerKeystorePath, testKeystorePassphrase)
	if err != nil {
		t.Fatalf("failed to decrypt keystore: %v", err)
	}
	addr, err := crypto.KeystoreAddress(cfg.RelayerKeystorePath)
	if err != nil {
		t.Fatalf("read keystore address: %v", err)
	}
	if addr != key.PubKey().EthAddress() {
		t.Fatalf("keystore address mismatch")
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload persisted config: %v", err)
	}
	if reloaded.RelayerKeystorePath != cfg.RelayerKeystorePath || !reloaded.Relayer.Enabled {
		t.Fatalf("persisted config lost relayer settings: %+v", reloaded)
	}
}
