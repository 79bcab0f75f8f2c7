package config

import (
	"strings"
	"time"
)

// Gateway configures the HTTP surface.
type Gateway struct {
	// RequestsPerMinute throttles each client address; zero disables throttling.
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
	// AuthSkewSeconds bounds the age of a signed request timestamp.
	AuthSkewSeconds   int64 `toml:"AuthSkewSeconds"`
	ReadHeaderTimeout int   `toml:"ReadHeaderTimeout"`
	ReadTimeout       int   `toml:"ReadTimeout"`
	WriteTimeout      int   `toml:"WriteTimeout"`
	IdleTimeout       int   `toml:"IdleTimeout"`
	MaxBodyBytes      int64 `toml:"MaxBodyBytes"`
	StreamBuffer      int   `toml:"StreamBuffer"`
}

// Relayer configures the built-in development relayer endpoint.
type Relayer struct {
	Enabled bool `toml:"Enabled"`
	// PassphraseEnv names the environment variable holding the keystore passphrase.
	PassphraseEnv string `toml:"PassphraseEnv"`
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// Default returns the development defaults.
func Default() *Config {
	cfg := &Config{
		ListenAddress:  ":8080",
		MetricsAddress: ":9100",
		DataDir:        "./tip-data",
		GenesisFile:    "genesis.yaml",
		Environment:    "dev",
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	g := &cfg.Gateway
	if g.AuthSkewSeconds == 0 {
		g.AuthSkewSeconds = 300
	}
	if g.ReadHeaderTimeout == 0 {
		g.ReadHeaderTimeout = 5
	}
	if g.ReadTimeout == 0 {
		g.ReadTimeout = 15
	}
	if g.WriteTimeout == 0 {
		g.WriteTimeout = 15
	}
	if g.IdleTimeout == 0 {
		g.IdleTimeout = 60
	}
	if g.MaxBodyBytes == 0 {
		g.MaxBodyBytes = 1 << 16
	}
	if g.StreamBuffer == 0 {
		g.StreamBuffer = 64
	}
	if g.RequestsPerMinute > 0 && g.Burst == 0 {
		g.Burst = 1
	}
	if cfg.Relayer.PassphraseEnv == "" {
		cfg.Relayer.PassphraseEnv = "TIP_RELAYER_PASSPHRASE"
	}
}

func seconds(v int) time.Duration { return time.Duration(v) * time.Second }

// ReadHeaderTimeoutDuration returns the configured header timeout.
func (g Gateway) ReadHeaderTimeoutDuration() time.Duration { return seconds(g.ReadHeaderTimeout) }

// ReadTimeoutDuration returns the configured read timeout.
func (g Gateway) ReadTimeoutDuration() time.Duration { return seconds(g.ReadTimeout) }

// WriteTimeoutDuration returns the configured write timeout.
func (g Gateway) WriteTimeoutDuration() time.Duration { return seconds(g.WriteTimeout) }

// IdleTimeoutDuration returns the configured idle timeout.
func (g Gateway) IdleTimeoutDuration() time.Duration { return seconds(g.IdleTimeout) }

// AuthSkew returns the maximum accepted age of a signed request.
func (g Gateway) AuthSkew() time.Duration { return time.Duration(g.AuthSkewSeconds) * time.Second }
