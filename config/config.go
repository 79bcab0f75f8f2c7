package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tipsettle/crypto"

	"github.com/BurntSushi/toml"
)

// Config is the tipd node configuration.
type Config struct {
	ListenAddress       string `toml:"ListenAddress"`
	MetricsAddress      string `toml:"MetricsAddress"`
	DataDir             string `toml:"DataDir"`
	GenesisFile         string `toml:"GenesisFile"`
	Environment         string `toml:"Environment"`
	LogFile             string `toml:"LogFile"`
	RelayerKeystorePath string `toml:"RelayerKeystorePath"`

	Gateway   Gateway   `toml:"gateway"`
	Relayer   Relayer   `toml:"relayer"`
	Telemetry Telemetry `toml:"telemetry"`
}

// ErrPassphraseRequired is returned when a keystore must be created but no
// passphrase was supplied.
var ErrPassphraseRequired = errors.New("config: keystore passphrase required to create relayer key")

// Option customises Load.
type Option func(*loadOptions)

type loadOptions struct {
	passphrase string
	strength   crypto.KeystoreStrength
}

// WithKeystorePassphrase supplies the passphrase used when a relayer keystore
// has to be generated.
func WithKeystorePassphrase(passphrase string) Option {
	return func(o *loadOptions) { o.passphrase = passphrase }
}

// WithKeystoreStrength selects the scrypt parameters for generated keystores.
func WithKeystoreStrength(strength crypto.KeystoreStrength) Option {
	return func(o *loadOptions) { o.strength = strength }
}

// Load loads the configuration from the given path, writing a default file
// and relayer keystore when the path does not exist yet.
func Load(path string, opts ...Option) (*Config, error) {
	options := loadOptions{strength: crypto.KeystoreStandard}
	for _, opt := range opts {
		opt(&options)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %q", path, undecoded[0].String())
	}

	applyDefaults(cfg)
	if cfg.Relayer.Enabled {
		if err := ensureKeystore(path, cfg, options); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func ensureKeystore(configPath string, cfg *Config, options loadOptions) error {
	keystorePath := cfg.RelayerKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		if strings.TrimSpace(options.passphrase) == "" {
			return ErrPassphraseRequired
		}
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystoreWithStrength(keystorePath, key, options.passphrase, options.strength); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.RelayerKeystorePath != keystorePath {
		cfg.RelayerKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file. The default
// enables the built-in development relayer, so a passphrase is required.
func createDefault(path string, options loadOptions) (*Config, error) {
	cfg := Default()
	cfg.Relayer.Enabled = true
	if err := ensureKeystore(path, cfg, options); err != nil {
		return nil, err
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "relayer.keystore")
}
