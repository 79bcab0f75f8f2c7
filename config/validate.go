package config

import (
	"fmt"
	"net"
	"strings"
)

var validEnvironments = map[string]struct{}{"dev": {}, "staging": {}, "prod": {}}

// Validate checks the fields tipd cannot start without.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil")
	}
	if err := validateListen("ListenAddress", c.ListenAddress); err != nil {
		return err
	}
	if strings.TrimSpace(c.MetricsAddress) != "" {
		if err := validateListen("MetricsAddress", c.MetricsAddress); err != nil {
			return err
		}
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir must be set")
	}
	if strings.TrimSpace(c.GenesisFile) == "" {
		return fmt.Errorf("GenesisFile must be set")
	}
	if _, ok := validEnvironments[strings.ToLower(c.Environment)]; !ok {
		return fmt.Errorf("Environment %q must be one of dev, staging, prod", c.Environment)
	}
	g := c.Gateway
	if g.RequestsPerMinute < 0 {
		return fmt.Errorf("gateway: RequestsPerMinute must not be negative")
	}
	if g.Burst < 0 {
		return fmt.Errorf("gateway: Burst must not be negative")
	}
	if g.AuthSkewSeconds <= 0 {
		return fmt.Errorf("gateway: AuthSkewSeconds must be positive")
	}
	if g.MaxBodyBytes <= 0 {
		return fmt.Errorf("gateway: MaxBodyBytes must be positive")
	}
	if c.Relayer.Enabled && strings.EqualFold(c.Environment, "prod") {
		return fmt.Errorf("relayer: the built-in relayer is not allowed in prod")
	}
	if c.Relayer.Enabled && strings.TrimSpace(c.RelayerKeystorePath) == "" {
		return fmt.Errorf("relayer: RelayerKeystorePath must be set")
	}
	return nil
}

func validateListen(field, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("%s must be set", field)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s %q: %w", field, addr, err)
	}
	return nil
}
