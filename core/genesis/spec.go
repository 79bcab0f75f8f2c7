package genesis

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"tipsettle/crypto"
	"tipsettle/native/tipping"
)

// GenesisSpec seeds the settlement policy and initial custodial balances.
// Accounts may be written as 0x hex or tip-prefixed bech32.
type GenesisSpec struct {
	Owner            string            `yaml:"owner"`
	AuthorizedSigner string            `yaml:"authorizedSigner"`
	Custody          string            `yaml:"custody"`
	Policy           PolicySpec        `yaml:"policy"`
	Alloc            map[string]string `yaml:"alloc"` // addr -> amount
	Blacklist        []string          `yaml:"blacklist"`

	policy    *tipping.Policy
	alloc     map[common.Address]*uint256.Int
	blacklist []common.Address
}

// PolicySpec carries the fairness knobs. Amounts are decimal strings.
type PolicySpec struct {
	MinIntervalSeconds  uint64 `yaml:"minIntervalSeconds"`
	MaxTipAmount        string `yaml:"maxTipAmount"`
	BaseDailyCap        string `yaml:"baseDailyCap"`
	StakeMultiplier     string `yaml:"stakeMultiplier"`
	UnstakeDelaySeconds uint64 `yaml:"unstakeDelaySeconds"`
}

// LoadGenesisSpec reads and validates a YAML genesis file. Unknown fields are
// rejected.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := ParseGenesisSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseGenesisSpec decodes and validates raw YAML.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

// SettlementPolicy returns the validated policy.
func (s *GenesisSpec) SettlementPolicy() *tipping.Policy { return s.policy.Clone() }

func (s *GenesisSpec) validate() error {
	owner, err := parseAccount("owner", s.Owner, true)
	if err != nil {
		return err
	}
	signer, err := parseAccount("authorizedSigner", s.AuthorizedSigner, false)
	if err != nil {
		return err
	}
	custody, err := parseAccount("custody", s.Custody, true)
	if err != nil {
		return err
	}
	maxTip, err := parseAmountString(s.Policy.MaxTipAmount)
	if err != nil {
		return fmt.Errorf("policy.maxTipAmount: %w", err)
	}
	baseCap, err := parseAmountString(s.Policy.BaseDailyCap)
	if err != nil {
		return fmt.Errorf("policy.baseDailyCap: %w", err)
	}
	multiplier, err := parseAmountString(s.Policy.StakeMultiplier)
	if err != nil {
		return fmt.Errorf("policy.stakeMultiplier: %w", err)
	}
	s.policy = &tipping.Policy{
		Owner:               owner,
		AuthorizedSigner:    signer,
		Custody:             custody,
		MinIntervalSeconds:  s.Policy.MinIntervalSeconds,
		MaxTipAmount:        maxTip,
		BaseDailyCap:        baseCap,
		StakeMultiplier:     multiplier,
		UnstakeDelaySeconds: s.Policy.UnstakeDelaySeconds,
	}

	s.alloc = make(map[common.Address]*uint256.Int, len(s.Alloc))
	for raw, amount := range s.Alloc {
		addr, err := parseAccount("alloc", raw, true)
		if err != nil {
			return err
		}
		if _, dup := s.alloc[addr]; dup {
			return fmt.Errorf("alloc: duplicate account %s", addr.Hex())
		}
		value, err := parseAmountString(amount)
		if err != nil {
			return fmt.Errorf("alloc %s: %w", raw, err)
		}
		s.alloc[addr] = value
	}

	s.blacklist = s.blacklist[:0]
	for i, raw := range s.Blacklist {
		addr, err := parseAccount(fmt.Sprintf("blacklist[%d]", i), raw, true)
		if err != nil {
			return err
		}
		s.blacklist = append(s.blacklist, addr)
	}
	return nil
}

func parseAccount(field, raw string, required bool) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		if required {
			return common.Address{}, fmt.Errorf("%s must be provided", field)
		}
		return common.Address{}, nil
	}
	addr, err := crypto.ParseAccount(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	if required && addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s must not be the zero address", field)
	}
	return addr, nil
}

func parseAmountString(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return amount, nil
}
