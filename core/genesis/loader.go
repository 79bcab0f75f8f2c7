package genesis

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"tipsettle/core/state"
)

// ErrAlreadyInitialised is returned when the state already holds a policy.
var ErrAlreadyInitialised = errors.New("genesis: settlement state already initialised")

// Apply writes the policy, balances and blacklist in one transaction. It
// refuses to overwrite an initialised state so restarts never reset
// accounting.
func Apply(spec *GenesisSpec, manager *state.Manager) error {
	if spec == nil || spec.policy == nil {
		return fmt.Errorf("genesis spec must be validated before apply")
	}
	if manager == nil {
		return fmt.Errorf("state manager must not be nil")
	}
	tx, err := manager.BeginTx()
	if err != nil {
		return err
	}
	defer tx.Discard()

	if _, ok, err := tx.Policy(); err != nil {
		return fmt.Errorf("load policy: %w", err)
	} else if ok {
		return ErrAlreadyInitialised
	}
	if err := tx.PutPolicy(spec.policy); err != nil {
		return fmt.Errorf("write policy: %w", err)
	}

	accounts := make([]common.Address, 0, len(spec.alloc))
	for addr := range spec.alloc {
		accounts = append(accounts, addr)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return bytes.Compare(accounts[i].Bytes(), accounts[j].Bytes()) < 0
	})
	for _, addr := range accounts {
		if err := tx.SetBalance(addr, spec.alloc[addr]); err != nil {
			return fmt.Errorf("alloc %s: %w", addr.Hex(), err)
		}
	}
	for _, addr := range spec.blacklist {
		if err := tx.SetBlacklisted(addr, true); err != nil {
			return fmt.Errorf("blacklist %s: %w", addr.Hex(), err)
		}
	}
	return tx.Commit()
}
