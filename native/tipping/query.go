package tipping

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// read runs fn in a transaction that is always discarded.
func (e *Engine) read(ctx context.Context, fn func(tx StoreTx, policy *Policy) error) error {
	if e == nil || e.store == nil {
		return ErrNilState
	}
	if ctx == nil {
		ctx = context.Background()
	}
	release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	tx, err := e.store.Begin()
	if err != nil {
		return fmt.Errorf("tipping: begin: %w", err)
	}
	defer tx.Discard()
	policy, ok, err := tx.Policy()
	if err != nil {
		return fmt.Errorf("tipping: load policy: %w", err)
	}
	if !ok || policy == nil {
		return ErrNotInitialised
	}
	return fn(tx, policy)
}

// IsDigestUsed reports whether digest has already been settled.
func (e *Engine) IsDigestUsed(ctx context.Context, digest common.Hash) (bool, error) {
	var used bool
	err := e.read(ctx, func(tx StoreTx, _ *Policy) error {
		var err error
		used, err = tx.DigestUsed(digest)
		return err
	})
	return used, err
}

// EffectiveDailyCap returns BaseDailyCap + StakedBalance*StakeMultiplier for addr.
func (e *Engine) EffectiveDailyCap(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	var limit *uint256.Int
	err := e.read(ctx, func(tx StoreTx, policy *Policy) error {
		stake, _, err := tx.StakeState(addr)
		if err != nil {
			return err
		}
		limit = effectiveCap(policy, stake)
		return nil
	})
	return limit, err
}

// StakeBalance returns the currently staked (not pending) balance of addr.
func (e *Engine) StakeBalance(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	state, err := e.StakeState(ctx, addr)
	if err != nil {
		return nil, err
	}
	return state.StakedBalance, nil
}

// StakeState returns the full custody position of addr.
func (e *Engine) StakeState(ctx context.Context, addr common.Address) (*StakeState, error) {
	var out *StakeState
	err := e.read(ctx, func(tx StoreTx, _ *Policy) error {
		stake, ok, err := tx.StakeState(addr)
		if err != nil {
			return err
		}
		if !ok || stake == nil {
			stake = newStakeState()
		}
		out = stake.Clone()
		return nil
	})
	return out, err
}

// SenderState returns the stored fairness counters of addr. The daily amount
// is as last committed; the rollover happens on the next tip.
func (e *Engine) SenderState(ctx context.Context, addr common.Address) (*SenderState, error) {
	var out *SenderState
	err := e.read(ctx, func(tx StoreTx, _ *Policy) error {
		sender, ok, err := tx.SenderState(addr)
		if err != nil {
			return err
		}
		if !ok || sender == nil {
			sender = newSenderState()
		}
		out = sender.Clone()
		return nil
	})
	return out, err
}

// PolicySnapshot returns a copy of the active settlement policy.
func (e *Engine) PolicySnapshot(ctx context.Context) (*Policy, error) {
	var out *Policy
	err := e.read(ctx, func(_ StoreTx, policy *Policy) error {
		out = policy.Clone()
		return nil
	})
	return out, err
}

// IsBlacklisted reports whether addr is currently blacklisted.
func (e *Engine) IsBlacklisted(ctx context.Context, addr common.Address) (bool, error) {
	var listed bool
	err := e.read(ctx, func(tx StoreTx, _ *Policy) error {
		var err error
		listed, err = tx.IsBlacklisted(addr)
		return err
	})
	return listed, err
}

// Balance returns the custodial token balance of addr.
func (e *Engine) Balance(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := e.read(ctx, func(tx StoreTx, _ *Policy) error {
		bal, err := tx.Balance(addr)
		if err != nil {
			return err
		}
		out = cloneAmount(bal)
		return nil
	})
	return out, err
}
