package tipping

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tipsettle/core/events"
)

func loadStake(tx StoreTx, addr common.Address) (*StakeState, error) {
	stake, ok, err := tx.StakeState(addr)
	if err != nil {
		return nil, err
	}
	if !ok || stake == nil {
		return newStakeState(), nil
	}
	next := stake.Clone()
	if next.StakedBalance == nil {
		next.StakedBalance = new(uint256.Int)
	}
	if next.PendingUnstakeAmount == nil {
		next.PendingUnstakeAmount = new(uint256.Int)
	}
	return next, nil
}

func validateStakeCall(sender common.Address, amount *uint256.Int, policy *Policy) error {
	if sender == (common.Address{}) || sender == policy.Custody {
		return ErrInvalidAddresses
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidTipAmount
	}
	if policy.Custody == (common.Address{}) {
		return ErrCustodyNotSet
	}
	return nil
}

// Stake moves amount from the sender's balance into custody and credits it to
// the sender's staked balance. There is no upper bound.
func (e *Engine) Stake(ctx context.Context, sender common.Address, amount *uint256.Int) (*StakeState, error) {
	var out *StakeState
	err := e.run(ctx, "stake", func(ctx context.Context, tx StoreTx, policy *Policy) ([]events.Event, error) {
		if err := validateStakeCall(sender, amount, policy); err != nil {
			return nil, err
		}
		stake, err := loadStake(tx, sender)
		if err != nil {
			return nil, err
		}
		staked, overflow := new(uint256.Int).AddOverflow(stake.StakedBalance, amount)
		if overflow {
			return nil, ErrInsufficientBalance
		}
		if err := e.transfer(ctx, tx, sender, policy.Custody, amount); err != nil {
			return nil, err
		}
		stake.StakedBalance = staked
		if err := tx.PutStakeState(sender, stake); err != nil {
			return nil, err
		}
		out = stake.Clone()
		return []events.Event{events.StakeDeposited{
			Account: sender,
			Amount:  cloneAmount(amount),
			Staked:  cloneAmount(staked),
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InitiateUnstake moves amount from the staked balance into a pending request
// that unlocks after the policy's unstake delay. A request that is still
// pending is superseded: its amount returns to the staked balance first and
// the new request restarts the timer for everything pending. amount is
// therefore validated against the staked balance plus any superseded pending
// amount, not the staked balance alone.
func (e *Engine) InitiateUnstake(ctx context.Context, sender common.Address, amount *uint256.Int) (*StakeState, error) {
	var out *StakeState
	err := e.run(ctx, "initiate_unstake", func(_ context.Context, tx StoreTx, policy *Policy) ([]events.Event, error) {
		if sender == (common.Address{}) || sender == policy.Custody {
			return nil, ErrInvalidAddresses
		}
		if amount == nil || amount.IsZero() {
			return nil, ErrInvalidTipAmount
		}
		stake, err := loadStake(tx, sender)
		if err != nil {
			return nil, err
		}
		superseded := new(uint256.Int)
		available := new(uint256.Int).Set(stake.StakedBalance)
		if stake.UnstakePending && !stake.PendingUnstakeAmount.IsZero() {
			superseded.Set(stake.PendingUnstakeAmount)
			var overflow bool
			available, overflow = new(uint256.Int).AddOverflow(available, superseded)
			if overflow {
				available.Set(maxUint256)
			}
		}
		if amount.Gt(available) {
			return nil, ErrInsufficientStake
		}
		now := e.now()
		stake.StakedBalance = new(uint256.Int).Sub(available, amount)
		stake.PendingUnstakeAmount = cloneAmount(amount)
		stake.UnstakeRequestedAt = now
		stake.UnstakePending = true
		if err := tx.PutStakeState(sender, stake); err != nil {
			return nil, err
		}
		out = stake.Clone()
		unlockAt, _ := stake.UnlockAt(policy.UnstakeDelaySeconds)
		return []events.Event{events.UnstakeInitiated{
			Account:     sender,
			Amount:      cloneAmount(amount),
			Superseded:  superseded,
			RequestedAt: now,
			UnlockAt:    unlockAt,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WithdrawUnstaked returns amount of an unlocked pending request from custody
// to the sender. Partial withdrawals keep the original request time.
func (e *Engine) WithdrawUnstaked(ctx context.Context, sender common.Address, amount *uint256.Int) (*StakeState, error) {
	var out *StakeState
	err := e.run(ctx, "withdraw_unstaked", func(ctx context.Context, tx StoreTx, policy *Policy) ([]events.Event, error) {
		if err := validateStakeCall(sender, amount, policy); err != nil {
			return nil, err
		}
		stake, err := loadStake(tx, sender)
		if err != nil {
			return nil, err
		}
		unlockAt, pending := stake.UnlockAt(policy.UnstakeDelaySeconds)
		if !pending || stake.PendingUnstakeAmount.IsZero() {
			return nil, ErrNoPendingUnstake
		}
		if e.now() < unlockAt {
			return nil, ErrUnstakeNotReady
		}
		if amount.Gt(stake.PendingUnstakeAmount) {
			return nil, ErrInsufficientPending
		}
		if err := e.transfer(ctx, tx, policy.Custody, sender, amount); err != nil {
			return nil, err
		}
		stake.PendingUnstakeAmount = new(uint256.Int).Sub(stake.PendingUnstakeAmount, amount)
		if stake.PendingUnstakeAmount.IsZero() {
			stake.UnstakePending = false
			stake.UnstakeRequestedAt = 0
		}
		if err := tx.PutStakeState(sender, stake); err != nil {
			return nil, err
		}
		out = stake.Clone()
		return []events.Event{events.UnstakeWithdrawn{
			Account:   sender,
			Amount:    cloneAmount(amount),
			Remaining: cloneAmount(stake.PendingUnstakeAmount),
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
