package tipping

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"tipsettle/core/events"
)

// admin runs fn for the policy owner only. fn mutates the policy copy it is
// handed; the copy is persisted when fn succeeds.
func (e *Engine) admin(ctx context.Context, operation string, caller common.Address, fn func(tx StoreTx, policy *Policy) ([]events.Event, error)) error {
	return e.run(ctx, operation, func(_ context.Context, tx StoreTx, current *Policy) ([]events.Event, error) {
		if caller == (common.Address{}) || caller != current.Owner {
			return nil, ErrUnauthorizedAdmin
		}
		next := current.Clone()
		emitted, err := fn(tx, next)
		if err != nil {
			return nil, err
		}
		if err := tx.PutPolicy(next); err != nil {
			return nil, err
		}
		return emitted, nil
	})
}

// SetAuthorizedSigner rotates the relayer key accepted by Settle. The zero
// address is accepted and leaves no signature valid.
func (e *Engine) SetAuthorizedSigner(ctx context.Context, caller, signer common.Address) error {
	return e.admin(ctx, "set_authorized_signer", caller, func(_ StoreTx, policy *Policy) ([]events.Event, error) {
		previous := policy.AuthorizedSigner
		policy.AuthorizedSigner = signer
		return []events.Event{events.SignerRotated{Previous: previous, Current: signer}}, nil
	})
}

// SetPolicyParameters replaces the fairness knobs. Values are not range
// checked: a zero MaxTipAmount rejects every tip.
func (e *Engine) SetPolicyParameters(ctx context.Context, caller common.Address, params PolicyParams) error {
	return e.admin(ctx, "set_policy_parameters", caller, func(_ StoreTx, policy *Policy) ([]events.Event, error) {
		policy.MinIntervalSeconds = params.MinIntervalSeconds
		policy.MaxTipAmount = cloneAmount(params.MaxTipAmount)
		policy.BaseDailyCap = cloneAmount(params.BaseDailyCap)
		policy.StakeMultiplier = cloneAmount(params.StakeMultiplier)
		return []events.Event{policyUpdated(policy)}, nil
	})
}

// SetUnstakeDelay changes the unlock delay. It applies to requests already
// pending since unlock time is derived at withdrawal.
func (e *Engine) SetUnstakeDelay(ctx context.Context, caller common.Address, seconds uint64) error {
	return e.admin(ctx, "set_unstake_delay", caller, func(_ StoreTx, policy *Policy) ([]events.Event, error) {
		policy.UnstakeDelaySeconds = seconds
		return []events.Event{policyUpdated(policy)}, nil
	})
}

// SetBlacklist adds or removes addr from the blacklist.
func (e *Engine) SetBlacklist(ctx context.Context, caller, addr common.Address, listed bool) error {
	return e.admin(ctx, "set_blacklist", caller, func(tx StoreTx, _ *Policy) ([]events.Event, error) {
		if addr == (common.Address{}) {
			return nil, ErrInvalidAddresses
		}
		if err := tx.SetBlacklisted(addr, listed); err != nil {
			return nil, err
		}
		return []events.Event{events.BlacklistUpdated{Account: addr, Blacklisted: listed}}, nil
	})
}

// TransferOwnership hands the admin authority to owner.
func (e *Engine) TransferOwnership(ctx context.Context, caller, owner common.Address) error {
	return e.admin(ctx, "transfer_ownership", caller, func(_ StoreTx, policy *Policy) ([]events.Event, error) {
		if owner == (common.Address{}) {
			return nil, ErrInvalidAddresses
		}
		previous := policy.Owner
		policy.Owner = owner
		return []events.Event{events.OwnershipTransferred{Previous: previous, Current: owner}}, nil
	})
}

func policyUpdated(policy *Policy) events.PolicyUpdated {
	return events.PolicyUpdated{
		MinIntervalSeconds:  policy.MinIntervalSeconds,
		MaxTipAmount:        cloneAmount(policy.MaxTipAmount),
		BaseDailyCap:        cloneAmount(policy.BaseDailyCap),
		StakeMultiplier:     cloneAmount(policy.StakeMultiplier),
		UnstakeDelaySeconds: policy.UnstakeDelaySeconds,
	}
}
