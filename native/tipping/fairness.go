package tipping

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var maxUint256 = new(uint256.Int).SetAllOne()

// effectiveCap is BaseDailyCap + StakedBalance*StakeMultiplier, saturating at
// 2^256-1. Pending unstake amounts never contribute.
func effectiveCap(policy *Policy, stake *StakeState) *uint256.Int {
	base := cloneAmount(policy.BaseDailyCap)
	if stake == nil || stake.StakedBalance == nil || stake.StakedBalance.IsZero() {
		return base
	}
	bonus, overflow := new(uint256.Int).MulOverflow(stake.StakedBalance, cloneAmount(policy.StakeMultiplier))
	if overflow {
		return new(uint256.Int).Set(maxUint256)
	}
	total, overflow := new(uint256.Int).AddOverflow(base, bonus)
	if overflow {
		return new(uint256.Int).Set(maxUint256)
	}
	return total
}

// admission is the outcome of a successful fairness check: the sender state to
// commit and the cap it was checked against.
type admission struct {
	next *SenderState
	cap  *uint256.Int
}

// admit evaluates the fairness rules in their fixed order and returns the
// sender state to persist on success. Nothing is written to tx.
func admit(tx StoreTx, policy *Policy, from, to common.Address, amount *uint256.Int, now uint64) (*admission, error) {
	if from == to {
		return nil, ErrSelfTip
	}
	for _, addr := range [2]common.Address{from, to} {
		listed, err := tx.IsBlacklisted(addr)
		if err != nil {
			return nil, err
		}
		if listed {
			return nil, ErrBlacklisted
		}
	}
	if amount.Gt(cloneAmount(policy.MaxTipAmount)) {
		return nil, ErrAmountExceedsCap
	}

	sender, ok, err := tx.SenderState(from)
	if err != nil {
		return nil, err
	}
	if !ok || sender == nil {
		sender = newSenderState()
	}
	next := sender.Clone()

	// The interval only applies once the sender has tipped before. A clock
	// that runs behind the last tip is treated as inside the interval.
	if next.HasTipped {
		if now < next.LastTipTimestamp || now-next.LastTipTimestamp < policy.MinIntervalSeconds {
			return nil, ErrRateLimited
		}
	}

	day := now / SecondsPerDay
	if day != next.DailyDayIndex {
		next.DailyDayIndex = day
		next.DailyAmountSoFar = new(uint256.Int)
	}

	stake, _, err := tx.StakeState(from)
	if err != nil {
		return nil, err
	}
	limit := effectiveCap(policy, stake)
	spent, overflow := new(uint256.Int).AddOverflow(next.DailyAmountSoFar, amount)
	if overflow || spent.Gt(limit) {
		return nil, ErrDailyCapExceeded
	}

	next.LastTipTimestamp = now
	next.HasTipped = true
	next.DailyAmountSoFar = spent
	return &admission{next: next, cap: limit}, nil
}
