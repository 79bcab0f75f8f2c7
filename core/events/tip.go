package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tipsettle/core/types"
)

const (
	// TypeTipSettled is emitted once per committed settlement. Indexers must
	// treat it as append-only and dedupe by digest.
	TypeTipSettled = "tip.settled"
	// TypeStakeDeposited is emitted when a sender moves tokens into custody.
	TypeStakeDeposited = "tip.stake.deposited"
	// TypeUnstakeInitiated is emitted when staked funds start their unlock delay.
	TypeUnstakeInitiated = "tip.stake.unstakeInitiated"
	// TypeUnstakeWithdrawn is emitted when unlocked funds leave custody.
	TypeUnstakeWithdrawn = "tip.stake.withdrawn"
	// TypeSignerRotated is emitted when the authorized relayer changes.
	TypeSignerRotated = "tip.admin.signerRotated"
	// TypePolicyUpdated is emitted when fairness parameters change.
	TypePolicyUpdated = "tip.admin.policyUpdated"
	// TypeBlacklistUpdated is emitted when an address is added to or removed from the blacklist.
	TypeBlacklistUpdated = "tip.admin.blacklistUpdated"
	// TypeOwnershipTransferred is emitted when the admin authority changes hands.
	TypeOwnershipTransferred = "tip.admin.ownershipTransferred"
)

// TipSettled carries the committed transfer for downstream indexers.
type TipSettled struct {
	Digest     common.Hash
	From       common.Address
	To         common.Address
	Amount     *uint256.Int
	Nonce      *uint256.Int
	ContentRef common.Hash
	SettledAt  uint64
}

// EventType satisfies the Event interface.
func (TipSettled) EventType() string { return TypeTipSettled }

// Event converts the structured payload into a broadcastable event.
func (e TipSettled) Event() *types.Event {
	attrs := map[string]string{
		"digest": e.Digest.Hex(),
		"from":   formatAddress(e.From),
		"to":     formatAddress(e.To),
		"amount": formatAmount(e.Amount),
		"nonce":  formatAmount(e.Nonce),
	}
	if e.ContentRef != (common.Hash{}) {
		attrs["contentRef"] = e.ContentRef.Hex()
	}
	if e.SettledAt > 0 {
		attrs["settledAt"] = formatUint(e.SettledAt)
	}
	return &types.Event{Type: TypeTipSettled, Attributes: attrs}
}

// StakeDeposited records a stake deposit and the resulting staked balance.
type StakeDeposited struct {
	Account common.Address
	Amount  *uint256.Int
	Staked  *uint256.Int
}

// EventType satisfies the Event interface.
func (StakeDeposited) EventType() string { return TypeStakeDeposited }

// Event converts the structured payload into a broadcastable event.
func (e StakeDeposited) Event() *types.Event {
	return &types.Event{Type: TypeStakeDeposited, Attributes: map[string]string{
		"addr":   formatAddress(e.Account),
		"amount": formatAmount(e.Amount),
		"staked": formatAmount(e.Staked),
	}}
}

// UnstakeInitiated records a pending unstake request. Superseded captures the
// amount of an earlier request folded back into the staked balance.
type UnstakeInitiated struct {
	Account     common.Address
	Amount      *uint256.Int
	Superseded  *uint256.Int
	RequestedAt uint64
	UnlockAt    uint64
}

// EventType satisfies the Event interface.
func (UnstakeInitiated) EventType() string { return TypeUnstakeInitiated }

// Event converts the structured payload into a broadcastable event.
func (e UnstakeInitiated) Event() *types.Event {
	attrs := map[string]string{
		"addr":        formatAddress(e.Account),
		"amount":      formatAmount(e.Amount),
		"requestedAt": formatUint(e.RequestedAt),
		"unlockAt":    formatUint(e.UnlockAt),
	}
	if e.Superseded != nil && !e.Superseded.IsZero() {
		attrs["superseded"] = formatAmount(e.Superseded)
	}
	return &types.Event{Type: TypeUnstakeInitiated, Attributes: attrs}
}

// UnstakeWithdrawn records funds returned from custody.
type UnstakeWithdrawn struct {
	Account   common.Address
	Amount    *uint256.Int
	Remaining *uint256.Int
}

// EventType satisfies the Event interface.
func (UnstakeWithdrawn) EventType() string { return TypeUnstakeWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e UnstakeWithdrawn) Event() *types.Event {
	return &types.Event{Type: TypeUnstakeWithdrawn, Attributes: map[string]string{
		"addr":      formatAddress(e.Account),
		"amount":    formatAmount(e.Amount),
		"remaining": formatAmount(e.Remaining),
	}}
}

// SignerRotated records a change of the authorized relayer.
type SignerRotated struct {
	Previous common.Address
	Current  common.Address
}

// EventType satisfies the Event interface.
func (SignerRotated) EventType() string { return TypeSignerRotated }

// Event converts the structured payload into a broadcastable event.
func (e SignerRotated) Event() *types.Event {
	return &types.Event{Type: TypeSignerRotated, Attributes: map[string]string{
		"previous": formatAddress(e.Previous),
		"current":  formatAddress(e.Current),
	}}
}

// PolicyUpdated records the full set of fairness parameters after an update.
type PolicyUpdated struct {
	MinIntervalSeconds  uint64
	MaxTipAmount        *uint256.Int
	BaseDailyCap        *uint256.Int
	StakeMultiplier     *uint256.Int
	UnstakeDelaySeconds uint64
}

// EventType satisfies the Event interface.
func (PolicyUpdated) EventType() string { return TypePolicyUpdated }

// Event converts the structured payload into a broadcastable event.
func (e PolicyUpdated) Event() *types.Event {
	return &types.Event{Type: TypePolicyUpdated, Attributes: map[string]string{
		"minIntervalSeconds":  formatUint(e.MinIntervalSeconds),
		"maxTipAmount":        formatAmount(e.MaxTipAmount),
		"baseDailyCap":        formatAmount(e.BaseDailyCap),
		"stakeMultiplier":     formatAmount(e.StakeMultiplier),
		"unstakeDelaySeconds": formatUint(e.UnstakeDelaySeconds),
	}}
}

// BlacklistUpdated records a blacklist toggle.
type BlacklistUpdated struct {
	Account     common.Address
	Blacklisted bool
}

// EventType satisfies the Event interface.
func (BlacklistUpdated) EventType() string { return TypeBlacklistUpdated }

// Event converts the structured payload into a broadcastable event.
func (e BlacklistUpdated) Event() *types.Event {
	status := "false"
	if e.Blacklisted {
		status = "true"
	}
	return &types.Event{Type: TypeBlacklistUpdated, Attributes: map[string]string{
		"addr":        formatAddress(e.Account),
		"blacklisted": status,
	}}
}

// OwnershipTransferred records an admin authority handover.
type OwnershipTransferred struct {
	Previous common.Address
	Current  common.Address
}

// EventType satisfies the Event interface.
func (OwnershipTransferred) EventType() string { return TypeOwnershipTransferred }

// Event converts the structured payload into a broadcastable event.
func (e OwnershipTransferred) Event() *types.Event {
	return &types.Event{Type: TypeOwnershipTransferred, Attributes: map[string]string{
		"previous": formatAddress(e.Previous),
		"current":  formatAddress(e.Current),
	}}
}
