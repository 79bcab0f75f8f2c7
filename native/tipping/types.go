package tipping

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SecondsPerDay sizes the lazy daily accounting window.
const SecondsPerDay = 86400

// TipIntent is the off-chain signed instruction to move Amount from From to To.
// ContentRef is the hash of an off-chain content pointer (e.g. a CID).
type TipIntent struct {
	From       common.Address
	To         common.Address
	Amount     *uint256.Int
	ContentRef common.Hash
	Nonce      *uint256.Int
}

// Signature holds the recoverable secp256k1 signature components. V uses the
// 27/28 convention expected by ecrecover.
type Signature struct {
	V uint8
	R common.Hash
	S common.Hash
}

// SignatureFromBytes splits a 65 byte r||s||v signature.
func SignatureFromBytes(raw []byte) (Signature, error) {
	if len(raw) != 65 {
		return Signature{}, fmt.Errorf("%w: expected 65 bytes, got %d", ErrInvalidSignature, len(raw))
	}
	var sig Signature
	copy(sig.R[:], raw[:32])
	copy(sig.S[:], raw[32:64])
	sig.V = raw[64]
	return sig, nil
}

// Bytes renders the signature as r||s||v.
func (s Signature) Bytes() []byte {
	out := make([]byte, 65)
	copy(out[:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

// Policy is the process-wide settlement configuration. It is seeded once at
// genesis and only mutated through the admin operations on Engine.
type Policy struct {
	Owner               common.Address
	AuthorizedSigner    common.Address
	Custody             common.Address
	MinIntervalSeconds  uint64
	MaxTipAmount        *uint256.Int
	BaseDailyCap        *uint256.Int
	StakeMultiplier     *uint256.Int
	UnstakeDelaySeconds uint64
}

// Clone returns a deep copy of the policy.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	clone := *p
	clone.MaxTipAmount = cloneAmount(p.MaxTipAmount)
	clone.BaseDailyCap = cloneAmount(p.BaseDailyCap)
	clone.StakeMultiplier = cloneAmount(p.StakeMultiplier)
	return &clone
}

// PolicyParams groups the fairness knobs an owner may tune in one call.
type PolicyParams struct {
	MinIntervalSeconds uint64
	MaxTipAmount       *uint256.Int
	BaseDailyCap       *uint256.Int
	StakeMultiplier    *uint256.Int
}

// SenderState tracks rate limiting and daily volume for a tipping address.
// HasTipped distinguishes a first tip at timestamp zero from "never tipped".
type SenderState struct {
	HasTipped        bool
	LastTipTimestamp uint64
	DailyDayIndex    uint64
	DailyAmountSoFar *uint256.Int
}

// Clone returns a deep copy of the sender state.
func (s *SenderState) Clone() *SenderState {
	if s == nil {
		return nil
	}
	clone := *s
	clone.DailyAmountSoFar = cloneAmount(s.DailyAmountSoFar)
	return &clone
}

func newSenderState() *SenderState {
	return &SenderState{DailyAmountSoFar: new(uint256.Int)}
}

// StakeState tracks an address's custody position. UnstakePending stands in
// for a null UnstakeRequestedAt since zero is a valid request time.
type StakeState struct {
	StakedBalance        *uint256.Int
	PendingUnstakeAmount *uint256.Int
	UnstakeRequestedAt   uint64
	UnstakePending       bool
}

// Clone returns a deep copy of the stake state.
func (s *StakeState) Clone() *StakeState {
	if s == nil {
		return nil
	}
	clone := *s
	clone.StakedBalance = cloneAmount(s.StakedBalance)
	clone.PendingUnstakeAmount = cloneAmount(s.PendingUnstakeAmount)
	return &clone
}

// UnlockAt returns the first timestamp at which the pending amount may be
// withdrawn. The second value is false when nothing is pending.
func (s *StakeState) UnlockAt(delay uint64) (uint64, bool) {
	if s == nil || !s.UnstakePending {
		return 0, false
	}
	return saturatingAdd(s.UnstakeRequestedAt, delay), true
}

func newStakeState() *StakeState {
	return &StakeState{StakedBalance: new(uint256.Int), PendingUnstakeAmount: new(uint256.Int)}
}

// Receipt summarises a committed settlement.
type Receipt struct {
	Digest           common.Hash
	Intent           TipIntent
	Signer           common.Address
	SettledAt        uint64
	DailyAmountSoFar *uint256.Int
	EffectiveCap     *uint256.Int
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}
