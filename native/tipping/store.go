package tipping

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Ledger is the balance view handed to a Token during a call. Writes are
// buffered in the surrounding transaction and only land on Commit.
type Ledger interface {
	Balance(addr common.Address) (*uint256.Int, error)
	SetBalance(addr common.Address, amount *uint256.Int) error
}

// StoreTx is a write-buffered unit of work over the settlement state. Nothing
// written through it is observable until Commit succeeds; Discard drops the
// buffer and is safe to call after Commit.
type StoreTx interface {
	Ledger

	Policy() (*Policy, bool, error)
	PutPolicy(policy *Policy) error

	SenderState(addr common.Address) (*SenderState, bool, error)
	PutSenderState(addr common.Address, state *SenderState) error

	StakeState(addr common.Address) (*StakeState, bool, error)
	PutStakeState(addr common.Address, state *StakeState) error

	IsBlacklisted(addr common.Address) (bool, error)
	SetBlacklisted(addr common.Address, blacklisted bool) error

	DigestUsed(digest common.Hash) (bool, error)
	MarkDigestUsed(digest common.Hash) error

	Commit() error
	Discard()
}

// Store opens transactions against the settlement state.
type Store interface {
	Begin() (StoreTx, error)
}
