package tipping

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Token moves the settlement asset. It runs inside the engine's transaction:
// implementations must write through ledger so a later failure rolls the
// movement back together with the rest of the call. The context carries the
// engine's reentrancy marker and must be passed along to any callback.
type Token interface {
	Transfer(ctx context.Context, ledger Ledger, from, to common.Address, amount *uint256.Int) error
}

// LedgerToken is the custodial balance map used by the daemon.
type LedgerToken struct{}

// Transfer implements Token.
func (LedgerToken) Transfer(_ context.Context, ledger Ledger, from, to common.Address, amount *uint256.Int) error {
	if ledger == nil {
		return ErrNilState
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	fromBal, err := ledger.Balance(from)
	if err != nil {
		return fmt.Errorf("load balance: %w", err)
	}
	if fromBal.Lt(amount) {
		return ErrInsufficientBalance
	}
	if from == to {
		return nil
	}
	toBal, err := ledger.Balance(to)
	if err != nil {
		return fmt.Errorf("load balance: %w", err)
	}
	credited, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return fmt.Errorf("tipping: recipient balance overflow")
	}
	if err := ledger.SetBalance(from, new(uint256.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return ledger.SetBalance(to, credited)
}
