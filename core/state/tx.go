package state

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tipsettle/native/tipping"
)

// Tx buffers writes in memory until Commit. Reads see the transaction's own
// writes first. A nil entry in writes marks a pending delete.
type Tx struct {
	manager *Manager
	writes  map[string][]byte
	closed  bool
}

var _ tipping.StoreTx = (*Tx)(nil)

func (t *Tx) get(key []byte) ([]byte, bool, error) {
	if t.closed {
		return nil, false, ErrTxClosed
	}
	if value, ok := t.writes[string(key)]; ok {
		if value == nil {
			return nil, false, nil
		}
		return value, true, nil
	}
	return t.manager.read(key)
}

func (t *Tx) put(key []byte, value interface{}) error {
	if t.closed {
		return ErrTxClosed
	}
	encoded, err := encode(value)
	if err != nil {
		return err
	}
	t.writes[string(key)] = encoded
	return nil
}

func (t *Tx) putRaw(key, value []byte) error {
	if t.closed {
		return ErrTxClosed
	}
	t.writes[string(key)] = value
	return nil
}

// Pending reports the number of buffered writes.
func (t *Tx) Pending() int { return len(t.writes) }

// Commit writes the buffered set as one atomic batch.
func (t *Tx) Commit() error {
	if t.closed {
		return ErrTxClosed
	}
	t.closed = true
	if len(t.writes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(t.writes))
	for k := range t.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t.manager.commitMu.Lock()
	defer t.manager.commitMu.Unlock()
	batch := t.manager.db.NewBatch()
	for _, k := range keys {
		if value := t.writes[k]; value == nil {
			batch.Delete([]byte(k))
		} else {
			batch.Put([]byte(k), value)
		}
	}
	t.writes = nil
	return batch.Write()
}

// Discard drops every buffered write. It is a no-op after Commit.
func (t *Tx) Discard() {
	t.closed = true
	t.writes = nil
}

// Balance implements tipping.Ledger.
func (t *Tx) Balance(addr common.Address) (*uint256.Int, error) {
	data, ok, err := t.get(balanceKey(addr))
	if err != nil || !ok {
		return new(uint256.Int), err
	}
	out := new(uint256.Int)
	if err := decode(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetBalance implements tipping.Ledger.
func (t *Tx) SetBalance(addr common.Address, amount *uint256.Int) error {
	return t.put(balanceKey(addr), normalizeAmount(amount))
}

func (t *Tx) Policy() (*tipping.Policy, bool, error) {
	data, ok, err := t.get(policyKey)
	if err != nil || !ok {
		return nil, false, err
	}
	policy := new(tipping.Policy)
	if err := decode(data, policy); err != nil {
		return nil, false, err
	}
	return policy, true, nil
}

func (t *Tx) PutPolicy(policy *tipping.Policy) error {
	if policy == nil {
		return tipping.ErrNilState
	}
	record := policy.Clone()
	record.MaxTipAmount = normalizeAmount(record.MaxTipAmount)
	record.BaseDailyCap = normalizeAmount(record.BaseDailyCap)
	record.StakeMultiplier = normalizeAmount(record.StakeMultiplier)
	return t.put(policyKey, record)
}

func (t *Tx) SenderState(addr common.Address) (*tipping.SenderState, bool, error) {
	data, ok, err := t.get(senderKey(addr))
	if err != nil || !ok {
		return nil, false, err
	}
	state := new(tipping.SenderState)
	if err := decode(data, state); err != nil {
		return nil, false, err
	}
	return state, true, nil
}

func (t *Tx) PutSenderState(addr common.Address, state *tipping.SenderState) error {
	if state == nil {
		return tipping.ErrNilState
	}
	record := state.Clone()
	record.DailyAmountSoFar = normalizeAmount(record.DailyAmountSoFar)
	return t.put(senderKey(addr), record)
}

func (t *Tx) StakeState(addr common.Address) (*tipping.StakeState, bool, error) {
	data, ok, err := t.get(stakeKey(addr))
	if err != nil || !ok {
		return nil, false, err
	}
	state := new(tipping.StakeState)
	if err := decode(data, state); err != nil {
		return nil, false, err
	}
	return state, true, nil
}

func (t *Tx) PutStakeState(addr common.Address, state *tipping.StakeState) error {
	if state == nil {
		return tipping.ErrNilState
	}
	record := state.Clone()
	record.StakedBalance = normalizeAmount(record.StakedBalance)
	record.PendingUnstakeAmount = normalizeAmount(record.PendingUnstakeAmount)
	return t.put(stakeKey(addr), record)
}

func (t *Tx) IsBlacklisted(addr common.Address) (bool, error) {
	data, ok, err := t.get(blacklistKey(addr))
	if err != nil || !ok {
		return false, err
	}
	return bytes.Equal(data, present), nil
}

// SetBlacklisted removes the entry when listed is false so the set stays
// iterable by prefix.
func (t *Tx) SetBlacklisted(addr common.Address, listed bool) error {
	if !listed {
		return t.putRaw(blacklistKey(addr), nil)
	}
	return t.putRaw(blacklistKey(addr), present)
}

func (t *Tx) DigestUsed(digest common.Hash) (bool, error) {
	_, ok, err := t.get(digestKey(digest))
	return ok, err
}

func (t *Tx) MarkDigestUsed(digest common.Hash) error {
	return t.putRaw(digestKey(digest), present)
}
