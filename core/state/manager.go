package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"tipsettle/native/tipping"
	"tipsettle/storage"
)

var (
	policyKey       = ethcrypto.Keccak256([]byte("tipping/policy"))
	senderPrefix    = []byte("tipping/sender/")
	stakePrefix     = []byte("tipping/stake/")
	blacklistPrefix = []byte("tipping/blacklist/")
	digestPrefix    = []byte("tipping/digest/")
	balancePrefix   = []byte("balance/")

	present = []byte{1}
)

// ErrTxClosed is returned when a transaction is used after Commit or Discard.
var ErrTxClosed = errors.New("state: transaction closed")

func prefixedKey(prefix, id []byte) []byte {
	key := make([]byte, len(prefix)+len(id))
	copy(key, prefix)
	copy(key[len(prefix):], id)
	return key
}

func senderKey(addr common.Address) []byte    { return prefixedKey(senderPrefix, addr.Bytes()) }
func stakeKey(addr common.Address) []byte     { return prefixedKey(stakePrefix, addr.Bytes()) }
func blacklistKey(addr common.Address) []byte { return prefixedKey(blacklistPrefix, addr.Bytes()) }
func digestKey(digest common.Hash) []byte     { return prefixedKey(digestPrefix, digest.Bytes()) }
func balanceKey(addr common.Address) []byte   { return prefixedKey(balancePrefix, addr.Bytes()) }

// Manager owns the settlement state stored in a key-value database. Records
// are RLP encoded; every write goes through a Tx and lands in one batch.
type Manager struct {
	db storage.Database
	// commitMu orders batch writes when more than one Tx is open.
	commitMu sync.Mutex
}

// NewManager creates a state manager on top of db.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens a write-buffered transaction.
func (m *Manager) Begin() (tipping.StoreTx, error) {
	return m.BeginTx()
}

// BeginTx is Begin with the concrete transaction type.
func (m *Manager) BeginTx() (*Tx, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("state: database not configured")
	}
	return &Tx{manager: m, writes: make(map[string][]byte)}, nil
}

// Blacklisted lists every blacklisted address in key order.
func (m *Manager) Blacklisted() ([]common.Address, error) {
	var out []common.Address
	err := m.db.Iterate(blacklistPrefix, func(key, _ []byte) bool {
		out = append(out, common.BytesToAddress(key[len(blacklistPrefix):]))
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UsedDigestCount returns the size of the used-digest set.
func (m *Manager) UsedDigestCount() (uint64, error) {
	var count uint64
	err := m.db.Iterate(digestPrefix, func(_, _ []byte) bool {
		count++
		return true
	})
	return count, err
}

func (m *Manager) read(key []byte) ([]byte, bool, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func decode(data []byte, out interface{}) error {
	if err := rlp.DecodeBytes(data, out); err != nil {
		return fmt.Errorf("state: decode record: %w", err)
	}
	return nil
}

func encode(value interface{}) ([]byte, error) {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return nil, fmt.Errorf("state: encode record: %w", err)
	}
	return encoded, nil
}

func normalizeAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
