package tipping

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

type mockData struct {
	policy    *Policy
	senders   map[common.Address]*SenderState
	stakes    map[common.Address]*StakeState
	blacklist map[common.Address]bool
	digests   map[common.Hash]bool
	balances  map[common.Address]*uint256.Int
}

func (d *mockData) clone() *mockData {
	out := &mockData{
		policy:    d.policy.Clone(),
		senders:   make(map[common.Address]*SenderState, len(d.senders)),
		stakes:    make(map[common.Address]*StakeState, len(d.stakes)),
		blacklist: make(map[common.Address]bool, len(d.blacklist)),
		digests:   make(map[common.Hash]bool, len(d.digests)),
		balances:  make(map[common.Address]*uint256.Int, len(d.balances)),
	}
	for k, v := range d.senders {
		out.senders[k] = v.Clone()
	}
	for k, v := range d.stakes {
		out.stakes[k] = v.Clone()
	}
	for k, v := range d.blacklist {
		out.blacklist[k] = v
	}
	for k, v := range d.digests {
		out.digests[k] = v
	}
	for k, v := range d.balances {
		out.balances[k] = cloneAmount(v)
	}
	return out
}

// mockStore keeps committed data in memory; each transaction works on a deep
// copy that replaces the committed data on Commit.
type mockStore struct {
	data    *mockData
	commits int
}

func newMockStore() *mockStore {
	return &mockStore{data: &mockData{
		senders:   make(map[common.Address]*SenderState),
		stakes:    make(map[common.Address]*StakeState),
		blacklist: make(map[common.Address]bool),
		digests:   make(map[common.Hash]bool),
		balances:  make(map[common.Address]*uint256.Int),
	}}
}

func (m *mockStore) Begin() (StoreTx, error) {
	return &mockTx{store: m, data: m.data.clone()}, nil
}

func (m *mockStore) snapshot() *mockData { return m.data.clone() }

func (m *mockStore) setBalance(addr common.Address, amount uint64) {
	m.data.balances[addr] = uint256.NewInt(amount)
}

func (m *mockStore) balance(addr common.Address) uint64 {
	if bal, ok := m.data.balances[addr]; ok && bal != nil {
		return bal.Uint64()
	}
	return 0
}

type mockTx struct {
	store *mockStore
	data  *mockData
	done  bool
}

func (t *mockTx) Balance(addr common.Address) (*uint256.Int, error) {
	return cloneAmount(t.data.balances[addr]), nil
}

func (t *mockTx) SetBalance(addr common.Address, amount *uint256.Int) error {
	t.data.balances[addr] = cloneAmount(amount)
	return nil
}

func (t *mockTx) Policy() (*Policy, bool, error) {
	if t.data.policy == nil {
		return nil, false, nil
	}
	return t.data.policy.Clone(), true, nil
}

func (t *mockTx) PutPolicy(policy *Policy) error {
	t.data.policy = policy.Clone()
	return nil
}

func (t *mockTx) SenderState(addr common.Address) (*SenderState, bool, error) {
	state, ok := t.data.senders[addr]
	if !ok {
		return nil, false, nil
	}
	return state.Clone(), true, nil
}

func (t *mockTx) PutSenderState(addr common.Address, state *SenderState) error {
	t.data.senders[addr] = state.Clone()
	return nil
}

func (t *mockTx) StakeState(addr common.Address) (*StakeState, bool, error) {
	state, ok := t.data.stakes[addr]
	if !ok {
		return nil, false, nil
	}
	return state.Clone(), true, nil
}

func (t *mockTx) PutStakeState(addr common.Address, state *StakeState) error {
	t.data.stakes[addr] = state.Clone()
	return nil
}

func (t *mockTx) IsBlacklisted(addr common.Address) (bool, error) {
	return t.data.blacklist[addr], nil
}

func (t *mockTx) SetBlacklisted(addr common.Address, listed bool) error {
	if !listed {
		delete(t.data.blacklist, addr)
		return nil
	}
	t.data.blacklist[addr] = true
	return nil
}

func (t *mockTx) DigestUsed(digest common.Hash) (bool, error) {
	return t.data.digests[digest], nil
}

func (t *mockTx) MarkDigestUsed(digest common.Hash) error {
	t.data.digests[digest] = true
	return nil
}

func (t *mockTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.data = t.data
	t.store.commits++
	return nil
}

func (t *mockTx) Discard() { t.done = true }

func addr(last byte) common.Address {
	var out common.Address
	out[19] = last
	return out
}

type fixture struct {
	store   *mockStore
	engine  *Engine
	relayer *ecdsa.PrivateKey
	owner   common.Address
	custody common.Address
	now     int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate relayer key: %v", err)
	}
	f := &fixture{
		store:   newMockStore(),
		relayer: key,
		owner:   addr(0xF0),
		custody: addr(0xC0),
	}
	f.store.data.policy = &Policy{
		Owner:               f.owner,
		AuthorizedSigner:    ethcrypto.PubkeyToAddress(key.PublicKey),
		Custody:             f.custody,
		MinIntervalSeconds:  60,
		MaxTipAmount:        uint256.NewInt(100),
		BaseDailyCap:        uint256.NewInt(50),
		StakeMultiplier:     uint256.NewInt(1),
		UnstakeDelaySeconds: SecondsPerDay,
	}
	f.engine = NewEngine(f.store)
	f.engine.SetNowFunc(func() int64 { return f.now })
	return f
}

func (f *fixture) intent(from, to common.Address, amount, nonce uint64) TipIntent {
	return TipIntent{
		From:       from,
		To:         to,
		Amount:     uint256.NewInt(amount),
		ContentRef: ContentRefFromPointer("ipfs://bafy-content"),
		Nonce:      uint256.NewInt(nonce),
	}
}

func (f *fixture) sign(t *testing.T, intent TipIntent) Signature {
	t.Helper()
	_, sig, err := SignIntent(f.relayer, intent)
	if err != nil {
		t.Fatalf("sign intent: %v", err)
	}
	return sig
}
