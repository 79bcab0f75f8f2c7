package tipping_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"tipsettle/core/genesis"
	"tipsettle/core/state"
	"tipsettle/native/tipping"
	"tipsettle/storage"
)

func TestLevelDBSettlementSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	relayer, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	fan := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	creator := common.HexToAddress("0x00000000000000000000000000000000000000c2")

	spec, err := genesis.ParseGenesisSpec([]byte(`
owner: "0x00000000000000000000000000000000000000a0"
authorizedSigner: "` + ethcrypto.PubkeyToAddress(relayer.PublicKey).Hex() + `"
custody: "0x00000000000000000000000000000000000000cc"
policy:
  minIntervalSeconds: 60
  maxTipAmount: "100"
  baseDailyCap: "50"
  stakeMultiplier: "1"
  unstakeDelaySeconds: 86400
alloc:
  "0x00000000000000000000000000000000000000f1": "500"
`))
	if err != nil {
		t.Fatalf("parse genesis: %v", err)
	}

	db, err := storage.NewLevelDB(dir)
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	manager := state.NewManager(db)
	if err := genesis.Apply(spec, manager); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	engine := tipping.NewEngine(manager)
	engine.SetNowFunc(func() int64 { return 1_000 })

	ctx := context.Background()
	if _, err := engine.Stake(ctx, fan, uint256.NewInt(20)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	intent := tipping.TipIntent{From: fan, To: creator, Amount: uint256.NewInt(60), Nonce: uint256.NewInt(1)}
	_, sig, err := tipping.SignIntent(relayer, intent)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := engine.Settle(ctx, intent, sig); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// A failed settlement after a successful one must not leak writes.
	overdraw := tipping.TipIntent{From: fan, To: creator, Amount: uint256.NewInt(11), Nonce: uint256.NewInt(2)}
	_, overSig, err := tipping.SignIntent(relayer, overdraw)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	engine.SetNowFunc(func() int64 { return 2_000 })
	if _, err := engine.Settle(ctx, overdraw, overSig); !errors.Is(err, tipping.ErrDailyCapExceeded) {
		t.Fatalf("expected daily cap, got %v", err)
	}
	db.Close()

	reopened, err := storage.NewLevelDB(dir)
	if err != nil {
		t.Fatalf("reopen leveldb: %v", err)
	}
	defer reopened.Close()
	restarted := tipping.NewEngine(state.NewManager(reopened))
	restarted.SetNowFunc(func() int64 { return 3_000 })

	if _, err := restarted.Settle(ctx, intent, sig); !errors.Is(err, tipping.ErrNonceAlreadyUsed) {
		t.Fatalf("replay after restart: expected ErrNonceAlreadyUsed, got %v", err)
	}
	used, err := restarted.IsDigestUsed(ctx, tipping.Digest(overdraw))
	if err != nil || used {
		t.Fatalf("failed settlement left a digest behind: used=%v err=%v", used, err)
	}
	bal, err := restarted.Balance(ctx, creator)
	if err != nil || bal.Uint64() != 60 {
		t.Fatalf("creator balance after restart: %v %v", bal, err)
	}
	bal, err = restarted.Balance(ctx, fan)
	if err != nil || bal.Uint64() != 420 {
		t.Fatalf("fan balance after restart: %v %v", bal, err)
	}
	sender, err := restarted.SenderState(ctx, fan)
	if err != nil || sender.DailyAmountSoFar.Uint64() != 60 || sender.LastTipTimestamp != 1_000 {
		t.Fatalf("sender state after restart: %+v %v", sender, err)
	}
	limit, err := restarted.EffectiveDailyCap(ctx, fan)
	if err != nil || limit.Uint64() != 70 {
		t.Fatalf("effective cap after restart: %v %v", limit, err)
	}
}
