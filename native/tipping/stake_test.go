package tipping

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"tipsettle/core/events"
)

func TestStakeMovesFundsIntoCustody(t *testing.T) {
	f := newFixture(t)
	recorder := &events.Recorder{}
	f.engine.SetEmitter(recorder)
	alice := addr(0x01)
	f.store.setBalance(alice, 100)

	state, err := f.engine.Stake(context.Background(), alice, uint256.NewInt(30))
	if err != nil {
		t.Fatalf("stake failed: %v", err)
	}
	if state.StakedBalance.Uint64() != 30 {
		t.Fatalf("unexpected staked balance %s", state.StakedBalance)
	}
	if got := f.store.balance(alice); got != 70 {
		t.Fatalf("sender balance: want 70 got %d", got)
	}
	if got := f.store.balance(f.custody); got != 30 {
		t.Fatalf("custody balance: want 30 got %d", got)
	}
	emitted := recorder.Events()
	if len(emitted) != 1 || emitted[0].EventType() != events.TypeStakeDeposited {
		t.Fatalf("expected a single stake event, got %v", emitted)
	}
}

func TestStakeRejectionsLeaveStateUntouched(t *testing.T) {
	alice := addr(0x01)
	cases := []struct {
		name    string
		prepare func(f *fixture)
		sender  common.Address
		amount  uint64
		want    error
	}{
		{name: "zero sender", sender: common.Address{}, amount: 1, want: ErrInvalidAddresses},
		{name: "zero amount", sender: alice, amount: 0, want: ErrInvalidTipAmount},
		{name: "insufficient balance", sender: alice, amount: 101, want: ErrInsufficientBalance},
		{
			name:   "custody unset",
			sender: alice,
			amount: 1,
			want:   ErrCustodyNotSet,
			prepare: func(f *fixture) {
				f.store.data.policy.Custody = common.Address{}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.store.setBalance(alice, 100)
			if tc.prepare != nil {
				tc.prepare(f)
			}
			before := f.store.snapshot()
			_, err := f.engine.Stake(context.Background(), tc.sender, uint256.NewInt(tc.amount))
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, before, f.store.snapshot())
		})
	}
}

func TestEffectiveCapTracksStakeAndUnstake(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := addr(0x01)
	f.store.setBalance(alice, 1_000)
	f.store.data.policy.StakeMultiplier = uint256.NewInt(3)

	_, err := f.engine.Stake(ctx, alice, uint256.NewInt(200))
	require.NoError(t, err)
	limit, err := f.engine.EffectiveDailyCap(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(50+200*3), limit.Uint64())

	_, err = f.engine.InitiateUnstake(ctx, alice, uint256.NewInt(200))
	require.NoError(t, err)
	limit, err = f.engine.EffectiveDailyCap(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(50), limit.Uint64())

	staked, err := f.engine.StakeBalance(ctx, alice)
	require.NoError(t, err)
	require.True(t, staked.IsZero())
}

func TestEffectiveCapSaturates(t *testing.T) {
	policy := &Policy{
		BaseDailyCap:    uint256.NewInt(10),
		StakeMultiplier: new(uint256.Int).Set(maxUint256),
	}
	stake := &StakeState{StakedBalance: uint256.NewInt(2), PendingUnstakeAmount: new(uint256.Int)}
	require.Equal(t, maxUint256, effectiveCap(policy, stake))

	policy.StakeMultiplier = uint256.NewInt(1)
	stake.StakedBalance = new(uint256.Int).Sub(maxUint256, uint256.NewInt(5))
	require.Equal(t, maxUint256, effectiveCap(policy, stake))
}

func TestUnstakeDelayScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := addr(0x01)
	f.store.setBalance(alice, 100)

	_, err := f.engine.Stake(ctx, alice, uint256.NewInt(40))
	require.NoError(t, err)
	state, err := f.engine.InitiateUnstake(ctx, alice, uint256.NewInt(40))
	require.NoError(t, err)
	require.True(t, state.UnstakePending)
	require.Equal(t, uint64(0), state.UnstakeRequestedAt)

	f.now = SecondsPerDay - 1
	before := f.store.snapshot()
	_, err = f.engine.WithdrawUnstaked(ctx, alice, uint256.NewInt(40))
	require.ErrorIs(t, err, ErrUnstakeNotReady)
	require.Equal(t, before, f.store.snapshot())

	f.now = SecondsPerDay
	state, err = f.engine.WithdrawUnstaked(ctx, alice, uint256.NewInt(40))
	require.NoError(t, err)
	require.False(t, state.UnstakePending)
	require.True(t, state.PendingUnstakeAmount.IsZero())
	require.Equal(t, uint64(100), f.store.balance(alice))
	require.Equal(t, uint64(0), f.store.balance(f.custody))
}

func TestInitiateUnstakeSupersedesPendingRequest(t *testing.T) {
	f := newFixture(t)
	recorder := &events.Recorder{}
	f.engine.SetEmitter(recorder)
	ctx := context.Background()
	alice := addr(0x01)
	f.store.setBalance(alice, 100)

	_, err := f.engine.Stake(ctx, alice, uint256.NewInt(50))
	require.NoError(t, err)

	f.now = 100
	state, err := f.engine.InitiateUnstake(ctx, alice, uint256.NewInt(30))
	require.NoError(t, err)
	require.Equal(t, uint64(20), state.StakedBalance.Uint64())
	require.Equal(t, uint64(30), state.PendingUnstakeAmount.Uint64())

	// The second request may draw on the superseded amount and restarts the timer.
	f.now = 500
	state, err = f.engine.InitiateUnstake(ctx, alice, uint256.NewInt(45))
	require.NoError(t, err)
	require.Equal(t, uint64(5), state.StakedBalance.Uint64())
	require.Equal(t, uint64(45), state.PendingUnstakeAmount.Uint64())
	require.Equal(t, uint64(500), state.UnstakeRequestedAt)

	emitted := recorder.Events()
	require.Len(t, emitted, 3)
	second, ok := emitted[2].(events.UnstakeInitiated)
	require.True(t, ok)
	require.Equal(t, uint64(30), second.Superseded.Uint64())
	require.Equal(t, uint64(500+SecondsPerDay), second.UnlockAt)

	f.now = 100 + SecondsPerDay
	_, err = f.engine.WithdrawUnstaked(ctx, alice, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrUnstakeNotReady)

	f.now = 500
	_, err = f.engine.InitiateUnstake(ctx, alice, uint256.NewInt(51))
	require.ErrorIs(t, err, ErrInsufficientStake)
}

func TestWithdrawUnstakedRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := addr(0x01)
	f.store.setBalance(alice, 100)

	_, err := f.engine.WithdrawUnstaked(ctx, alice, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrNoPendingUnstake)

	_, err = f.engine.Stake(ctx, alice, uint256.NewInt(20))
	require.NoError(t, err)
	_, err = f.engine.InitiateUnstake(ctx, alice, uint256.NewInt(10))
	require.NoError(t, err)

	f.now = SecondsPerDay
	before := f.store.snapshot()
	_, err = f.engine.WithdrawUnstaked(ctx, alice, uint256.NewInt(11))
	require.ErrorIs(t, err, ErrInsufficientPending)
	require.Equal(t, before, f.store.snapshot())

	_, err = f.engine.InitiateUnstake(ctx, alice, uint256.NewInt(0))
	require.ErrorIs(t, err, ErrInvalidTipAmount)
}

func TestPartialWithdrawKeepsRequestTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := addr(0x01)
	f.store.setBalance(alice, 100)

	_, err := f.engine.Stake(ctx, alice, uint256.NewInt(20))
	require.NoError(t, err)
	f.now = 10
	_, err = f.engine.InitiateUnstake(ctx, alice, uint256.NewInt(20))
	require.NoError(t, err)

	f.now = 10 + SecondsPerDay
	state, err := f.engine.WithdrawUnstaked(ctx, alice, uint256.NewInt(5))
	require.NoError(t, err)
	require.True(t, state.UnstakePending)
	require.Equal(t, uint64(10), state.UnstakeRequestedAt)
	require.Equal(t, uint64(15), state.PendingUnstakeAmount.Uint64())
	require.Equal(t, uint64(85), f.store.balance(alice))
	require.Equal(t, uint64(15), f.store.balance(f.custody))
}

func TestPendingStakeDoesNotCountTowardsCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := addr(0x01), addr(0x02)
	f.store.setBalance(alice, 500)

	_, err := f.engine.Stake(ctx, alice, uint256.NewInt(40))
	require.NoError(t, err)
	_, err = f.engine.InitiateUnstake(ctx, alice, uint256.NewInt(40))
	require.NoError(t, err)

	f.now = 1_000
	intent := f.intent(alice, bob, 51, 1)
	_, err = f.engine.Settle(ctx, intent, f.sign(t, intent))
	require.ErrorIs(t, err, ErrDailyCapExceeded)
}

func TestCustodyCannotStake(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.setBalance(f.custody, 100)
	before := f.store.snapshot()

	_, err := f.engine.Stake(ctx, f.custody, uint256.NewInt(10))
	require.ErrorIs(t, err, ErrInvalidAddresses)
	_, err = f.engine.InitiateUnstake(ctx, f.custody, uint256.NewInt(10))
	require.ErrorIs(t, err, ErrInvalidAddresses)
	_, err = f.engine.WithdrawUnstaked(ctx, f.custody, uint256.NewInt(10))
	require.ErrorIs(t, err, ErrInvalidAddresses)
	require.Equal(t, before, f.store.snapshot())
}
