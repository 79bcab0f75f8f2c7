package tipping

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tipsettle/core/events"
)

// Metrics receives one observation per engine call. Outcome is ErrorCode(err).
type Metrics interface {
	RecordOutcome(operation, outcome string, elapsed time.Duration)
}

type reentrancyKey struct{}

// Engine is the settlement executor. Every mutating call and every query runs
// under a single writer lock and inside one store transaction, so calls are
// totally ordered and either commit fully or leave no trace.
//
// The Set* methods are not synchronised and must be called before the engine
// serves its first call.
type Engine struct {
	mu      sync.Mutex
	callout atomic.Bool

	store    Store
	verifier Verifier
	token    Token
	emitter  events.Emitter
	metrics  Metrics
	logger   *slog.Logger
	nowFn    func() int64
}

// NewEngine constructs an engine over store with the personal-sign verifier,
// the custodial ledger token and a UTC wall clock.
func NewEngine(store Store) *Engine {
	return &Engine{
		store:    store,
		verifier: PersonalSignVerifier{},
		token:    LedgerToken{},
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		nowFn: func() int64 {
			return time.Now().Unix()
		},
	}
}

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetVerifier swaps the signature verifier. Nil restores personal-sign recovery.
func (e *Engine) SetVerifier(v Verifier) {
	if v == nil {
		e.verifier = PersonalSignVerifier{}
		return
	}
	e.verifier = v
}

// SetToken swaps the settlement asset. Nil restores the custodial ledger.
func (e *Engine) SetToken(t Token) {
	if t == nil {
		e.token = LedgerToken{}
		return
	}
	e.token = t
}

// SetMetrics attaches an outcome recorder.
func (e *Engine) SetMetrics(m Metrics) { e.metrics = m }

// SetLogger overrides the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		e.logger = slog.Default()
		return
	}
	e.logger = logger
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// enter serialises the call and rejects re-entry. Both checks run before the
// writer lock is taken: a context carrying this engine's marker, or any call
// made while an external token holds the lock inside Transfer, fails with
// ErrReentrantCall instead of blocking on the lock its own caller holds.
func (e *Engine) enter(ctx context.Context) (func(), error) {
	if marker, _ := ctx.Value(reentrancyKey{}).(*Engine); marker == e {
		return nil, ErrReentrantCall
	}
	if e.callout.Load() {
		return nil, ErrReentrantCall
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	return e.mu.Unlock, nil
}

// transfer hands a movement to the token. LedgerToken only writes through the
// transaction; any other token is foreign code and runs with the callout flag
// raised, so every engine entry point fails fast until it returns.
func (e *Engine) transfer(ctx context.Context, tx StoreTx, from, to common.Address, amount *uint256.Int) error {
	if _, ok := e.token.(LedgerToken); ok {
		return e.token.Transfer(ctx, tx, from, to, amount)
	}
	e.callout.Store(true)
	defer e.callout.Store(false)
	return e.token.Transfer(ctx, tx, from, to, amount)
}

func (e *Engine) guarded(ctx context.Context) context.Context {
	return context.WithValue(ctx, reentrancyKey{}, e)
}

// run executes fn inside a fresh transaction under the writer lock. fn's
// writes are committed only when it returns nil. The returned events are
// emitted in order after the commit, once the lock has been released.
func (e *Engine) run(ctx context.Context, operation string, fn func(ctx context.Context, tx StoreTx, policy *Policy) ([]events.Event, error)) error {
	if e == nil || e.store == nil {
		return ErrNilState
	}
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	release, err := e.enter(ctx)
	if err != nil {
		e.observe(operation, err, start)
		return err
	}
	emitted, err := func() ([]events.Event, error) {
		defer release()
		return e.transact(e.guarded(ctx), fn)
	}()
	e.observe(operation, err, start)
	if err != nil {
		return err
	}
	for _, evt := range emitted {
		e.emit(evt)
	}
	return nil
}

func (e *Engine) transact(ctx context.Context, fn func(ctx context.Context, tx StoreTx, policy *Policy) ([]events.Event, error)) ([]events.Event, error) {
	tx, err := e.store.Begin()
	if err != nil {
		return nil, fmt.Errorf("tipping: begin: %w", err)
	}
	defer tx.Discard()
	policy, ok, err := tx.Policy()
	if err != nil {
		return nil, fmt.Errorf("tipping: load policy: %w", err)
	}
	if !ok || policy == nil {
		return nil, ErrNotInitialised
	}
	emitted, err := fn(ctx, tx, policy)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tipping: commit: %w", err)
	}
	return emitted, nil
}

func (e *Engine) observe(operation string, err error, start time.Time) {
	if e.metrics != nil {
		e.metrics.RecordOutcome(operation, ErrorCode(err), time.Since(start))
	}
	if err != nil && e.logger != nil {
		e.logger.Info("tipping call rejected", slog.String("operation", operation), slog.String("reason", ErrorCode(err)), slog.Any("error", err))
	}
}

// validateIntent rejects zero parties and the custody account on either side:
// custody holds staked funds, which only stake withdrawals may move.
func validateIntent(intent TipIntent, policy *Policy) error {
	if intent.From == (common.Address{}) || intent.To == (common.Address{}) {
		return ErrInvalidAddresses
	}
	if intent.From == policy.Custody || intent.To == policy.Custody {
		return ErrInvalidAddresses
	}
	if intent.Amount == nil || intent.Amount.IsZero() {
		return ErrInvalidTipAmount
	}
	return nil
}

// Settle verifies and applies a relayer-signed tip exactly once. The sequence
// is fixed: input validation, digest, signature, replay guard, fairness,
// token transfer, commit, event. Any failure before the commit leaves the
// used-digest set, sender and stake state and balances unchanged.
func (e *Engine) Settle(ctx context.Context, intent TipIntent, sig Signature) (*Receipt, error) {
	var receipt *Receipt
	err := e.run(ctx, "settle", func(ctx context.Context, tx StoreTx, policy *Policy) ([]events.Event, error) {
		if err := validateIntent(intent, policy); err != nil {
			return nil, err
		}
		digest := Digest(intent)
		signer, err := authorize(e.verifier, policy, digest, sig)
		if err != nil {
			return nil, err
		}
		if err := checkAndMark(tx, digest); err != nil {
			return nil, err
		}
		now := e.now()
		admitted, err := admit(tx, policy, intent.From, intent.To, intent.Amount, now)
		if err != nil {
			return nil, err
		}
		if err := tx.PutSenderState(intent.From, admitted.next); err != nil {
			return nil, err
		}
		if err := e.transfer(ctx, tx, intent.From, intent.To, intent.Amount); err != nil {
			return nil, err
		}
		receipt = &Receipt{
			Digest:           digest,
			Intent:           intent.clone(),
			Signer:           signer,
			SettledAt:        now,
			DailyAmountSoFar: cloneAmount(admitted.next.DailyAmountSoFar),
			EffectiveCap:     admitted.cap,
		}
		return []events.Event{events.TipSettled{
			Digest:     digest,
			From:       intent.From,
			To:         intent.To,
			Amount:     cloneAmount(intent.Amount),
			Nonce:      cloneAmount(intent.Nonce),
			ContentRef: intent.ContentRef,
			SettledAt:  now,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("tip settled",
		slog.String("digest", receipt.Digest.Hex()),
		slog.String("from", receipt.Intent.From.Hex()),
		slog.String("to", receipt.Intent.To.Hex()),
		slog.String("amount", receipt.Intent.Amount.Dec()))
	return receipt, nil
}
