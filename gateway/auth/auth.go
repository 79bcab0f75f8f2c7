package auth

import (
	"container/list"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"tipsettle/native/tipping"
)

const (
	// HeaderAddress names the account the caller claims to act for.
	HeaderAddress = "X-Tip-Address"
	// HeaderTimestamp is the unix timestamp (seconds) used when signing the request.
	HeaderTimestamp = "X-Timestamp"
	// HeaderNonce provides replay protection when combined with the timestamp.
	HeaderNonce = "X-Nonce"
	// HeaderSignature carries the hex-encoded 65 byte personal_sign signature.
	HeaderSignature = "X-Signature"
	// MaxBodyForSignature is the maximum body size we will hash when authenticating.
	MaxBodyForSignature int = 1 << 20

	defaultTimestampSkew = 5 * time.Minute
	defaultNonceCapacity = 4096
	maxNonceCapacity     = 65536
	pruneInterval        = time.Minute
)

var (
	// ErrUnauthenticated wraps every header or signature failure.
	ErrUnauthenticated = errors.New("auth: request not authenticated")
)

// Principal is the wallet that signed the request.
type Principal struct {
	Address common.Address
}

// NonceRecord captures persisted nonce usage metadata.
type NonceRecord struct {
	Address    common.Address
	Timestamp  string
	Nonce      string
	ObservedAt time.Time
}

// NoncePersistence provides durable storage for request nonces so replay
// protection survives a restart.
type NoncePersistence interface {
	EnsureNonce(ctx context.Context, record NonceRecord) (bool, error)
	PruneNonces(ctx context.Context, cutoff time.Time) error
}

// Authenticator verifies wallet signatures over request metadata. The signing
// hash is keccak256(timestamp \n nonce \n METHOD \n path \n body) and must be
// signed with the personal message prefix, the same scheme relayers use for
// tip digests.
type Authenticator struct {
	verifier      tipping.Verifier
	skew          time.Duration
	nonceTTL      time.Duration
	nonceCapacity int
	nowFn         func() time.Time

	nonceMu sync.Mutex
	nonces  map[common.Address]*nonceStore

	pruneMu     sync.Mutex
	persistence NoncePersistence
	lastPruned  time.Time
}

// NewAuthenticator builds an Authenticator. Nonces are remembered for twice the
// allowed skew, which covers every timestamp that would still be accepted.
func NewAuthenticator(skew time.Duration, nonceCapacity int, nowFn func() time.Time, persistence NoncePersistence) *Authenticator {
	if nowFn == nil {
		nowFn = time.Now
	}
	if skew <= 0 {
		skew = defaultTimestampSkew
	}
	if nonceCapacity <= 0 {
		nonceCapacity = defaultNonceCapacity
	}
	if nonceCapacity > maxNonceCapacity {
		nonceCapacity = maxNonceCapacity
	}
	return &Authenticator{
		verifier:      tipping.PersonalSignVerifier{},
		skew:          skew,
		nonceTTL:      2 * skew,
		nonceCapacity: nonceCapacity,
		nowFn:         nowFn,
		nonces:        make(map[common.Address]*nonceStore),
		persistence:   persistence,
	}
}

// Authenticate validates headers and signature, returning the caller principal.
func (a *Authenticator) Authenticate(r *http.Request, body []byte) (*Principal, error) {
	if len(body) > MaxBodyForSignature {
		return nil, fmt.Errorf("%w: request body exceeds %d bytes", ErrUnauthenticated, MaxBodyForSignature)
	}
	claimed := strings.TrimSpace(r.Header.Get(HeaderAddress))
	if !common.IsHexAddress(claimed) {
		return nil, fmt.Errorf("%w: missing or invalid %s header", ErrUnauthenticated, HeaderAddress)
	}
	address := common.HexToAddress(claimed)
	timestampHeader := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	if timestampHeader == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrUnauthenticated, HeaderTimestamp)
	}
	ts, err := parseUnixTimestamp(timestampHeader)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timestamp: %v", ErrUnauthenticated, err)
	}
	now := a.nowFn().UTC()
	drift := now.Sub(ts)
	if drift < 0 {
		drift = -drift
	}
	if drift > a.skew {
		return nil, fmt.Errorf("%w: timestamp outside allowed skew of %s", ErrUnauthenticated, a.skew)
	}
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	if nonce == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrUnauthenticated, HeaderNonce)
	}
	sigHex := strings.TrimPrefix(strings.TrimSpace(r.Header.Get(HeaderSignature)), "0x")
	raw, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid signature encoding", ErrUnauthenticated)
	}
	sig, err := tipping.SignatureFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	hash := SigningHash(timestampHeader, nonce, r.Method, CanonicalRequestPath(r), body)
	recovered, err := a.verifier.Verify(hash, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if recovered != address {
		return nil, fmt.Errorf("%w: signature does not match %s", ErrUnauthenticated, HeaderAddress)
	}
	duplicate, err := a.registerNonce(r.Context(), address, timestampHeader, nonce, now)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return nil, fmt.Errorf("%w: nonce already used", ErrUnauthenticated)
	}
	return &Principal{Address: address}, nil
}

func (a *Authenticator) registerNonce(ctx context.Context, address common.Address, timestamp, nonce string, now time.Time) (bool, error) {
	cache := a.nonceStore(address)
	// One registration per address at a time: the cache check, the persisted
	// check and the insert form a single step.
	cache.register.Lock()
	defer cache.register.Unlock()
	composite := timestamp + "|" + nonce
	if cache.Contains(composite, now) {
		return true, nil
	}
	if a.persistence != nil {
		if err := a.prunePersistent(ctx, now); err != nil {
			return false, err
		}
		existed, err := a.persistence.EnsureNonce(ctx, NonceRecord{
			Address:    address,
			Timestamp:  timestamp,
			Nonce:      nonce,
			ObservedAt: now,
		})
		if err != nil {
			return false, fmt.Errorf("persist nonce: %w", err)
		}
		if existed {
			cache.Add(composite, now)
			return true, nil
		}
	}
	cache.Add(composite, now)
	return false, nil
}

func (a *Authenticator) prunePersistent(ctx context.Context, now time.Time) error {
	a.pruneMu.Lock()
	defer a.pruneMu.Unlock()
	if !a.lastPruned.IsZero() && now.Sub(a.lastPruned) < pruneInterval {
		return nil
	}
	if err := a.persistence.PruneNonces(ctx, now.Add(-a.nonceTTL)); err != nil {
		return fmt.Errorf("prune persistent nonces: %w", err)
	}
	a.lastPruned = now
	return nil
}

func (a *Authenticator) nonceStore(address common.Address) *nonceStore {
	a.nonceMu.Lock()
	defer a.nonceMu.Unlock()
	cache, ok := a.nonces[address]
	if ok {
		return cache
	}
	cache = newNonceStore(a.nonceTTL, a.nonceCapacity)
	a.nonces[address] = cache
	return cache
}

// CanonicalRequestPath normalises URL paths and query ordering for signing.
func CanonicalRequestPath(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		path += "?" + CanonicalQuery(r.URL.RawQuery)
	}
	return path
}

// CanonicalQuery normalises raw query strings for stable signing.
func CanonicalQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

// SigningHash is the digest a wallet signs (with the personal message prefix)
// to authenticate a request.
func SigningHash(timestamp, nonce, method, path string, body []byte) common.Hash {
	payload := strings.Join([]string{timestamp, nonce, strings.ToUpper(method), path, string(body)}, "\n")
	return ethcrypto.Keccak256Hash([]byte(payload))
}

func parseUnixTimestamp(v string) (time.Time, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}

type nonceStore struct {
	ttl      time.Duration
	capacity int

	register sync.Mutex

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

type nonceEntry struct {
	key string
	ts  time.Time
}

func newNonceStore(ttl time.Duration, capacity int) *nonceStore {
	return &nonceStore{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Contains reports whether the nonce has been observed without mutating the cache when new.
func (n *nonceStore) Contains(key string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evictExpired(now.Add(-n.ttl))
	_, exists := n.entries[key]
	return exists
}

// Add registers a nonce, evicting the oldest entries once capacity is reached.
func (n *nonceStore) Add(key string, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evictExpired(now.Add(-n.ttl))
	if elem, exists := n.entries[key]; exists {
		elem.Value = nonceEntry{key: key, ts: now}
		n.order.MoveToBack(elem)
		return
	}
	for n.order.Len() >= n.capacity {
		front := n.order.Front()
		n.order.Remove(front)
		delete(n.entries, front.Value.(nonceEntry).key)
	}
	n.entries[key] = n.order.PushBack(nonceEntry{key: key, ts: now})
}

func (n *nonceStore) evictExpired(cutoff time.Time) {
	for {
		front := n.order.Front()
		if front == nil {
			return
		}
		entry := front.Value.(nonceEntry)
		if !entry.ts.Before(cutoff) {
			return
		}
		n.order.Remove(front)
		delete(n.entries, entry.key)
	}
}
