package auth

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"tipsettle/storage"
)

const (
	nonceKeyPrefix    = "gateway/nonce/"
	observedKeyPrefix = "gateway/observed/"
)

// StoreNoncePersistence keeps request nonces in the node database next to the
// settlement state, under a prefix the state manager never touches.
type StoreNoncePersistence struct {
	mu sync.Mutex
	db storage.Database
}

// NewStoreNoncePersistence wraps db.
func NewStoreNoncePersistence(db storage.Database) *StoreNoncePersistence {
	return &StoreNoncePersistence{db: db}
}

// EnsureNonce records a nonce usage, reporting whether it had already been seen.
func (p *StoreNoncePersistence) EnsureNonce(ctx context.Context, record NonceRecord) (bool, error) {
	if p == nil || p.db == nil {
		return false, fmt.Errorf("nonce persistence not configured")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ts := strings.TrimSpace(record.Timestamp)
	nonce := strings.TrimSpace(record.Nonce)
	if ts == "" || nonce == "" {
		return false, fmt.Errorf("nonce record incomplete")
	}
	observed := record.ObservedAt.UTC()
	if observed.IsZero() {
		observed = time.Now().UTC()
	}
	composite := compositeKey(record.Address.Hex(), ts, nonce)
	nonceKey := []byte(nonceKeyPrefix + composite)
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.db.Get(nonceKey)
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, storage.ErrNotFound):
		return false, fmt.Errorf("load nonce: %w", err)
	}

	nanos := observed.UnixNano()
	batch := p.db.NewBatch()
	batch.Put(nonceKey, encodeUnixNano(nanos))
	batch.Put([]byte(observedKey(nanos, composite)), []byte{1})
	if err := batch.Write(); err != nil {
		return false, fmt.Errorf("record nonce: %w", err)
	}
	return false, nil
}

// PruneNonces deletes entries observed before the provided cutoff time.
func (p *StoreNoncePersistence) PruneNonces(ctx context.Context, cutoff time.Time) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("nonce persistence not configured")
	}
	cutoffKey := observedKey(cutoff.UTC().UnixNano(), "")
	p.mu.Lock()
	defer p.mu.Unlock()
	batch := p.db.NewBatch()
	err := p.db.Iterate([]byte(observedKeyPrefix), func(key, _ []byte) bool {
		if ctx.Err() != nil || string(key) >= cutoffKey {
			return false
		}
		composite, _, ok := parseObservedKey(key)
		if !ok {
			return true
		}
		batch.Delete(append([]byte(nil), key...))
		batch.Delete([]byte(nonceKeyPrefix + composite))
		return true
	})
	if err != nil {
		return fmt.Errorf("iterate observed nonces: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if batch.Len() > 0 {
		if err := batch.Write(); err != nil {
			return fmt.Errorf("prune nonces: %w", err)
		}
	}
	return nil
}

// observedKey orders entries by observation time so pruning can stop early.
func observedKey(nanos int64, composite string) string {
	return fmt.Sprintf("%s%020d:%s", observedKeyPrefix, nanos, composite)
}

func parseObservedKey(key []byte) (string, int64, bool) {
	raw := strings.TrimPrefix(string(key), observedKeyPrefix)
	stamp, composite, found := strings.Cut(raw, ":")
	if !found {
		return "", 0, false
	}
	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return "", 0, false
	}
	return composite, nanos, true
}

func encodeUnixNano(nanos int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(nanos))
	return buf
}

func compositeKey(address, timestamp, nonce string) string {
	return strings.Join([]string{address, timestamp, nonce}, "|")
}
