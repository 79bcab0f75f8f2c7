package auth

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"tipsettle/native/tipping"
)

// SignRequest stamps r with the headers Authenticate expects. body must be the
// exact bytes that will be sent.
func SignRequest(r *http.Request, key *ecdsa.PrivateKey, body []byte, now time.Time) error {
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	return SignRequestWithNonce(r, key, body, now, hex.EncodeToString(nonceBytes))
}

// SignRequestWithNonce is SignRequest with a caller-chosen nonce.
func SignRequestWithNonce(r *http.Request, key *ecdsa.PrivateKey, body []byte, now time.Time, nonce string) error {
	timestamp := strconv.FormatInt(now.Unix(), 10)
	hash := SigningHash(timestamp, nonce, r.Method, CanonicalRequestPath(r), body)
	sig, err := tipping.SignDigest(key, hash)
	if err != nil {
		return err
	}
	r.Header.Set(HeaderAddress, ethcrypto.PubkeyToAddress(key.PublicKey).Hex())
	r.Header.Set(HeaderTimestamp, timestamp)
	r.Header.Set(HeaderNonce, nonce)
	r.Header.Set(HeaderSignature, "0x"+hex.EncodeToString(sig.Bytes()))
	return nil
}
