package tipping

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// PackedIntentLength is the size of the digest preimage:
// from(20) | to(20) | amount(32) | contentRef(32) | nonce(32).
const PackedIntentLength = 2*common.AddressLength + 3*32

// EncodePacked lays the intent out in the fixed-width, delimiter-free order
// shared by relayers and the verifier. Changing the order or any width is a
// breaking protocol change.
func EncodePacked(intent TipIntent) []byte {
	buf := make([]byte, 0, PackedIntentLength)
	buf = append(buf, intent.From.Bytes()...)
	buf = append(buf, intent.To.Bytes()...)
	amount := word(intent.Amount)
	buf = append(buf, amount[:]...)
	buf = append(buf, intent.ContentRef.Bytes()...)
	nonce := word(intent.Nonce)
	buf = append(buf, nonce[:]...)
	return buf
}

// Digest returns keccak256 of the packed intent. It doubles as the signed
// payload and the replay-guard key.
func Digest(intent TipIntent) common.Hash {
	return ethcrypto.Keccak256Hash(EncodePacked(intent))
}

// DecodePacked parses a preimage produced by EncodePacked.
func DecodePacked(raw []byte) (TipIntent, error) {
	if len(raw) != PackedIntentLength {
		return TipIntent{}, fmt.Errorf("tipping: packed intent must be %d bytes, got %d", PackedIntentLength, len(raw))
	}
	var intent TipIntent
	intent.From = common.BytesToAddress(raw[0:20])
	intent.To = common.BytesToAddress(raw[20:40])
	intent.Amount = new(uint256.Int).SetBytes32(raw[40:72])
	intent.ContentRef = common.BytesToHash(raw[72:104])
	intent.Nonce = new(uint256.Int).SetBytes32(raw[104:136])
	return intent, nil
}

// ContentRefFromPointer hashes an off-chain content pointer (for example an
// IPFS CID string) into the 32-byte reference carried by an intent.
func ContentRefFromPointer(pointer string) common.Hash {
	if pointer == "" {
		return common.Hash{}
	}
	return ethcrypto.Keccak256Hash([]byte(pointer))
}

// SignDigest produces the relayer signature over digest using the
// personal-message prefix, with V in the 27/28 convention.
func SignDigest(key *ecdsa.PrivateKey, digest common.Hash) (Signature, error) {
	if key == nil {
		return Signature{}, fmt.Errorf("tipping: signing key required")
	}
	raw, err := ethcrypto.Sign(accounts.TextHash(digest.Bytes()), key)
	if err != nil {
		return Signature{}, fmt.Errorf("tipping: sign digest: %w", err)
	}
	raw[64] += 27
	return SignatureFromBytes(raw)
}

// SignIntent is Digest followed by SignDigest.
func SignIntent(key *ecdsa.PrivateKey, intent TipIntent) (common.Hash, Signature, error) {
	digest := Digest(intent)
	sig, err := SignDigest(key, digest)
	return digest, sig, err
}

func word(v *uint256.Int) [32]byte {
	if v == nil {
		return [32]byte{}
	}
	return v.Bytes32()
}

func (t TipIntent) clone() TipIntent {
	out := t
	if t.Amount != nil {
		out.Amount = new(uint256.Int).Set(t.Amount)
	}
	if t.Nonce != nil {
		out.Nonce = new(uint256.Int).Set(t.Nonce)
	}
	return out
}
