package tipping

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Verifier recovers the identity that authorised a digest. Implementations
// must return ErrInvalidSignature for malformed input and leave the
// authorisation decision to the engine.
type Verifier interface {
	Verify(digest common.Hash, sig Signature) (common.Address, error)
}

// PersonalSignVerifier recovers signers from personal_sign style signatures:
// the digest is wrapped exactly once with the "\x19Ethereum Signed Message:\n32"
// prefix before recovery.
type PersonalSignVerifier struct{}

// Verify implements Verifier.
func (PersonalSignVerifier) Verify(digest common.Hash, sig Signature) (common.Address, error) {
	if sig.V != 27 && sig.V != 28 {
		return common.Address{}, ErrInvalidSignature
	}
	recID := sig.V - 27
	r := new(big.Int).SetBytes(sig.R[:])
	s := new(big.Int).SetBytes(sig.S[:])
	// Reject the upper half of the curve order so a signature cannot be
	// mutated into a second valid encoding.
	if !ethcrypto.ValidateSignatureValues(recID, r, s, true) {
		return common.Address{}, ErrInvalidSignature
	}
	raw := sig.Bytes()
	raw[64] = recID
	pub, err := ethcrypto.SigToPub(accounts.TextHash(digest.Bytes()), raw)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// authorize runs the verifier and compares the recovered signer with the
// configured relayer. A well-formed signature from any other key is a policy
// violation, not malformed input.
func authorize(v Verifier, policy *Policy, digest common.Hash, sig Signature) (common.Address, error) {
	signer, err := v.Verify(digest, sig)
	if err != nil {
		return common.Address{}, err
	}
	if signer != policy.AuthorizedSigner {
		return signer, ErrUnauthorizedRelayer
	}
	return signer, nil
}
