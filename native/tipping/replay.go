package tipping

import "github.com/ethereum/go-ethereum/common"

// checkAndMark rejects digests that were already settled and otherwise marks
// the digest inside tx. The mark only becomes durable when the whole
// settlement commits, so a later failure leaves the digest unused.
func checkAndMark(tx StoreTx, digest common.Hash) error {
	used, err := tx.DigestUsed(digest)
	if err != nil {
		return err
	}
	if used {
		return ErrNonceAlreadyUsed
	}
	return tx.MarkDigestUsed(digest)
}
