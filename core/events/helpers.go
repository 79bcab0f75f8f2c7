package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tipsettle/crypto"
)

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func formatAddress(addr common.Address) string {
	return crypto.FromCommon(addr).String()
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
