// Package chain provides the token ledger clients used for settlement.
package chain

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUnconfirmed means the transfer may have been submitted but no
	// confirmation was observed. The outcome must be re-checked with
	// LookupTransfer before any resubmission.
	ErrUnconfirmed = errors.New("chain: transfer not confirmed")

	// ErrRejected means the chain refused the transfer. Nothing moved.
	ErrRejected = errors.New("chain: transfer rejected")
)

// ParseAddress validates a 0x-prefixed hex address.
func ParseAddress(s string) (common.Address, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, false
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, false
	}
	return addr, true
}
