package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema. Prefix-based so each record family can be range
// scanned independently; numeric components are zero-padded to keep
// lexicographic order aligned with numeric order.
const (
	prefixBalance = "bal:"
	prefixOrder   = "ord:"
	prefixEvent   = "evt:"
	keySeq        = "seq"
)

// balanceKey: "bal:{token}:{holder}"
func balanceKey(token, holder common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, token.Hex(), holder.Hex()))
}

// orderKey: "ord:{id:020d}"
func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

// eventKey: "evt:{seq:020d}"
func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

func parseBalanceKey(key []byte) (token, holder common.Address, err error) {
	// "bal:" + 42 hex address + ":" + 42 hex address
	const addrLen = 42
	want := len(prefixBalance) + addrLen + 1 + addrLen
	if len(key) != want {
		return common.Address{}, common.Address{}, fmt.Errorf("invalid balance key length: %d", len(key))
	}
	tokenHex := string(key[len(prefixBalance) : len(prefixBalance)+addrLen])
	holderHex := string(key[len(prefixBalance)+addrLen+1:])
	if !common.IsHexAddress(tokenHex) || !common.IsHexAddress(holderHex) {
		return common.Address{}, common.Address{}, fmt.Errorf("invalid address in balance key: %s", key)
	}
	return common.HexToAddress(tokenHex), common.HexToAddress(holderHex), nil
}
