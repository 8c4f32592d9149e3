package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meridian-dex/meridian/pkg/clob"
)

// Pebble key schema.
// Design principles:
//  1. Prefix-based for range scans (all balances, all orders for a market).
//  2. Zero-padded numeric components for lexicographic time/id ordering.
//  3. Trades keyed by timestamp so recent-trade queries are reverse scans.

const (
	prefixBalance = "bal:"
	prefixOrder   = "ord:"
	prefixTrade   = "trd:"
	prefixHook    = "hook:"
	prefixSeq     = "seq:"
)

// balanceKey formats "bal:{address}:{asset}".
func balanceKey(addr common.Address, asset string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, addr.Hex(), asset))
}

// orderKey formats "ord:{symbol}:{id}", id zero-padded for ordering.
func orderKey(symbol string, id clob.OrderID) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixOrder, symbol, id))
}

// orderPrefix covers all orders of one market.
func orderPrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrder, symbol))
}

// tradeKey formats "trd:{symbol}:{timestamp}:{tradeID}".
func tradeKey(symbol string, timestamp int64, tradeID uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%020d", prefixTrade, symbol, timestamp, tradeID))
}

// tradePrefix covers all trades of one market.
func tradePrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, symbol))
}

// hookKey formats "hook:{name}".
func hookKey(name string) []byte {
	return []byte(prefixHook + name)
}

// seqKey formats "seq:{symbol}" for the per-market order/trade counters.
func seqKey(symbol string) []byte {
	return []byte(prefixSeq + symbol)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
