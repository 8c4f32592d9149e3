package ext

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meridian-dex/meridian/pkg/clob"
	"github.com/meridian-dex/meridian/pkg/clob/hooks"
)

// PriceOracle supplies a mark price per market. The zero value of a missing
// market is reported through ok.
type PriceOracle interface {
	MarkPrice(symbol string) (price int64, ok bool)
}

// StaticOracle is a fixed-price oracle for devnets and tests.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]int64
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[string]int64)}
}

func (o *StaticOracle) Set(symbol string, price int64) {
	o.mu.Lock()
	o.prices[symbol] = price
	o.mu.Unlock()
}

func (o *StaticOracle) MarkPrice(symbol string) (int64, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.prices[symbol]
	return p, ok
}

// Position is one account's net exposure on a perpetual market.
type Position struct {
	Size       int64 // signed lots, positive long
	EntryPrice int64 // volume-weighted, floor division
	Margin     int64 // locked collateral in internal quote units
}

type positionKey struct {
	owner  common.Address
	symbol string
}

// PositionBook tracks perpetual positions in memory and satisfies the
// engine's position keeper contract.
type PositionBook struct {
	mu        sync.Mutex
	positions map[positionKey]*Position
}

func NewPositionBook() *PositionBook {
	return &PositionBook{positions: make(map[positionKey]*Position)}
}

// MarkPosition applies one committed fill to an account's position. Entry
// price is re-weighted when the position grows and kept when it shrinks;
// a flip restarts the entry at the fill price.
func (pb *PositionBook) MarkPosition(owner common.Address, symbol string, sizeDelta, price, marginDelta int64) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	k := positionKey{owner: owner, symbol: symbol}
	p, ok := pb.positions[k]
	if !ok {
		p = &Position{}
		pb.positions[k] = p
	}

	prev := p.Size
	next := prev + sizeDelta
	switch {
	case prev == 0 || (prev > 0) != (next > 0) && next != 0:
		p.EntryPrice = price
	case abs(next) > abs(prev):
		added := abs(next) - abs(prev)
		p.EntryPrice = (p.EntryPrice*abs(prev) + price*added) / abs(next)
	}
	p.Size = next
	p.Margin += marginDelta
	if p.Size == 0 {
		p.EntryPrice = 0
	}
}

// PositionOf returns a copy of an account's position on one market.
func (pb *PositionBook) PositionOf(owner common.Address, symbol string) Position {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if p, ok := pb.positions[positionKey{owner: owner, symbol: symbol}]; ok {
		return *p
	}
	return Position{}
}

// HealthOf reports an account's margin health on one market at the given
// mark price: equity is margin plus unrealized pnl in quote units, bps is
// equity relative to position notional at the mark. A flat position is
// fully healthy.
func (pb *PositionBook) HealthOf(owner common.Address, symbol string, mark int64) (equity int64, bps int64) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	p, ok := pb.positions[positionKey{owner: owner, symbol: symbol}]
	if !ok || p.Size == 0 {
		var margin int64
		if ok {
			margin = p.Margin
		}
		return margin, 10_000
	}
	equity = p.Margin + (mark-p.EntryPrice)*p.Size
	notional := abs(p.Size) * mark
	if notional == 0 {
		return equity, 10_000
	}
	return equity, equity * 10_000 / notional
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// MarginHook guards perpetual order flow with an oracle price band: limit
// orders priced further than bandBps from the mark are refused before any
// funds move.
type MarginHook struct {
	hooks.BaseHook

	oracle  PriceOracle
	bandBps int64
}

func NewMarginHook(oracle PriceOracle, bandBps int64) *MarginHook {
	return &MarginHook{oracle: oracle, bandBps: bandBps}
}

func (h *MarginHook) Name() string { return "margin-guard" }

func (h *MarginHook) Capabilities() hooks.Capability {
	return hooks.CapBeforePlace
}

func (h *MarginHook) BeforePlace(v hooks.OrderView) (hooks.Ack, hooks.OrderDelta, error) {
	if v.Kind == clob.MarketOrder {
		return hooks.AckBeforePlace, hooks.OrderDelta{}, nil
	}
	mark, ok := h.oracle.MarkPrice(v.Symbol)
	if !ok || mark <= 0 {
		return hooks.AckBeforePlace, hooks.OrderDelta{}, nil
	}
	band := mark * h.bandBps / 10_000
	if v.Price > mark+band || v.Price < mark-band {
		return 0, hooks.OrderDelta{}, fmt.Errorf("%w: price %d outside %d bps band around mark %d",
			clob.ErrInvalidPrice, v.Price, h.bandBps, mark)
	}
	return hooks.AckBeforePlace, hooks.OrderDelta{}, nil
}
