package clob

import (
	"github.com/ethereum/go-ethereum/common"
)

// Side of the book an order sits on.
type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side { return -s }

// OrderKind distinguishes limit orders from market orders.
type OrderKind int8

const (
	LimitOrder OrderKind = iota
	MarketOrder
)

func (k OrderKind) String() string {
	switch k {
	case LimitOrder:
		return "limit"
	case MarketOrder:
		return "market"
	default:
		return "unknown"
	}
}

// OrderStatus is the lifecycle state of an order. Transitions are monotone:
// an order never returns to Open after leaving it, and Filled/Cancelled are
// terminal.
type OrderStatus int8

const (
	OrderOpen OrderStatus = iota
	OrderPartiallyFilled
	OrderFilled
	OrderCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderPartiallyFilled:
		return "partially_filled"
	case OrderFilled:
		return "filled"
	case OrderCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// OrderID is a monotonically increasing identifier assigned per market.
type OrderID uint64

// Order is a resting or incoming order. Prices are integer ticks (quote
// units per lot), quantities integer lots. Reserved is the amount of the
// owner's balance currently locked on behalf of this order: quote units for
// buys, lots of base for sells.
type Order struct {
	ID     OrderID        `json:"id"`
	Owner  common.Address `json:"owner"`
	Symbol string         `json:"symbol"`
	Side   Side           `json:"side"`
	Kind   OrderKind      `json:"kind"`

	Price     int64 `json:"price"` // 0 for market orders
	Qty       int64 `json:"qty"`
	Remaining int64 `json:"remaining"`
	Reserved  int64 `json:"reserved"`

	Status OrderStatus `json:"status"`

	// Seq is the creation sequence number, used as the FIFO tie-break
	// within a price level.
	Seq uint64 `json:"seq"`

	CreatedAt int64 `json:"createdAt"` // Unix milliseconds
	UpdatedAt int64 `json:"updatedAt"`
}

// FilledQty returns the quantity filled so far.
func (o *Order) FilledQty() int64 { return o.Qty - o.Remaining }

// IsClosed reports whether the order reached a terminal status.
func (o *Order) IsClosed() bool {
	return o.Status == OrderFilled || o.Status == OrderCancelled
}

// IsBuy reports whether the order is on the bid side.
func (o *Order) IsBuy() bool { return o.Side == Buy }

// Fill is one execution between a taker and a resting maker. Price is the
// maker's quoted price (possibly nudged by a match hook); fees are expressed
// in the units of the leg each party receives.
type Fill struct {
	TradeID    uint64         `json:"tradeId"`
	Symbol     string         `json:"symbol"`
	TakerOrder OrderID        `json:"takerOrder"`
	MakerOrder OrderID        `json:"makerOrder"`
	Taker      common.Address `json:"taker"`
	Maker      common.Address `json:"maker"`
	TakerSide  Side           `json:"takerSide"`
	Price      int64          `json:"price"`
	Qty        int64          `json:"qty"`
	TakerFee   int64          `json:"takerFee"`
	MakerFee   int64          `json:"makerFee"`
	Timestamp  int64          `json:"timestamp"` // Unix milliseconds
}

// Notional returns the quote value of the fill.
func (f *Fill) Notional() int64 { return f.Price * f.Qty }
