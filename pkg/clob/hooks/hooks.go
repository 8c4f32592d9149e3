// Package hooks implements the permissioned extension protocol. A hook
// declares the lifecycle points it participates in through a capability
// bitmask; the dispatcher skips unregistered points entirely. Hooks receive
// only value objects and return adjustment deltas, so they can refuse or
// adjust an operation but never touch the book or the ledger directly.
package hooks

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/meridian-dex/meridian/pkg/clob"
)

// Capability is the registration bitmask: one bit per lifecycle point, plus
// bits declaring that a point returns an adjustment delta.
type Capability uint16

const (
	CapBeforePlace Capability = 1 << iota
	CapAfterPlace
	CapAddedToBook
	CapBeforeCancel
	CapAfterCancel
	CapBeforeMatch
	CapAfterMatch

	// Delta bits: only meaningful together with the matching point bit.
	CapPlaceDelta
	CapMatchDelta
)

// Has reports whether all bits of want are set.
func (c Capability) Has(want Capability) bool { return c&want == want }

// Ack is the acknowledgment token a hook must return from each lifecycle
// point it implements. Returning anything else is a protocol violation and
// aborts the enclosing operation.
type Ack uint8

const (
	AckBeforePlace Ack = iota + 1
	AckAfterPlace
	AckAddedToBook
	AckBeforeCancel
	AckAfterCancel
	AckBeforeMatch
	AckAfterMatch
)

// OrderView is the value object handed to order-lifecycle points.
type OrderView struct {
	ID        clob.OrderID
	Owner     common.Address
	Symbol    string
	Side      clob.Side
	Kind      clob.OrderKind
	Price     int64
	Qty       int64
	Remaining int64
	Status    clob.OrderStatus
}

// FillView is the value object handed to match-lifecycle points.
type FillView struct {
	Symbol     string
	TakerOrder clob.OrderID
	MakerOrder clob.OrderID
	Taker      common.Address
	Maker      common.Address
	TakerSide  clob.Side
	Price      int64
	Qty        int64
}

// OrderDelta is an additive adjustment a before-place hook may return. It is
// applied to the incoming order before matching proceeds.
type OrderDelta struct {
	PriceAdjust int64
	QtyAdjust   int64
}

// IsZero reports whether the delta adjusts nothing.
func (d OrderDelta) IsZero() bool { return d.PriceAdjust == 0 && d.QtyAdjust == 0 }

// NoFeeOverride marks a MatchDelta that keeps the market's fee schedule.
const NoFeeOverride int64 = -1

// MatchDelta is the adjustment a before-match hook may return for one
// specific fill: an additive price nudge and an overriding fee rate.
type MatchDelta struct {
	PriceAdjust    int64
	FeeBpsOverride int64
}

// ZeroMatchDelta is the no-effect match adjustment.
func ZeroMatchDelta() MatchDelta { return MatchDelta{FeeBpsOverride: NoFeeOverride} }

// Hook is the extension contract: one method per lifecycle point, each
// returning the point's acknowledgment token. Unimplemented points must
// reject with clob.ErrHookNotImplemented rather than silently succeeding.
type Hook interface {
	Name() string
	Capabilities() Capability

	BeforePlace(v OrderView) (Ack, OrderDelta, error)
	AfterPlace(v OrderView) (Ack, error)
	AddedToBook(v OrderView) (Ack, error)
	BeforeCancel(v OrderView) (Ack, error)
	AfterCancel(v OrderView) (Ack, error)
	BeforeMatch(v FillView) (Ack, MatchDelta, error)
	AfterMatch(v FillView) (Ack, error)
}

// Stager is the optional contract for hooks that stage state during an
// operation and apply it only once the operation is durable. Lifecycle
// points run in the planning phase, where a later step can still abort the
// whole operation; a hook that accrues off those calls directly would keep
// effects from fills that never happened. The dispatcher delivers exactly
// one Commit or Abort per operation, after the outcome is known.
type Stager interface {
	Commit()
	Abort()
}

// BaseHook rejects every lifecycle point with ErrHookNotImplemented. Embed
// it and override only the points your capability mask declares, so an
// accidental dispatch to an unimplemented point fails loudly instead of
// masking a registration bug.
type BaseHook struct{}

func (BaseHook) BeforePlace(OrderView) (Ack, OrderDelta, error) {
	return 0, OrderDelta{}, clob.ErrHookNotImplemented
}
func (BaseHook) AfterPlace(OrderView) (Ack, error)  { return 0, clob.ErrHookNotImplemented }
func (BaseHook) AddedToBook(OrderView) (Ack, error) { return 0, clob.ErrHookNotImplemented }
func (BaseHook) BeforeCancel(OrderView) (Ack, error) {
	return 0, clob.ErrHookNotImplemented
}
func (BaseHook) AfterCancel(OrderView) (Ack, error) { return 0, clob.ErrHookNotImplemented }
func (BaseHook) BeforeMatch(FillView) (Ack, MatchDelta, error) {
	return 0, ZeroMatchDelta(), clob.ErrHookNotImplemented
}
func (BaseHook) AfterMatch(FillView) (Ack, error) { return 0, clob.ErrHookNotImplemented }
