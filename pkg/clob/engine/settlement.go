package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meridian-dex/meridian/pkg/clob"
	"github.com/meridian-dex/meridian/pkg/clob/ledger"
)

// Settler is the settlement strategy the engine is parameterized over. Spot
// and perpetual settlement are interchangeable implementations of the same
// lock/release/settle capability.
//
// Settle runs during the planning phase: it may mutate the ledger Txn and
// the taker order (operation-local until commit) but must never touch the
// maker order, whose reservation is derived from RestingReserved instead.
type Settler interface {
	// Reserve locks the order's worst-case exposure and records it in
	// o.Reserved.
	Reserve(t *ledger.Txn, o *clob.Order) error

	// Release unlocks whatever of the order's reservation remains and
	// returns the released amount. The caller zeroes o.Reserved when the
	// release takes effect.
	Release(t *ledger.Txn, o *clob.Order) (int64, error)

	// Settle applies one fill: both legs, fees to the sink. Fee amounts are
	// recorded on the fill.
	Settle(t *ledger.Txn, f *clob.Fill, taker, maker *clob.Order, takerBps, makerBps int64) error

	// RestingReserved returns the reservation implied by a resting order
	// with the given remaining quantity.
	RestingReserved(o *clob.Order, remaining int64) int64

	// OnCommitFill runs in the commit phase, after the operation can no
	// longer fail. Implementations must not return errors.
	OnCommitFill(f *clob.Fill, taker, maker *clob.Order)
}

// reservedAsset returns the asset an order's reservation is held in.
func reservedAsset(m *clob.Market, o *clob.Order) string {
	if o.IsBuy() {
		return m.QuoteAsset
	}
	return m.BaseAsset
}

// SpotSettler settles fills by exchanging base against quote inside the
// vault. A buy reserves notional in quote; a sell reserves quantity in base.
// Fees come out of the leg each party receives, so reservations are exact.
type SpotSettler struct {
	market  *clob.Market
	feeSink common.Address
}

// NewSpotSettler creates the spot settlement strategy.
func NewSpotSettler(market *clob.Market, feeSink common.Address) *SpotSettler {
	return &SpotSettler{market: market, feeSink: feeSink}
}

func (s *SpotSettler) Reserve(t *ledger.Txn, o *clob.Order) error {
	if o.IsBuy() {
		if o.Kind == clob.MarketOrder {
			// Worst-case exposure of a market buy is unknowable up front:
			// reserve the caller's full available quote and release the
			// leftover when the operation ends.
			avail := t.Available(o.Owner, s.market.QuoteAsset)
			if avail <= 0 {
				return fmt.Errorf("%w: no available %s for market buy",
					clob.ErrInsufficientAvailable, s.market.QuoteAsset)
			}
			if err := t.Lock(o.Owner, s.market.QuoteAsset, avail); err != nil {
				return err
			}
			o.Reserved = avail
			return nil
		}
		notional := s.market.Notional(o.Price, o.Remaining)
		if err := t.Lock(o.Owner, s.market.QuoteAsset, notional); err != nil {
			return err
		}
		o.Reserved = notional
		return nil
	}
	if err := t.Lock(o.Owner, s.market.BaseAsset, o.Remaining); err != nil {
		return err
	}
	o.Reserved = o.Remaining
	return nil
}

func (s *SpotSettler) Release(t *ledger.Txn, o *clob.Order) (int64, error) {
	if o.Reserved == 0 {
		return 0, nil
	}
	if err := t.Unlock(o.Owner, reservedAsset(s.market, o), o.Reserved); err != nil {
		return 0, err
	}
	return o.Reserved, nil
}

func (s *SpotSettler) RestingReserved(o *clob.Order, remaining int64) int64 {
	if o.IsBuy() {
		return s.market.Notional(o.Price, remaining)
	}
	return remaining
}

func (s *SpotSettler) Settle(t *ledger.Txn, f *clob.Fill, taker, maker *clob.Order, takerBps, makerBps int64) error {
	notional := f.Notional()

	buyer, seller := taker, maker
	buyerBps, sellerBps := takerBps, makerBps
	if !taker.IsBuy() {
		buyer, seller = maker, taker
		buyerBps, sellerBps = makerBps, takerBps
	}

	// The buyer's quote was reserved at their limit rate (or as a blanket
	// lock for market buys); the execution price can only be better, and the
	// difference is refunded before settling the leg.
	consumeRate := f.Price
	if buyer.Kind == clob.LimitOrder {
		consumeRate = buyer.Price
	}
	consumed := consumeRate * f.Qty
	if buyer == taker && taker.Reserved < consumed {
		return fmt.Errorf("%w: reserved %d, fill needs %d",
			clob.ErrInsufficientAvailable, taker.Reserved, consumed)
	}
	if refund := consumed - notional; refund > 0 {
		if err := t.Unlock(buyer.Owner, s.market.QuoteAsset, refund); err != nil {
			return err
		}
	}

	// Quote leg: buyer's locked notional to seller, net of the seller's fee.
	sellerFee := clob.FeeFor(notional, sellerBps)
	if err := t.Settle(buyer.Owner, seller.Owner, s.market.QuoteAsset, notional, sellerFee, s.feeSink); err != nil {
		return err
	}

	// Base leg: seller's locked quantity to buyer, net of the buyer's fee.
	buyerFee := clob.FeeFor(f.Qty, buyerBps)
	if err := t.Settle(seller.Owner, buyer.Owner, s.market.BaseAsset, f.Qty, buyerFee, s.feeSink); err != nil {
		return err
	}

	// Reservation bookkeeping for the operation-local taker; the maker's
	// reservation is recomputed from the invariant at commit time.
	if taker == buyer {
		taker.Reserved -= consumed
		f.TakerFee, f.MakerFee = buyerFee, sellerFee
	} else {
		taker.Reserved -= f.Qty
		f.TakerFee, f.MakerFee = sellerFee, buyerFee
	}
	return nil
}

func (s *SpotSettler) OnCommitFill(*clob.Fill, *clob.Order, *clob.Order) {}

// PositionKeeper is the collateral collaborator for perpetual books. The
// core only marks fills; margin health and liquidation live outside.
type PositionKeeper interface {
	MarkPosition(owner common.Address, symbol string, sizeDelta, price, marginDelta int64)
}

// PerpSettler settles fills on a quote-margined perpetual book: each side
// reserves initial margin on its notional, fees come out of the consumed
// margin, and position changes are marked through the keeper at commit
// time. Unconsumed margin stays locked under the owner as position margin.
type PerpSettler struct {
	market  *clob.Market
	feeSink common.Address
	keeper  PositionKeeper
}

// NewPerpSettler creates the perpetual settlement strategy.
func NewPerpSettler(market *clob.Market, feeSink common.Address, keeper PositionKeeper) *PerpSettler {
	return &PerpSettler{market: market, feeSink: feeSink, keeper: keeper}
}

func (s *PerpSettler) marginFor(price, qty int64) int64 {
	return s.market.Notional(price, qty) * s.market.InitialMarginBps / 10000
}

// consumedMargin is the margin a fill consumes from an order's reservation:
// limit orders reserved at their limit rate, market orders at execution.
func (s *PerpSettler) consumedMargin(o *clob.Order, f *clob.Fill) int64 {
	if o.Kind == clob.LimitOrder {
		return s.marginFor(o.Price, f.Qty)
	}
	return s.marginFor(f.Price, f.Qty)
}

func (s *PerpSettler) Reserve(t *ledger.Txn, o *clob.Order) error {
	if o.Kind == clob.MarketOrder {
		avail := t.Available(o.Owner, s.market.QuoteAsset)
		if avail <= 0 {
			return fmt.Errorf("%w: no available %s for market order",
				clob.ErrInsufficientAvailable, s.market.QuoteAsset)
		}
		if err := t.Lock(o.Owner, s.market.QuoteAsset, avail); err != nil {
			return err
		}
		o.Reserved = avail
		return nil
	}
	margin := s.marginFor(o.Price, o.Remaining)
	if err := t.Lock(o.Owner, s.market.QuoteAsset, margin); err != nil {
		return err
	}
	o.Reserved = margin
	return nil
}

func (s *PerpSettler) Release(t *ledger.Txn, o *clob.Order) (int64, error) {
	if o.Reserved == 0 {
		return 0, nil
	}
	if err := t.Unlock(o.Owner, s.market.QuoteAsset, o.Reserved); err != nil {
		return 0, err
	}
	return o.Reserved, nil
}

func (s *PerpSettler) RestingReserved(o *clob.Order, remaining int64) int64 {
	return s.marginFor(o.Price, remaining)
}

func (s *PerpSettler) Settle(t *ledger.Txn, f *clob.Fill, taker, maker *clob.Order, takerBps, makerBps int64) error {
	notional := f.Notional()
	takerFee := clob.FeeFor(notional, takerBps)
	makerFee := clob.FeeFor(notional, makerBps)

	// Margin consumed by the taker side of this fill, at the rate it was
	// reserved at. The maker's share is the drop in its resting reservation,
	// recomputed at commit. Fees are carved out of the consumed margin, not
	// charged on top of it.
	takerMargin := s.consumedMargin(taker, f)
	if takerFee > takerMargin {
		return fmt.Errorf("%w: fee %d exceeds margin %d", clob.ErrInvalidOrder, takerFee, takerMargin)
	}
	if taker.Reserved < takerMargin {
		return fmt.Errorf("%w: reserved %d, fill needs %d",
			clob.ErrInsufficientAvailable, taker.Reserved, takerMargin)
	}

	// Fees move from locked margin to the sink; the rest of the consumed
	// margin stays locked under the owner as position margin.
	if err := t.Settle(taker.Owner, s.feeSink, s.market.QuoteAsset, takerFee, 0, s.feeSink); err != nil {
		return err
	}
	if err := t.Settle(maker.Owner, s.feeSink, s.market.QuoteAsset, makerFee, 0, s.feeSink); err != nil {
		return err
	}

	taker.Reserved -= takerMargin

	f.TakerFee, f.MakerFee = takerFee, makerFee
	return nil
}

// OnCommitFill marks both positions. The engine invokes it before reducing
// the maker on the book, so maker.Remaining is still the pre-fill quantity.
func (s *PerpSettler) OnCommitFill(f *clob.Fill, taker, maker *clob.Order) {
	if s.keeper == nil {
		return
	}
	size := f.Qty
	if f.TakerSide == clob.Sell {
		size = -size
	}
	takerMargin := s.consumedMargin(taker, f) - f.TakerFee
	makerMargin := s.RestingReserved(maker, maker.Remaining) -
		s.RestingReserved(maker, maker.Remaining-f.Qty) - f.MakerFee
	s.keeper.MarkPosition(taker.Owner, f.Symbol, size, f.Price, takerMargin)
	s.keeper.MarkPosition(maker.Owner, f.Symbol, -size, f.Price, makerMargin)
}
