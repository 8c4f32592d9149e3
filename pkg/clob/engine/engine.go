// Package engine implements the matching core: price-time-priority crossing
// of incoming orders against the book, settled through the ledger and
// observed by hooks.
//
// Every top-level operation is atomic. The matching loop plans fills
// without mutating the book, settlement lands in a discardable ledger
// transaction, and all hook points run before anything is committed; the
// book is mutated only in the commit phase, after the last fallible step.
// Any validation, reservation, settlement, or hook failure therefore aborts
// the whole operation with no partial work surviving.
package engine

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/meridian-dex/meridian/pkg/clob"
	"github.com/meridian-dex/meridian/pkg/clob/book"
	"github.com/meridian-dex/meridian/pkg/clob/hooks"
	"github.com/meridian-dex/meridian/pkg/clob/ledger"
	"github.com/meridian-dex/meridian/pkg/storage"
	"github.com/meridian-dex/meridian/pkg/util"
)

// DefaultMaxFills bounds the matching loop's worst-case work per call.
const DefaultMaxFills = 256

// Config carries the engine's tunables.
type Config struct {
	MaxFills int
	FeeSink  common.Address
}

// PlaceResult reports the outcome of a place operation.
type PlaceResult struct {
	OrderID clob.OrderID     `json:"orderId"`
	Status  clob.OrderStatus `json:"status"`
	Filled  int64            `json:"filled"`
	Fills   []clob.Fill      `json:"fills"`
	Stats   BatchStats       `json:"stats"`
}

// Engine matches orders for one market.
//
// Place and Cancel follow the sequential scheduling model: one logical
// operation runs to completion before the next, so they are not safe for
// concurrent use and callers must serialize them (the exchange facade
// does). Query methods are safe against a concurrent operation.
type Engine struct {
	log        *zap.Logger
	market     *clob.Market
	book       *book.Book
	ledger     *ledger.Ledger
	dispatcher *hooks.Dispatcher
	settler    Settler
	store      *storage.Store // nil for in-memory engines
	clock      util.Clock

	// mu guards the query surface (orders map, counters, lastPrice)
	// against concurrent readers; operations themselves are sequential.
	mu          sync.RWMutex
	orders      map[clob.OrderID]*clob.Order
	nextOrderID uint64
	nextTradeID uint64
	lastPrice   int64

	maxFills int
	feeSink  common.Address

	active *ExecContext // reentrancy flag
}

// New creates an engine for one market. The settler decides spot versus
// perpetual semantics; a nil store keeps the engine in memory.
func New(market *clob.Market, l *ledger.Ledger, d *hooks.Dispatcher, s Settler, store *storage.Store, cfg Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	maxFills := cfg.MaxFills
	if maxFills <= 0 {
		maxFills = DefaultMaxFills
	}
	return &Engine{
		log:         log.With(zap.String("market", market.Symbol)),
		market:      market,
		book:        book.New(),
		ledger:      l,
		dispatcher:  d,
		settler:     s,
		store:       store,
		clock:       util.RealClock{},
		orders:      make(map[clob.OrderID]*clob.Order),
		nextOrderID: 1,
		nextTradeID: 1,
		maxFills:    maxFills,
		feeSink:     cfg.FeeSink,
	}
}

// SetClock overrides the engine clock (tests).
func (e *Engine) SetClock(c util.Clock) { e.clock = c }

// Market returns the market this engine trades.
func (e *Engine) Market() *clob.Market { return e.market }

// Book returns the order store for read-only queries.
func (e *Engine) Book() *book.Book { return e.book }

func orderView(o *clob.Order) hooks.OrderView {
	return hooks.OrderView{
		ID:        o.ID,
		Owner:     o.Owner,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Kind:      o.Kind,
		Price:     o.Price,
		Qty:       o.Qty,
		Remaining: o.Remaining,
		Status:    o.Status,
	}
}

func fillView(f *clob.Fill) hooks.FillView {
	return hooks.FillView{
		Symbol:     f.Symbol,
		TakerOrder: f.TakerOrder,
		MakerOrder: f.MakerOrder,
		Taker:      f.Taker,
		Maker:      f.Maker,
		TakerSide:  f.TakerSide,
		Price:      f.Price,
		Qty:        f.Qty,
	}
}

// Place validates, reserves, crosses, and rests (or rejects the remainder
// of) an incoming order, firing hooks at every lifecycle point. On any
// error the book and balances are unchanged.
func (e *Engine) Place(owner common.Address, side clob.Side, kind clob.OrderKind, price, qty int64) (*PlaceResult, error) {
	ctx, err := e.enter()
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		e.settleHooks(committed)
		e.exit()
	}()

	if kind == clob.MarketOrder {
		price = 0
	}
	if err := e.market.ValidateOrder(kind, price, qty); err != nil {
		return nil, err
	}

	now := e.clock.Now().UnixMilli()
	e.mu.RLock()
	id := e.nextOrderID
	e.mu.RUnlock()
	o := &clob.Order{
		ID:        clob.OrderID(id),
		Owner:     owner,
		Symbol:    e.market.Symbol,
		Side:      side,
		Kind:      kind,
		Price:     price,
		Qty:       qty,
		Remaining: qty,
		Status:    clob.OrderOpen,
		Seq:       id,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Reserve worst-case exposure before anything else can observe the
	// order. Reservation failure aborts with nothing to undo.
	if err := e.settler.Reserve(ctx.Txn, o); err != nil {
		return nil, err
	}

	delta, err := e.dispatcher.BeforePlace(orderView(o))
	if err != nil {
		return nil, err
	}
	if !delta.IsZero() {
		if err := e.applyOrderDelta(ctx, o, delta); err != nil {
			return nil, err
		}
	}

	plan, err := e.match(ctx, o, now)
	if err != nil {
		return nil, err
	}

	resting := false
	switch {
	case o.Remaining == 0:
		o.Status = clob.OrderFilled
		// Release whatever reservation a blanket lock left behind.
		if err := e.releaseLocal(ctx, o); err != nil {
			return nil, err
		}
	case o.Kind == clob.MarketOrder:
		// Market orders never rest: the unfilled remainder is rejected and
		// its reservation released; fills already planned stand.
		o.Status = clob.OrderCancelled
		if err := e.releaseLocal(ctx, o); err != nil {
			return nil, err
		}
	default:
		resting = true
		if len(plan.fills) > 0 {
			o.Status = clob.OrderPartiallyFilled
		}
		if err := e.dispatcher.AddedToBook(orderView(o)); err != nil {
			return nil, err
		}
	}

	if err := e.dispatcher.AfterPlace(orderView(o)); err != nil {
		return nil, err
	}

	if err := e.commitPlace(ctx, o, plan, resting, now); err != nil {
		return nil, err
	}
	committed = true

	e.finishStats(ctx)
	e.log.Info("order_placed",
		zap.Uint64("order_id", uint64(o.ID)),
		zap.String("side", side.String()),
		zap.String("kind", kind.String()),
		zap.Int64("price", o.Price),
		zap.Int64("qty", o.Qty),
		zap.String("status", o.Status.String()),
		zap.Int("fills", len(plan.fills)))

	return &PlaceResult{
		OrderID: o.ID,
		Status:  o.Status,
		Filled:  o.FilledQty(),
		Fills:   plan.fills,
		Stats:   ctx.Stats,
	}, nil
}

// releaseLocal releases the reservation of the operation-local taker. The
// taker is not yet shared, so zeroing the field in place is safe on abort.
func (e *Engine) releaseLocal(ctx *ExecContext, o *clob.Order) error {
	if _, err := e.settler.Release(ctx.Txn, o); err != nil {
		return err
	}
	o.Reserved = 0
	return nil
}

// applyOrderDelta applies a before-place adjustment, re-validates, and
// re-reserves at the adjusted worst case.
func (e *Engine) applyOrderDelta(ctx *ExecContext, o *clob.Order, delta hooks.OrderDelta) error {
	if err := e.releaseLocal(ctx, o); err != nil {
		return err
	}
	if o.Kind == clob.LimitOrder {
		o.Price += delta.PriceAdjust
	}
	o.Qty += delta.QtyAdjust
	o.Remaining = o.Qty
	if err := e.market.ValidateOrder(o.Kind, o.Price, o.Qty); err != nil {
		return fmt.Errorf("order delta: %w", err)
	}
	return e.settler.Reserve(ctx.Txn, o)
}

// crosses reports whether the taker's price condition admits the maker
// price. Market orders cross unconditionally.
func crosses(taker *clob.Order, makerPrice int64) bool {
	if taker.Kind == clob.MarketOrder {
		return true
	}
	if taker.IsBuy() {
		return makerPrice <= taker.Price
	}
	return makerPrice >= taker.Price
}

// checkExecPrice enforces both parties' price guarantees after a hook's
// price nudge: a limit buy never fills above its limit, a limit sell never
// below it. A nudge that violates either bound is a hook protocol breach.
func checkExecPrice(exec int64, taker, maker *clob.Order) error {
	if exec <= 0 {
		return fmt.Errorf("%w: adjusted price %d", clob.ErrHookMisbehaved, exec)
	}
	for _, o := range [2]*clob.Order{taker, maker} {
		if o.Kind == clob.MarketOrder {
			continue
		}
		if o.IsBuy() && exec > o.Price {
			return fmt.Errorf("%w: adjusted price %d above buy limit %d", clob.ErrHookMisbehaved, exec, o.Price)
		}
		if !o.IsBuy() && exec < o.Price {
			return fmt.Errorf("%w: adjusted price %d below sell limit %d", clob.ErrHookMisbehaved, exec, o.Price)
		}
	}
	return nil
}

type matchPlan struct {
	fills  []clob.Fill
	makers []*clob.Order
}

// match walks the opposing side in strict price-time order and plans fills
// against it. The execution price is always the resting maker's price: the
// taker trades at the maker's quote, never its own. The book is not mutated
// here; maker orders are only read.
func (e *Engine) match(ctx *ExecContext, taker *clob.Order, now int64) (*matchPlan, error) {
	plan := &matchPlan{}
	remaining := taker.Remaining
	var werr error

	e.book.Walk(taker.Side.Opposite(), func(maker *clob.Order) bool {
		if remaining <= 0 || !crosses(taker, maker.Price) {
			return false
		}
		if len(plan.fills) >= e.maxFills {
			werr = fmt.Errorf("%w: more than %d fills in one call", clob.ErrFillBudget, e.maxFills)
			return false
		}

		fillQty := remaining
		if maker.Remaining < fillQty {
			fillQty = maker.Remaining
		}
		f := clob.Fill{
			TradeID:    e.nextTradeID + uint64(len(plan.fills)),
			Symbol:     e.market.Symbol,
			TakerOrder: taker.ID,
			MakerOrder: maker.ID,
			Taker:      taker.Owner,
			Maker:      maker.Owner,
			TakerSide:  taker.Side,
			Price:      maker.Price,
			Qty:        fillQty,
			Timestamp:  now,
		}

		md, err := e.dispatcher.BeforeMatch(fillView(&f))
		if err != nil {
			werr = err
			return false
		}
		exec := maker.Price + md.PriceAdjust
		if err := checkExecPrice(exec, taker, maker); err != nil {
			werr = err
			return false
		}
		f.Price = exec

		takerBps, makerBps := e.market.TakerFeeBps, e.market.MakerFeeBps
		if md.FeeBpsOverride != hooks.NoFeeOverride {
			takerBps = md.FeeBpsOverride
		}
		if err := e.settler.Settle(ctx.Txn, &f, taker, maker, takerBps, makerBps); err != nil {
			werr = err
			return false
		}
		if err := e.dispatcher.AfterMatch(fillView(&f)); err != nil {
			werr = err
			return false
		}

		remaining -= fillQty
		plan.fills = append(plan.fills, f)
		plan.makers = append(plan.makers, maker)
		ctx.Stats.Fills++
		ctx.Stats.Volume += f.Notional()
		return true
	})

	if werr != nil {
		return nil, werr
	}
	taker.Remaining = remaining
	return plan, nil
}

// commitPlace is the commit phase: stage every write into one storage
// batch, commit it, then apply the in-memory mutations, which can no longer
// fail. Storage commit failure aborts with memory untouched.
func (e *Engine) commitPlace(ctx *ExecContext, o *clob.Order, plan *matchPlan, resting bool, now int64) error {
	if e.store != nil {
		batch := e.store.NewBatch()
		defer batch.Close()

		if err := ctx.Txn.Stage(batch); err != nil {
			return err
		}
		if err := batch.SetOrder(o); err != nil {
			return err
		}
		for i, f := range plan.fills {
			maker := plan.makers[i]
			clone := *maker
			clone.Remaining -= f.Qty
			clone.Reserved = e.settler.RestingReserved(maker, clone.Remaining)
			clone.UpdatedAt = now
			if clone.Remaining == 0 {
				clone.Status = clob.OrderFilled
				clone.Reserved = 0
			} else {
				clone.Status = clob.OrderPartiallyFilled
			}
			if err := batch.SetOrder(&clone); err != nil {
				return err
			}
			if err := batch.SetTrade(&plan.fills[i]); err != nil {
				return err
			}
		}
		seq := storage.Sequences{
			NextOrder: uint64(o.ID) + 1,
			NextTrade: e.nextTradeID + uint64(len(plan.fills)),
		}
		if err := batch.SetSequences(e.market.Symbol, seq); err != nil {
			return err
		}
		if err := batch.Commit(); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
	}

	// Point of no return.
	ctx.Txn.Apply()

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range plan.fills {
		f := &plan.fills[i]
		maker := plan.makers[i]
		e.settler.OnCommitFill(f, o, maker)
		e.book.Reduce(maker.ID, f.Qty)
		maker.Reserved = e.settler.RestingReserved(maker, maker.Remaining)
		maker.UpdatedAt = now
		if maker.Remaining == 0 {
			maker.Status = clob.OrderFilled
			maker.Reserved = 0
		} else {
			maker.Status = clob.OrderPartiallyFilled
		}
		e.lastPrice = f.Price
	}

	e.orders[o.ID] = o
	if resting {
		e.book.Insert(o)
	}
	e.nextOrderID = uint64(o.ID) + 1
	e.nextTradeID += uint64(len(plan.fills))
	return nil
}

// Cancel removes a resting order and unlocks exactly its remaining
// reservation. It is immediate and unconditional while the order rests, and
// fails once the order is no longer resting.
func (e *Engine) Cancel(owner common.Address, id clob.OrderID) (*clob.Order, error) {
	ctx, err := e.enter()
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		e.settleHooks(committed)
		e.exit()
	}()

	e.mu.RLock()
	o := e.orders[id]
	e.mu.RUnlock()
	if o == nil {
		return nil, clob.ErrUnknownOrder
	}
	if o.Owner != owner {
		return nil, clob.ErrNotOwner
	}
	if o.IsClosed() {
		return nil, clob.ErrOrderClosed
	}

	if err := e.dispatcher.BeforeCancel(orderView(o)); err != nil {
		return nil, err
	}
	// Unlock the remaining reservation into the transaction view; the order
	// itself is only touched at commit.
	if _, err := e.settler.Release(ctx.Txn, o); err != nil {
		return nil, err
	}
	if err := e.dispatcher.AfterCancel(orderView(o)); err != nil {
		return nil, err
	}

	now := e.clock.Now().UnixMilli()
	if e.store != nil {
		batch := e.store.NewBatch()
		defer batch.Close()

		if err := ctx.Txn.Stage(batch); err != nil {
			return nil, err
		}
		clone := *o
		clone.Status = clob.OrderCancelled
		clone.Reserved = 0
		clone.UpdatedAt = now
		if err := batch.SetOrder(&clone); err != nil {
			return nil, err
		}
		if err := batch.Commit(); err != nil {
			return nil, fmt.Errorf("commit batch: %w", err)
		}
	}

	ctx.Txn.Apply()
	committed = true

	e.mu.Lock()
	e.book.Remove(id)
	o.Status = clob.OrderCancelled
	o.Reserved = 0
	o.UpdatedAt = now
	e.mu.Unlock()

	e.finishStats(ctx)
	e.log.Info("order_cancelled", zap.Uint64("order_id", uint64(id)))
	return o, nil
}

// Order returns a copy of an order by id; history is retained, so filled
// and cancelled orders stay queryable.
func (e *Engine) Order(id clob.OrderID) (clob.Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.orders[id]
	if !ok {
		return clob.Order{}, false
	}
	return *o, true
}

// OrdersOf returns copies of all orders owned by an account, newest first.
func (e *Engine) OrdersOf(owner common.Address) []clob.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []clob.Order
	for id := e.nextOrderID - 1; id >= 1; id-- {
		if o, ok := e.orders[clob.OrderID(id)]; ok && o.Owner == owner {
			out = append(out, *o)
		}
	}
	return out
}

// LastPrice returns the price of the most recent fill, 0 before any trade.
func (e *Engine) LastPrice() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastPrice
}

// restore re-seats a persisted open order on the book at startup. Orders
// must arrive in creation-sequence order so FIFO priority is preserved.
func (e *Engine) restore(o *clob.Order, seq storage.Sequences) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.orders[o.ID] = o
	if !o.IsClosed() {
		e.book.Insert(o)
	}
	if seq.NextOrder > e.nextOrderID {
		e.nextOrderID = seq.NextOrder
	}
	if seq.NextTrade > e.nextTradeID {
		e.nextTradeID = seq.NextTrade
	}
}

// Restore loads the engine's persisted orders and counters from the store.
func (e *Engine) Restore() error {
	if e.store == nil {
		return nil
	}
	seq, err := e.store.LoadSequences(e.market.Symbol)
	if err != nil {
		return err
	}
	return e.store.ForEachOrder(e.market.Symbol, func(o *clob.Order) error {
		e.restore(o, seq)
		return nil
	})
}
