package engine

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/meridian-dex/meridian/pkg/clob"
	"github.com/meridian-dex/meridian/pkg/clob/hooks"
	"github.com/meridian-dex/meridian/pkg/clob/ledger"
)

type markCall struct {
	owner       common.Address
	symbol      string
	sizeDelta   int64
	price       int64
	marginDelta int64
}

type recordingKeeper struct {
	calls []markCall
}

func (k *recordingKeeper) MarkPosition(owner common.Address, symbol string, sizeDelta, price, marginDelta int64) {
	k.calls = append(k.calls, markCall{owner, symbol, sizeDelta, price, marginDelta})
}

type perpFixture struct {
	market *clob.Market
	ledger *ledger.Ledger
	keeper *recordingKeeper
	eng    *Engine
}

func newPerpFixture(t *testing.T, cfg Config) *perpFixture {
	t.Helper()
	params := clob.DefaultMarketParams()
	params.Type = clob.Perpetual
	params.InitialMarginBps = 1_000
	m, err := clob.NewMarket("MERA-PERP", base, quote, params)
	require.NoError(t, err)

	l := ledger.New(nil)
	d := hooks.NewDispatcher(nil)
	k := &recordingKeeper{}
	cfg.FeeSink = sink
	eng := New(m, l, d, NewPerpSettler(m, sink, k), nil, cfg, nil)
	return &perpFixture{market: m, ledger: l, keeper: k, eng: eng}
}

func (fx *perpFixture) fund(t *testing.T, addr common.Address, amount int64) {
	t.Helper()
	require.NoError(t, fx.ledger.Deposit(addr, quote, amount))
}

func TestPerpLimitFillConsumesMarginAndFees(t *testing.T) {
	fx := newPerpFixture(t, Config{})
	fx.fund(t, bob, 5_000)
	fx.fund(t, alice, 5_000)

	// 10% initial margin on 10 @ 2000 is 2_000 quote per side.
	res, err := fx.eng.Place(bob, clob.Sell, clob.LimitOrder, 2000, 10)
	require.NoError(t, err)
	require.Equal(t, clob.OrderOpen, res.Status)
	require.Equal(t, clob.Balance{Available: 3_000, Locked: 2_000}, fx.ledger.Get(bob, quote))

	res, err = fx.eng.Place(alice, clob.Buy, clob.LimitOrder, 2000, 10)
	require.NoError(t, err)
	require.Equal(t, clob.OrderFilled, res.Status)
	require.Len(t, res.Fills, 1)

	takerFee := clob.FeeFor(20_000, fx.market.TakerFeeBps)
	makerFee := clob.FeeFor(20_000, fx.market.MakerFeeBps)
	require.Equal(t, int64(10), takerFee)
	require.Equal(t, int64(4), makerFee)

	// Fees come out of the locked margin; the rest stays locked as
	// position margin.
	require.Equal(t, clob.Balance{Available: 3_000, Locked: 1_990}, fx.ledger.Get(alice, quote))
	require.Equal(t, clob.Balance{Available: 3_000, Locked: 1_996}, fx.ledger.Get(bob, quote))
	require.Equal(t, takerFee+makerFee, fx.ledger.Get(sink, quote).Available)

	require.Len(t, fx.keeper.calls, 2)
	require.Equal(t, markCall{alice, "MERA-PERP", 10, 2000, 1_990}, fx.keeper.calls[0])
	require.Equal(t, markCall{bob, "MERA-PERP", -10, 2000, 1_996}, fx.keeper.calls[1])

	maker, ok := fx.eng.Order(res.Fills[0].MakerOrder)
	require.True(t, ok)
	require.Zero(t, maker.Reserved)
}

// A sell taker crossing a better-priced bid executes at the maker's price,
// but its margin was reserved at its own limit rate. The fill must consume
// at the reserved rate rather than the execution rate.
func TestPerpTakerBetterPriceConsumesReservedRate(t *testing.T) {
	fx := newPerpFixture(t, Config{})
	fx.fund(t, alice, 5_000)
	fx.fund(t, bob, 5_000)

	res, err := fx.eng.Place(alice, clob.Buy, clob.LimitOrder, 2200, 5)
	require.NoError(t, err)
	require.Equal(t, clob.OrderOpen, res.Status)
	require.Equal(t, int64(1_100), fx.ledger.Get(alice, quote).Locked)

	res, err = fx.eng.Place(bob, clob.Sell, clob.LimitOrder, 2000, 5)
	require.NoError(t, err)
	require.Equal(t, clob.OrderFilled, res.Status)
	require.Equal(t, int64(2200), res.Fills[0].Price)

	// Notional 11_000: taker fee 5, maker fee 2. Bob reserved 1_000 at his
	// 2000 limit and the fill consumes exactly that.
	require.Equal(t, clob.Balance{Available: 4_000, Locked: 995}, fx.ledger.Get(bob, quote))
	require.Equal(t, clob.Balance{Available: 3_900, Locked: 1_098}, fx.ledger.Get(alice, quote))

	require.Len(t, fx.keeper.calls, 2)
	require.Equal(t, markCall{bob, "MERA-PERP", -5, 2200, 995}, fx.keeper.calls[0])
	require.Equal(t, markCall{alice, "MERA-PERP", 5, 2200, 1_098}, fx.keeper.calls[1])
}

func TestPerpMarketOrderMarginAtExecutionPrice(t *testing.T) {
	fx := newPerpFixture(t, Config{})
	fx.fund(t, bob, 5_000)
	fx.fund(t, alice, 10_000)

	_, err := fx.eng.Place(bob, clob.Sell, clob.LimitOrder, 2000, 10)
	require.NoError(t, err)

	res, err := fx.eng.Place(alice, clob.Buy, clob.MarketOrder, 0, 4)
	require.NoError(t, err)
	require.Equal(t, clob.OrderFilled, res.Status)

	// Notional 8_000: margin 800 consumed at execution, taker fee 4, the
	// blanket-locked remainder released.
	require.Equal(t, clob.Balance{Available: 9_200, Locked: 796}, fx.ledger.Get(alice, quote))

	// Bob keeps 1_200 reserved for the resting 6 plus 799 position margin.
	makerFee := clob.FeeFor(8_000, fx.market.MakerFeeBps)
	require.Equal(t, int64(1), makerFee)
	require.Equal(t, clob.Balance{Available: 3_000, Locked: 1_999}, fx.ledger.Get(bob, quote))

	maker, ok := fx.eng.Order(res.Fills[0].MakerOrder)
	require.True(t, ok)
	require.Equal(t, int64(1_200), maker.Reserved)

	require.Equal(t, markCall{alice, "MERA-PERP", 4, 2000, 796}, fx.keeper.calls[0])
	require.Equal(t, markCall{bob, "MERA-PERP", -4, 2000, 799}, fx.keeper.calls[1])
}

func TestPerpCancelLeavesPositionMarginLocked(t *testing.T) {
	fx := newPerpFixture(t, Config{})
	fx.fund(t, bob, 5_000)
	fx.fund(t, alice, 5_000)

	res, err := fx.eng.Place(bob, clob.Sell, clob.LimitOrder, 2000, 10)
	require.NoError(t, err)
	sellID := res.OrderID

	_, err = fx.eng.Place(alice, clob.Buy, clob.LimitOrder, 2000, 4)
	require.NoError(t, err)

	// Cancelling releases only the resting reservation; the 799 held as
	// position margin stays locked.
	_, err = fx.eng.Cancel(bob, sellID)
	require.NoError(t, err)
	require.Equal(t, clob.Balance{Available: 4_200, Locked: 799}, fx.ledger.Get(bob, quote))

	o, ok := fx.eng.Order(sellID)
	require.True(t, ok)
	require.Equal(t, clob.OrderCancelled, o.Status)
	require.Zero(t, o.Reserved)
}

func TestPerpInsufficientMarginRejected(t *testing.T) {
	fx := newPerpFixture(t, Config{})
	fx.fund(t, alice, 500)

	_, err := fx.eng.Place(alice, clob.Buy, clob.LimitOrder, 2000, 10)
	require.ErrorIs(t, err, clob.ErrInsufficientAvailable)
	require.Equal(t, clob.Balance{Available: 500, Locked: 0}, fx.ledger.Get(alice, quote))
	require.Equal(t, 0, fx.eng.Book().Len())
}
