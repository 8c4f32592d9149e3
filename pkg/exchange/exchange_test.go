package exchange

import (
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/meridian-dex/meridian/pkg/clob"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	sink  = common.HexToAddress("0x0000000000000000000000000000000000000FEE")
)

func newTestExchange(t *testing.T) *Exchange {
	t.Helper()
	x := New(nil, nil, nil, Config{FeeSink: sink}, nil)
	m, err := clob.NewMarket("MERA-USDC", "MERA", "USDC", clob.DefaultMarketParams())
	require.NoError(t, err)
	require.NoError(t, x.AddMarket(m, nil))
	return x
}

func TestDepositAndBalances(t *testing.T) {
	x := newTestExchange(t)

	require.NoError(t, x.Deposit(alice, "USDC", 10_000))
	require.Equal(t, int64(10_000), x.Balance(alice, "USDC").Available)

	balances := x.BalancesOf(alice)
	require.Len(t, balances, 2) // both market assets reported
	require.Equal(t, int64(10_000), balances["USDC"].Available)
	require.Zero(t, balances["MERA"].Available)

	require.Error(t, x.Deposit(alice, "DOGE", 5))
}

func TestDepositConvertsNativePrecision(t *testing.T) {
	x := New(nil, nil, nil, Config{FeeSink: sink}, nil)
	params := clob.DefaultMarketParams()
	params.QuoteDecimals = 8
	m, err := clob.NewMarket("MERA-USDC", "MERA", "USDC", params)
	require.NoError(t, err)
	require.NoError(t, x.AddMarket(m, nil))

	// 8-decimal native floors to 6-decimal internal.
	require.NoError(t, x.Deposit(alice, "USDC", 123_456_789))
	require.Equal(t, int64(1_234_567), x.Balance(alice, "USDC").Available)

	// A deposit below internal resolution is refused outright.
	err = x.Deposit(alice, "USDC", 99)
	require.ErrorIs(t, err, clob.ErrInvalidQuantity)
}

func TestWithdraw(t *testing.T) {
	x := newTestExchange(t)
	require.NoError(t, x.Deposit(alice, "USDC", 1_000))

	require.NoError(t, x.Withdraw(alice, "USDC", 400))
	require.Equal(t, int64(600), x.Balance(alice, "USDC").Available)

	err := x.Withdraw(alice, "USDC", 601)
	require.ErrorIs(t, err, clob.ErrInsufficientAvailable)
}

type failingTransferer struct {
	NopTransferer
	outErr error
}

func (f failingTransferer) TransferOut(common.Address, string, int64) error { return f.outErr }

func TestWithdrawCompensatesFailedTransfer(t *testing.T) {
	x := New(nil, failingTransferer{outErr: errors.New("bridge down")}, nil, Config{FeeSink: sink}, nil)
	m, err := clob.NewMarket("MERA-USDC", "MERA", "USDC", clob.DefaultMarketParams())
	require.NoError(t, err)
	require.NoError(t, x.AddMarket(m, nil))

	require.NoError(t, x.Deposit(alice, "USDC", 1_000))

	err = x.Withdraw(alice, "USDC", 500)
	require.Error(t, err)
	// The debit was rolled back.
	require.Equal(t, int64(1_000), x.Balance(alice, "USDC").Available)
}

func TestPlaceAndCancelThroughFacade(t *testing.T) {
	x := newTestExchange(t)
	require.NoError(t, x.Deposit(alice, "USDC", 100_000))
	require.NoError(t, x.Deposit(bob, "MERA", 10))

	sell, err := x.Place("MERA-USDC", bob, clob.Sell, clob.LimitOrder, 2000, 10)
	require.NoError(t, err)
	require.Equal(t, clob.OrderOpen, sell.Status)

	buy, err := x.Place("MERA-USDC", alice, clob.Buy, clob.LimitOrder, 2000, 4)
	require.NoError(t, err)
	require.Equal(t, clob.OrderFilled, buy.Status)
	require.Len(t, buy.Fills, 1)

	last, err := x.LastPrice("MERA-USDC")
	require.NoError(t, err)
	require.Equal(t, int64(2000), last)

	bids, asks, err := x.Depth("MERA-USDC", 10)
	require.NoError(t, err)
	require.Empty(t, bids)
	require.Len(t, asks, 1)
	require.Equal(t, int64(6), asks[0].Qty)

	o, err := x.Cancel("MERA-USDC", bob, sell.OrderID)
	require.NoError(t, err)
	require.Equal(t, clob.OrderCancelled, o.Status)

	orders, err := x.OrdersOf("MERA-USDC", bob)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	_, err = x.Place("NOPE-USDC", alice, clob.Buy, clob.LimitOrder, 1, 1)
	require.ErrorIs(t, err, clob.ErrUnknownMarket)
	_, err = x.Cancel("NOPE-USDC", bob, sell.OrderID)
	require.ErrorIs(t, err, clob.ErrUnknownMarket)
}

func TestOrderLookup(t *testing.T) {
	x := newTestExchange(t)
	require.NoError(t, x.Deposit(bob, "MERA", 10))

	res, err := x.Place("MERA-USDC", bob, clob.Sell, clob.LimitOrder, 2000, 10)
	require.NoError(t, err)

	o, err := x.Order("MERA-USDC", res.OrderID)
	require.NoError(t, err)
	require.Equal(t, bob, o.Owner)

	_, err = x.Order("MERA-USDC", clob.OrderID(999))
	require.ErrorIs(t, err, clob.ErrUnknownOrder)
}

func TestTradesWithoutStore(t *testing.T) {
	x := newTestExchange(t)
	trades, err := x.Trades("MERA-USDC", 10)
	require.NoError(t, err)
	require.Empty(t, trades)
}

func TestMarketsListing(t *testing.T) {
	x := newTestExchange(t)
	require.Len(t, x.Markets(), 1)

	m, err := x.Market("MERA-USDC")
	require.NoError(t, err)
	require.Equal(t, "MERA-USDC", m.Symbol)

	_, err = x.Market("NOPE-USDC")
	require.ErrorIs(t, err, clob.ErrUnknownMarket)
}

// Concurrent callers queue on the facade's operation mutex, so every order
// gets a distinct id and reservations add up exactly.
func TestConcurrentPlacementsSerialized(t *testing.T) {
	x := newTestExchange(t)

	const (
		workers = 8
		perWork = 8
	)
	var want int64
	for i := 0; i < workers*perWork; i++ {
		want += int64(1_000 + i)
	}
	require.NoError(t, x.Deposit(alice, "USDC", want))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWork; i++ {
				price := int64(1_000 + w*perWork + i)
				if _, err := x.Place("MERA-USDC", alice, clob.Buy, clob.LimitOrder, price, 1); err != nil {
					t.Errorf("place at %d: %v", price, err)
				}
			}
		}(w)
	}
	wg.Wait()

	orders, err := x.OrdersOf("MERA-USDC", alice)
	require.NoError(t, err)
	require.Len(t, orders, workers*perWork)

	seen := make(map[clob.OrderID]bool, len(orders))
	for _, o := range orders {
		require.False(t, seen[o.ID], "duplicate order id %d", o.ID)
		seen[o.ID] = true
	}

	require.Equal(t, clob.Balance{Available: 0, Locked: want}, x.Balance(alice, "USDC"))
}
