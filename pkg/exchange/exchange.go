// Package exchange wires the matching core together: one shared ledger and
// hook dispatcher, a market registry, and one engine per market. It is the
// public surface the API and the daemon talk to.
package exchange

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/meridian-dex/meridian/pkg/clob"
	"github.com/meridian-dex/meridian/pkg/clob/book"
	"github.com/meridian-dex/meridian/pkg/clob/engine"
	"github.com/meridian-dex/meridian/pkg/clob/hooks"
	"github.com/meridian-dex/meridian/pkg/clob/ledger"
	"github.com/meridian-dex/meridian/pkg/metrics"
	"github.com/meridian-dex/meridian/pkg/storage"
)

// Transferer is the asset-transfer collaborator, invoked only at the
// deposit/withdraw boundary, never during matching. Amounts are in native
// token precision.
type Transferer interface {
	TransferIn(addr common.Address, asset string, amount int64) error
	TransferOut(addr common.Address, asset string, amount int64) error
}

// NopTransferer accepts every transfer; it stands in for the bridge on
// devnets and in tests.
type NopTransferer struct{}

func (NopTransferer) TransferIn(common.Address, string, int64) error  { return nil }
func (NopTransferer) TransferOut(common.Address, string, int64) error { return nil }

// Config carries exchange-wide tunables.
type Config struct {
	MaxFills int
	FeeSink  common.Address
}

// Exchange owns the core components and routes operations to the right
// market engine.
type Exchange struct {
	log        *zap.Logger
	registry   *clob.Registry
	ledger     *ledger.Ledger
	dispatcher *hooks.Dispatcher
	store      *storage.Store
	transfer   Transferer
	metrics    *metrics.Metrics
	cfg        Config

	// opMu serializes top-level operations across all markets. The ledger
	// is shared and the engines require one operation to run to completion
	// before the next; concurrent callers (the HTTP handlers) queue here.
	// The engine reentrancy flag still catches hooks calling back in.
	opMu sync.Mutex

	engines       map[string]*engine.Engine
	assetDecimals map[string]uint8
}

// New creates an exchange. A nil store keeps everything in memory; a nil
// metrics disables instrumentation.
func New(store *storage.Store, transfer Transferer, m *metrics.Metrics, cfg Config, log *zap.Logger) *Exchange {
	if log == nil {
		log = zap.NewNop()
	}
	if transfer == nil {
		transfer = NopTransferer{}
	}
	return &Exchange{
		log:           log,
		registry:      clob.NewRegistry(),
		ledger:        ledger.New(store),
		dispatcher:    hooks.NewDispatcher(log),
		store:         store,
		transfer:      transfer,
		metrics:       m,
		cfg:           cfg,
		engines:       make(map[string]*engine.Engine),
		assetDecimals: make(map[string]uint8),
	}
}

// Ledger exposes the balance ledger for queries.
func (x *Exchange) Ledger() *ledger.Ledger { return x.ledger }

// Registry exposes the market registry.
func (x *Exchange) Registry() *clob.Registry { return x.registry }

// InstallHook registers a hook with the dispatcher and persists its
// registration. Hooks are installed before the first operation.
func (x *Exchange) InstallHook(h hooks.Hook) error {
	if err := x.dispatcher.Install(h); err != nil {
		return err
	}
	if x.store != nil {
		return x.store.SaveHookRegistration(h.Name(), uint16(h.Capabilities()))
	}
	return nil
}

// AddMarket registers a market and builds its engine. The keeper is only
// consulted for perpetual markets.
func (x *Exchange) AddMarket(m *clob.Market, keeper engine.PositionKeeper) error {
	if err := x.registry.Register(m); err != nil {
		return err
	}

	var settler engine.Settler
	if m.Type == clob.Perpetual {
		settler = engine.NewPerpSettler(m, x.cfg.FeeSink, keeper)
	} else {
		settler = engine.NewSpotSettler(m, x.cfg.FeeSink)
	}

	eng := engine.New(m, x.ledger, x.dispatcher, settler, x.store, engine.Config{
		MaxFills: x.cfg.MaxFills,
		FeeSink:  x.cfg.FeeSink,
	}, x.log)
	x.engines[m.Symbol] = eng

	x.assetDecimals[m.BaseAsset] = m.BaseDecimals
	x.assetDecimals[m.QuoteAsset] = m.QuoteDecimals

	x.log.Info("market_added",
		zap.String("symbol", m.Symbol),
		zap.String("type", m.Type.String()))
	return nil
}

// Load restores balances and per-market order state from the store.
func (x *Exchange) Load() error {
	if err := x.ledger.Load(); err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	for symbol, eng := range x.engines {
		if err := eng.Restore(); err != nil {
			return fmt.Errorf("restore %s: %w", symbol, err)
		}
	}
	return nil
}

func (x *Exchange) engine(symbol string) (*engine.Engine, error) {
	eng, ok := x.engines[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", clob.ErrUnknownMarket, symbol)
	}
	return eng, nil
}

func (x *Exchange) decimalsOf(asset string) (uint8, error) {
	dec, ok := x.assetDecimals[asset]
	if !ok {
		return 0, fmt.Errorf("unknown asset %s", asset)
	}
	return dec, nil
}

// Deposit pulls native funds through the transfer collaborator and credits
// the vault at internal scale, flooring any precision dust outside the
// vault.
func (x *Exchange) Deposit(addr common.Address, asset string, nativeAmount int64) error {
	x.opMu.Lock()
	defer x.opMu.Unlock()

	dec, err := x.decimalsOf(asset)
	if err != nil {
		return err
	}
	internal := clob.ToInternal(nativeAmount, dec)
	if internal <= 0 {
		return fmt.Errorf("%w: deposit of %d %s is below internal resolution",
			clob.ErrInvalidQuantity, nativeAmount, asset)
	}
	if err := x.transfer.TransferIn(addr, asset, nativeAmount); err != nil {
		return fmt.Errorf("transfer in: %w", err)
	}
	if err := x.ledger.Deposit(addr, asset, internal); err != nil {
		return err
	}
	x.log.Info("deposit",
		zap.String("account", addr.Hex()),
		zap.String("asset", asset),
		zap.Int64("amount", internal))
	return nil
}

// Withdraw debits the vault at internal scale and pushes native funds out
// through the transfer collaborator. A failed transfer re-credits the
// vault, so the boundary stays conservative.
func (x *Exchange) Withdraw(addr common.Address, asset string, internalAmount int64) error {
	x.opMu.Lock()
	defer x.opMu.Unlock()

	dec, err := x.decimalsOf(asset)
	if err != nil {
		return err
	}
	if err := x.ledger.Withdraw(addr, asset, internalAmount); err != nil {
		return err
	}
	if err := x.transfer.TransferOut(addr, asset, clob.FromInternal(internalAmount, dec)); err != nil {
		if derr := x.ledger.Deposit(addr, asset, internalAmount); derr != nil {
			x.log.Error("withdraw_compensation_failed",
				zap.String("account", addr.Hex()),
				zap.Error(derr))
		}
		return fmt.Errorf("transfer out: %w", err)
	}
	x.log.Info("withdraw",
		zap.String("account", addr.Hex()),
		zap.String("asset", asset),
		zap.Int64("amount", internalAmount))
	return nil
}

// Place submits an order to a market.
func (x *Exchange) Place(symbol string, owner common.Address, side clob.Side, kind clob.OrderKind, price, qty int64) (*engine.PlaceResult, error) {
	x.opMu.Lock()
	defer x.opMu.Unlock()

	eng, err := x.engine(symbol)
	if err != nil {
		return nil, err
	}
	res, err := eng.Place(owner, side, kind, price, qty)
	if err != nil {
		if !errors.Is(err, clob.ErrReentrantCall) {
			x.metrics.RecordReject(symbol)
		}
		return nil, err
	}
	x.metrics.RecordPlace(symbol, res.Status.String(), res.Stats.Fills, res.Stats.Volume)
	x.recordDepth(symbol, eng)
	return res, nil
}

// Cancel removes a resting order.
func (x *Exchange) Cancel(symbol string, owner common.Address, id clob.OrderID) (*clob.Order, error) {
	x.opMu.Lock()
	defer x.opMu.Unlock()

	eng, err := x.engine(symbol)
	if err != nil {
		return nil, err
	}
	o, err := eng.Cancel(owner, id)
	if err != nil {
		return nil, err
	}
	x.metrics.RecordCancel(symbol)
	x.recordDepth(symbol, eng)
	return o, nil
}

func (x *Exchange) recordDepth(symbol string, eng *engine.Engine) {
	bid, _ := eng.Book().BestBid()
	ask, _ := eng.Book().BestAsk()
	x.metrics.RecordDepth(symbol, eng.Book().Len(), bid, ask)
}

// Balance returns the committed balance for (account, asset).
func (x *Exchange) Balance(addr common.Address, asset string) clob.Balance {
	return x.ledger.Get(addr, asset)
}

// BalancesOf returns the account's balance in every asset the exchange
// knows about, including zero balances.
func (x *Exchange) BalancesOf(addr common.Address) map[string]clob.Balance {
	out := make(map[string]clob.Balance, len(x.assetDecimals))
	for asset := range x.assetDecimals {
		out[asset] = x.ledger.Get(addr, asset)
	}
	return out
}

// Markets lists all registered markets.
func (x *Exchange) Markets() []*clob.Market { return x.registry.List() }

// Market returns one market definition.
func (x *Exchange) Market(symbol string) (*clob.Market, error) {
	return x.registry.Get(symbol)
}

// Depth returns aggregate book levels for a market, best first.
func (x *Exchange) Depth(symbol string, limit int) (bids, asks []book.LevelView, err error) {
	eng, err := x.engine(symbol)
	if err != nil {
		return nil, nil, err
	}
	return eng.Book().Levels(clob.Buy, limit), eng.Book().Levels(clob.Sell, limit), nil
}

// Trades returns the most recent trades for a market, newest first.
func (x *Exchange) Trades(symbol string, limit int) ([]*clob.Fill, error) {
	if _, err := x.engine(symbol); err != nil {
		return nil, err
	}
	if x.store == nil {
		return nil, nil
	}
	return x.store.RecentTrades(symbol, limit)
}

// Order returns one order by market and id.
func (x *Exchange) Order(symbol string, id clob.OrderID) (clob.Order, error) {
	eng, err := x.engine(symbol)
	if err != nil {
		return clob.Order{}, err
	}
	o, ok := eng.Order(id)
	if !ok {
		return clob.Order{}, clob.ErrUnknownOrder
	}
	return o, nil
}

// OrdersOf returns an account's orders on one market, newest first.
func (x *Exchange) OrdersOf(symbol string, owner common.Address) ([]clob.Order, error) {
	eng, err := x.engine(symbol)
	if err != nil {
		return nil, err
	}
	return eng.OrdersOf(owner), nil
}

// LastPrice returns the most recent fill price on a market.
func (x *Exchange) LastPrice(symbol string) (int64, error) {
	eng, err := x.engine(symbol)
	if err != nil {
		return 0, err
	}
	return eng.LastPrice(), nil
}
