package clob

import "fmt"

// MarketType defines the settlement style of a market.
type MarketType int8

const (
	Spot MarketType = iota
	Perpetual
)

func (mt MarketType) String() string {
	switch mt {
	case Spot:
		return "Spot"
	case Perpetual:
		return "Perpetual"
	default:
		return "Unknown"
	}
}

// MarketStatus defines the trading status of a market.
type MarketStatus int8

const (
	Active MarketStatus = iota
	Paused
	Settled
)

func (ms MarketStatus) String() string {
	switch ms {
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	case Settled:
		return "Settled"
	default:
		return "Unknown"
	}
}

// Market defines all parameters for a trading pair (e.g. MERA-USDC).
type Market struct {
	Symbol     string       `json:"symbol"`
	BaseAsset  string       `json:"baseAsset"`
	QuoteAsset string       `json:"quoteAsset"`
	Type       MarketType   `json:"type"`
	Status     MarketStatus `json:"status"`

	// TickSize and LotSize are display granularity; prices and quantities
	// are stored as integer ticks and lots.
	TickSize int64 `json:"tickSize"`
	LotSize  int64 `json:"lotSize"`

	// Native token precision, used only at the vault boundary.
	BaseDecimals  uint8 `json:"baseDecimals"`
	QuoteDecimals uint8 `json:"quoteDecimals"`

	// MinNotional prevents dust orders (in quote units).
	MinNotional int64 `json:"minNotional"`

	MinOrderSize int64 `json:"minOrderSize"` // lots
	MaxOrderSize int64 `json:"maxOrderSize"` // lots

	// Perpetual only: initial margin requirement in basis points.
	InitialMarginBps int64 `json:"initialMarginBps"`

	MakerFeeBps int64 `json:"makerFeeBps"`
	TakerFeeBps int64 `json:"takerFeeBps"`
}

// MarketParams carries the tunable parameters for NewMarket.
type MarketParams struct {
	Type             MarketType
	TickSize         int64
	LotSize          int64
	BaseDecimals     uint8
	QuoteDecimals    uint8
	MinNotional      int64
	MinOrderSize     int64
	MaxOrderSize     int64
	InitialMarginBps int64
	MakerFeeBps      int64
	TakerFeeBps      int64
}

// DefaultMarketParams returns spot parameters suitable for tests and devnets.
func DefaultMarketParams() MarketParams {
	return MarketParams{
		Type:          Spot,
		TickSize:      1,
		LotSize:       1,
		BaseDecimals:  InternalDecimals,
		QuoteDecimals: InternalDecimals,
		MinNotional:   0,
		MinOrderSize:  1,
		MaxOrderSize:  1_000_000_000,
		MakerFeeBps:   2,
		TakerFeeBps:   5,
	}
}

// NewMarket creates a market and validates its parameters.
func NewMarket(symbol, baseAsset, quoteAsset string, params MarketParams) (*Market, error) {
	m := &Market{
		Symbol:           symbol,
		BaseAsset:        baseAsset,
		QuoteAsset:       quoteAsset,
		Type:             params.Type,
		Status:           Active,
		TickSize:         params.TickSize,
		LotSize:          params.LotSize,
		BaseDecimals:     params.BaseDecimals,
		QuoteDecimals:    params.QuoteDecimals,
		MinNotional:      params.MinNotional,
		MinOrderSize:     params.MinOrderSize,
		MaxOrderSize:     params.MaxOrderSize,
		InitialMarginBps: params.InitialMarginBps,
		MakerFeeBps:      params.MakerFeeBps,
		TakerFeeBps:      params.TakerFeeBps,
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market params: %w", err)
	}
	return m, nil
}

// Validate checks market parameter sanity.
func (m *Market) Validate() error {
	if m.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if m.BaseAsset == "" || m.QuoteAsset == "" {
		return fmt.Errorf("base and quote assets must be specified")
	}
	if m.TickSize <= 0 {
		return fmt.Errorf("tick size must be positive")
	}
	if m.LotSize <= 0 {
		return fmt.Errorf("lot size must be positive")
	}
	if m.MinNotional < 0 {
		return fmt.Errorf("min notional cannot be negative")
	}
	if m.MinOrderSize <= 0 {
		return fmt.Errorf("min order size must be positive")
	}
	if m.MaxOrderSize < m.MinOrderSize {
		return fmt.Errorf("max order size must be >= min order size")
	}
	if m.Type == Perpetual && m.InitialMarginBps <= 0 {
		return fmt.Errorf("initial margin must be positive for perpetual markets")
	}
	if m.MakerFeeBps < 0 || m.TakerFeeBps < 0 {
		return fmt.Errorf("fees cannot be negative")
	}
	return nil
}

// Notional returns the quote value of price × qty.
func (m *Market) Notional(price, qty int64) int64 { return price * qty }

// FeeBps returns the fee rate for the given liquidity role.
func (m *Market) FeeBps(maker bool) int64 {
	if maker {
		return m.MakerFeeBps
	}
	return m.TakerFeeBps
}

// ValidateOrder performs all pre-mutation order checks. Market orders carry
// no price, so the price checks apply to limit orders only.
func (m *Market) ValidateOrder(kind OrderKind, price, qty int64) error {
	if m.Status != Active {
		return fmt.Errorf("%w: %s is %s", ErrMarketNotActive, m.Symbol, m.Status)
	}
	if qty <= 0 {
		return fmt.Errorf("%w: qty=%d", ErrInvalidQuantity, qty)
	}
	if qty < m.MinOrderSize {
		return fmt.Errorf("%w: size %d below minimum %d", ErrInvalidQuantity, qty, m.MinOrderSize)
	}
	if qty > m.MaxOrderSize {
		return fmt.Errorf("%w: size %d exceeds maximum %d", ErrInvalidQuantity, qty, m.MaxOrderSize)
	}
	if kind == LimitOrder {
		if price <= 0 {
			return fmt.Errorf("%w: price=%d", ErrInvalidPrice, price)
		}
		if m.Notional(price, qty) < m.MinNotional {
			return fmt.Errorf("%w: notional %d below minimum %d", ErrInvalidOrder, m.Notional(price, qty), m.MinNotional)
		}
	}
	return nil
}
