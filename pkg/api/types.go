package api

// Response and request types for the REST endpoints and WebSocket messages.

// ==============================
// REST Response Types
// ==============================

// MarketInfo is a market's static configuration.
type MarketInfo struct {
	Symbol           string `json:"symbol"`
	BaseAsset        string `json:"baseAsset"`
	QuoteAsset       string `json:"quoteAsset"`
	Type             string `json:"type"`   // "Spot" or "Perpetual"
	Status           string `json:"status"` // "Active", "Paused", "Settled"
	TickSize         int64  `json:"tickSize"`
	LotSize          int64  `json:"lotSize"`
	MinNotional      int64  `json:"minNotional"`
	MakerFeeBps      int64  `json:"makerFeeBps"`
	TakerFeeBps      int64  `json:"takerFeeBps"`
	InitialMarginBps int64  `json:"initialMarginBps,omitempty"`
	LastPrice        int64  `json:"lastPrice"`
}

// OrderbookSnapshot is the aggregate book state at one moment.
type OrderbookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"` // sorted high to low
	Asks      []PriceLevel `json:"asks"` // sorted low to high
	Timestamp int64        `json:"timestamp"` // unix milliseconds
}

// PriceLevel is one aggregated book level.
type PriceLevel struct {
	Price int64 `json:"price"`
	Size  int64 `json:"size"`
}

// TradeInfo is one executed fill.
type TradeInfo struct {
	ID        uint64 `json:"id"`
	Symbol    string `json:"symbol"`
	Price     int64  `json:"price"`
	Size      int64  `json:"size"`
	TakerSide string `json:"takerSide"` // "buy" or "sell"
	Timestamp int64  `json:"timestamp"`
}

// BalanceInfo is one account's balance in one asset, internal scale.
type BalanceInfo struct {
	Asset     string `json:"asset"`
	Available int64  `json:"available"`
	Locked    int64  `json:"locked"`
	Total     int64  `json:"total"`
}

// AccountInfo is an account's full balance sheet.
type AccountInfo struct {
	Address  string        `json:"address"`
	Balances []BalanceInfo `json:"balances"`
}

// OrderInfo is one order, open or historical.
type OrderInfo struct {
	ID        uint64 `json:"id"`
	Symbol    string `json:"symbol"`
	Owner     string `json:"owner"`
	Side      string `json:"side"` // "buy" or "sell"
	Kind      string `json:"kind"` // "limit" or "market"
	Price     int64  `json:"price"`
	Qty       int64  `json:"qty"`
	Filled    int64  `json:"filled"`
	Remaining int64  `json:"remaining"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// PlaceOrderResponse reports the synchronous outcome of an order.
type PlaceOrderResponse struct {
	OrderID uint64      `json:"orderId"`
	Status  string      `json:"status"`
	Filled  int64       `json:"filled"`
	Fills   []TradeInfo `json:"fills"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// REST Request Types
// ==============================

// PlaceOrderRequest is the payload for POST /api/v1/orders.
type PlaceOrderRequest struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Side    string `json:"side"` // "buy" or "sell"
	Kind    string `json:"kind"` // "limit" or "market"
	Price   int64  `json:"price"`
	Qty     int64  `json:"qty"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel.
type CancelOrderRequest struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	OrderID uint64 `json:"orderId"`
}

// TransferRequest is the payload for the deposit and withdraw endpoints.
// Deposit amounts are in native token precision, withdrawals in internal
// scale.
type TransferRequest struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  int64  `json:"amount"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by a client to manage channel subscriptions.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["orderbook:ETH-USDC", "trades:ETH-USDC"]
}

// OrderbookUpdate is broadcast after every operation that moved the book.
type OrderbookUpdate struct {
	Type      string       `json:"type"` // "orderbook"
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

// TradeUpdate is broadcast for each committed fill.
type TradeUpdate struct {
	Type      string `json:"type"` // "trade"
	Symbol    string `json:"symbol"`
	Price     int64  `json:"price"`
	Size      int64  `json:"size"`
	TakerSide string `json:"takerSide"`
	Timestamp int64  `json:"timestamp"`
}
