// Package api exposes the exchange over REST and WebSocket. Every mutating
// request is executed synchronously through the exchange, so a 200 response
// means the operation committed.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/meridian-dex/meridian/pkg/clob"
	"github.com/meridian-dex/meridian/pkg/clob/book"
	"github.com/meridian-dex/meridian/pkg/exchange"
)

const defaultDepthLimit = 50

// Server handles REST API and WebSocket connections.
type Server struct {
	x      *exchange.Exchange
	router *mux.Router
	hub    *Hub
	log    *zap.Logger
}

// NewServer creates an API server over an exchange.
func NewServer(x *exchange.Exchange, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		x:      x,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{address}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/accounts/{address}/withdraw", s.handleWithdraw).Methods("POST")

	// Order submission
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the HTTP server. It blocks until the listener fails.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})

	s.log.Info("api_listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// REST Handlers
// ==============================

func marketInfo(m *clob.Market, lastPrice int64) MarketInfo {
	return MarketInfo{
		Symbol:           m.Symbol,
		BaseAsset:        m.BaseAsset,
		QuoteAsset:       m.QuoteAsset,
		Type:             m.Type.String(),
		Status:           m.Status.String(),
		TickSize:         m.TickSize,
		LotSize:          m.LotSize,
		MinNotional:      m.MinNotional,
		MakerFeeBps:      m.MakerFeeBps,
		TakerFeeBps:      m.TakerFeeBps,
		InitialMarginBps: m.InitialMarginBps,
		LastPrice:        lastPrice,
	}
}

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.x.Markets()

	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		last, _ := s.x.LastPrice(m.Symbol)
		response[i] = marketInfo(m, last)
	}

	respondJSON(w, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	m, err := s.x.Market(symbol)
	if err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	}
	last, _ := s.x.LastPrice(symbol)

	respondJSON(w, marketInfo(m, last))
}

func levels(in []book.LevelView) []PriceLevel {
	out := make([]PriceLevel, len(in))
	for i, lv := range in {
		out[i] = PriceLevel{Price: lv.Price, Size: lv.Qty}
	}
	return out
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	limit := queryInt(r, "limit", defaultDepthLimit)

	bids, asks, err := s.x.Depth(symbol, limit)
	if err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	}

	respondJSON(w, OrderbookSnapshot{
		Symbol:    symbol,
		Bids:      levels(bids),
		Asks:      levels(asks),
		Timestamp: time.Now().UnixMilli(),
	})
}

func tradeInfo(f *clob.Fill) TradeInfo {
	return TradeInfo{
		ID:        f.TradeID,
		Symbol:    f.Symbol,
		Price:     f.Price,
		Size:      f.Qty,
		TakerSide: f.TakerSide.String(),
		Timestamp: f.Timestamp,
	}
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	limit := queryInt(r, "limit", defaultDepthLimit)

	fills, err := s.x.Trades(symbol, limit)
	if err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	}

	response := make([]TradeInfo, len(fills))
	for i, f := range fills {
		response[i] = tradeInfo(f)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}

	balances := s.x.BalancesOf(addr)
	infos := make([]BalanceInfo, 0, len(balances))
	for asset, b := range balances {
		infos = append(infos, BalanceInfo{
			Asset:     asset,
			Available: b.Available,
			Locked:    b.Locked,
			Total:     b.Total(),
		})
	}

	respondJSON(w, AccountInfo{Address: addr.Hex(), Balances: infos})
}

func orderInfo(o clob.Order) OrderInfo {
	return OrderInfo{
		ID:        uint64(o.ID),
		Symbol:    o.Symbol,
		Owner:     o.Owner.Hex(),
		Side:      o.Side.String(),
		Kind:      o.Kind.String(),
		Price:     o.Price,
		Qty:       o.Qty,
		Filled:    o.FilledQty(),
		Remaining: o.Remaining,
		Status:    o.Status.String(),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		respondError(w, http.StatusBadRequest, "missing symbol", "query parameter symbol is required")
		return
	}

	orders, err := s.x.OrdersOf(symbol, addr)
	if err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	}

	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = orderInfo(o)
	}
	respondJSON(w, response)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := s.x.Deposit(addr, req.Asset, req.Amount); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "deposit failed", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := s.x.Withdraw(addr, req.Asset, req.Amount); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, clob.ErrInsufficientAvailable) {
			status = http.StatusConflict
		}
		respondError(w, status, "withdraw failed", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}

	side, err := parseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	kind, err := parseKind(req.Kind)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid kind", err.Error())
		return
	}

	res, err := s.x.Place(req.Symbol, common.HexToAddress(req.Address), side, kind, req.Price, req.Qty)
	if err != nil {
		respondError(w, rejectStatus(err), "order rejected", err.Error())
		return
	}

	fills := make([]TradeInfo, len(res.Fills))
	for i := range res.Fills {
		f := &res.Fills[i]
		fills[i] = tradeInfo(f)
		s.broadcastTrade(f)
	}
	s.broadcastOrderbook(req.Symbol)

	respondJSON(w, PlaceOrderResponse{
		OrderID: uint64(res.OrderID),
		Status:  res.Status.String(),
		Filled:  res.Filled,
		Fills:   fills,
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}

	o, err := s.x.Cancel(req.Symbol, common.HexToAddress(req.Address), clob.OrderID(req.OrderID))
	if err != nil {
		respondError(w, rejectStatus(err), "cancel rejected", err.Error())
		return
	}
	s.broadcastOrderbook(req.Symbol)

	respondJSON(w, orderInfo(*o))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// WebSocket Broadcasts
// ==============================

func (s *Server) broadcastTrade(f *clob.Fill) {
	s.hub.BroadcastToChannel("trades:"+f.Symbol, TradeUpdate{
		Type:      "trade",
		Symbol:    f.Symbol,
		Price:     f.Price,
		Size:      f.Qty,
		TakerSide: f.TakerSide.String(),
		Timestamp: f.Timestamp,
	})
}

func (s *Server) broadcastOrderbook(symbol string) {
	bids, asks, err := s.x.Depth(symbol, defaultDepthLimit)
	if err != nil {
		return
	}
	s.hub.BroadcastToChannel("orderbook:"+symbol, OrderbookUpdate{
		Type:      "orderbook",
		Symbol:    symbol,
		Bids:      levels(bids),
		Asks:      levels(asks),
		Timestamp: time.Now().UnixMilli(),
	})
}

// ==============================
// Helper Functions
// ==============================

func parseAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return common.Address{}, false
	}
	return common.HexToAddress(addressStr), true
}

func parseSide(s string) (clob.Side, error) {
	switch s {
	case "buy":
		return clob.Buy, nil
	case "sell":
		return clob.Sell, nil
	default:
		return 0, errors.New("side must be buy or sell")
	}
}

func parseKind(s string) (clob.OrderKind, error) {
	switch s {
	case "limit", "":
		return clob.LimitOrder, nil
	case "market":
		return clob.MarketOrder, nil
	default:
		return 0, errors.New("kind must be limit or market")
	}
}

func rejectStatus(err error) int {
	switch {
	case errors.Is(err, clob.ErrUnknownMarket), errors.Is(err, clob.ErrUnknownOrder):
		return http.StatusNotFound
	case errors.Is(err, clob.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, clob.ErrInsufficientAvailable), errors.Is(err, clob.ErrInsufficientLocked):
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
