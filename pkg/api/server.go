// Package api exposes the exchange over REST and websocket: order placement
// and cancels, book depth, trade history and market metadata, plus a
// broadcast hub pushing book snapshots to subscribers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/foresightex/foresight/pkg/book"
	"github.com/foresightex/foresight/pkg/engine"
	"github.com/foresightex/foresight/pkg/history"
)

const defaultDepth = 20

// Server wires the REST routes and the websocket hub over the exchange.
// It also implements engine.Notifier so book changes stream to subscribers.
type Server struct {
	exchange *engine.Exchange
	trades   *history.Store
	hub      *Hub
	log      *zap.Logger
	http     *http.Server
}

func NewServer(exchange *engine.Exchange, trades *history.Store, log *zap.Logger) *Server {
	return &Server{
		exchange: exchange,
		trades:   trades,
		hub:      NewHub(log),
		log:      log,
	}
}

// OrderBookChanged broadcasts the fresh snapshot to the book's channel.
// Implements engine.Notifier.
func (s *Server) OrderBookChanged(marketID string, outcomeID int, snap book.Snapshot) {
	s.hub.Broadcast(OrderbookChannel(marketID, outcomeID), OrderbookUpdate{
		Type:      "orderbook",
		MarketID:  marketID,
		OutcomeID: outcomeID,
		Bids:      levels(snap.Bids),
		Asks:      levels(snap.Asks),
		Timestamp: time.Now().Unix(),
	})
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.hub.serveWS)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/markets", s.handleMarkets).Methods(http.MethodGet)
	v1.HandleFunc("/markets/{market}/outcomes/{outcome}/orderbook", s.handleOrderbook).Methods(http.MethodGet)
	v1.HandleFunc("/markets/{market}/outcomes/{outcome}/trades", s.handleTrades).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{address}/orders", s.handleUserOrders).Methods(http.MethodGet)
	v1.HandleFunc("/orders", s.handlePlaceOrder).Methods(http.MethodPost)
	v1.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods(http.MethodPost)
	v1.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
}

// Start serves HTTP until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	s.log.Info("api listening", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMarkets(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.exchange.Markets())
}

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	marketID, outcomeID, err := bookVars(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	depth := defaultDepth
	if v := r.URL.Query().Get("depth"); v != "" {
		depth, err = strconv.Atoi(v)
		if err != nil || depth <= 0 {
			s.respondError(w, fmt.Errorf("%w: depth %q", book.ErrValidation, v))
			return
		}
	}
	snap, err := s.exchange.Depth(marketID, outcomeID, depth)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, OrderbookResponse{
		MarketID:  snap.MarketID,
		OutcomeID: snap.OutcomeID,
		Bids:      levels(snap.Bids),
		Asks:      levels(snap.Asks),
		Timestamp: time.Now().Unix(),
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	marketID, outcomeID, err := bookVars(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > 1000 {
			s.respondError(w, fmt.Errorf("%w: limit %q", book.ErrValidation, v))
			return
		}
	}
	trades, err := s.trades.Recent(marketID, outcomeID, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = tradeInfo(t)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleUserOrders(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addr) {
		s.respondError(w, fmt.Errorf("%w: address %q", book.ErrValidation, addr))
		return
	}
	orders := s.exchange.UserOrders(common.HexToAddress(addr), r.URL.Query().Get("market"))
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = orderInfo(o)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.exchange.GetOrder(mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orderInfo(o))
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, fmt.Errorf("%w: decode body: %v", book.ErrValidation, err))
		return
	}
	placeReq, err := placeRequest(&req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	res, err := s.exchange.PlaceOrder(r.Context(), placeReq)
	if err != nil {
		s.respondError(w, err)
		return
	}
	out := PlaceOrderResponse{
		OrderID:           res.OrderID,
		Status:            string(res.Status),
		UseAMM:            res.UseAMM,
		Matches:           matchInfos(res.Fills),
		SettlementPending: res.SettlementPending,
	}
	if res.UseAMM {
		out.Message = "no resting counterparties; route to AMM"
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, fmt.Errorf("%w: decode body: %v", book.ErrValidation, err))
		return
	}
	if req.OrderID == "" || !common.IsHexAddress(req.Maker) {
		s.respondError(w, fmt.Errorf("%w: orderId and maker are required", book.ErrValidation))
		return
	}
	maker := common.HexToAddress(req.Maker)

	if req.Signature != "" {
		salt, err := parseBig(req.Salt, "salt")
		if err != nil {
			s.respondError(w, err)
			return
		}
		sig, err := parseHexBytes(req.Signature, "signature")
		if err != nil {
			s.respondError(w, err)
			return
		}
		if err := s.exchange.VerifyCancel(req.OrderID, salt, maker, sig); err != nil {
			s.respondError(w, err)
			return
		}
	}

	status, err := s.exchange.CancelOrder(r.Context(), req.OrderID, maker)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, CancelOrderResponse{OrderID: req.OrderID, Status: status.String()})
}

func placeRequest(req *PlaceOrderRequest) (engine.PlaceRequest, error) {
	var out engine.PlaceRequest
	if !common.IsHexAddress(req.Maker) {
		return out, fmt.Errorf("%w: maker %q", book.ErrValidation, req.Maker)
	}
	side, err := parseSide(req.Side)
	if err != nil {
		return out, err
	}
	size, err := parseBig(req.Size, "size")
	if err != nil {
		return out, err
	}
	salt, err := parseBig(req.Salt, "salt")
	if err != nil {
		return out, err
	}
	sig, err := parseHexBytes(req.Signature, "signature")
	if err != nil {
		return out, err
	}
	isMarket := false
	switch req.OrderType {
	case "", "limit":
	case "market":
		isMarket = true
	default:
		return out, fmt.Errorf("%w: orderType %q", book.ErrValidation, req.OrderType)
	}
	return engine.PlaceRequest{
		MarketID:  req.MarketID,
		OutcomeID: req.OutcomeID,
		Maker:     common.HexToAddress(req.Maker),
		Side:      side,
		Price:     req.Price,
		Size:      size,
		Expiry:    req.Expiry,
		Salt:      salt,
		Signature: sig,
		Market:    isMarket,
	}, nil
}

func parseSide(s string) (book.Side, error) {
	switch strings.ToLower(s) {
	case "buy":
		return book.Buy, nil
	case "sell":
		return book.Sell, nil
	default:
		return 0, fmt.Errorf("%w: side %q", book.ErrValidation, s)
	}
}

func parseBig(s, field string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", book.ErrValidation, field, s)
	}
	return v, nil
}

func parseHexBytes(s, field string) ([]byte, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", book.ErrValidation, field, err)
	}
	return b, nil
}

func bookVars(r *http.Request) (string, int, error) {
	vars := mux.Vars(r)
	outcomeID, err := strconv.Atoi(vars["outcome"])
	if err != nil {
		return "", 0, fmt.Errorf("%w: outcome %q", book.ErrValidation, vars["outcome"])
	}
	return vars["market"], outcomeID, nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, book.ErrValidation):
		status, code = http.StatusBadRequest, "validation_failed"
	case errors.Is(err, engine.ErrAuthentication):
		status, code = http.StatusUnauthorized, "authentication_failed"
	case errors.Is(err, book.ErrNotMaker):
		status, code = http.StatusForbidden, "not_order_maker"
	case errors.Is(err, book.ErrNotFound), errors.Is(err, engine.ErrMarketUnknown):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, book.ErrDuplicateOrder):
		status, code = http.StatusConflict, "duplicate_order"
	case errors.Is(err, engine.ErrMarketInactive):
		status, code = http.StatusConflict, "market_inactive"
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	respondJSON(w, status, ErrorResponse{Error: code, Message: err.Error()})
}
