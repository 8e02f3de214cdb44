// Package api exposes the engine over REST and streams notification
// records over websocket. It holds no state of its own: every mutation
// goes through the engine, every read comes back out of it.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/dexcore/escrowd/pkg/exchange"
	"github.com/dexcore/escrowd/pkg/exchange/book"
	"github.com/dexcore/escrowd/pkg/exchange/ledger"
	"github.com/dexcore/escrowd/pkg/exchange/token"
	"github.com/dexcore/escrowd/pkg/storage"
)

type Server struct {
	engine *exchange.Engine
	store  *storage.Store // optional, enables the audit log endpoint
	router *mux.Router
	hub    *Hub
	log    *zap.Logger
}

// NewServer wraps an engine. The hub is passed in (rather than built
// here) because the engine's event sink must reference it and the
// engine is constructed first.
func NewServer(engine *exchange.Engine, store *storage.Store, hub *Hub, log *zap.Logger) *Server {
	s := &Server{
		engine: engine,
		store:  store,
		router: mux.NewRouter(),
		hub:    hub,
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/orders", s.handleMakeOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/fill", s.handleFillOrder).Methods("POST")

	api.HandleFunc("/balances/{token}/{address}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders/count", s.handleOrderCount).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/events", s.handleRecentEvents).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})

	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	account, tok, amount, ok := s.parseTransfer(w, req.Address, req.Token, req.Amount)
	if !ok {
		return
	}
	if err := s.engine.DepositToken(account, tok, amount); err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "ok"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	account, tok, amount, ok := s.parseTransfer(w, req.Address, req.Token, req.Amount)
	if !ok {
		return
	}
	if err := s.engine.WithdrawToken(account, tok, amount); err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "ok"})
}

func (s *Server) handleMakeOrder(w http.ResponseWriter, r *http.Request) {
	var req MakeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	creator, ok := parseAddress(w, "address", req.Address)
	if !ok {
		return
	}
	tokenGet, ok := parseAddress(w, "tokenGet", req.TokenGet)
	if !ok {
		return
	}
	tokenGive, ok := parseAddress(w, "tokenGive", req.TokenGive)
	if !ok {
		return
	}
	if req.AmountGet == nil || req.AmountGive == nil {
		respondError(w, http.StatusBadRequest, "missing amount", "")
		return
	}

	o, err := s.engine.MakeOrder(creator, tokenGet, req.AmountGet, tokenGive, req.AmountGive)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, orderResponse(o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := s.parseCallerAndID(w, r)
	if !ok {
		return
	}
	if err := s.engine.CancelOrder(caller, id); err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "cancelled", ID: id})
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := s.parseCallerAndID(w, r)
	if !ok {
		return
	}
	if err := s.engine.FillOrder(caller, id); err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "filled", ID: id})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tok, ok := parseAddress(w, "token", vars["token"])
	if !ok {
		return
	}
	account, ok := parseAddress(w, "address", vars["address"])
	if !ok {
		return
	}
	respondJSON(w, BalanceResponse{
		Token:   tok.Hex(),
		Address: account.Hex(),
		Balance: s.engine.BalanceOf(tok, account),
	})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	var orders []*book.Order
	switch status := r.URL.Query().Get("status"); status {
	case "":
		orders = s.engine.Orders()
	case "open":
		orders = s.engine.OrdersByStatus(book.Open)
	case "cancelled":
		orders = s.engine.OrdersByStatus(book.Cancelled)
	case "filled":
		orders = s.engine.OrdersByStatus(book.Filled)
	default:
		respondError(w, http.StatusBadRequest, "invalid status filter", status)
		return
	}

	out := make([]OrderResponse, len(orders))
	for i, o := range orders {
		out[i] = orderResponse(o)
	}
	respondJSON(w, out)
}

func (s *Server) handleOrderCount(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, OrderCountResponse{Count: s.engine.OrderCount()})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseOrderID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	o, err := s.engine.GetOrder(id)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, orderResponse(o))
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotFound, "audit log disabled", "")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = n
	}
	recs, err := s.store.RecentEvents(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "read audit log", err.Error())
		return
	}
	respondJSON(w, recs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func (s *Server) parseTransfer(w http.ResponseWriter, address, tok string, amount *uint256.Int) (common.Address, common.Address, *uint256.Int, bool) {
	account, ok := parseAddress(w, "address", address)
	if !ok {
		return common.Address{}, common.Address{}, nil, false
	}
	tokenAddr, ok := parseAddress(w, "token", tok)
	if !ok {
		return common.Address{}, common.Address{}, nil, false
	}
	if amount == nil {
		respondError(w, http.StatusBadRequest, "missing amount", "")
		return common.Address{}, common.Address{}, nil, false
	}
	return account, tokenAddr, amount, true
}

func (s *Server) parseCallerAndID(w http.ResponseWriter, r *http.Request) (common.Address, uint64, bool) {
	var req CallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return common.Address{}, 0, false
	}
	caller, ok := parseAddress(w, "address", req.Address)
	if !ok {
		return common.Address{}, 0, false
	}
	id, ok := parseOrderID(w, mux.Vars(r)["id"])
	if !ok {
		return common.Address{}, 0, false
	}
	return caller, id, true
}

func parseAddress(w http.ResponseWriter, field, value string) (common.Address, bool) {
	if !common.IsHexAddress(value) {
		respondError(w, http.StatusBadRequest, "invalid address", field+": "+value)
		return common.Address{}, false
	}
	return common.HexToAddress(value), true
}

// parseOrderID rejects only non-numeric ids; out-of-range values (0
// included) flow to the engine and surface as OrderNotFound.
func parseOrderID(w http.ResponseWriter, value string) (uint64, bool) {
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", value)
		return 0, false
	}
	return id, true
}

func orderResponse(o *book.Order) OrderResponse {
	return OrderResponse{
		ID:         o.ID,
		Creator:    o.Creator.Hex(),
		TokenGet:   o.TokenGet.Hex(),
		AmountGet:  o.AmountGet,
		TokenGive:  o.TokenGive.Hex(),
		AmountGive: o.AmountGive,
		CreatedAt:  o.CreatedAt,
		Status:     o.Status.String(),
	}
}

// respondEngineError maps the engine's failure taxonomy onto HTTP.
func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, exchange.ErrOrderNotFound), errors.Is(err, token.ErrUnknownToken):
		respondError(w, http.StatusNotFound, "not found", err.Error())
	case errors.Is(err, exchange.ErrUnauthorized):
		respondError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, exchange.ErrAlreadyFilled), errors.Is(err, exchange.ErrAlreadyCancelled):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, exchange.ErrAmountExceedsBalance),
		errors.Is(err, exchange.ErrInsufficientEscrow),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientHolding),
		errors.Is(err, token.ErrInsufficientAllowance):
		respondError(w, http.StatusUnprocessableEntity, "insufficient funds", err.Error())
	default:
		s.log.Error("internal error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: detail})
}
