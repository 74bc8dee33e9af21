// Package api exposes the order-placement and account surface over HTTP.
// Matching itself is asynchronous: placing an order persists the row and the
// CDC pipeline (or, without Kafka, the direct submit path) triggers the
// engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openbook/matching-engine/internal/auth"
	"github.com/openbook/matching-engine/internal/engine"
	"github.com/openbook/matching-engine/internal/models"
)

// Store is the slice of persistence the handlers need.
type Store interface {
	CreateOrder(ctx context.Context, o *models.Order) (*models.Order, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetUserOrders(ctx context.Context, userID int64) ([]*models.Order, error)
	GetUserTrades(ctx context.Context, userID int64) ([]*models.Trade, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	CancelUserOrder(ctx context.Context, orderID, userID int64) error
}

// Matcher triggers a matching pass for a newly created order. It is nil when
// CDC ingestion drives the engine instead.
type Matcher interface {
	Submit(o *models.Order)
}

type ctxKey string

const ctxUserID ctxKey = "user_id"

// Handler contains dependencies for the HTTP handlers.
type Handler struct {
	Store   Store
	Engine  *engine.Service
	Matcher Matcher
	Auth    *auth.AuthService
	Log     *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(store Store, eng *engine.Service, matcher Matcher, authService *auth.AuthService, log *zap.Logger) *Handler {
	return &Handler{Store: store, Engine: eng, Matcher: matcher, Auth: authService, Log: log}
}

// Register handles user registration.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}

	user, err := h.Auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies bearer tokens and stashes the user id in the
// request context.
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "authorization header required")
			return
		}
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.Auth.GetUserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxUserID, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PlaceOrder validates and persists a new order. The matching pass happens
// asynchronously once the insert is picked up.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(ctxUserID).(int64)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		StockID  int64  `json:"stock_id"`
		Side     string `json:"side"`
		Price    string `json:"price"`
		Quantity int64  `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	side := models.Side(req.Side)
	if side != models.SideBuy && side != models.SideSell {
		writeError(w, http.StatusBadRequest, "side must be 'buy' or 'sell'")
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid price")
		return
	}
	if !price.IsPositive() || price.Exponent() < -2 {
		writeError(w, http.StatusBadRequest, "price must be positive with at most 2 decimal places")
		return
	}
	if req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}
	if req.StockID <= 0 {
		writeError(w, http.StatusBadRequest, "stock_id required")
		return
	}

	order, err := h.Store.CreateOrder(r.Context(), &models.Order{
		UserID:   userID,
		StockID:  req.StockID,
		Side:     side,
		Price:    price,
		Quantity: req.Quantity,
	})
	if err != nil {
		h.Log.Error("create order failed", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create order")
		return
	}

	// Without CDC the insert would never reach the engine; hand it over here.
	if h.Matcher != nil {
		h.Matcher.Submit(order)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"order_id": order.ID,
		"status":   order.Status(),
	})
}

// GetUserOrders retrieves the authenticated user's orders.
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(ctxUserID).(int64)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orders, err := h.Store.GetUserOrders(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve orders")
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetUserTrades retrieves the authenticated user's trade history.
func (h *Handler) GetUserTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(ctxUserID).(int64)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	trades, err := h.Store.GetUserTrades(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve trades")
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetPortfolio retrieves the authenticated user's balance.
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(ctxUserID).(int64)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.Store.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
		"balance":  user.Balance,
	})
}

// GetOrderBook retrieves the resting orders for one instrument.
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	stockID, err := strconv.ParseInt(r.URL.Query().Get("stock_id"), 10, 64)
	if err != nil || stockID <= 0 {
		writeError(w, http.StatusBadRequest, "stock_id query parameter required")
		return
	}

	buys, sells := h.Engine.BookOrders(stockID)
	writeJSON(w, http.StatusOK, map[string]any{
		"buy_orders":  buys,
		"sell_orders": sells,
	})
}

// CancelOrder cancels an open order and detaches it from the live book.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(ctxUserID).(int64)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.Store.GetOrder(r.Context(), orderID)
	if err != nil || order.UserID != userID {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	if err := h.Store.CancelUserOrder(r.Context(), orderID, userID); err != nil {
		if errors.Is(err, engine.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to cancel order: "+err.Error())
		return
	}

	// DB is the source of truth; a cancelled order that was never in the
	// live book is fine.
	if !h.Engine.RemoveOrder(order.StockID, orderID) {
		h.Log.Info("cancelled order was not resting in book", zap.Int64("order_id", orderID))
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "order cancelled"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
