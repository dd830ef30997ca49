package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"updown-game/internal/auth"
	"updown-game/internal/db"
	"updown-game/internal/engine"
	"updown-game/internal/market"
	"updown-game/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ctxKey int

const userKey ctxKey = iota

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB          *db.DB
	Engine      *engine.Engine
	Market      *market.Simulator
	AuthService *auth.AuthService
	Logger      *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(database *db.DB, eng *engine.Engine, sim *market.Simulator, authService *auth.AuthService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{DB: database, Engine: eng, Market: sim, AuthService: authService, Logger: logger}
}

// InitDataAuthMiddleware verifies Telegram init data carried in the
// Authorization header and attaches the claim to the request context.
// Every failure looks the same to the client.
func (h *Handler) InitDataAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		initData := r.Header.Get("Authorization")
		if initData == "" {
			http.Error(w, `{"error": "Missing init data"}`, http.StatusUnauthorized)
			return
		}

		user, err := h.AuthService.VerifyInitData(initData)
		if err != nil {
			http.Error(w, `{"error": "Invalid init data"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(ctx context.Context) (*models.AuthUser, bool) {
	user, ok := ctx.Value(userKey).(*models.AuthUser)
	return user, ok
}

// GetBalance returns the caller's balance, creating the account on first
// sight.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	claim, ok := userFrom(r.Context())
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	user, err := h.DB.GetOrCreateUser(r.Context(), claim)
	if err != nil {
		h.Logger.Error("failed to get user", zap.Int64("user_id", claim.ID), zap.Error(err))
		http.Error(w, `{"error": "Failed to get balance"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{"balance": user.Balance})
}

// AddBalance credits the caller's account
func (h *Handler) AddBalance(w http.ResponseWriter, r *http.Request) {
	claim, ok := userFrom(r.Context())
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if _, err := h.DB.GetOrCreateUser(r.Context(), claim); err != nil {
		http.Error(w, `{"error": "Failed to get user"}`, http.StatusInternalServerError)
		return
	}

	if err := h.DB.AddBalance(r.Context(), claim.ID, req.Amount); err != nil {
		if errors.Is(err, db.ErrInvalidAmount) {
			http.Error(w, `{"error": "Invalid amount"}`, http.StatusBadRequest)
			return
		}
		h.Logger.Error("failed to add balance", zap.Int64("user_id", claim.ID), zap.Error(err))
		http.Error(w, `{"error": "Failed to add balance"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// DeductBalance debits the caller's account
func (h *Handler) DeductBalance(w http.ResponseWriter, r *http.Request) {
	claim, ok := userFrom(r.Context())
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if _, err := h.DB.GetOrCreateUser(r.Context(), claim); err != nil {
		http.Error(w, `{"error": "Failed to get user"}`, http.StatusInternalServerError)
		return
	}

	if err := h.DB.DeductBalance(r.Context(), claim.ID, req.Amount); err != nil {
		switch {
		case errors.Is(err, db.ErrInvalidAmount):
			http.Error(w, `{"error": "Invalid amount"}`, http.StatusBadRequest)
		case errors.Is(err, db.ErrInsufficientBalance):
			http.Error(w, `{"error": "Insufficient balance"}`, http.StatusBadRequest)
		default:
			h.Logger.Error("failed to deduct balance", zap.Int64("user_id", claim.ID), zap.Error(err))
			http.Error(w, `{"error": "Failed to deduct balance"}`, http.StatusInternalServerError)
		}
		return
	}

	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// GetPrice returns the current market price and history. Public: the chart
// renders before the session is verified.
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	price, history := h.Market.Snapshot()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"price":   price,
		"history": history,
	})
}

// PlaceTrade places a timed up/down bet
func (h *Handler) PlaceTrade(w http.ResponseWriter, r *http.Request) {
	claim, ok := userFrom(r.Context())
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Amount    decimal.Decimal  `json:"amount"`
		Direction models.Direction `json:"direction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if _, err := h.DB.GetOrCreateUser(r.Context(), claim); err != nil {
		http.Error(w, `{"error": "Failed to get user"}`, http.StatusInternalServerError)
		return
	}

	if err := h.Engine.PlaceTrade(r.Context(), claim, req.Amount, req.Direction); err != nil {
		switch {
		case errors.Is(err, engine.ErrInvalidAmount), errors.Is(err, db.ErrInvalidAmount):
			http.Error(w, `{"error": "Invalid amount"}`, http.StatusBadRequest)
		case errors.Is(err, engine.ErrInvalidDirection):
			http.Error(w, `{"error": "Invalid direction"}`, http.StatusBadRequest)
		case errors.Is(err, engine.ErrTradeActive):
			http.Error(w, `{"error": "Active trade in progress"}`, http.StatusBadRequest)
		case errors.Is(err, db.ErrInsufficientBalance):
			http.Error(w, `{"error": "Insufficient balance"}`, http.StatusBadRequest)
		default:
			h.Logger.Error("failed to place trade", zap.Int64("user_id", claim.ID), zap.Error(err))
			http.Error(w, `{"error": "Failed to place trade"}`, http.StatusInternalServerError)
		}
		return
	}

	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// GetOpenTrades returns all active trades partitioned by direction
func (h *Handler) GetOpenTrades(w http.ResponseWriter, r *http.Request) {
	if _, ok := userFrom(r.Context()); !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	up, down := h.Engine.OpenTrades()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"up":   up,
		"down": down,
	})
}

// GetHistory returns the most recent settled trades, newest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if _, ok := userFrom(r.Context()); !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	trades, err := h.DB.GetRecentTrades(r.Context(), 15)
	if err != nil {
		h.Logger.Error("failed to get trade history", zap.Error(err))
		http.Error(w, `{"error": "Failed to retrieve history"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(trades)
}
