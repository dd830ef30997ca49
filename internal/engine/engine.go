package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"updown-game/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sentinel errors surfaced to the request boundary.
var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidDirection = errors.New("invalid direction")
	ErrTradeActive      = errors.New("trade already active")
)

// AccountStore is the persistence the engine reserves and settles against.
type AccountStore interface {
	DeductBalance(ctx context.Context, userID int64, amount decimal.Decimal) error
	AddBalance(ctx context.Context, userID int64, amount decimal.Decimal) error
	CreateTradeRecord(ctx context.Context, rec *models.TradeRecord) error
}

// PriceSource provides the current market price.
type PriceSource interface {
	Price() float64
}

// Config holds engine parameters.
type Config struct {
	ResolveDelay time.Duration   // Time from placement to resolution (default: 5s)
	PayoutRate   decimal.Decimal // Profit multiplier on a win (default: 0.95)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ResolveDelay: 5 * time.Second,
		PayoutRate:   decimal.NewFromFloat(0.95),
	}
}

// Engine runs the per-user trade lifecycle: Idle -> Active -> Resolved.
// It owns the in-memory active trade map; pending resolutions do not
// survive a restart. A trade in flight at shutdown loses its debited stake
// from the engine's view, so PlaceTrade and Stop log every stake at risk.
type Engine struct {
	store  AccountStore
	prices PriceSource
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	active map[int64]*models.ActiveTrade
	timers map[int64]*time.Timer
}

// New creates a trade engine.
func New(store AccountStore, prices PriceSource, cfg Config, logger *zap.Logger) *Engine {
	if cfg.ResolveDelay <= 0 {
		cfg.ResolveDelay = 5 * time.Second
	}
	if cfg.PayoutRate.Sign() <= 0 {
		cfg.PayoutRate = decimal.NewFromFloat(0.95)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  store,
		prices: prices,
		cfg:    cfg,
		logger: logger,
		active: make(map[int64]*models.ActiveTrade),
		timers: make(map[int64]*time.Timer),
	}
}

// PlaceTrade validates the bet, debits the stake atomically, records the
// active trade and schedules its one-shot resolution. On any failure the
// user is left exactly as before: the active-trade slot is reserved first
// to keep "at most one trade per user" under concurrency, then released
// if the debit fails.
func (e *Engine) PlaceTrade(ctx context.Context, user *models.AuthUser, amount decimal.Decimal, direction models.Direction) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if direction != models.DirectionUp && direction != models.DirectionDown {
		return ErrInvalidDirection
	}

	trade := &models.ActiveTrade{
		UserID:     user.ID,
		Username:   user.DisplayName(),
		Direction:  direction,
		Amount:     amount,
		StartPrice: e.prices.Price(),
		StartTime:  time.Now().UTC(),
	}

	e.mu.Lock()
	if _, exists := e.active[user.ID]; exists {
		e.mu.Unlock()
		return ErrTradeActive
	}
	e.active[user.ID] = trade
	e.mu.Unlock()

	if err := e.store.DeductBalance(ctx, user.ID, amount); err != nil {
		e.mu.Lock()
		delete(e.active, user.ID)
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	e.timers[user.ID] = time.AfterFunc(e.cfg.ResolveDelay, func() {
		e.resolve(trade)
	})
	e.mu.Unlock()

	e.logger.Info("trade placed",
		zap.Int64("user_id", user.ID),
		zap.String("direction", string(direction)),
		zap.String("amount", amount.String()),
		zap.Float64("start_price", trade.StartPrice))

	return nil
}

// resolve settles a trade exactly once. Settlement errors are logged with
// the outstanding stake and never crash the process; there is no retry.
func (e *Engine) resolve(trade *models.ActiveTrade) {
	defer func() {
		e.mu.Lock()
		delete(e.active, trade.UserID)
		delete(e.timers, trade.UserID)
		e.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	endPrice := e.prices.Price()
	win := (trade.Direction == models.DirectionUp && endPrice > trade.StartPrice) ||
		(trade.Direction == models.DirectionDown && endPrice < trade.StartPrice)

	result := "loss"
	profit := trade.Amount.Neg()
	if win {
		result = "win"
		profit = trade.Amount.Mul(e.cfg.PayoutRate)
		if err := e.store.AddBalance(ctx, trade.UserID, profit); err != nil {
			// The win payout is now a liability: record it loudly rather
			// than losing the debited stake in silence.
			e.logger.Error("failed to credit win payout",
				zap.Int64("user_id", trade.UserID),
				zap.String("stake", trade.Amount.String()),
				zap.String("payout", profit.String()),
				zap.Error(err))
		}
	}

	rec := &models.TradeRecord{
		ID:           uuid.New(),
		UserID:       trade.UserID,
		Username:     trade.Username,
		Amount:       trade.Amount,
		Direction:    trade.Direction,
		StartTime:    trade.StartTime,
		EndTime:      time.Now().UTC(),
		Result:       result,
		ProfitAmount: profit,
	}
	if err := e.store.CreateTradeRecord(ctx, rec); err != nil {
		e.logger.Error("failed to record trade",
			zap.Int64("user_id", trade.UserID),
			zap.String("result", result),
			zap.String("profit", profit.String()),
			zap.Error(err))
	}

	e.logger.Info("trade resolved",
		zap.Int64("user_id", trade.UserID),
		zap.String("result", result),
		zap.Float64("start_price", trade.StartPrice),
		zap.Float64("end_price", endPrice),
		zap.String("profit", profit.String()))
}

// OpenTrades returns a snapshot of all active trades partitioned by
// direction.
func (e *Engine) OpenTrades() (up, down []models.OpenTrade) {
	e.mu.Lock()
	defer e.mu.Unlock()

	up = []models.OpenTrade{}
	down = []models.OpenTrade{}
	for _, trade := range e.active {
		entry := models.OpenTrade{Username: trade.Username, Amount: trade.Amount}
		if trade.Direction == models.DirectionUp {
			up = append(up, entry)
		} else {
			down = append(down, entry)
		}
	}
	return up, down
}

// Stop cancels all pending resolutions. Trades still active are lost along
// with their debited stakes; each is logged so operators can reconcile.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for userID, timer := range e.timers {
		timer.Stop()
		delete(e.timers, userID)
	}
	for userID, trade := range e.active {
		e.logger.Warn("unresolved trade dropped at shutdown",
			zap.Int64("user_id", userID),
			zap.String("stake", trade.Amount.String()))
		delete(e.active, userID)
	}
}
