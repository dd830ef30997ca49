package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuthUser is the identity extracted from verified Telegram init data.
// Derived once per request, never persisted directly.
type AuthUser struct {
	ID           int64
	Username     string
	FirstName    string
	ProfilePhoto string
}

// DisplayName returns the name shown next to a user's trades.
func (u AuthUser) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return "Unknown"
}

// User represents a player account
type User struct {
	ID           int64
	Username     string
	FirstName    string
	ProfilePhoto string
	Balance      decimal.Decimal
	CreatedAt    time.Time
}

// Direction of a binary-options trade.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// ActiveTrade is an in-flight bet awaiting resolution. At most one exists
// per user at any time.
type ActiveTrade struct {
	UserID     int64
	Username   string
	Direction  Direction
	Amount     decimal.Decimal
	StartPrice float64
	StartTime  time.Time
}

// TradeRecord represents a settled trade
type TradeRecord struct {
	ID           uuid.UUID       `json:"id"`
	UserID       int64           `json:"user_id"`
	Username     string          `json:"username"`
	Amount       decimal.Decimal `json:"amount"`
	Direction    Direction       `json:"direction"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	Result       string          `json:"result"` // "win" or "loss"
	ProfitAmount decimal.Decimal `json:"profit_amount"`
}

// OpenTrade is the public view of an active trade.
type OpenTrade struct {
	Username string          `json:"username"`
	Amount   decimal.Decimal `json:"amount"`
}
