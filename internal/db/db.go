package db

import (
	"context"
	"errors"
	"fmt"

	"updown-game/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Sentinel errors mapped to client-visible statuses at the API boundary.
var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUserNotFound        = errors.New("user not found")
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool

	// StartingBalance is granted to every account on first sight.
	StartingBalance decimal.Decimal
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string, startingBalance decimal.Decimal) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool, StartingBalance: startingBalance}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// GetOrCreateUser returns the account for the given identity, creating it
// with the starting balance if absent. Profile fields are written once on
// creation and never refreshed on repeat visits.
func (db *DB) GetOrCreateUser(ctx context.Context, claim *models.AuthUser) (*models.User, error) {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO users (id, username, first_name, profile_photo, balance)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		claim.ID, claim.Username, claim.FirstName, claim.ProfilePhoto, db.StartingBalance)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	user := &models.User{}
	err = db.Pool.QueryRow(ctx,
		`SELECT id, username, first_name, profile_photo, balance, created_at
		 FROM users WHERE id = $1`,
		claim.ID).Scan(&user.ID, &user.Username, &user.FirstName, &user.ProfilePhoto, &user.Balance, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// AddBalance credits an account.
func (db *DB) AddBalance(ctx context.Context, userID int64, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	tag, err := db.Pool.Exec(ctx,
		"UPDATE users SET balance = balance + $1 WHERE id = $2",
		amount, userID)
	if err != nil {
		return fmt.Errorf("failed to add balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeductBalance debits an account, failing if the balance would go
// negative. The row is locked for the duration of the check-and-update so
// concurrent debits for the same user cannot race.
func (db *DB) DeductBalance(ctx context.Context, userID int64, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance decimal.Decimal
	err = tx.QueryRow(ctx,
		"SELECT balance FROM users WHERE id = $1 FOR UPDATE",
		userID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to get balance: %w", err)
	}

	if balance.LessThan(amount) {
		return ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx,
		"UPDATE users SET balance = balance - $1 WHERE id = $2",
		amount, userID)
	if err != nil {
		return fmt.Errorf("failed to deduct balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateTradeRecord appends a settled trade to the permanent history.
func (db *DB) CreateTradeRecord(ctx context.Context, rec *models.TradeRecord) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO trades (id, user_id, username, amount, direction, start_time, end_time, result, profit_amount)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.UserID, rec.Username, rec.Amount, rec.Direction,
		rec.StartTime, rec.EndTime, rec.Result, rec.ProfitAmount)
	if err != nil {
		return fmt.Errorf("failed to create trade record: %w", err)
	}
	return nil
}

// GetRecentTrades retrieves the most recent settled trades, newest first.
func (db *DB) GetRecentTrades(ctx context.Context, limit int) ([]models.TradeRecord, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, user_id, username, amount, direction, start_time, end_time, result, profit_amount
		 FROM trades
		 ORDER BY start_time DESC
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent trades: %w", err)
	}
	defer rows.Close()

	trades := []models.TradeRecord{}
	for rows.Next() {
		var rec models.TradeRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Username, &rec.Amount, &rec.Direction,
			&rec.StartTime, &rec.EndTime, &rec.Result, &rec.ProfitAmount); err != nil {
			return nil, fmt.Errorf("failed to scan trade record: %w", err)
		}
		trades = append(trades, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return trades, nil
}
