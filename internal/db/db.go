// Package db is the PostgreSQL-backed implementation of the persistence
// contracts the matching engine and the HTTP API depend on.
package db

import (
	"context"
	"errors"
	"fmt"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/openbook/matching-engine/internal/engine"
	"github.com/openbook/matching-engine/internal/models"
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

var (
	_ engine.OrderStore = (*DB)(nil)
	_ engine.UserStore  = (*DB)(nil)
	_ engine.TradeStore = (*DB)(nil)
)

// NewDB initializes a connection pool with shopspring decimal support
// registered on every connection, so NUMERIC columns scan losslessly.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

const orderColumns = "id, user_id, stock_id, side, price, quantity, filled_quantity, is_cancelled, created_at, updated_at"

func scanOrder(row pgx.Row) (*models.Order, error) {
	o := &models.Order{}
	var side string
	err := row.Scan(&o.ID, &o.UserID, &o.StockID, &side, &o.Price, &o.Quantity,
		&o.FilledQuantity, &o.IsCancelled, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Side = models.Side(side)
	return o, nil
}

// CreateOrder inserts a new order in pending state.
func (db *DB) CreateOrder(ctx context.Context, o *models.Order) (*models.Order, error) {
	row := db.Pool.QueryRow(ctx,
		"INSERT INTO orders (user_id, stock_id, side, price, quantity) VALUES ($1, $2, $3, $4, $5) RETURNING "+orderColumns,
		o.UserID, o.StockID, string(o.Side), o.Price, o.Quantity)
	created, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return created, nil
}

// GetOrder retrieves one order by id.
func (db *DB) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	row := db.Pool.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, engine.ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	return o, nil
}

// GetAllOpenOrders retrieves every pending or partially filled order, oldest
// first, for the startup book rebuild.
func (db *DB) GetAllOpenOrders(ctx context.Context) ([]*models.Order, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE NOT is_cancelled AND filled_quantity < quantity
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	return orders, nil
}

// GetUserOrders retrieves all orders for a user, newest first.
func (db *DB) GetUserOrders(ctx context.Context, userID int64) ([]*models.Order, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("get orders for user %d: %w", userID, err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get orders for user %d: %w", userID, err)
	}
	return orders, nil
}

// UpdateFilledQuantity persists a new fill level for an order.
func (db *DB) UpdateFilledQuantity(ctx context.Context, id, filled int64) error {
	tag, err := db.Pool.Exec(ctx,
		"UPDATE orders SET filled_quantity = $1, updated_at = NOW() WHERE id = $2", filled, id)
	if err != nil {
		return fmt.Errorf("update filled quantity for order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %d: %w", id, engine.ErrOrderNotFound)
	}
	return nil
}

// CancelOrder marks an order cancelled. Cancelling an already cancelled
// order is a no-op; a fully filled order is left untouched.
func (db *DB) CancelOrder(ctx context.Context, id int64) error {
	_, err := db.Pool.Exec(ctx,
		"UPDATE orders SET is_cancelled = TRUE, updated_at = NOW() WHERE id = $1 AND filled_quantity < quantity", id)
	if err != nil {
		return fmt.Errorf("cancel order %d: %w", id, err)
	}
	return nil
}

// CancelUserOrder cancels an order owned by the user, locking the row so a
// concurrent fill cannot slip in between the check and the update.
func (db *DB) CancelUserOrder(ctx context.Context, orderID, userID int64) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var filled, quantity int64
	var cancelled bool
	err = tx.QueryRow(ctx,
		"SELECT filled_quantity, quantity, is_cancelled FROM orders WHERE id = $1 AND user_id = $2 FOR UPDATE",
		orderID, userID).Scan(&filled, &quantity, &cancelled)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("order %d: %w", orderID, engine.ErrOrderNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock order %d: %w", orderID, err)
	}

	if cancelled {
		return tx.Commit(ctx)
	}
	if filled >= quantity {
		return fmt.Errorf("order %d is already filled", orderID)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE orders SET is_cancelled = TRUE, updated_at = NOW() WHERE id = $1", orderID); err != nil {
		return fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit cancel of order %d: %w", orderID, err)
	}
	return nil
}

// CreateUser inserts a new user. The starting balance comes from the column
// default.
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, balance, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Balance, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by id.
func (db *DB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, balance, created_at FROM users WHERE id = $1",
		id).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Balance, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, engine.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, balance, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Balance, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, engine.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %q: %w", username, err)
	}
	return user, nil
}

// HasSufficientBalance reports whether the user's balance covers amount.
func (db *DB) HasSufficientBalance(ctx context.Context, userID int64, amount decimal.Decimal) (bool, error) {
	var sufficient bool
	err := db.Pool.QueryRow(ctx,
		"SELECT balance >= $2 FROM users WHERE id = $1", userID, amount).Scan(&sufficient)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("user %d: %w", userID, engine.ErrUserNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("check balance for user %d: %w", userID, err)
	}
	return sufficient, nil
}

// UpdateBalance persists a new balance for the user.
func (db *DB) UpdateBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	tag, err := db.Pool.Exec(ctx,
		"UPDATE users SET balance = $1 WHERE id = $2", balance, userID)
	if err != nil {
		return fmt.Errorf("update balance for user %d: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %d: %w", userID, engine.ErrUserNotFound)
	}
	return nil
}

// AddTrade inserts a trade row and returns it with its id and timestamp.
func (db *DB) AddTrade(ctx context.Context, t *models.Trade) (*models.Trade, error) {
	stored := *t
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO trades (stock_id, buyer_id, seller_id, buy_order_id, sell_order_id, price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, executed_at`,
		t.StockID, t.BuyerID, t.SellerID, t.BuyOrderID, t.SellOrderID, t.Price, t.Quantity).
		Scan(&stored.ID, &stored.ExecutedAt)
	if err != nil {
		return nil, fmt.Errorf("add trade: %w", err)
	}
	return &stored, nil
}

// GetUserTrades retrieves every trade the user took part in, newest first.
func (db *DB) GetUserTrades(ctx context.Context, userID int64) ([]*models.Trade, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, stock_id, buyer_id, seller_id, buy_order_id, sell_order_id, price, quantity, executed_at
		FROM trades
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY executed_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("get trades for user %d: %w", userID, err)
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		t := &models.Trade{}
		if err := rows.Scan(&t.ID, &t.StockID, &t.BuyerID, &t.SellerID, &t.BuyOrderID,
			&t.SellOrderID, &t.Price, &t.Quantity, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get trades for user %d: %w", userID, err)
	}
	return trades, nil
}
