package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/openbook/matching-engine/internal/config"
	"github.com/openbook/matching-engine/internal/db"
)

// Seed the database with demo stocks, users and resting orders.
func main() {
	ctx := context.Background()

	cfg := config.Load()
	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	var orderCount int
	if err := database.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM orders").Scan(&orderCount); err != nil {
		log.Fatalf("Failed to check orders: %v", err)
	}
	if orderCount > 0 {
		fmt.Printf("Database already has %d orders. No need to seed.\n", orderCount)
		os.Exit(0)
	}

	stocks := []struct {
		symbol, name string
	}{
		{"ACME", "Acme Corp"},
		{"GLOBX", "Globex Industries"},
	}
	stockIDs := make(map[string]int64)
	for _, st := range stocks {
		var id int64
		err := database.Pool.QueryRow(ctx,
			"INSERT INTO stocks (symbol, name) VALUES ($1, $2) ON CONFLICT (symbol) DO UPDATE SET name = EXCLUDED.name RETURNING id",
			st.symbol, st.name).Scan(&id)
		if err != nil {
			log.Fatalf("Failed to create stock %s: %v", st.symbol, err)
		}
		stockIDs[st.symbol] = id
	}

	// bcrypt hash of "password"
	const passwordHash = "$2a$10$XLhV7TU4dIvHO1d9UKgoT.Kt1XCYIbLV4LkQqmXGtN6VBnsmgS.G."
	userIDs := make(map[string]int64)
	for _, username := range []string{"trader1", "trader2"} {
		var id int64
		err := database.Pool.QueryRow(ctx,
			`INSERT INTO users (username, password_hash, balance) VALUES ($1, $2, 10000.00)
			 ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username RETURNING id`,
			username, passwordHash).Scan(&id)
		if err != nil {
			log.Fatalf("Failed to create user %s: %v", username, err)
		}
		userIDs[username] = id
	}

	// Resting orders that do not cross, so the server starts with populated books.
	orders := []struct {
		user   string
		stock  string
		side   string
		price  string
		qty    int64
		offset string
	}{
		{"trader1", "ACME", "buy", "95.00", 10, "3 hour"},
		{"trader1", "ACME", "buy", "94.50", 20, "2 hour"},
		{"trader2", "ACME", "sell", "96.00", 15, "1 hour"},
		{"trader1", "GLOBX", "buy", "41.25", 50, "2 hour"},
		{"trader2", "GLOBX", "sell", "42.00", 30, "1 hour"},
	}
	for _, o := range orders {
		_, err := database.Pool.Exec(ctx,
			`INSERT INTO orders (user_id, stock_id, side, price, quantity, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NOW() - $6::interval, NOW() - $6::interval)`,
			userIDs[o.user], stockIDs[o.stock], o.side, o.price, o.qty, o.offset)
		if err != nil {
			log.Fatalf("Failed to create %s order for %s: %v", o.side, o.user, err)
		}
	}

	fmt.Println("Successfully seeded the database!")
}
