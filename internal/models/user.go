package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a registered user. Balance is mutated only inside a trade
// commit: debited on a buy fill, credited on a sell fill.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Balance      decimal.Decimal
	CreatedAt    time.Time
}
