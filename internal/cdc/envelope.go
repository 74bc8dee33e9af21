// Package cdc ingests change-data-capture events for the orders table and
// feeds freshly committed orders into the matching scheduler.
package cdc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openbook/matching-engine/internal/models"
)

// Envelope is a Debezium-style wrapper describing one row mutation.
type Envelope struct {
	Payload Payload `json:"payload"`
}

type Payload struct {
	Before json.RawMessage `json:"before"`
	After  json.RawMessage `json:"after"`
	Op     string          `json:"op"`
}

// Operation codes carried in the envelope. Only inserts drive matching.
const (
	OpCreate = "c"
	OpUpdate = "u"
	OpDelete = "d"
)

// orderRow mirrors the orders table as it appears in a CDC after image.
// Price arrives base64-encoded (big-endian two's-complement unscaled integer
// at scale 2); timestamps arrive as microseconds since epoch.
type orderRow struct {
	ID             int64  `json:"id"`
	UserID         int64  `json:"user_id"`
	StockID        int64  `json:"stock_id"`
	Side           string `json:"side"`
	Price          string `json:"price"`
	Quantity       int64  `json:"quantity"`
	FilledQuantity int64  `json:"filled_quantity"`
	IsCancelled    bool   `json:"is_cancelled"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

// DecodeOrderEvent unmarshals one envelope and, for inserts, maps the after
// image to an Order. For every other operation it returns the op code and a
// nil order so the caller can log and drop it.
func DecodeOrderEvent(value []byte) (*models.Order, string, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, "", fmt.Errorf("decode envelope: %w", err)
	}
	op := env.Payload.Op
	if op != OpCreate {
		return nil, op, nil
	}
	if len(env.Payload.After) == 0 || string(env.Payload.After) == "null" {
		return nil, op, fmt.Errorf("insert event without after image")
	}

	var row orderRow
	if err := json.Unmarshal(env.Payload.After, &row); err != nil {
		return nil, op, fmt.Errorf("decode order row: %w", err)
	}
	price, err := DecodeMoney(row.Price)
	if err != nil {
		return nil, op, fmt.Errorf("decode price for order %d: %w", row.ID, err)
	}
	side := models.Side(row.Side)
	if side != models.SideBuy && side != models.SideSell {
		return nil, op, fmt.Errorf("unknown side %q for order %d", row.Side, row.ID)
	}

	return &models.Order{
		ID:             row.ID,
		UserID:         row.UserID,
		StockID:        row.StockID,
		Side:           side,
		Price:          price,
		Quantity:       row.Quantity,
		FilledQuantity: row.FilledQuantity,
		IsCancelled:    row.IsCancelled,
		CreatedAt:      time.UnixMicro(row.CreatedAt).UTC(),
		UpdatedAt:      time.UnixMicro(row.UpdatedAt).UTC(),
	}, op, nil
}

// DecodeMoney converts a base64-encoded big-endian two's-complement unscaled
// integer at two decimal places into the decimal it represents.
func DecodeMoney(encoded string) (decimal.Decimal, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return decimal.Zero, fmt.Errorf("base64: %w", err)
	}
	if len(raw) == 0 {
		return decimal.Zero, nil
	}
	unscaled := new(big.Int).SetBytes(raw)
	if raw[0]&0x80 != 0 {
		unscaled.Sub(unscaled, new(big.Int).Lsh(big.NewInt(1), uint(len(raw))*8))
	}
	return decimal.NewFromBigInt(unscaled, -2), nil
}
