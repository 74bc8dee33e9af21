package cdc

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/openbook/matching-engine/internal/models"
)

func TestDecodeMoney(t *testing.T) {
	tests := []struct {
		encoded string
		want    string
	}{
		{"JxA=", "100.00"},  // 0x2710 = 10000
		{"ZA==", "1.00"},    // 0x64 = 100
		{"AA==", "0.00"},    // single zero byte
		{"2PA=", "-100.00"}, // 0xD8F0 = -10000 two's complement
		{"", "0.00"},        // empty payload decodes to zero
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.encoded), func(t *testing.T) {
			got, err := DecodeMoney(tt.encoded)
			if err != nil {
				t.Fatalf("DecodeMoney(%q) failed: %v", tt.encoded, err)
			}
			if want := decimal.RequireFromString(tt.want); !got.Equal(want) {
				t.Errorf("DecodeMoney(%q) = %s, want %s", tt.encoded, got, want)
			}
		})
	}

	if _, err := DecodeMoney("not base64!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestDecodeOrderEvent_Insert(t *testing.T) {
	value := []byte(`{
		"payload": {
			"before": null,
			"after": {
				"id": 42,
				"user_id": 7,
				"stock_id": 3,
				"side": "buy",
				"price": "JxA=",
				"quantity": 10,
				"filled_quantity": 0,
				"is_cancelled": false,
				"created_at": 1700000000000000,
				"updated_at": 1700000000000000
			},
			"op": "c"
		}
	}`)

	order, op, err := DecodeOrderEvent(value)
	if err != nil {
		t.Fatalf("DecodeOrderEvent failed: %v", err)
	}
	if op != OpCreate {
		t.Errorf("op = %q, want %q", op, OpCreate)
	}
	if order == nil {
		t.Fatal("expected an order for an insert event")
	}
	if order.ID != 42 || order.UserID != 7 || order.StockID != 3 {
		t.Errorf("ids = (%d, %d, %d), want (42, 7, 3)", order.ID, order.UserID, order.StockID)
	}
	if order.Side != models.SideBuy || order.Quantity != 10 {
		t.Errorf("order = %s x %d, want buy x 10", order.Side, order.Quantity)
	}
	if !order.Price.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("price = %s, want 100.00", order.Price)
	}
	if order.CreatedAt.UnixMicro() != 1700000000000000 {
		t.Errorf("created_at = %d, want 1700000000000000", order.CreatedAt.UnixMicro())
	}
}

func TestDecodeOrderEvent_NonInsertDropped(t *testing.T) {
	for _, op := range []string{OpUpdate, OpDelete, "r"} {
		value := []byte(`{"payload": {"before": {"id": 1}, "after": {"id": 1}, "op": "` + op + `"}}`)
		order, gotOp, err := DecodeOrderEvent(value)
		if err != nil {
			t.Errorf("op %q: unexpected error %v", op, err)
		}
		if order != nil {
			t.Errorf("op %q produced an order", op)
		}
		if gotOp != op {
			t.Errorf("op = %q, want %q", gotOp, op)
		}
	}
}

func TestDecodeOrderEvent_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"garbage", `{{{`},
		{"insert without after image", `{"payload": {"before": null, "after": null, "op": "c"}}`},
		{"bad price", `{"payload": {"after": {"id": 1, "side": "buy", "price": "!!"}, "op": "c"}}`},
		{"unknown side", `{"payload": {"after": {"id": 1, "side": "hold", "price": "ZA=="}, "op": "c"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeOrderEvent([]byte(tt.value)); err == nil {
				t.Error("expected a decode error")
			}
		})
	}
}
