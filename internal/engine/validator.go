package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/openbook/matching-engine/internal/models"
)

// Violation identifies a business rule an order failed. The message doubles
// as the diagnostic text.
type Violation string

const (
	ViolationNonPositivePrice    Violation = "price must be positive"
	ViolationNonPositiveQuantity Violation = "quantity must be positive"
	ViolationCancelled           Violation = "order is cancelled"
	ViolationInsufficientBalance Violation = "insufficient balance"
)

// orderRules are evaluated in order; every failed rule is reported, not just
// the first.
var orderRules = []struct {
	ok        func(*models.Order) bool
	violation Violation
}{
	{func(o *models.Order) bool { return o.Price.IsPositive() }, ViolationNonPositivePrice},
	{func(o *models.Order) bool { return o.Quantity > 0 }, ViolationNonPositiveQuantity},
	{func(o *models.Order) bool { return !o.IsCancelled }, ViolationCancelled},
}

// Validator checks a single order against the business rules. Only buy orders
// incur the balance lookup: the buyer must cover Price × Quantity. Sell
// orders never touch the user store here; portfolio sufficiency is enforced
// at order placement, not re-checked by the engine.
type Validator struct {
	users UserStore
}

func NewValidator(users UserStore) *Validator {
	return &Validator{users: users}
}

// Validate returns every violated rule for the order. A non-nil error means
// the check itself could not run, not that the order is invalid.
func (v *Validator) Validate(ctx context.Context, o *models.Order) ([]Violation, error) {
	var violations []Violation
	for _, r := range orderRules {
		if !r.ok(o) {
			violations = append(violations, r.violation)
		}
	}
	if o.Side == models.SideBuy {
		cost := o.Price.Mul(decimal.NewFromInt(o.Quantity))
		ok, err := v.users.HasSufficientBalance(ctx, o.UserID, cost)
		if err != nil {
			return nil, fmt.Errorf("balance check for user %d: %w", o.UserID, err)
		}
		if !ok {
			violations = append(violations, ViolationInsufficientBalance)
		}
	}
	return violations, nil
}
