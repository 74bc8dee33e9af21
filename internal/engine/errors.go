package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openbook/matching-engine/internal/models"
)

// Store lookups wrap these sentinels so the executor can tell a consistency
// violation (a proposal referencing a row that does not exist) apart from an
// infrastructure failure.
var (
	ErrOrderNotFound = errors.New("order not found")
	ErrUserNotFound  = errors.New("user not found")
)

// TradeRejectedError reports that one leg of a proposal failed validation and
// was cancelled. The opposite leg is untouched and stays available for other
// counter-orders. This is a recoverable business failure, not a bug.
type TradeRejectedError struct {
	OrderID    int64
	Side       models.Side
	Violations []Violation
}

func (e *TradeRejectedError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = string(v)
	}
	return fmt.Sprintf("%s order %d rejected: %s", e.Side, e.OrderID, strings.Join(msgs, "; "))
}
