package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openbook/matching-engine/internal/models"
)

// memStore is a thread-safe in-memory implementation of OrderStore, UserStore
// and TradeStore. Reads return copies so tests observe persisted state, not
// shared pointers.
type memStore struct {
	mu     sync.Mutex
	orders map[int64]*models.Order
	users  map[int64]*models.User
	trades []*models.Trade

	nextTradeID  int64
	balanceCalls int
}

var (
	_ OrderStore = (*memStore)(nil)
	_ UserStore  = (*memStore)(nil)
	_ TradeStore = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		orders: make(map[int64]*models.Order),
		users:  make(map[int64]*models.User),
	}
}

func (m *memStore) addUser(id int64, balance string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = &models.User{
		ID:       id,
		Username: fmt.Sprintf("user%d", id),
		Balance:  decimal.RequireFromString(balance),
	}
}

func (m *memStore) addOrder(o *models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
}

func (m *memStore) GetAllOpenOrders(ctx context.Context) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var open []*models.Order
	for _, o := range m.orders {
		if !o.IsCancelled && o.FilledQuantity < o.Quantity {
			cp := *o
			open = append(open, &cp)
		}
	}
	return open, nil
}

func (m *memStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) UpdateFilledQuantity(ctx context.Context, id, filled int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}
	o.FilledQuantity = filled
	return nil
}

func (m *memStore) CancelOrder(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}
	o.IsCancelled = true
	return nil
}

func (m *memStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrUserNotFound)
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) HasSufficientBalance(ctx context.Context, userID int64, amount decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceCalls++
	u, ok := m.users[userID]
	if !ok {
		return false, fmt.Errorf("user %d: %w", userID, ErrUserNotFound)
	}
	return u.Balance.GreaterThanOrEqual(amount), nil
}

func (m *memStore) UpdateBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %d: %w", userID, ErrUserNotFound)
	}
	u.Balance = balance
	return nil
}

func (m *memStore) AddTrade(ctx context.Context, t *models.Trade) (*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTradeID++
	cp := *t
	cp.ID = m.nextTradeID
	if cp.ExecutedAt.IsZero() {
		cp.ExecutedAt = time.Now().UTC()
	}
	m.trades = append(m.trades, &cp)
	out := cp
	return &out, nil
}

func (m *memStore) tradeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trades)
}

func (m *memStore) balance(userID int64) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID].Balance
}

func (m *memStore) order(id int64) models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.orders[id]
}

func (m *memStore) balanceCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceCalls
}
