package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openbook/matching-engine/internal/book"
	"github.com/openbook/matching-engine/internal/models"
)

// Service drives matching per instrument: it owns the book cache, rebuilds it
// from persisted open orders at startup and runs the propose/commit loop when
// a new order arrives.
type Service struct {
	orders   OrderStore
	users    UserStore
	executor *TradeExecutor
	log      *zap.Logger

	mu    sync.Mutex // guards books; never hold while taking an instrument lock
	books map[int64]*instrument
}

// instrument pairs a book with the lock that enforces at most one matching
// pass per instrument. The dirty queue already dedups scheduled work; the
// lock additionally covers direct callers such as the synchronous API path
// and cancellation.
type instrument struct {
	mu   sync.Mutex
	book *book.OrderBook
}

func NewService(orders OrderStore, users UserStore, executor *TradeExecutor, log *zap.Logger) *Service {
	return &Service{
		orders:   orders,
		users:    users,
		executor: executor,
		log:      log,
		books:    make(map[int64]*instrument),
	}
}

// Start rebuilds one book per instrument from all persisted open orders. No
// matching runs at startup; resting orders are only indexed.
func (s *Service) Start(ctx context.Context) error {
	open, err := s.orders.GetAllOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("load open orders: %w", err)
	}

	s.mu.Lock()
	for _, o := range open {
		inst, ok := s.books[o.StockID]
		if !ok {
			inst = &instrument{book: book.New(o.StockID)}
			s.books[o.StockID] = inst
		}
		inst.book.Add(o)
	}
	instruments := len(s.books)
	s.mu.Unlock()

	s.log.Info("order books rebuilt",
		zap.Int("orders", len(open)),
		zap.Int("instruments", instruments))
	return nil
}

// Process admits one new order and returns every trade executed as a side
// effect. The loop re-proposes after each batch because executing a proposal
// changes book state, and a failed proposal must not silently consume
// quantity that never traded.
func (s *Service) Process(ctx context.Context, incoming *models.Order) ([]*models.Trade, error) {
	if incoming.Side == models.SideBuy {
		cost := incoming.Price.Mul(decimal.NewFromInt(incoming.Quantity))
		ok, err := s.users.HasSufficientBalance(ctx, incoming.UserID, cost)
		if err != nil {
			return nil, fmt.Errorf("balance pre-check for user %d: %w", incoming.UserID, err)
		}
		if !ok {
			// The order cannot possibly settle; cancel before it enters the book.
			if err := s.orders.CancelOrder(ctx, incoming.ID); err != nil {
				return nil, fmt.Errorf("cancel order %d: %w", incoming.ID, err)
			}
			_ = incoming.Cancel()
			s.log.Info("order cancelled at admission: insufficient balance",
				zap.Int64("order_id", incoming.ID),
				zap.Int64("user_id", incoming.UserID))
			return nil, nil
		}
	}

	inst := s.lockInstrument(incoming.StockID)
	defer inst.mu.Unlock()

	inst.book.Add(incoming)

	var trades []*models.Trade
	for {
		proposals := inst.book.ProposeTrades(incoming)
		if len(proposals) == 0 {
			break
		}
		for i := range proposals {
			trade, err := s.executor.Execute(ctx, proposals[i])
			if err != nil {
				var rejected *TradeRejectedError
				if errors.As(err, &rejected) {
					// The rejected leg leaves the book. State changed, so the
					// remaining proposals of this batch are stale; the outer
					// loop generates a fresh batch.
					inst.book.RemoveOrder(rejected.OrderID)
					if rejected.OrderID == incoming.ID {
						_ = incoming.Cancel()
					}
					s.log.Warn("trade rejected",
						zap.Int64("stock_id", incoming.StockID),
						zap.Int64("order_id", rejected.OrderID),
						zap.Error(err))
					break
				}
				return trades, fmt.Errorf("execute trade for stock %d: %w", incoming.StockID, err)
			}
			if err := inst.book.CommitTrade(trade); err != nil {
				return trades, fmt.Errorf("commit trade %d: %w", trade.ID, err)
			}
			trades = append(trades, trade)
		}
	}

	if inst.book.IsEmpty() {
		s.evict(incoming.StockID, inst)
	}
	return trades, nil
}

// RemoveOrder detaches a cancelled order from its instrument's book. It
// reports false if no book exists or the order was not resting.
func (s *Service) RemoveOrder(stockID, orderID int64) bool {
	s.mu.Lock()
	inst, ok := s.books[stockID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	removed := inst.book.RemoveOrder(orderID)
	if removed && inst.book.IsEmpty() {
		s.evict(stockID, inst)
	}
	return removed
}

// BookOrders returns copies of the resting orders for one instrument.
func (s *Service) BookOrders(stockID int64) (buys, sells []models.Order) {
	s.mu.Lock()
	inst, ok := s.books[stockID]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.book.Orders()
}

// BookCount reports how many instruments currently have a live book.
func (s *Service) BookCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.books)
}

// lockInstrument returns the instrument entry for stockID with its lock
// held. If the entry was evicted while we waited for the lock, the stale
// entry is released and the fresh one taken, so an order can never land in
// an orphaned book.
func (s *Service) lockInstrument(stockID int64) *instrument {
	for {
		inst := s.instrumentFor(stockID)
		inst.mu.Lock()
		s.mu.Lock()
		current := s.books[stockID] == inst
		s.mu.Unlock()
		if current {
			return inst
		}
		inst.mu.Unlock()
	}
}

func (s *Service) instrumentFor(stockID int64) *instrument {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.books[stockID]
	if !ok {
		inst = &instrument{book: book.New(stockID)}
		s.books[stockID] = inst
	}
	return inst
}

// evict drops an empty book from the cache. The caller holds inst.mu, which
// keeps a concurrent Process from re-filling this exact instrument entry;
// a new entry for the same stock id is fine.
func (s *Service) evict(stockID int64, inst *instrument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.books[stockID]; ok && cur == inst && cur.book.IsEmpty() {
		delete(s.books, stockID)
	}
}
