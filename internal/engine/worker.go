package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/openbook/matching-engine/internal/models"
)

// MatchingWorker schedules matching passes. Submitted orders land in a
// per-instrument inbox, the dirty queue dedups the instrument ids, and a
// fixed pool of goroutines drains them; together with the queue's
// single-owner discipline this bounds concurrency to one pass per instrument.
type MatchingWorker struct {
	svc   *Service
	queue *DirtyQueue
	size  int
	log   *zap.Logger

	mu      sync.Mutex
	pending map[int64][]*models.Order

	wg sync.WaitGroup
}

func NewMatchingWorker(svc *Service, queue *DirtyQueue, size int, log *zap.Logger) *MatchingWorker {
	if size <= 0 {
		size = 1
	}
	return &MatchingWorker{
		svc:     svc,
		queue:   queue,
		size:    size,
		log:     log,
		pending: make(map[int64][]*models.Order),
	}
}

// Submit hands a newly committed order to the scheduler. A false Enqueue
// means a pass for the instrument is already queued or running; the finishing
// worker re-queues the id when its inbox is non-empty, so no order is lost.
func (w *MatchingWorker) Submit(o *models.Order) {
	w.mu.Lock()
	w.pending[o.StockID] = append(w.pending[o.StockID], o)
	w.mu.Unlock()

	w.queue.Enqueue(o.StockID)
}

// Start launches the worker pool. Cancelling the context stops new dequeues
// only; a pass that already started runs to completion and is awaited by
// Wait.
func (w *MatchingWorker) Start(ctx context.Context) {
	w.log.Info("matching workers starting", zap.Int("pool_size", w.size))
	for i := 0; i < w.size; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}
}

// Wait blocks until every worker goroutine has exited.
func (w *MatchingWorker) Wait() {
	w.wg.Wait()
}

func (w *MatchingWorker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		id, ok := w.queue.TryDequeue()
		if !ok {
			if !w.queue.Wait(ctx) {
				return
			}
			continue
		}
		w.process(ctx, id)
	}
}

func (w *MatchingWorker) process(ctx context.Context, id int64) {
	// A pass that has begun must not be aborted mid-flight by shutdown; a
	// half-applied trade is an invariant violation, not a cancellable step.
	passCtx := context.WithoutCancel(ctx)

	defer func() {
		w.queue.MarkProcessed(id)
		// Orders that arrived while this pass ran need a fresh pass.
		if w.hasPending(id) {
			w.queue.Enqueue(id)
		}
	}()

	for _, o := range w.takePending(id) {
		trades, err := w.svc.Process(passCtx, o)
		if err != nil {
			w.log.Error("matching pass failed",
				zap.Int64("stock_id", id),
				zap.Int64("order_id", o.ID),
				zap.Error(err))
			continue
		}
		if len(trades) > 0 {
			w.log.Info("orders matched",
				zap.Int64("stock_id", id),
				zap.Int64("order_id", o.ID),
				zap.Int("trades", len(trades)))
		}
	}
}

func (w *MatchingWorker) takePending(id int64) []*models.Order {
	w.mu.Lock()
	defer w.mu.Unlock()
	orders := w.pending[id]
	delete(w.pending, id)
	return orders
}

func (w *MatchingWorker) hasPending(id int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pending[id]
	return ok
}
