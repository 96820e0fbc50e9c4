// Package executor turns fire decisions into brokerage orders with
// at-most-once semantics: claim the trigger, place the order with
// bounded retries, write exactly one terminal result, and release the
// claim on every exit path.
package executor

import (
	"context"
	"log"
	"sync"
	"time"

	"trigger-core/internal/events"
	"trigger-core/internal/monitor"
	"trigger-core/internal/trigger"
	"trigger-core/pkg/db"
	"trigger-core/pkg/gateway"

	"github.com/google/uuid"
)

// Gateway is the slice of the order gateway the executor needs.
type Gateway interface {
	PlaceOrder(ctx context.Context, req gateway.OrderRequest) (gateway.OrderResponse, error)
}

// queueDepth bounds the backlog of fire decisions waiting for a worker.
const queueDepth = 256

type job struct {
	ctx context.Context
	d   trigger.FireDecision
}

// Executor places orders for fired triggers asynchronously so a slow or
// retrying placement never delays tick dispatch.
type Executor struct {
	Store   *trigger.Store
	DB      *db.Database
	Gateway Gateway
	Bus     *events.Bus
	Metrics *monitor.SystemMetrics // optional

	// MaxRetries counts retries after the first attempt; 2 means at
	// most 3 gateway calls.
	MaxRetries     int
	RetryBaseDelay time.Duration

	queue     chan job
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates an executor and starts its worker pool.
func New(store *trigger.Store, database *db.Database, gw Gateway, bus *events.Bus, workers int) *Executor {
	if workers <= 0 {
		workers = 4
	}
	e := &Executor{
		Store:          store,
		DB:             database,
		Gateway:        gw,
		Bus:            bus,
		MaxRetries:     2,
		RetryBaseDelay: 500 * time.Millisecond,
		queue:          make(chan job, queueDepth),
	}
	for i := 0; i < workers; i++ {
		go e.worker()
	}
	return e
}

// ExecuteAsync queues the decision for a worker. It never blocks the
// caller: with every worker busy and the queue full the decision is
// dropped, which is safe because the trigger stays armed in the store
// and fires again on the next matching tick.
func (e *Executor) ExecuteAsync(ctx context.Context, d trigger.FireDecision) {
	e.wg.Add(1)
	select {
	case e.queue <- job{ctx: ctx, d: d}:
	default:
		e.wg.Done()
		log.Printf("executor: queue full, dropping fire for trigger %s", d.TriggerID)
	}
}

func (e *Executor) worker() {
	for j := range e.queue {
		e.Execute(j.ctx, j.d)
		e.wg.Done()
	}
}

// WaitAll blocks until every queued execution has finished.
func (e *Executor) WaitAll() {
	e.wg.Wait()
}

// Close shuts down the worker pool. Workers drain jobs already queued;
// ExecuteAsync must not be called after Close.
func (e *Executor) Close() {
	e.closeOnce.Do(func() { close(e.queue) })
}

// Execute handles one fire decision synchronously. If the trigger is
// already claimed (or was deleted since evaluation), it returns without
// side effects.
func (e *Executor) Execute(ctx context.Context, d trigger.FireDecision) {
	if !e.Store.TryMarkInFlight(d.TriggerID) {
		// another tick got here first, or the user deleted the trigger
		return
	}
	defer e.Store.UnmarkInFlight(d.TriggerID)

	var timer *monitor.Timer
	if e.Metrics != nil {
		timer = monitor.NewTimer(e.Metrics.OrderLatency)
	}
	res, err := e.placeWithRetry(ctx, d)
	if timer != nil {
		timer.Stop()
	}
	if err != nil {
		e.finish(ctx, d, "", trigger.StatusFailed, err.Error())
		return
	}

	log.Printf("executor: trigger %s fired at %.2f, gateway order %s", d.TriggerID, d.FiredPrice, res.OrderID)
	e.finish(ctx, d, res.OrderID, trigger.StatusTriggered, "")
}

// placeWithRetry submits the order, retrying retryable gateway failures
// with exponential backoff up to MaxRetries.
func (e *Executor) placeWithRetry(ctx context.Context, d trigger.FireDecision) (gateway.OrderResponse, error) {
	req := gateway.OrderRequest{
		InstrumentToken: d.InstrumentToken,
		Direction:       string(d.TransactionType),
		Quantity:        d.Quantity,
		OrderType:       "market",
		Product:         d.Product,
		ClientID:        d.TriggerID,
	}

	var lastErr error
	for attempt := 0; attempt <= e.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.RetryBaseDelay << (attempt - 1)
			log.Printf("executor: trigger %s retry %d/%d in %v: %v", d.TriggerID, attempt, e.MaxRetries, delay, lastErr)
			select {
			case <-ctx.Done():
				return gateway.OrderResponse{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		res, err := e.Gateway.PlaceOrder(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !gateway.IsRetryable(err) {
			log.Printf("executor: trigger %s rejected: %v", d.TriggerID, err)
			return gateway.OrderResponse{}, err
		}
	}

	log.Printf("executor: trigger %s failed after %d retries: %v", d.TriggerID, e.MaxRetries, lastErr)
	return gateway.OrderResponse{}, lastErr
}

// finish records the terminal outcome: one execution result row, the
// trigger's final status, OCO sibling cancellation on success, and
// eviction from the in-memory store.
func (e *Executor) finish(ctx context.Context, d trigger.FireDecision, orderID string, status trigger.Status, errMsg string) {
	result := db.ExecutionResult{
		ID:              uuid.NewString(),
		TriggerID:       d.TriggerID,
		InstrumentToken: d.InstrumentToken,
		Leg:             d.Leg,
		TransactionType: string(d.TransactionType),
		Qty:             d.Quantity,
		FiredPrice:      d.FiredPrice,
		GatewayOrderID:  orderID,
		Status:          string(status),
		Error:           errMsg,
	}
	var dbTimer *monitor.Timer
	if e.Metrics != nil {
		dbTimer = monitor.NewTimer(e.Metrics.DBLatency)
	}
	if err := e.DB.CreateExecutionResult(ctx, result); err != nil {
		log.Printf("executor: store execution result for %s: %v", d.TriggerID, err)
	}
	if dbTimer != nil {
		dbTimer.Stop()
	}
	if err := e.DB.UpdateTriggerStatus(ctx, d.TriggerID, string(status)); err != nil {
		log.Printf("executor: update trigger %s status: %v", d.TriggerID, err)
	}

	if status == trigger.StatusTriggered {
		if sibling, ok := e.Store.OCOSibling(d.TriggerID); ok {
			if err := e.DB.DeleteTrigger(ctx, sibling); err != nil {
				log.Printf("executor: delete OCO sibling %s: %v", sibling, err)
			}
			e.Store.Remove(sibling)
			if e.Bus != nil {
				e.Bus.Publish(events.EventTriggerDeleted, sibling)
			}
			log.Printf("executor: cancelled OCO sibling %s of %s", sibling, d.TriggerID)
		}
	}

	e.Store.Remove(d.TriggerID)

	if e.Bus != nil {
		e.Bus.Publish(events.EventExecutionResult, result)
	}
}
