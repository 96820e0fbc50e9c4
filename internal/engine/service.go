// Package engine runs the tick dispatch loop: one goroutine consuming
// decoded ticks in arrival order, evaluating triggers and handing fire
// decisions to the executor without waiting for them to complete.
package engine

import (
	"context"
	"log"
	"time"

	"trigger-core/internal/events"
	"trigger-core/internal/executor"
	"trigger-core/internal/trigger"
	"trigger-core/pkg/cache"
	"trigger-core/pkg/feed"
)

// Service wires the feed's tick stream to the evaluator and executor.
type Service struct {
	Store *trigger.Store
	Exec  *executor.Executor
	Bus   *events.Bus

	prices *cache.PriceCache
}

// New creates an engine service.
func New(store *trigger.Store, exec *executor.Executor, bus *events.Bus) *Service {
	return &Service{
		Store:  store,
		Exec:   exec,
		Bus:    bus,
		prices: cache.NewPriceCache(),
	}
}

// Run consumes ticks until the channel closes or ctx is canceled.
// Evaluation happens inline so ticks for one instrument are processed in
// arrival order; execution is fired asynchronously.
func (s *Service) Run(ctx context.Context, ticks <-chan feed.Tick) {
	log.Println("engine: dispatch loop started")
	prune := time.NewTicker(5 * time.Minute)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("engine: dispatch loop stopped")
			return
		case <-prune.C:
			if n := s.prices.PruneExcept(s.Store.SubscribedInstruments()); n > 0 {
				log.Printf("engine: pruned %d stale price entries", n)
			}
		case tick, ok := <-ticks:
			if !ok {
				log.Println("engine: tick stream closed")
				return
			}
			s.handle(ctx, tick)
		}
	}
}

func (s *Service) handle(ctx context.Context, tick feed.Tick) {
	s.prices.Set(tick.InstrumentToken, tick.LastPrice)

	if s.Bus != nil {
		s.Bus.Publish(events.EventTick, tick)
	}

	triggers := s.Store.TriggersFor(tick.InstrumentToken)
	if len(triggers) == 0 {
		return
	}

	for _, d := range trigger.Evaluate(tick, triggers) {
		log.Printf("engine: trigger %s (leg %d) satisfied at %.2f", d.TriggerID, d.Leg, d.FiredPrice)
		if s.Bus != nil {
			s.Bus.Publish(events.EventTriggerFired, d)
		}
		s.Exec.ExecuteAsync(ctx, d)
	}
}

// LastPrice returns the most recent observed price for an instrument.
func (s *Service) LastPrice(token uint32) (float64, bool) {
	return s.prices.Get(token)
}

// Prices returns a copy of the last observed price per instrument.
func (s *Service) Prices() map[uint32]float64 {
	return s.prices.Snapshot()
}
