// Package monitor consumes engine events into runtime metrics and
// raises alerts on execution failures and feed outages.
package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"trigger-core/internal/events"
	"trigger-core/internal/trigger"
	"trigger-core/pkg/db"
	"trigger-core/pkg/feed"
)

// Monitor watches bus events, feeds the metrics counters and emits
// alerts through AlertFn.
type Monitor struct {
	Bus     *events.Bus
	Metrics *SystemMetrics
	AlertFn func(string)
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Metrics == nil {
		log.Println("monitor: not fully configured; skipping")
		return
	}

	ticks, unsubTicks := m.Bus.Subscribe(events.EventTick, 256)
	results, unsubResults := m.Bus.Subscribe(events.EventExecutionResult, 50)
	states, unsubStates := m.Bus.Subscribe(events.EventFeedState, 8)

	go func() {
		defer unsubTicks()
		defer unsubResults()
		defer unsubStates()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ticks:
				if !ok {
					return
				}
				m.Metrics.IncrementTicks()
			case payload, ok := <-results:
				if !ok {
					return
				}
				if r, ok := payload.(db.ExecutionResult); ok {
					m.handleResult(r)
				}
			case payload, ok := <-states:
				if !ok {
					return
				}
				if s, ok := payload.(feed.State); ok {
					m.handleFeedState(s)
				}
			}
		}
	}()
}

func (m *Monitor) handleResult(r db.ExecutionResult) {
	m.Metrics.IncrementFired()
	if r.Status == string(trigger.StatusTriggered) {
		m.Metrics.IncrementOrders()
		return
	}
	m.Metrics.IncrementFailures()
	m.alert(fmt.Sprintf("execution failed for trigger %s (instrument %d): %s", r.TriggerID, r.InstrumentToken, r.Error))
}

func (m *Monitor) handleFeedState(s feed.State) {
	m.Metrics.SetFeedState(string(s))
	if s == feed.StateDisconnected {
		m.alert("market data feed disconnected")
	}
}

func (m *Monitor) alert(msg string) {
	if m.AlertFn == nil {
		return
	}
	m.AlertFn("[" + time.Now().Format(time.RFC3339) + "] " + msg)
}
