// Package reconciler mirrors durable-store trigger changes into the
// in-memory trigger store and keeps the feed's instrument subscriptions
// in line with what is actually being watched.
package reconciler

import (
	"context"
	"fmt"
	"log"

	"trigger-core/internal/events"
	"trigger-core/internal/trigger"
	"trigger-core/pkg/db"
)

// FeedControl is the slice of the feed manager the reconciler needs.
type FeedControl interface {
	Subscribe(tokens ...uint32)
	Unsubscribe(tokens ...uint32)
}

// Service consumes trigger change events and applies them to the store.
type Service struct {
	Store *trigger.Store
	DB    *db.Database
	Bus   *events.Bus
	Feed  FeedControl
}

// New creates a reconciler.
func New(store *trigger.Store, database *db.Database, bus *events.Bus, feed FeedControl) *Service {
	return &Service{Store: store, DB: database, Bus: bus, Feed: feed}
}

// Load performs the initial full load of active triggers. It must run
// before the feed's first connection so the first resubscription covers
// the complete instrument set.
func (s *Service) Load(ctx context.Context) error {
	rows, err := s.DB.ListActiveTriggers(ctx)
	if err != nil {
		return fmt.Errorf("load active triggers: %w", err)
	}

	loaded := 0
	for _, row := range rows {
		t, err := FromRow(row)
		if err != nil {
			log.Printf("reconciler: skipping trigger %s: %v", row.ID, err)
			continue
		}
		s.Store.Add(t)
		loaded++
	}
	log.Printf("reconciler: loaded %d active triggers over %d instruments", loaded, len(s.Store.SubscribedInstruments()))
	return nil
}

// Start consumes trigger change and execution events until ctx ends.
// The CRUD changefeed is subscribed losslessly: a dropped create or
// delete would leave the in-memory store permanently out of step with
// the durable store.
func (s *Service) Start(ctx context.Context) {
	created, unsubCreated := s.Bus.SubscribeReliable(events.EventTriggerCreated)
	updated, unsubUpdated := s.Bus.SubscribeReliable(events.EventTriggerUpdated)
	deleted, unsubDeleted := s.Bus.SubscribeReliable(events.EventTriggerDeleted)
	executed, unsubExecuted := s.Bus.SubscribeReliable(events.EventExecutionResult)

	go func() {
		defer unsubCreated()
		defer unsubUpdated()
		defer unsubDeleted()
		defer unsubExecuted()

		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-created:
				if !ok {
					return
				}
				if row, ok := payload.(db.Trigger); ok {
					s.handleCreated(row)
				}
			case payload, ok := <-updated:
				if !ok {
					return
				}
				if row, ok := payload.(db.Trigger); ok {
					s.handleUpdated(row)
				}
			case payload, ok := <-deleted:
				if !ok {
					return
				}
				if id, ok := payload.(string); ok {
					s.handleDeleted(id)
				}
			case payload, ok := <-executed:
				if !ok {
					return
				}
				if r, ok := payload.(db.ExecutionResult); ok {
					s.releaseInstrument(r.InstrumentToken)
				}
			}
		}
	}()
}

func (s *Service) handleCreated(row db.Trigger) {
	t, err := FromRow(row)
	if err != nil {
		log.Printf("reconciler: rejecting created trigger %s: %v", row.ID, err)
		return
	}

	newInstrument := !s.Store.HasInstrument(t.InstrumentToken)
	s.Store.Add(t)
	if newInstrument {
		s.Feed.Subscribe(t.InstrumentToken)
	}
}

// handleUpdated replaces the stored version. An update that moves the
// trigger out of the active state is equivalent to a delete.
func (s *Service) handleUpdated(row db.Trigger) {
	old, had := s.Store.Get(row.ID)
	s.Store.Remove(row.ID)

	if row.Status == string(trigger.StatusActive) {
		t, err := FromRow(row)
		if err != nil {
			log.Printf("reconciler: rejecting updated trigger %s: %v", row.ID, err)
		} else {
			newInstrument := !s.Store.HasInstrument(t.InstrumentToken)
			s.Store.Add(t)
			if newInstrument {
				s.Feed.Subscribe(t.InstrumentToken)
			}
		}
	}

	if had {
		s.releaseInstrument(old.InstrumentToken)
	}
}

// handleDeleted disarms the trigger and, for a two-leg pair, its
// sibling: deleting one leg cancels the whole group, so the other leg
// must never fire on a later tick.
func (s *Service) handleDeleted(id string) {
	t, had := s.Store.Get(id)
	if !had {
		return
	}
	if sibling, ok := s.Store.OCOSibling(id); ok {
		sib, _ := s.Store.Get(sibling)
		s.Store.Remove(sibling)
		s.releaseInstrument(sib.InstrumentToken)
	}
	s.Store.Remove(id)
	s.releaseInstrument(t.InstrumentToken)
}

// releaseInstrument unsubscribes a token once nothing watches it.
func (s *Service) releaseInstrument(token uint32) {
	if token != 0 && !s.Store.HasInstrument(token) {
		s.Feed.Unsubscribe(token)
	}
}

// FromRow converts a durable-store row into an in-memory trigger,
// validating its shape. Malformed rows are reported, skipped and never
// halt the event stream.
func FromRow(row db.Trigger) (trigger.Trigger, error) {
	if row.ID == "" {
		return trigger.Trigger{}, fmt.Errorf("missing id")
	}
	if row.InstrumentToken == 0 {
		return trigger.Trigger{}, fmt.Errorf("missing instrument token")
	}
	if row.Qty <= 0 {
		return trigger.Trigger{}, fmt.Errorf("quantity %v must be positive", row.Qty)
	}
	if row.TriggerPrice <= 0 {
		return trigger.Trigger{}, fmt.Errorf("trigger price %v must be positive", row.TriggerPrice)
	}

	tt := trigger.TransactionType(row.TransactionType)
	if tt != trigger.TransactionBuy && tt != trigger.TransactionSell {
		return trigger.Trigger{}, fmt.Errorf("unknown transaction type %q", row.TransactionType)
	}

	ct := trigger.ConditionType(row.ConditionType)
	switch ct {
	case trigger.ConditionSingle:
		if row.ParentID != "" {
			return trigger.Trigger{}, fmt.Errorf("single trigger must not have a parent")
		}
	case trigger.ConditionTwoLeg:
		if row.ParentID == "" {
			return trigger.Trigger{}, fmt.Errorf("two-leg trigger missing parent id")
		}
		if row.Leg != 1 && row.Leg != 2 {
			return trigger.Trigger{}, fmt.Errorf("two-leg trigger has leg %d, want 1 or 2", row.Leg)
		}
	default:
		return trigger.Trigger{}, fmt.Errorf("unknown condition type %q", row.ConditionType)
	}

	leg := row.Leg
	if leg == 0 {
		leg = 1
	}

	return trigger.Trigger{
		ID:              row.ID,
		InstrumentToken: row.InstrumentToken,
		ConditionType:   ct,
		TransactionType: tt,
		Leg:             leg,
		TriggerPrice:    row.TriggerPrice,
		OrderPrice:      row.OrderPrice,
		Quantity:        row.Qty,
		Product:         row.Product,
		ParentID:        row.ParentID,
		Status:          trigger.Status(row.Status),
		CreatedAt:       row.CreatedAt,
	}, nil
}
