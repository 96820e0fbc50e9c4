package trigger

import (
	"sort"

	"trigger-core/pkg/feed"
)

// Evaluate decides which of the given triggers fire on a tick. It is a
// pure function: the store is never touched, and all state changes
// happen later in the executor once a claim succeeds.
//
// Legs of an OCO pair are tested stop leg first; if both legs of one
// pair are satisfiable on the same tick, only leg 1 fires. The decision
// carries the tick's last price, not the trigger price, so recorded
// fills reflect slippage.
func Evaluate(tick feed.Tick, triggers []Trigger) []FireDecision {
	if len(triggers) == 0 {
		return nil
	}

	// Stable order: leg 1 before leg 2 within a pair, then by id so the
	// outcome does not depend on map iteration order.
	sorted := make([]Trigger, len(triggers))
	copy(sorted, triggers)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Leg != sorted[j].Leg {
			return sorted[i].Leg < sorted[j].Leg
		}
		return sorted[i].ID < sorted[j].ID
	})

	var decisions []FireDecision
	firedParents := make(map[string]struct{})

	for _, t := range sorted {
		if t.Status != StatusActive || t.InstrumentToken != tick.InstrumentToken {
			continue
		}
		if t.ParentID != "" {
			if _, done := firedParents[t.ParentID]; done {
				continue
			}
		}
		if !t.Satisfied(tick.LastPrice) {
			continue
		}

		decisions = append(decisions, FireDecision{
			TriggerID:       t.ID,
			ParentID:        t.ParentID,
			InstrumentToken: t.InstrumentToken,
			Leg:             t.Leg,
			TransactionType: t.TransactionType,
			Quantity:        t.Quantity,
			OrderPrice:      t.OrderPrice,
			Product:         t.Product,
			FiredPrice:      tick.LastPrice,
		})
		if t.ParentID != "" {
			firedParents[t.ParentID] = struct{}{}
		}
	}

	return decisions
}
