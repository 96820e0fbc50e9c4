package trigger

import (
	"testing"

	"trigger-core/pkg/feed"
)

func tickAt(token uint32, price float64) feed.Tick {
	return feed.Tick{Mode: feed.ModeLTP, InstrumentToken: token, LastPrice: price}
}

func TestEvaluateSingleBuyTrigger(t *testing.T) {
	trg := Trigger{
		ID:              "t1",
		InstrumentToken: 256265,
		ConditionType:   ConditionSingle,
		TransactionType: TransactionBuy,
		Leg:             1,
		TriggerPrice:    100.00,
		Quantity:        50,
		Status:          StatusActive,
	}

	// Price approaches from below; only the touch fires.
	for _, price := range []float64{98.00, 99.50} {
		if got := Evaluate(tickAt(256265, price), []Trigger{trg}); len(got) != 0 {
			t.Fatalf("Evaluate at %.2f fired %d decisions, want 0", price, len(got))
		}
	}

	got := Evaluate(tickAt(256265, 100.00), []Trigger{trg})
	if len(got) != 1 {
		t.Fatalf("Evaluate at 100.00 fired %d decisions, want 1", len(got))
	}
	d := got[0]
	if d.TriggerID != "t1" || d.FiredPrice != 100.00 || d.Quantity != 50 {
		t.Fatalf("decision=%+v, want trigger t1 at 100.00 qty 50", d)
	}
}

func TestEvaluateSingleSellTrigger(t *testing.T) {
	trg := Trigger{
		ID:              "s1",
		InstrumentToken: 1,
		ConditionType:   ConditionSingle,
		TransactionType: TransactionSell,
		Leg:             1,
		TriggerPrice:    95.00,
		Quantity:        10,
		Status:          StatusActive,
	}

	if got := Evaluate(tickAt(1, 96.00), []Trigger{trg}); len(got) != 0 {
		t.Fatalf("sell trigger fired above trigger price: %+v", got)
	}
	if got := Evaluate(tickAt(1, 94.50), []Trigger{trg}); len(got) != 1 {
		t.Fatalf("sell trigger did not fire below trigger price")
	}
}

func TestEvaluateOCOSellPair(t *testing.T) {
	stop, target := ocoPair("oco-1", 1)
	stop.TransactionType = TransactionSell
	stop.TriggerPrice = 95.00
	target.TransactionType = TransactionSell
	target.TriggerPrice = 105.00

	// Price rises through the target: leg 2 fires, leg 1 does not.
	got := Evaluate(tickAt(1, 106.00), []Trigger{stop, target})
	if len(got) != 1 {
		t.Fatalf("Evaluate fired %d decisions, want 1", len(got))
	}
	if got[0].TriggerID != target.ID || got[0].Leg != 2 {
		t.Fatalf("decision=%+v, want target leg 2", got[0])
	}
	if got[0].FiredPrice != 106.00 {
		t.Fatalf("FiredPrice=%v, want the tick price 106.00", got[0].FiredPrice)
	}

	// Price falls through the stop: leg 1 fires.
	got = Evaluate(tickAt(1, 94.00), []Trigger{stop, target})
	if len(got) != 1 || got[0].TriggerID != stop.ID {
		t.Fatalf("decisions=%+v, want only the stop leg", got)
	}
}

func TestEvaluateOCOBothLegsSatisfiableLegOneWins(t *testing.T) {
	// A degenerate pair where one tick satisfies both legs: the stop leg
	// must win regardless of input order.
	stop, target := ocoPair("oco-2", 1)
	stop.TransactionType = TransactionSell
	stop.TriggerPrice = 110.00 // fires at <= 110
	target.TransactionType = TransactionSell
	target.TriggerPrice = 90.00 // fires at >= 90

	for _, order := range [][]Trigger{{stop, target}, {target, stop}} {
		got := Evaluate(tickAt(1, 100.00), order)
		if len(got) != 1 {
			t.Fatalf("Evaluate fired %d decisions, want 1", len(got))
		}
		if got[0].Leg != 1 {
			t.Fatalf("leg %d fired, want leg 1 to win the tie", got[0].Leg)
		}
	}
}

func TestEvaluateSkipsWrongInstrumentAndInactive(t *testing.T) {
	trg := Trigger{
		ID:              "t1",
		InstrumentToken: 2,
		ConditionType:   ConditionSingle,
		TransactionType: TransactionBuy,
		Leg:             1,
		TriggerPrice:    10,
		Quantity:        1,
		Status:          StatusActive,
	}
	if got := Evaluate(tickAt(1, 100), []Trigger{trg}); len(got) != 0 {
		t.Fatalf("fired for wrong instrument: %+v", got)
	}

	trg.InstrumentToken = 1
	trg.Status = StatusTriggered
	if got := Evaluate(tickAt(1, 100), []Trigger{trg}); len(got) != 0 {
		t.Fatalf("fired for non-active trigger: %+v", got)
	}
}

func TestEvaluateIndependentTriggersAllFire(t *testing.T) {
	a := activeTrigger("a", 1)
	b := activeTrigger("b", 1)
	a.TriggerPrice, b.TriggerPrice = 50, 60

	got := Evaluate(tickAt(1, 70), []Trigger{a, b})
	if len(got) != 2 {
		t.Fatalf("Evaluate fired %d decisions, want 2", len(got))
	}
}
