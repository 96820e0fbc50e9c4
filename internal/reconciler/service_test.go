package reconciler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"trigger-core/internal/events"
	"trigger-core/internal/trigger"
	"trigger-core/pkg/db"
)

type fakeFeed struct {
	mu          sync.Mutex
	subscribed  []uint32
	unsubcribed []uint32
}

func (f *fakeFeed) Subscribe(tokens ...uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, tokens...)
}

func (f *fakeFeed) Unsubscribe(tokens ...uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubcribed = append(f.unsubcribed, tokens...)
}

func (f *fakeFeed) subs() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.subscribed...)
}

func (f *fakeFeed) unsubs() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.unsubcribed...)
}

func testDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func activeRow(id string, token uint32) db.Trigger {
	return db.Trigger{
		ID:              id,
		InstrumentToken: token,
		ConditionType:   string(trigger.ConditionSingle),
		TransactionType: string(trigger.TransactionBuy),
		Leg:             1,
		TriggerPrice:    100,
		OrderPrice:      100.5,
		Qty:             10,
		Product:         "CNC",
		Status:          string(trigger.StatusActive),
	}
}

func TestFromRowValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*db.Trigger)
		wantErr string
	}{
		{"valid single", func(r *db.Trigger) {}, ""},
		{"missing id", func(r *db.Trigger) { r.ID = "" }, "missing id"},
		{"zero token", func(r *db.Trigger) { r.InstrumentToken = 0 }, "instrument token"},
		{"zero quantity", func(r *db.Trigger) { r.Qty = 0 }, "quantity"},
		{"negative trigger price", func(r *db.Trigger) { r.TriggerPrice = -1 }, "trigger price"},
		{"bad transaction type", func(r *db.Trigger) { r.TransactionType = "HOLD" }, "transaction type"},
		{"bad condition type", func(r *db.Trigger) { r.ConditionType = "triple" }, "condition type"},
		{"single with parent", func(r *db.Trigger) { r.ParentID = "p1" }, "must not have a parent"},
		{"two-leg without parent", func(r *db.Trigger) {
			r.ConditionType = string(trigger.ConditionTwoLeg)
		}, "missing parent"},
		{"two-leg with bad leg", func(r *db.Trigger) {
			r.ConditionType = string(trigger.ConditionTwoLeg)
			r.ParentID = "p1"
			r.Leg = 3
		}, "leg 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := activeRow("t1", 408065)
			tt.mutate(&row)
			got, err := FromRow(row)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("FromRow returned error: %v", err)
				}
				if got.ID != row.ID || got.InstrumentToken != row.InstrumentToken {
					t.Errorf("FromRow=%+v", got)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err=%v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestFromRowDefaultsLeg(t *testing.T) {
	row := activeRow("t1", 408065)
	row.Leg = 0
	got, err := FromRow(row)
	if err != nil {
		t.Fatalf("FromRow: %v", err)
	}
	if got.Leg != 1 {
		t.Errorf("Leg=%d, want 1", got.Leg)
	}
}

func TestLoadSkipsMalformedRows(t *testing.T) {
	database := testDB(t)
	ctx := context.Background()

	good := activeRow("good", 408065)
	bad := activeRow("bad", 738561)
	bad.TransactionType = "HOLD"
	fired := activeRow("fired", 5633)
	fired.Status = string(trigger.StatusTriggered)
	for _, row := range []db.Trigger{good, bad, fired} {
		if err := database.CreateTrigger(ctx, row); err != nil {
			t.Fatalf("seed %s: %v", row.ID, err)
		}
	}

	store := trigger.NewStore()
	svc := New(store, database, events.NewBus(), &fakeFeed{})
	if err := svc.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if store.Len() != 1 {
		t.Fatalf("store has %d triggers, want 1", store.Len())
	}
	if _, ok := store.Get("good"); !ok {
		t.Error("valid active trigger missing from store")
	}
	if _, ok := store.Get("bad"); ok {
		t.Error("malformed row must not be loaded")
	}
	if _, ok := store.Get("fired"); ok {
		t.Error("non-active row must not be loaded")
	}
}

func TestHandleCreatedSubscribesNewInstrumentOnce(t *testing.T) {
	feed := &fakeFeed{}
	svc := New(trigger.NewStore(), testDB(t), events.NewBus(), feed)

	svc.handleCreated(activeRow("t1", 408065))
	svc.handleCreated(activeRow("t2", 408065))

	got := feed.subs()
	if len(got) != 1 || got[0] != 408065 {
		t.Fatalf("subscribed=%v, want one subscribe for 408065", got)
	}
	if svc.Store.Len() != 2 {
		t.Errorf("store has %d triggers, want 2", svc.Store.Len())
	}
}

func TestHandleUpdatedMovesInstrument(t *testing.T) {
	feed := &fakeFeed{}
	svc := New(trigger.NewStore(), testDB(t), events.NewBus(), feed)

	svc.handleCreated(activeRow("t1", 408065))

	moved := activeRow("t1", 738561)
	svc.handleUpdated(moved)

	if got := feed.subs(); len(got) != 2 || got[1] != 738561 {
		t.Fatalf("subscribed=%v, want [408065 738561]", got)
	}
	if got := feed.unsubs(); len(got) != 1 || got[0] != 408065 {
		t.Fatalf("unsubscribed=%v, want [408065] after last watcher left", got)
	}
	stored, ok := svc.Store.Get("t1")
	if !ok || stored.InstrumentToken != 738561 {
		t.Errorf("stored=%+v", stored)
	}
}

func TestHandleUpdatedDeactivationRemoves(t *testing.T) {
	feed := &fakeFeed{}
	svc := New(trigger.NewStore(), testDB(t), events.NewBus(), feed)

	svc.handleCreated(activeRow("t1", 408065))

	done := activeRow("t1", 408065)
	done.Status = string(trigger.StatusTriggered)
	svc.handleUpdated(done)

	if _, ok := svc.Store.Get("t1"); ok {
		t.Error("deactivated trigger should leave the store")
	}
	if got := feed.unsubs(); len(got) != 1 || got[0] != 408065 {
		t.Fatalf("unsubscribed=%v, want [408065]", got)
	}
}

func TestHandleDeletedKeepsSharedInstrument(t *testing.T) {
	feed := &fakeFeed{}
	svc := New(trigger.NewStore(), testDB(t), events.NewBus(), feed)

	svc.handleCreated(activeRow("t1", 408065))
	svc.handleCreated(activeRow("t2", 408065))

	svc.handleDeleted("t1")
	if got := feed.unsubs(); len(got) != 0 {
		t.Fatalf("unsubscribed=%v, want none while t2 still watches the token", got)
	}

	svc.handleDeleted("t2")
	if got := feed.unsubs(); len(got) != 1 || got[0] != 408065 {
		t.Fatalf("unsubscribed=%v, want [408065] once the last watcher left", got)
	}
}

func ocoRows(parent string, token uint32) (db.Trigger, db.Trigger) {
	stop := activeRow(parent+"-leg1", token)
	stop.ConditionType = string(trigger.ConditionTwoLeg)
	stop.TransactionType = string(trigger.TransactionSell)
	stop.ParentID = parent
	stop.Leg = 1

	target := stop
	target.ID = parent + "-leg2"
	target.Leg = 2
	target.TriggerPrice = 110

	return stop, target
}

func TestHandleDeletedRemovesOCOSibling(t *testing.T) {
	feed := &fakeFeed{}
	svc := New(trigger.NewStore(), testDB(t), events.NewBus(), feed)

	stop, target := ocoRows("p1", 408065)
	svc.handleCreated(stop)
	svc.handleCreated(target)

	// Deleting one leg cancels the pair: the sibling must not stay
	// armed in memory.
	svc.handleDeleted(stop.ID)

	if _, ok := svc.Store.Get(target.ID); ok {
		t.Error("sibling leg still armed after its pair was deleted")
	}
	if svc.Store.Len() != 0 {
		t.Fatalf("store has %d triggers, want 0", svc.Store.Len())
	}
	if got := feed.unsubs(); len(got) != 1 || got[0] != 408065 {
		t.Fatalf("unsubscribed=%v, want [408065] once the pair left", got)
	}

	// The sibling's own delete event may still arrive; it is a no-op.
	svc.handleDeleted(target.ID)
	if got := feed.unsubs(); len(got) != 1 {
		t.Fatalf("unsubscribed=%v after duplicate delete, want one entry", got)
	}
}

func TestStartDeliversCreateBurst(t *testing.T) {
	feed := &fakeFeed{}
	bus := events.NewBus()
	store := trigger.NewStore()
	svc := New(store, testDB(t), bus, feed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	// A burst far beyond any channel buffer: every create must land in
	// the store, or a durable active trigger would never be armed.
	const burst = 500
	for i := 0; i < burst; i++ {
		bus.Publish(events.EventTriggerCreated, activeRow(fmt.Sprintf("t%d", i), uint32(1000+i)))
	}

	waitFor(t, func() bool {
		return store.Len() == burst
	}, "every created trigger to be armed")
}

func TestStartConsumesBusEvents(t *testing.T) {
	feed := &fakeFeed{}
	bus := events.NewBus()
	store := trigger.NewStore()
	svc := New(store, testDB(t), bus, feed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	bus.Publish(events.EventTriggerCreated, activeRow("t1", 408065))
	waitFor(t, func() bool {
		_, ok := store.Get("t1")
		return ok
	}, "trigger to appear in store")

	bus.Publish(events.EventTriggerDeleted, "t1")
	waitFor(t, func() bool {
		_, ok := store.Get("t1")
		return !ok
	}, "trigger to leave store")

	bus.Publish(events.EventExecutionResult, db.ExecutionResult{TriggerID: "t1", InstrumentToken: 408065})
	waitFor(t, func() bool {
		u := feed.unsubs()
		return len(u) >= 1
	}, "instrument release")
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
