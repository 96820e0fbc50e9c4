package db

import (
	"context"
	"errors"
	"testing"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return d
}

func sampleTrigger(id string) Trigger {
	return Trigger{
		ID:              id,
		InstrumentToken: 408065,
		ConditionType:   "single",
		TransactionType: "BUY",
		Leg:             1,
		TriggerPrice:    100,
		OrderPrice:      100.5,
		Qty:             10,
		Product:         "CNC",
		Status:          "active",
	}
}

func TestTriggerCRUD(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	if err := d.CreateTrigger(ctx, sampleTrigger("t1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := d.GetTrigger(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.InstrumentToken != 408065 || got.TriggerPrice != 100 || got.Status != "active" {
		t.Errorf("got=%+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at should be set by the schema default")
	}

	got.TriggerPrice = 105
	got.Status = "active"
	if err := d.UpdateTrigger(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = d.GetTrigger(ctx, "t1")
	if got.TriggerPrice != 105 {
		t.Errorf("TriggerPrice=%v after update, want 105", got.TriggerPrice)
	}

	if err := d.DeleteTrigger(ctx, "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := d.GetTrigger(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete err=%v, want ErrNotFound", err)
	}
	// Deleting again is a no-op.
	if err := d.DeleteTrigger(ctx, "t1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestUpdateMissingTrigger(t *testing.T) {
	d := openTestDB(t)
	err := d.UpdateTrigger(context.Background(), sampleTrigger("ghost"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestListActiveTriggers(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	active := sampleTrigger("a1")
	fired := sampleTrigger("f1")
	fired.Status = "triggered"
	failed := sampleTrigger("x1")
	failed.Status = "failed"
	for _, tr := range []Trigger{active, fired, failed} {
		if err := d.CreateTrigger(ctx, tr); err != nil {
			t.Fatalf("create %s: %v", tr.ID, err)
		}
	}

	rows, err := d.ListActiveTriggers(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "a1" {
		t.Fatalf("rows=%+v, want only a1", rows)
	}

	all, err := d.ListTriggers(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all=%d, want 3", len(all))
	}
}

func TestListTriggersByParent(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	leg1 := sampleTrigger("leg1")
	leg1.ConditionType = "two-leg"
	leg1.ParentID = "p1"
	leg2 := leg1
	leg2.ID = "leg2"
	leg2.Leg = 2
	other := sampleTrigger("other")
	for _, tr := range []Trigger{leg2, leg1, other} {
		if err := d.CreateTrigger(ctx, tr); err != nil {
			t.Fatalf("create %s: %v", tr.ID, err)
		}
	}

	rows, err := d.ListTriggersByParent(ctx, "p1")
	if err != nil {
		t.Fatalf("list by parent: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != "leg1" || rows[1].ID != "leg2" {
		t.Fatalf("rows=%+v, want legs ordered by leg number", rows)
	}
}

func TestExecutionResultUniquePerTrigger(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	r := ExecutionResult{
		ID:              "r1",
		TriggerID:       "t1",
		InstrumentToken: 408065,
		Leg:             1,
		TransactionType: "BUY",
		Qty:             10,
		FiredPrice:      100.25,
		GatewayOrderID:  "OID-1",
		Status:          "triggered",
	}
	if err := d.CreateExecutionResult(ctx, r); err != nil {
		t.Fatalf("create result: %v", err)
	}

	dup := r
	dup.ID = "r2"
	if err := d.CreateExecutionResult(ctx, dup); err == nil {
		t.Fatal("second result for the same trigger should violate the unique constraint")
	}

	n, err := d.CountExecutionResults(ctx, "t1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("count=%d, want 1", n)
	}

	results, err := d.ListExecutionResults(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(results) != 1 || results[0].GatewayOrderID != "OID-1" {
		t.Fatalf("results=%+v", results)
	}
}
