package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("record not found")

// Trigger is one stored trigger leg. A single trigger is one row; the
// two legs of an OCO pair are two rows sharing a parent_id.
type Trigger struct {
	ID              string
	InstrumentToken uint32
	ConditionType   string
	TransactionType string
	Leg             int
	TriggerPrice    float64
	OrderPrice      float64
	Qty             float64
	Product         string
	ParentID        string
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ExecutionResult is the terminal outcome of one trigger firing. The
// trigger_id column is unique: a trigger gets at most one result row.
type ExecutionResult struct {
	ID              string
	TriggerID       string
	InstrumentToken uint32
	Leg             int
	TransactionType string
	Qty             float64
	FiredPrice      float64
	GatewayOrderID  string
	Status          string
	Error           string
	CreatedAt       time.Time
}

const triggerColumns = `id, instrument_token, condition_type, transaction_type, leg,
	trigger_price, order_price, qty, product, COALESCE(parent_id, ''), status, created_at, updated_at`

func scanTrigger(row interface{ Scan(...any) error }) (Trigger, error) {
	var t Trigger
	err := row.Scan(&t.ID, &t.InstrumentToken, &t.ConditionType, &t.TransactionType, &t.Leg,
		&t.TriggerPrice, &t.OrderPrice, &t.Qty, &t.Product, &t.ParentID, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// CreateTrigger inserts one trigger row.
func (d *Database) CreateTrigger(ctx context.Context, t Trigger) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO triggers (id, instrument_token, condition_type, transaction_type, leg,
			trigger_price, order_price, qty, product, parent_id, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.InstrumentToken, t.ConditionType, t.TransactionType, t.Leg,
		t.TriggerPrice, t.OrderPrice, t.Qty, t.Product, t.ParentID, t.Status)
	if err != nil {
		return fmt.Errorf("insert trigger: %w", err)
	}
	return nil
}

// UpdateTrigger rewrites the mutable fields of a trigger row.
func (d *Database) UpdateTrigger(ctx context.Context, t Trigger) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE triggers SET instrument_token = ?, transaction_type = ?,
			trigger_price = ?, order_price = ?, qty = ?, product = ?, status = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, t.InstrumentToken, t.TransactionType, t.TriggerPrice, t.OrderPrice, t.Qty, t.Product, t.Status, t.ID)
	if err != nil {
		return fmt.Errorf("update trigger: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTriggerStatus transitions a trigger's lifecycle state.
func (d *Database) UpdateTriggerStatus(ctx context.Context, id, status string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE triggers SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, status, id)
	if err != nil {
		return fmt.Errorf("update trigger status: %w", err)
	}
	return nil
}

// DeleteTrigger removes a trigger row. Deleting an absent id is a no-op.
func (d *Database) DeleteTrigger(ctx context.Context, id string) error {
	_, err := d.DB.ExecContext(ctx, `DELETE FROM triggers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete trigger: %w", err)
	}
	return nil
}

// GetTrigger loads one trigger row by id.
func (d *Database) GetTrigger(ctx context.Context, id string) (Trigger, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE id = ?`, id)
	t, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Trigger{}, ErrNotFound
	}
	if err != nil {
		return Trigger{}, fmt.Errorf("get trigger: %w", err)
	}
	return t, nil
}

// ListActiveTriggers returns every trigger row still in the active state.
func (d *Database) ListActiveTriggers(ctx context.Context) ([]Trigger, error) {
	return d.listTriggers(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE status = 'active' ORDER BY created_at`)
}

// ListTriggers returns all trigger rows, newest first.
func (d *Database) ListTriggers(ctx context.Context) ([]Trigger, error) {
	return d.listTriggers(ctx, `SELECT `+triggerColumns+` FROM triggers ORDER BY created_at DESC`)
}

// ListTriggersByParent returns both legs of an OCO group.
func (d *Database) ListTriggersByParent(ctx context.Context, parentID string) ([]Trigger, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE parent_id = ? ORDER BY leg`, parentID)
	if err != nil {
		return nil, fmt.Errorf("query OCO group: %w", err)
	}
	defer rows.Close()

	var out []Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (d *Database) listTriggers(ctx context.Context, query string) ([]Trigger, error) {
	rows, err := d.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()

	var out []Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateExecutionResult records a terminal firing outcome.
func (d *Database) CreateExecutionResult(ctx context.Context, r ExecutionResult) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO execution_results (id, trigger_id, instrument_token, leg,
			transaction_type, qty, fired_price, gateway_order_id, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.TriggerID, r.InstrumentToken, r.Leg, r.TransactionType,
		r.Qty, r.FiredPrice, r.GatewayOrderID, r.Status, r.Error)
	if err != nil {
		return fmt.Errorf("insert execution result: %w", err)
	}
	return nil
}

// ListExecutionResults returns recent results, newest first.
func (d *Database) ListExecutionResults(ctx context.Context, limit int) ([]ExecutionResult, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, trigger_id, instrument_token, leg, transaction_type, qty,
			fired_price, COALESCE(gateway_order_id, ''), status, COALESCE(error, ''), created_at
		FROM execution_results ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query execution results: %w", err)
	}
	defer rows.Close()

	var out []ExecutionResult
	for rows.Next() {
		var r ExecutionResult
		if err := rows.Scan(&r.ID, &r.TriggerID, &r.InstrumentToken, &r.Leg, &r.TransactionType,
			&r.Qty, &r.FiredPrice, &r.GatewayOrderID, &r.Status, &r.Error, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan execution result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountExecutionResults returns the number of result rows for a trigger.
func (d *Database) CountExecutionResults(ctx context.Context, triggerID string) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM execution_results WHERE trigger_id = ?
	`, triggerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count execution results: %w", err)
	}
	return n, nil
}
