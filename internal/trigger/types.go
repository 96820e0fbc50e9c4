package trigger

import "time"

// ConditionType distinguishes standalone triggers from OCO pairs.
type ConditionType string

const (
	ConditionSingle ConditionType = "single"
	ConditionTwoLeg ConditionType = "two-leg"
)

// TransactionType is the side of the order placed when a trigger fires.
type TransactionType string

const (
	TransactionBuy  TransactionType = "BUY"
	TransactionSell TransactionType = "SELL"
)

// Status is the trigger lifecycle state. A trigger is born active and
// transitions to triggered or failed exactly once.
type Status string

const (
	StatusActive    Status = "active"
	StatusTriggered Status = "triggered"
	StatusFailed    Status = "failed"
)

// Trigger is one leg of a user-defined watch condition. A single trigger
// is one row; a two-leg (OCO) trigger is two rows sharing a ParentID,
// with Leg 1 as the stop and Leg 2 as the target.
type Trigger struct {
	ID              string
	InstrumentToken uint32
	ConditionType   ConditionType
	TransactionType TransactionType
	Leg             int // 1 for single and OCO stop legs, 2 for OCO target legs
	TriggerPrice    float64
	OrderPrice      float64
	Quantity        float64
	Product         string
	ParentID        string // empty for single triggers
	Status          Status
	CreatedAt       time.Time
}

// Satisfied reports whether lastPrice meets this leg's condition.
// Leg 1 uses the direct comparison (a buy fires once price rises to the
// trigger, a sell once it falls to it); leg 2 inverts it, modelling the
// target side of a stop/target pair.
func (t *Trigger) Satisfied(lastPrice float64) bool {
	buy := t.TransactionType == TransactionBuy
	if t.Leg == 2 {
		buy = !buy
	}
	if buy {
		return lastPrice >= t.TriggerPrice
	}
	return lastPrice <= t.TriggerPrice
}

// FireDecision records that a trigger leg should be executed, with the
// order parameters and the price actually observed on the tick.
type FireDecision struct {
	TriggerID       string
	ParentID        string
	InstrumentToken uint32
	Leg             int
	TransactionType TransactionType
	Quantity        float64
	OrderPrice      float64
	Product         string
	FiredPrice      float64
}
