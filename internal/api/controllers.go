package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"trigger-core/internal/events"
	"trigger-core/internal/trigger"
	"trigger-core/pkg/db"
)

type triggerLegRequest struct {
	TriggerPrice float64 `json:"trigger_price" binding:"required,gt=0"`
	OrderPrice   float64 `json:"order_price"`
	Quantity     float64 `json:"quantity" binding:"required,gt=0"`
	Product      string  `json:"product_type"`
}

type createTriggerRequest struct {
	InstrumentToken uint32              `json:"instrument_token" binding:"required"`
	ConditionType   string              `json:"condition_type" binding:"required,oneof=single two-leg"`
	TransactionType string              `json:"transaction_type" binding:"required,oneof=BUY SELL"`
	Legs            []triggerLegRequest `json:"legs" binding:"required,min=1,max=2,dive"`
}

type updateTriggerRequest struct {
	TriggerPrice float64 `json:"trigger_price" binding:"required,gt=0"`
	OrderPrice   float64 `json:"order_price"`
	Quantity     float64 `json:"quantity" binding:"required,gt=0"`
	Product      string  `json:"product_type"`
}

type listExecutionsQuery struct {
	Limit int `form:"limit"`
}

func (q *listExecutionsQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.Meta.Version})
}

func (s *Server) getStatus(c *gin.Context) {
	status := gin.H{
		"feed_state":             s.Feed.State(),
		"active_triggers":        s.Store.Len(),
		"subscribed_instruments": s.Store.SubscribedInstruments(),
		"last_prices":            s.Engine.Prices(),
	}
	if s.Metrics != nil {
		status["metrics"] = s.Metrics.GetSnapshot()
	}
	c.JSON(http.StatusOK, status)
}

// createTrigger inserts one row per leg. A two-leg request becomes two
// sibling rows sharing a freshly minted parent id.
func (s *Server) createTrigger(c *gin.Context) {
	var req createTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	wantLegs := 1
	parentID := ""
	if req.ConditionType == string(trigger.ConditionTwoLeg) {
		wantLegs = 2
		parentID = uuid.NewString()
	}
	if len(req.Legs) != wantLegs {
		c.JSON(http.StatusBadRequest, gin.H{"error": "condition_type " + req.ConditionType + " requires exactly " + strconv.Itoa(wantLegs) + " leg(s)"})
		return
	}

	rows := make([]db.Trigger, 0, len(req.Legs))
	for i, leg := range req.Legs {
		product := leg.Product
		if product == "" {
			product = "CNC"
		}
		rows = append(rows, db.Trigger{
			ID:              uuid.NewString(),
			InstrumentToken: req.InstrumentToken,
			ConditionType:   req.ConditionType,
			TransactionType: req.TransactionType,
			Leg:             i + 1,
			TriggerPrice:    leg.TriggerPrice,
			OrderPrice:      leg.OrderPrice,
			Qty:             leg.Quantity,
			Product:         product,
			ParentID:        parentID,
			Status:          string(trigger.StatusActive),
		})
	}

	for _, row := range rows {
		if err := s.DB.CreateTrigger(c.Request.Context(), row); err != nil {
			log.Printf("api: create trigger: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store trigger"})
			return
		}
	}
	for _, row := range rows {
		s.Bus.Publish(events.EventTriggerCreated, row)
	}

	c.JSON(http.StatusCreated, gin.H{"triggers": rows})
}

func (s *Server) listTriggers(c *gin.Context) {
	rows, err := s.DB.ListTriggers(c.Request.Context())
	if err != nil {
		log.Printf("api: list triggers: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list triggers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"triggers": rows})
}

// updateTrigger edits the prices/quantity of a single leg. Only active
// triggers can be edited; fired or failed ones are terminal.
func (s *Server) updateTrigger(c *gin.Context) {
	id := c.Param("id")

	var req updateTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	row, err := s.DB.GetTrigger(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "trigger not found"})
		return
	}
	if err != nil {
		log.Printf("api: get trigger %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trigger"})
		return
	}
	if row.Status != string(trigger.StatusActive) {
		c.JSON(http.StatusConflict, gin.H{"error": "trigger is no longer active"})
		return
	}

	row.TriggerPrice = req.TriggerPrice
	row.OrderPrice = req.OrderPrice
	row.Qty = req.Quantity
	if req.Product != "" {
		row.Product = req.Product
	}

	if err := s.DB.UpdateTrigger(c.Request.Context(), row); err != nil {
		log.Printf("api: update trigger %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update trigger"})
		return
	}
	s.Bus.Publish(events.EventTriggerUpdated, row)

	c.JSON(http.StatusOK, gin.H{"trigger": row})
}

// deleteTrigger removes a trigger. Deleting one leg of an OCO pair
// removes both legs.
func (s *Server) deleteTrigger(c *gin.Context) {
	id := c.Param("id")

	row, err := s.DB.GetTrigger(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "trigger not found"})
		return
	}
	if err != nil {
		log.Printf("api: get trigger %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trigger"})
		return
	}

	doomed := []db.Trigger{row}
	if row.ParentID != "" {
		siblings, err := s.DB.ListTriggersByParent(c.Request.Context(), row.ParentID)
		if err != nil {
			log.Printf("api: list OCO group %s: %v", row.ParentID, err)
		} else {
			doomed = siblings
		}
	}

	deleted := make([]string, 0, len(doomed))
	for _, t := range doomed {
		if err := s.DB.DeleteTrigger(c.Request.Context(), t.ID); err != nil {
			log.Printf("api: delete trigger %s: %v", t.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete trigger"})
			return
		}
		deleted = append(deleted, t.ID)
	}
	for _, tid := range deleted {
		s.Bus.Publish(events.EventTriggerDeleted, tid)
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (s *Server) listExecutions(c *gin.Context) {
	var q listExecutionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q.normalize()

	rows, err := s.DB.ListExecutionResults(c.Request.Context(), q.Limit)
	if err != nil {
		log.Printf("api: list executions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list executions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": rows})
}
