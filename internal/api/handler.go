// Package api exposes the trigger CRUD surface and engine status over
// HTTP. Trigger mutations are written to the durable store and announced
// on the event bus, where the reconciler picks them up.
package api

import (
	"github.com/gin-gonic/gin"

	"trigger-core/internal/engine"
	"trigger-core/internal/events"
	"trigger-core/internal/monitor"
	"trigger-core/internal/trigger"
	"trigger-core/pkg/db"
	"trigger-core/pkg/feed"
)

// Server wires HTTP endpoints around the durable store and event bus.
type Server struct {
	Router  *gin.Engine
	DB      *db.Database
	Bus     *events.Bus
	Store   *trigger.Store
	Engine  *engine.Service
	Feed    *feed.Manager
	Metrics *monitor.SystemMetrics
	Meta    SystemMeta
}

// SystemMeta describes runtime status exposed to the dashboard.
type SystemMeta struct {
	Version    string
	FeedURL    string
	GatewayURL string
}

// NewServer builds the router with the full middleware stack.
func NewServer(database *db.Database, bus *events.Bus, store *trigger.Store, eng *engine.Service, feedMgr *feed.Manager, metrics *monitor.SystemMetrics, meta SystemMeta) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RateLimitMiddleware())
	r.Use(CORSMiddleware())

	s := &Server{
		Router:  r,
		DB:      database,
		Bus:     bus,
		Store:   store,
		Engine:  eng,
		Feed:    feedMgr,
		Metrics: metrics,
		Meta:    meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/triggers", s.listTriggers)
		api.POST("/triggers", s.createTrigger)
		api.PUT("/triggers/:id", s.updateTrigger)
		api.DELETE("/triggers/:id", s.deleteTrigger)
		api.GET("/executions", s.listExecutions)
	}
}
