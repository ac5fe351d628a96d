// Package server exposes the schedule engine as a small JSON API. Chat
// message formatting and image rendering stay outside this process; the
// API hands out plain value types only.
package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classtab/internal/ics"
	"classtab/internal/registry"
	"classtab/internal/schedule"
	"classtab/internal/storage"
	"classtab/internal/wakeup"
)

// Server bundles the engine and its collaborators behind HTTP handlers.
type Server struct {
	engine *schedule.Engine
	reg    *registry.Registry
	store  *storage.Store
	cache  *schedule.Cache
	parser *ics.Parser
	wakeup *wakeup.Client
	loc    *time.Location
	log    *zap.Logger
}

func New(
	engine *schedule.Engine,
	reg *registry.Registry,
	store *storage.Store,
	cache *schedule.Cache,
	parser *ics.Parser,
	wk *wakeup.Client,
	loc *time.Location,
	log *zap.Logger,
) *Server {
	return &Server{
		engine: engine,
		reg:    reg,
		store:  store,
		cache:  cache,
		parser: parser,
		wakeup: wk,
		loc:    loc,
		log:    log,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLogger(s.log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		g := api.Group("/groups/:group")
		g.GET("/now", s.groupToday)
		g.GET("/tomorrow", s.groupTomorrow)
		g.GET("/ranking/week", s.weeklyRanking)

		u := g.Group("/users/:user")
		u.POST("/calendar", s.bindCalendar)
		u.POST("/wakeup", s.bindWakeup)
		u.GET("/schedule", s.userSchedule)
		u.GET("/now", s.userNow)
		u.PUT("/reminder", s.setReminder)
	}

	return r
}
