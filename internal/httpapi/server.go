package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marketbrief/marketbrief/internal/logger"
	"github.com/marketbrief/marketbrief/internal/services"
)

// Server exposes the read path and on-demand refresh over HTTP. Lookup
// is the only read operation; no write operation touches the pipeline
// tables directly.
type Server struct {
	query *services.Query
	jobs  *services.Jobs
	log   *logger.Logger
}

// New builds the HTTP surface.
func New(query *services.Query, jobs *services.Jobs, log *logger.Logger) *Server {
	return &Server{
		query: query,
		jobs:  jobs,
		log:   log.With("component", "httpapi"),
	}
}

// Router assembles the gin routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		v1.GET("/reports/:ticker", s.handleLookup)
		v1.POST("/reports/:ticker/refresh", s.handleRefresh)
	}
	return r
}

// handleLookup serves the latest completed report or the sentinel.
// Internal failures never surface here; the query layer collapses them.
func (s *Server) handleLookup(c *gin.Context) {
	view := s.query.Lookup(c.Request.Context(), c.Param("ticker"))
	c.JSON(http.StatusOK, view)
}

// handleRefresh accepts an on-demand synthesis request. Acceptance is
// decoupled from processing: 202 means queued, nothing more.
func (s *Server) handleRefresh(c *gin.Context) {
	var body struct {
		RequestedBy string `json:"requestedBy"`
	}
	_ = c.ShouldBindJSON(&body)

	id, err := s.jobs.Enqueue(c.Request.Context(), c.Param("ticker"), body.RequestedBy)
	if err != nil {
		s.log.Warn("Refresh request rejected.", "ticker", c.Param("ticker"), "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"requestId": id})
}
