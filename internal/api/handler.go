// Package api is the Transport/Bridge layer: a Gin HTTP server exposing a
// handful of read-only REST endpoints plus the /ws push-and-command
// channel the operator UI drives the engine through.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"spotbot/internal/engine"
	"spotbot/internal/events"
)

// Server wires the HTTP/WebSocket surface around one Engine and its event
// bus. There is no per-user state: this process manages exactly one
// exchange account.
type Server struct {
	Router *gin.Engine
	Bus    *events.Bus
	Engine *engine.Engine

	JWTSecret string
}

// NewServer builds the Gin router, wires middleware and routes, and
// returns a ready-to-run Server.
func NewServer(bus *events.Bus, eng *engine.Engine, jwtSecret string) *Server {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Bus:       bus,
		Engine:    eng,
		JWTSecret: jwtSecret,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api/v1")
	{
		api.GET("/status", s.getStatus)
		api.GET("/portfolio", s.getPortfolio)
		api.GET("/ledger", s.getLedger)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// getStatus mirrors the status half of the initial_state push payload, for
// a plain HTTP poller that doesn't want a WebSocket connection.
func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"botStatus": s.Engine.Status(),
		"settings":  s.Engine.Settings(),
	})
}

// getPortfolio mirrors the portfolio_update push payload.
func (s *Server) getPortfolio(c *gin.Context) {
	snap := s.Engine.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"portfolio":   snap.Portfolio,
		"usdtBalance": snap.USDTBalance,
	})
}

// getLedger mirrors the trade_ledger_update push payload, optionally
// limited by a ?limit= query param.
func (s *Server) getLedger(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	c.JSON(http.StatusOK, gin.H{"tradeLedger": s.Engine.Ledger(limit)})
}

// Start runs the HTTP server until it errors or is shut down.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
