// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api is the HTTP boundary of the edit service. It authenticates
// callers, assigns request ids, and translates orchestrator outcomes into
// status codes. All edit semantics live in internal/orchestrator.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/traylinx/omniAgentLocal/internal/buildinfo"
	"github.com/traylinx/omniAgentLocal/internal/config"
	"github.com/traylinx/omniAgentLocal/internal/events"
	"github.com/traylinx/omniAgentLocal/internal/ledger"
	"github.com/traylinx/omniAgentLocal/internal/orchestrator"
)

// Server hosts the edit endpoints on a gin engine.
type Server struct {
	cfg    *config.Config
	orch   *orchestrator.Orchestrator
	ledger *ledger.Ledger
	bus    *events.Bus
	router *gin.Engine
}

// Options carries the server's collaborators.
type Options struct {
	Config       *config.Config
	Orchestrator *orchestrator.Orchestrator
	Ledger       *ledger.Ledger
	Bus          *events.Bus
}

// NewServer builds the router and registers all routes.
func NewServer(opts Options) *Server {
	if opts.Config != nil && !opts.Config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    opts.Config,
		orch:   opts.Orchestrator,
		ledger: opts.Ledger,
		bus:    opts.Bus,
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestID())

	router.GET("/health", s.health)

	v1 := router.Group("/v1", s.authRequired())
	v1.POST("/edits", s.proposeEdit)
	v1.GET("/edits/:id", s.getEdit)
	v1.POST("/edits/:id/approve", s.approveEdit)
	v1.GET("/edits/:id/events", s.streamEvents)
	v1.GET("/usage", s.getUsage)

	s.router = router
	return s
}

// Handler exposes the router for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run blocks serving on addr until the listener fails.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"version":    buildinfo.Version,
		"commit":     buildinfo.Commit,
		"build_date": buildinfo.BuildDate,
	})
}
