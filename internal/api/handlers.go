// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/traylinx/omniAgentLocal/internal/orchestrator"
	"github.com/traylinx/omniAgentLocal/internal/patch"
	"github.com/traylinx/omniAgentLocal/internal/provider"
)

type proposeRequest struct {
	Instruction string `json:"instruction"`
}

func (s *Server) proposeEdit(c *gin.Context) {
	var req proposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Instruction) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instruction is required"})
		return
	}

	proposal, err := s.orch.Propose(c.Request.Context(), identityFrom(c), req.Instruction)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.logger(c).WithField("edit", proposal.ID).Info("edit proposed")
	c.JSON(http.StatusCreated, proposal)
}

func (s *Server) getEdit(c *gin.Context) {
	pending, err := s.orch.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pending)
}

func (s *Server) approveEdit(c *gin.Context) {
	editID := c.Param("id")
	approval, err := s.orch.Approve(c.Request.Context(), identityFrom(c), editID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.logger(c).WithField("edit", editID).Info("edit approved and committed")
	c.JSON(http.StatusOK, approval)
}

func (s *Server) getUsage(c *gin.Context) {
	snapshot, err := s.ledger.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read usage ledger"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": snapshot})
}

// writeError maps orchestrator outcomes onto HTTP status codes. The raw error
// text may name internal collaborators, so only curated messages go out.
func (s *Server) writeError(c *gin.Context, err error) {
	var validation *orchestrator.ValidationError
	var exhausted *provider.RotationExhaustedError

	switch {
	case errors.Is(err, orchestrator.ErrIdentityRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "caller identity required"})
	case errors.Is(err, orchestrator.ErrEditNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "edit not found"})
	case errors.Is(err, orchestrator.ErrEditExpired):
		c.JSON(http.StatusGone, gin.H{"error": "edit expired before approval"})
	case errors.Is(err, orchestrator.ErrLockBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "another edit is in flight"})
	case errors.Is(err, orchestrator.ErrNoChangesProduced):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "patch produced no changes"})
	case errors.As(err, &validation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":    "generated code failed validation",
			"failures": validation.Result.Errors,
			"warnings": validation.Result.Warnings,
		})
	case errors.As(err, &exhausted):
		c.JSON(http.StatusBadGateway, gin.H{"error": "all model backends unavailable or over quota"})
	case errors.Is(err, patch.ErrInvalidPatchFormat):
		c.JSON(http.StatusBadGateway, gin.H{"error": "model produced an unusable patch"})
	default:
		s.logger(c).Errorf("unhandled edit error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
