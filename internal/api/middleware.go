// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	ctxRequestID = "request_id"
	ctxIdentity  = "identity"
)

// requestID tags every request with a short id, echoed in the X-Request-ID
// header and carried into every log line for the request.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()[:8]
		}
		c.Set(ctxRequestID, id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// authRequired verifies the Authorization bearer key against the configured
// bcrypt hashes. With no keys configured the server is open; callers are
// recorded as "local".
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg == nil || len(s.cfg.APIKeys) == 0 {
			c.Set(ctxIdentity, "local")
			c.Next()
			return
		}

		const prefix = "Bearer "
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, prefix) || !s.cfg.VerifyAPIKey(strings.TrimPrefix(header, prefix)) {
			s.logger(c).Warn("rejected request with missing or invalid API key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			return
		}
		c.Set(ctxIdentity, "api")
		c.Next()
	}
}

// logger returns a request-scoped entry carrying the request id.
func (s *Server) logger(c *gin.Context) *log.Entry {
	return log.WithField("request_id", c.GetString(ctxRequestID))
}

func identityFrom(c *gin.Context) string {
	return c.GetString(ctxIdentity)
}
