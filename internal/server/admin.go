package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// AdminTokenRequired gates the ops endpoints on the shared admin token.
// With no token configured the endpoints are disabled outright.
func (s *Server) AdminTokenRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.cfg.Admin.APIToken
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		presented := c.GetHeader("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func (s *Server) GetMaintenance(c *gin.Context) {
	c.JSON(http.StatusOK, s.flag.State())
}

type setMaintenanceRequest struct {
	Active bool   `json:"active"`
	Reason string `json:"reason"`
}

func (s *Server) SetMaintenance(c *gin.Context) {
	var req setMaintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	s.flag.Set(c.Request.Context(), req.Active, req.Reason, "admin_api")
	c.JSON(http.StatusOK, s.flag.State())
}

// TriggerReport builds the operations summary on demand. The window
// query selects daily (default), weekly or monthly.
func (s *Server) TriggerReport(c *gin.Context) {
	var window time.Duration
	switch c.DefaultQuery("window", "daily") {
	case "daily":
		window = 24 * time.Hour
	case "weekly":
		window = 7 * 24 * time.Hour
	case "monthly":
		window = 30 * 24 * time.Hour
	default:
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	text, err := s.sched.ReportText(c.Request.Context(), window)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": text})
}
