package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"attendtrack/internal/auth"
)

func (s *Server) listNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"notifications": s.deps.Bus.Active()})
}

func (s *Server) dismissNotification(c *gin.Context) {
	if !s.deps.Bus.Dismiss(c.Param("id")) {
		respondError(c, http.StatusNotFound, "notification_not_found", "notification not found")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) notificationStream(c *gin.Context) {
	if s.deps.Hub == nil {
		respondError(c, http.StatusServiceUnavailable, "unavailable", "notification stream disabled")
		return
	}
	s.deps.Hub.ServeWS(c.Writer, c.Request, auth.CurrentUser(c).Username)
}
