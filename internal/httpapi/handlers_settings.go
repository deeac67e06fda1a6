package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"attendtrack/internal/notify"
)

func (s *Server) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Settings.Get())
}

// putSettings merges the body over the current settings, so omitted
// fields keep their values.
func (s *Server) putSettings(c *gin.Context) {
	next := s.deps.Settings.Get()
	if err := c.ShouldBindJSON(&next); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", "invalid settings body")
		return
	}
	if err := s.deps.Settings.Update(next); err != nil {
		respondError(c, http.StatusUnprocessableEntity, "invalid_settings", err.Error())
		return
	}
	s.deps.Bus.Publish(notify.KindSuccess, "Settings Saved", "Your settings have been updated.")
	c.JSON(http.StatusOK, s.deps.Settings.Get())
}
