package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"attendtrack/internal/auth"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", "username and password are required")
		return
	}
	sess, err := s.deps.Sessions.Login(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		respondError(c, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password")
		return
	}
	if err != nil {
		s.log.WithError(err).Error("login failed")
		respondError(c, http.StatusInternalServerError, "internal", "could not create session")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      sess.Token,
		"expires_at": sess.ExpiresAt,
		"user":       sess.User,
		"nav":        auth.NavItems(&sess.User),
	})
}

func (s *Server) logout(c *gin.Context) {
	if err := s.deps.Sessions.Logout(c.Request.Context(), auth.CurrentToken(c)); err != nil {
		s.log.WithError(err).Warn("logout failed")
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) me(c *gin.Context) {
	user := auth.CurrentUser(c)
	c.JSON(http.StatusOK, gin.H{"user": user, "nav": auth.NavItems(user)})
}
