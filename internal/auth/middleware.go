package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	userKey  = "auth.user"
	tokenKey = "auth.token"
)

// Authenticate resolves the bearer token (or the token query parameter,
// used by websocket clients) and stores the user on the context.
func Authenticate(sessions *Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "missing bearer token"})
			return
		}
		user, err := sessions.Restore(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "session expired or invalid"})
			return
		}
		c.Set(userKey, &user)
		c.Set(tokenKey, token)
		c.Next()
	}
}

// RequirePage rejects users whose role may not open page.
func RequirePage(page Page) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CanAccess(CurrentUser(c), page) {
			c.AbortWithStatusJSON(http.StatusForbidden, AccessDenied())
			return
		}
		c.Next()
	}
}

// AccessDenied is the fixed body returned for a forbidden page.
func AccessDenied() gin.H {
	return gin.H{
		"error":   "access_denied",
		"message": "You don't have permission to access this page.",
		"action":  gin.H{"label": "Back to Dashboard", "href": "/dashboard"},
	}
}

// CurrentUser returns the authenticated user, or nil.
func CurrentUser(c *gin.Context) *User {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	u, _ := v.(*User)
	return u
}

// CurrentToken returns the token the request authenticated with.
func CurrentToken(c *gin.Context) string {
	return c.GetString(tokenKey)
}

// BearerToken extracts the token from the Authorization header or the
// token query parameter.
func BearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return c.Query("token")
}
