package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"attendtrack/internal/clock"
)

func TestTokenBucketRefill(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC))
	l := NewTokenBucket(2, 60, clk)

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "keys are independent")

	clk.Advance(time.Second)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	clk.Advance(time.Hour)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"), "refill is capped at capacity")

	assert.Equal(t, 1, l.Prune(30*time.Minute))
}

func TestMiddlewareRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	clk := clock.NewFake(time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC))
	l := NewTokenBucket(1, 1, clk)

	r := gin.New()
	r.Use(l.Middleware(func(c *gin.Context) string { return c.GetHeader("X-User") }))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-User", user)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusNoContent, do("admin"))
	assert.Equal(t, http.StatusTooManyRequests, do("admin"))
	assert.Equal(t, http.StatusNoContent, do("student"))
}
