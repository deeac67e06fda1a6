package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"attendtrack/internal/clock"
	"attendtrack/internal/logging"
	"attendtrack/internal/store"
)

type brokenKV struct{}

func (brokenKV) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("connection refused")
}
func (brokenKV) Set(context.Context, string, string, time.Duration) error { return nil }
func (brokenKV) Delete(context.Context, string) error                     { return nil }

func newSessions(t *testing.T) (*Sessions, *store.MemoryKV, *clock.Fake) {
	t.Helper()
	creds, err := DemoCredentials(bcrypt.MinCost)
	require.NoError(t, err)
	clk := clock.NewFake(time.Date(2024, 9, 2, 7, 0, 0, 0, time.UTC))
	kv := store.NewMemoryKV(clk)
	s := NewSessions(creds, kv, SessionOptions{Issuer: "attendtrack", SigningKey: "test-key", TTL: time.Hour},
		clk, logging.Component(logging.Discard(), "auth"))
	return s, kv, clk
}

func TestAllowedAndNav(t *testing.T) {
	admin := &User{Role: RoleAdmin}
	instructor := &User{Role: RoleInstructor}
	student := &User{Role: RoleStudent}

	assert.False(t, Allowed(nil, RoleAdmin))
	assert.True(t, Allowed(instructor, RoleAdmin, RoleInstructor))
	assert.False(t, Allowed(student, RoleAdmin, RoleInstructor))

	tests := []struct {
		page  Page
		allow []*User
		deny  []*User
	}{
		{PageDashboard, []*User{admin, instructor, student}, nil},
		{PageScan, []*User{admin, instructor}, []*User{student}},
		{PageRegister, []*User{admin}, []*User{instructor, student}},
		{PageStudents, []*User{admin, instructor}, []*User{student}},
		{PageRecords, []*User{admin, instructor, student}, nil},
		{PageSMSLogs, []*User{admin}, []*User{instructor, student}},
		{PageSettings, []*User{admin}, []*User{instructor, student}},
	}
	for _, tc := range tests {
		t.Run(string(tc.page), func(t *testing.T) {
			for _, u := range tc.allow {
				assert.True(t, CanAccess(u, tc.page), u.Role)
			}
			for _, u := range tc.deny {
				assert.False(t, CanAccess(u, tc.page), u.Role)
			}
		})
	}
	assert.False(t, CanAccess(admin, Page("nope")))

	var labels []string
	for _, item := range NavItems(student) {
		labels = append(labels, item.Label)
	}
	assert.Equal(t, []string{"Dashboard", "Attendance Records"}, labels)
	assert.Len(t, NavItems(admin), 7)
}

func TestLoginRestoreLogout(t *testing.T) {
	s, kv, clk := newSessions(t)
	ctx := context.Background()

	sess, err := s.Login(ctx, "Admin", "admin")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, sess.User.Role)
	assert.NotEmpty(t, sess.Token)

	claims, err := Parse(sess.Token, "test-key", "attendtrack", clk.Now)
	require.NoError(t, err)
	_, ok, err := kv.Get(ctx, SessionKeyPrefix+claims.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	user, err := s.Restore(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "System Administrator", user.FullName)

	require.NoError(t, s.Logout(ctx, sess.Token))
	_, err = s.Restore(ctx, sess.Token)
	assert.True(t, errors.Is(err, ErrNoSession))
}

func TestLoginRejects(t *testing.T) {
	s, _, _ := newSessions(t)
	for _, tc := range []struct{ user, pass string }{
		{"admin", "wrong"},
		{"nobody", "nobody"},
		{"student", "admin"},
	} {
		_, err := s.Login(context.Background(), tc.user, tc.pass)
		assert.True(t, errors.Is(err, ErrInvalidCredentials), tc.user)
	}
}

func TestRestoreFailures(t *testing.T) {
	s, kv, clk := newSessions(t)
	ctx := context.Background()

	_, err := s.Restore(ctx, "garbage")
	assert.True(t, errors.Is(err, ErrNoSession))

	sess, err := s.Login(ctx, "instructor", "instructor")
	require.NoError(t, err)
	claims, err := Parse(sess.Token, "test-key", "attendtrack", clk.Now)
	require.NoError(t, err)
	key := SessionKeyPrefix + claims.ID

	require.NoError(t, kv.Set(ctx, key, "{not json", time.Hour))
	_, err = s.Restore(ctx, sess.Token)
	assert.True(t, errors.Is(err, ErrNoSession))
	_, ok, _ := kv.Get(ctx, key)
	assert.False(t, ok, "corrupt entry is removed")

	sess, err = s.Login(ctx, "instructor", "instructor")
	require.NoError(t, err)
	clk.Advance(2 * time.Hour)
	_, err = s.Restore(ctx, sess.Token)
	assert.True(t, errors.Is(err, ErrNoSession))

	broken := NewSessions(s.creds, brokenKV{}, s.opts, clk, s.log)
	sess, err = broken.Login(ctx, "admin", "admin")
	require.NoError(t, err)
	_, err = broken.Restore(ctx, sess.Token)
	assert.True(t, errors.Is(err, ErrNoSession))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, _, _ := newSessions(t)
	ctx := context.Background()
	student, err := s.Login(ctx, "student", "student")
	require.NoError(t, err)
	admin, err := s.Login(ctx, "admin", "admin")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/settings", Authenticate(s), RequirePage(PageSettings), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": CurrentUser(c).Username})
	})

	tests := []struct {
		name   string
		target string
		header string
		status int
	}{
		{name: "no token", target: "/settings", status: http.StatusUnauthorized},
		{name: "bad token", target: "/settings", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "student", target: "/settings", header: "Bearer " + student.Token, status: http.StatusForbidden},
		{name: "admin header", target: "/settings", header: "bearer " + admin.Token, status: http.StatusOK},
		{name: "admin query", target: "/settings?token=" + admin.Token, status: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusForbidden {
				assert.JSONEq(t, `{"error":"access_denied","message":"You don't have permission to access this page.",
					"action":{"label":"Back to Dashboard","href":"/dashboard"}}`, rec.Body.String())
			}
		})
	}
}
