package cloudinary

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendtrack/internal/clock"
)

func TestUploadStudentPhoto(t *testing.T) {
	clk := clock.NewFake(time.Unix(1725260400, 0))
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/image/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		form = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			form[k] = v[0]
		}
		_, _ = w.Write([]byte(`{"public_id": "students/2024-0001", "secure_url": "https://res.example/2024-0001.jpg"}`))
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "/students/", clk)
	c.BaseURL = srv.URL
	res, err := c.UploadStudentPhoto(context.Background(), "2024-0001", "aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "https://res.example/2024-0001.jpg", res.SecureURL)

	assert.Equal(t, "2024-0001", form["public_id"])
	assert.Equal(t, "students", form["folder"])
	assert.Equal(t, "key", form["api_key"])
	assert.Equal(t, "1725260400", form["timestamp"])
	assert.Equal(t, "data:image/jpeg;base64,aGVsbG8=", form["file"])

	sum := sha1.Sum([]byte("folder=students&overwrite=true&public_id=2024-0001&timestamp=1725260400secret"))
	assert.Equal(t, hex.EncodeToString(sum[:]), form["signature"])
}

func TestUploadErrors(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	_, err := New("", "", "", "", clk).UploadStudentPhoto(context.Background(), "x", "data")
	assert.True(t, errors.Is(err, ErrNotConfigured))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid Signature"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()
	c := New("demo", "key", "secret", "", clk)
	c.BaseURL = srv.URL
	_, err = c.UploadStudentPhoto(context.Background(), "x", "data:image/png;base64,AAAA")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
