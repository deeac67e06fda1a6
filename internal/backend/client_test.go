package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendtrack/internal/directory"
)

func TestListStudentsMapsServerRecords(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "bare array",
			body: `[{"id": 7, "student_id": "2024-0001", "rfid": "RFID-001-ABC", "name": "Maria Santos",
				"parent_phone": "+639171234567", "guardian_name": "Juan Santos", "course": "Computer Science",
				"section": "A", "year_level": "2", "created_at": "2024-08-15T00:00:00Z", "is_active": true}]`,
		},
		{
			name: "data envelope",
			body: `{"data": [{"id": "7", "student_id": "2024-0001", "rfid": "RFID-001-ABC", "name": "Maria Santos",
				"parent_phone": "+639171234567", "guardian_name": "Juan Santos", "course": "Computer Science",
				"section": "A", "year_level": 2, "created_at": "2024-08-15T00:00:00Z"}]}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/api/students", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			students, err := New(srv.URL, time.Second).ListStudents(context.Background())
			require.NoError(t, err)
			require.Len(t, students, 1)

			s := students[0]
			assert.Equal(t, "7", s.ID)
			assert.Equal(t, "2024-0001", s.StudentID)
			assert.Equal(t, "RFID-001-ABC", s.CardID)
			assert.Equal(t, "Maria Santos", s.FullName)
			assert.Equal(t, "+639171234567", s.GuardianPhone)
			assert.Equal(t, "Juan Santos", s.GuardianName)
			assert.Equal(t, 2, s.YearLevel)
			assert.True(t, s.Active)
			assert.Equal(t, time.Date(2024, 8, 15, 0, 0, 0, 0, time.UTC), s.RegisteredAt.UTC())
		})
	}
}

func TestCreateStudentSendsCamelCaseBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success": true, "data": {"id": 42, "student_id": "2024-0100", "rfid": "CARD-100"}}`))
	}))
	defer srv.Close()

	created, err := New(srv.URL, time.Second).CreateStudent(context.Background(), directory.Student{
		StudentID:     "2024-0100",
		FullName:      "Ana Lim",
		CardID:        "CARD-100",
		GuardianName:  "Rosa Lim",
		GuardianPhone: "+639170000001",
		Course:        "Data Science",
		Section:       "C",
		YearLevel:     3,
	})
	require.NoError(t, err)
	assert.Equal(t, "42", created.ID)

	assert.Equal(t, "CARD-100", got["rfid"])
	assert.Equal(t, "2024-0100", got["studentId"])
	assert.Equal(t, "Ana Lim", got["name"])
	assert.Equal(t, "+639170000001", got["parentPhone"])
	assert.Equal(t, "Rosa Lim", got["guardianName"])
	assert.Equal(t, float64(3), got["yearLevel"])
}

func TestCreateStudentErrorBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "error field", body: `{"error": "RFID already exists"}`, want: "RFID already exists"},
		{name: "message field", body: `{"message": "student_id taken"}`, want: "student_id taken"},
		{name: "plain text", body: `bad gateway`, want: "bad gateway"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusConflict)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL, time.Second).CreateStudent(context.Background(), directory.Student{CardID: "X"})
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, http.StatusConflict, apiErr.Status)
			assert.Equal(t, tc.want, apiErr.Message)
		})
	}
}

func TestReportScan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		status := "unregistered"
		if body["rfid"] == "RFID-001-ABC" {
			status = "registered"
		}
		_, _ = w.Write([]byte(`{"status": "` + status + `"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	res, err := c.ReportScan(context.Background(), "RFID-001-ABC")
	require.NoError(t, err)
	assert.True(t, res.Registered())

	res, err = c.ReportScan(context.Background(), "RFID-999-ZZZ")
	require.NoError(t, err)
	assert.False(t, res.Registered())

	_, err = c.ReportScan(context.Background(), "")
	assert.Error(t, err)
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	err := New(srv.URL, 20*time.Millisecond).SendSMS(context.Background(), "+639171234567", "hi")
	assert.Error(t, err)
}
