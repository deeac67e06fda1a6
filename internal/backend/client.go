package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"attendtrack/internal/directory"
)

// Client calls the remote collaborator that owns student persistence and
// the SMS gateway.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client with the given request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return "backend error " + strconv.Itoa(e.Status) + ": " + e.Message
}

// serverStudent is the backend's snake_case student shape.
type serverStudent struct {
	ID           flexString `json:"id"`
	StudentID    string     `json:"student_id"`
	RFID         string     `json:"rfid"`
	Name         string     `json:"name"`
	ParentPhone  string     `json:"parent_phone"`
	GuardianName string     `json:"guardian_name"`
	StudentPhone string     `json:"student_phone"`
	Email        string     `json:"email"`
	Course       string     `json:"course"`
	Section      string     `json:"section"`
	YearLevel    flexInt    `json:"year_level"`
	PhotoURL     string     `json:"photo_url"`
	CreatedAt    *time.Time `json:"created_at"`
	IsActive     *bool      `json:"is_active"`
}

func (s serverStudent) toStudent() directory.Student {
	out := directory.Student{
		ID:            string(s.ID),
		StudentID:     s.StudentID,
		FullName:      s.Name,
		CardID:        s.RFID,
		GuardianName:  s.GuardianName,
		GuardianPhone: s.ParentPhone,
		StudentPhone:  s.StudentPhone,
		Email:         s.Email,
		Course:        s.Course,
		Section:       s.Section,
		YearLevel:     int(s.YearLevel),
		PhotoURL:      s.PhotoURL,
		Active:        true,
	}
	if s.CreatedAt != nil {
		out.RegisteredAt = *s.CreatedAt
	}
	if s.IsActive != nil {
		out.Active = *s.IsActive
	}
	return out
}

// createStudentRequest is the body POST /api/students expects.
type createStudentRequest struct {
	RFID         string `json:"rfid"`
	StudentID    string `json:"studentId"`
	Name         string `json:"name"`
	StudentPhone string `json:"studentPhone"`
	ParentPhone  string `json:"parentPhone"`
	GuardianName string `json:"guardianName"`
	Course       string `json:"course"`
	Section      string `json:"section"`
	YearLevel    int    `json:"yearLevel"`
}

// ListStudents fetches every student. The response may be a bare array or
// wrapped in {"data": [...]}.
func (c *Client) ListStudents(ctx context.Context) ([]directory.Student, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/students", nil)
	if err != nil {
		return nil, err
	}

	var records []serverStudent
	if err := json.Unmarshal(unwrapData(body), &records); err != nil {
		return nil, errors.Wrap(err, "decode students")
	}
	out := make([]directory.Student, 0, len(records))
	for _, r := range records {
		out = append(out, r.toStudent())
	}
	return out, nil
}

// CreateStudent registers a student with the backend.
func (c *Client) CreateStudent(ctx context.Context, s directory.Student) (directory.Student, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/students", createStudentRequest{
		RFID:         s.CardID,
		StudentID:    s.StudentID,
		Name:         s.FullName,
		StudentPhone: s.StudentPhone,
		ParentPhone:  s.GuardianPhone,
		GuardianName: s.GuardianName,
		Course:       s.Course,
		Section:      s.Section,
		YearLevel:    s.YearLevel,
	})
	if err != nil {
		return directory.Student{}, err
	}

	var created serverStudent
	if data := unwrapData(body); len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &created); err != nil {
			return directory.Student{}, errors.Wrap(err, "decode created student")
		}
	}
	out := created.toStudent()
	if out.CardID == "" {
		out.CardID = s.CardID
	}
	if out.StudentID == "" {
		out.StudentID = s.StudentID
	}
	return out, nil
}

// ScanResult is the backend's verdict on a reported card.
type ScanResult struct {
	Status    string `json:"status"`
	StudentID string `json:"student_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Registered reports whether the backend recognised the card.
func (r ScanResult) Registered() bool { return r.Status == "registered" }

// ReportScan posts a card read to the backend.
func (c *Client) ReportScan(ctx context.Context, rfid string) (ScanResult, error) {
	if rfid == "" {
		return ScanResult{}, errors.New("rfid required")
	}
	body, err := c.do(ctx, http.MethodPost, "/api/attendance/scan", map[string]string{"rfid": rfid})
	if err != nil {
		return ScanResult{}, err
	}
	var out ScanResult
	if err := json.Unmarshal(unwrapData(body), &out); err != nil {
		return ScanResult{}, errors.Wrap(err, "decode scan result")
	}
	return out, nil
}

// SendSMS hands a message to the SMS gateway.
func (c *Client) SendSMS(ctx context.Context, phone, message string) error {
	if phone == "" {
		return errors.New("phone required")
	}
	_, err := c.do(ctx, http.MethodPost, "/api/sms", map[string]string{
		"phone":   phone,
		"message": message,
	})
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "backend %s %s", method, path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read backend response")
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(body, resp.Status)}
	}
	return body, nil
}

// errorMessage extracts {"error": ...} or {"message": ...} from a failed
// response.
func errorMessage(body []byte, fallback string) string {
	var out struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &out); err == nil {
		if out.Error != "" {
			return out.Error
		}
		if out.Message != "" {
			return out.Message
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" && len(s) < 200 {
		return s
	}
	return fallback
}

func unwrapData(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &env); err == nil && len(env.Data) > 0 && string(env.Data) != "null" {
		return env.Data
	}
	return trimmed
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts JSON numbers and numeric strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	if string(b) == "null" || string(b) == `""` {
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}
