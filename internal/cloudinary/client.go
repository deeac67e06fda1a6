package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"attendtrack/internal/clock"
)

// DefaultBaseURL is the Cloudinary upload API root.
const DefaultBaseURL = "https://api.cloudinary.com/v1_1"

// ErrNotConfigured is returned when no credentials are set.
var ErrNotConfigured = errors.New("cloudinary not configured")

// Client uploads student photos with signed requests.
type Client struct {
	BaseURL   string
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	HTTP      *http.Client
	clock     clock.Clock
}

// New creates a client. Photos land under folder.
func New(cloudName, apiKey, apiSecret, folder string, clk clock.Clock) *Client {
	return &Client{
		BaseURL:   DefaultBaseURL,
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Folder:    strings.Trim(folder, "/"),
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		clock:     clk,
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c != nil && c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// UploadResult is Cloudinary's upload response.
type UploadResult struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int    `json:"bytes"`
}

// UploadStudentPhoto uploads a data URL (or bare base64) image as
// <folder>/<studentID>, replacing any previous photo.
func (c *Client) UploadStudentPhoto(ctx context.Context, studentID, data string) (UploadResult, error) {
	if !c.Configured() {
		return UploadResult{}, ErrNotConfigured
	}
	if strings.TrimSpace(data) == "" {
		return UploadResult{}, errors.New("empty image")
	}
	if !strings.HasPrefix(data, "data:") {
		data = "data:image/jpeg;base64," + data
	}

	params := map[string]string{
		"timestamp": strconv.FormatInt(c.clock.Now().Unix(), 10),
		"public_id": studentID,
		"overwrite": "true",
	}
	if c.Folder != "" {
		params["folder"] = c.Folder
	}
	params["signature"] = c.sign(params)
	params["api_key"] = c.APIKey

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		if err := w.WriteField(k, v); err != nil {
			return UploadResult{}, errors.Wrap(err, "write form")
		}
	}
	if err := w.WriteField("file", data); err != nil {
		return UploadResult{}, errors.Wrap(err, "write form")
	}
	if err := w.Close(); err != nil {
		return UploadResult{}, errors.Wrap(err, "close form")
	}

	url := strings.TrimRight(c.BaseURL, "/") + "/" + c.CloudName + "/image/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return UploadResult{}, errors.Wrap(err, "cloudinary request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return UploadResult{}, errors.Wrap(err, "cloudinary upload")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return UploadResult{}, errors.Errorf("cloudinary upload failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var result UploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return UploadResult{}, errors.Wrap(err, "decode cloudinary response")
	}
	return result, nil
}

// sign computes the request signature: sorted key=value pairs joined by &
// with the secret appended, SHA-1 hex encoded. api_key and file are not
// signed.
func (c *Client) sign(params map[string]string) string {
	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if k == "api_key" || k == "file" || k == "resource_type" || v == "" {
			continue
		}
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)

	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + c.APISecret))
	return hex.EncodeToString(sum[:])
}
