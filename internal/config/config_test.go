package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HTTP_PORT", "")
	t.Setenv("LATE_THRESHOLD", "")
	t.Setenv("SCAN_LATENCY", "")

	cfg := Load()
	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, DefaultLateThreshold, cfg.Settings.LateThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.ScanLatency)
	assert.Equal(t, 2*time.Second, cfg.SMSDeliveryDelay)
	assert.True(t, cfg.Settings.SMSEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("SCAN_LATENCY", "250ms")
	t.Setenv("SMS_ENABLED", "false")
	t.Setenv("RATE_LIMIT_PER_MIN", "abc")
	t.Setenv("CORS_ORIGINS", "http://localhost:3000, ,https://school.example")

	cfg := Load()
	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.Equal(t, 250*time.Millisecond, cfg.ScanLatency)
	assert.False(t, cfg.Settings.SMSEnabled)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
	assert.Equal(t, []string{"http://localhost:3000", "https://school.example"}, cfg.CORSOrigins)
}

func TestParseHHMM(t *testing.T) {
	tests := []struct {
		in      string
		hour    int
		minute  int
		wantErr bool
	}{
		{in: "08:30", hour: 8, minute: 30},
		{in: " 9:05 ", hour: 9, minute: 5},
		{in: "23:59", hour: 23, minute: 59},
		{in: "24:00", wantErr: true},
		{in: "08:60", wantErr: true},
		{in: "0830", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			h, m, err := ParseHHMM(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.hour, h)
			assert.Equal(t, tc.minute, m)
		})
	}
}

func TestLiveSettingsUpdate(t *testing.T) {
	live := NewLiveSettings(Settings{LateThreshold: "bogus", ScannerLocation: "Gate 2"})
	got := live.Get()
	assert.Equal(t, DefaultLateThreshold, got.LateThreshold)
	assert.Equal(t, DefaultSMSTemplate, got.SMSTemplate)

	next := got
	next.LateThreshold = "09:00"
	require.NoError(t, live.Update(next))
	assert.Equal(t, "09:00", live.Get().LateThreshold)

	bad := next
	bad.SMSTemplate = "  "
	require.Error(t, live.Update(bad))
	assert.Equal(t, next, live.Get())
}

func TestSettingsJSON(t *testing.T) {
	cur := Settings{
		SchoolName:      "Rizal High",
		LateThreshold:   "08:30",
		SMSEnabled:      true,
		SMSTemplate:     DefaultSMSTemplate,
		ScannerLocation: "Main Entrance",
		ScanCooldown:    90 * time.Second,
	}

	data, err := json.Marshal(cur)
	require.NoError(t, err)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, float64(90), wire["scan_cooldown_seconds"])
	assert.Equal(t, "Rizal High", wire["school_name"])
	assert.NotContains(t, wire, "scan_cooldown")

	next := cur
	require.NoError(t, json.Unmarshal([]byte(`{"late_threshold": "08:00", "scan_cooldown_seconds": 1.5}`), &next))
	assert.Equal(t, "08:00", next.LateThreshold)
	assert.Equal(t, 1500*time.Millisecond, next.ScanCooldown)
	assert.Equal(t, "Rizal High", next.SchoolName)
	assert.True(t, next.SMSEnabled)
}
