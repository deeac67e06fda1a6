package config

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultLateThreshold = "08:30"
	DefaultSMSTemplate   = "[AttendTrack] {studentName} checked in at {time} on {date}. Status: {status}"
)

// Settings is the subset of configuration administrators may change at
// runtime from the settings page.
// On the wire the cooldown travels as scan_cooldown_seconds.
type Settings struct {
	SchoolName      string
	LateThreshold   string
	SMSEnabled      bool
	SMSTemplate     string
	ScannerLocation string
	ScanCooldown    time.Duration
}

type settingsJSON struct {
	SchoolName          string  `json:"school_name"`
	LateThreshold       string  `json:"late_threshold"`
	SMSEnabled          bool    `json:"sms_enabled"`
	SMSTemplate         string  `json:"sms_template"`
	ScannerLocation     string  `json:"scanner_location"`
	ScanCooldownSeconds float64 `json:"scan_cooldown_seconds"`
}

func (s Settings) MarshalJSON() ([]byte, error) {
	return json.Marshal(settingsJSON{
		SchoolName:          s.SchoolName,
		LateThreshold:       s.LateThreshold,
		SMSEnabled:          s.SMSEnabled,
		SMSTemplate:         s.SMSTemplate,
		ScannerLocation:     s.ScannerLocation,
		ScanCooldownSeconds: s.ScanCooldown.Seconds(),
	})
}

// UnmarshalJSON overlays the given fields on s; absent fields keep their
// current values.
func (s *Settings) UnmarshalJSON(b []byte) error {
	w := settingsJSON{
		SchoolName:          s.SchoolName,
		LateThreshold:       s.LateThreshold,
		SMSEnabled:          s.SMSEnabled,
		SMSTemplate:         s.SMSTemplate,
		ScannerLocation:     s.ScannerLocation,
		ScanCooldownSeconds: s.ScanCooldown.Seconds(),
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*s = Settings{
		SchoolName:      w.SchoolName,
		LateThreshold:   w.LateThreshold,
		SMSEnabled:      w.SMSEnabled,
		SMSTemplate:     w.SMSTemplate,
		ScannerLocation: w.ScannerLocation,
		ScanCooldown:    time.Duration(w.ScanCooldownSeconds * float64(time.Second)),
	}
	return nil
}

// Validate checks the settings are usable by the scanner and SMS sender.
func (s Settings) Validate() error {
	if _, _, err := ParseHHMM(s.LateThreshold); err != nil {
		return errors.Wrap(err, "late_threshold")
	}
	if strings.TrimSpace(s.SMSTemplate) == "" {
		return errors.New("sms_template: must not be empty")
	}
	if strings.TrimSpace(s.ScannerLocation) == "" {
		return errors.New("scanner_location: must not be empty")
	}
	if s.ScanCooldown < 0 {
		return errors.New("scan_cooldown: must not be negative")
	}
	return nil
}

// ParseHHMM parses a 24h "HH:MM" wall-clock time.
func ParseHHMM(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, errors.Errorf("invalid time %q: want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, errors.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, errors.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// LiveSettings guards Settings shared by request handlers and the scanner.
type LiveSettings struct {
	mu  sync.RWMutex
	cur Settings
}

// NewLiveSettings wraps initial. Invalid initial values are replaced by
// defaults field by field.
func NewLiveSettings(initial Settings) *LiveSettings {
	if _, _, err := ParseHHMM(initial.LateThreshold); err != nil {
		initial.LateThreshold = DefaultLateThreshold
	}
	if strings.TrimSpace(initial.SMSTemplate) == "" {
		initial.SMSTemplate = DefaultSMSTemplate
	}
	if strings.TrimSpace(initial.ScannerLocation) == "" {
		initial.ScannerLocation = "Main Entrance"
	}
	if initial.ScanCooldown < 0 {
		initial.ScanCooldown = 0
	}
	return &LiveSettings{cur: initial}
}

// Get returns a copy of the current settings.
func (l *LiveSettings) Get() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

// Update replaces the settings after validation.
func (l *LiveSettings) Update(next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.cur = next
	l.mu.Unlock()
	return nil
}
