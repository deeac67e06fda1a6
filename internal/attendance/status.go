package attendance

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"attendtrack/internal/config"
)

// Status is the attendance classification of a record.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
	StatusExcused Status = "excused"
)

// ParseStatus accepts the four statuses case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPresent, StatusLate, StatusAbsent, StatusExcused:
		return st, nil
	}
	return "", errors.Errorf("unknown attendance status %q", s)
}

// Threshold is the late cutoff as a wall-clock hour and minute.
type Threshold struct {
	Hour   int
	Minute int
}

// DefaultThreshold is 08:30.
var DefaultThreshold = Threshold{Hour: 8, Minute: 30}

// ParseThreshold parses an "HH:MM" cutoff.
func ParseThreshold(s string) (Threshold, error) {
	h, m, err := config.ParseHHMM(s)
	if err != nil {
		return Threshold{}, err
	}
	return Threshold{Hour: h, Minute: m}, nil
}

func (t Threshold) String() string {
	return time.Date(0, 1, 1, t.Hour, t.Minute, 0, 0, time.UTC).Format("15:04")
}

// Classify returns late when t is strictly after the threshold minute, else
// present. A check-in during the threshold minute itself is present.
func Classify(th Threshold, t time.Time) Status {
	if t.Hour() > th.Hour || (t.Hour() == th.Hour && t.Minute() > th.Minute) {
		return StatusLate
	}
	return StatusPresent
}
