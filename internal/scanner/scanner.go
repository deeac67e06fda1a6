package scanner

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"attendtrack/internal/attendance"
	"attendtrack/internal/backend"
	"attendtrack/internal/clock"
	"attendtrack/internal/config"
	"attendtrack/internal/directory"
	"attendtrack/internal/metrics"
	"attendtrack/internal/notify"
	"attendtrack/internal/sms"
)

// Result is the transient outcome shown after a scan.
type Result string

const (
	ResultIdle    Result = "idle"
	ResultSuccess Result = "success"
	ResultWarning Result = "warning"
	ResultError   Result = "error"
)

// SMSState tracks the guardian SMS triggered by the last scan.
type SMSState string

const (
	SMSIdle    SMSState = "idle"
	SMSSending SMSState = "sending"
	SMSSent    SMSState = "sent"
	SMSFailed  SMSState = "failed"
)

// Event is a single card read.
type Event struct {
	CardID     string    `json:"rfid_card_id"`
	Timestamp  time.Time `json:"timestamp"`
	Location   string    `json:"scanner_location"`
	Registered bool      `json:"is_registered"`
	StudentID  string    `json:"student_id,omitempty"`
}

// Status is the reader's connection state.
type Status struct {
	Connected     bool      `json:"is_connected"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Location      string    `json:"location"`
	Firmware      string    `json:"firmware_version,omitempty"`
}

// State is a snapshot of the scanner for the dashboard.
type State struct {
	Scanner  Status             `json:"scanner"`
	Scanning bool               `json:"is_scanning"`
	LastScan *Event             `json:"last_scan,omitempty"`
	Pending  *Event             `json:"pending_scan,omitempty"`
	Result   Result             `json:"result"`
	Student  *directory.Student `json:"student,omitempty"`
	SMS      SMSState           `json:"sms_status"`
}

// Outcome is what a resolved scan produced.
type Outcome struct {
	Event        Event              `json:"event"`
	Ignored      bool               `json:"ignored,omitempty"`
	Record       *attendance.Record `json:"record,omitempty"`
	Notification *sms.Notification  `json:"sms,omitempty"`
	Student      *directory.Student `json:"student,omitempty"`
}

// Directory resolves card ids.
type Directory interface {
	Lookup(cardID string) (directory.Student, bool)
}

// Recorder records attendance.
type Recorder interface {
	Record(ctx context.Context, studentID string, status attendance.Status) (attendance.Record, error)
}

// Notifier sends the guardian SMS.
type Notifier interface {
	Send(ctx context.Context, studentID, message string) (sms.Notification, error)
}

// ModuleUpdater receives sms_status hardware events.
type ModuleUpdater interface {
	Update(p sms.ModulePatch) sms.ModuleStatus
}

// Reporter forwards scans to the remote backend.
type Reporter interface {
	ReportScan(ctx context.Context, rfid string) (backend.ScanResult, error)
}

// Deps are the collaborators of a Scanner. Module and Reporter are optional.
type Deps struct {
	Directory Directory
	Recorder  Recorder
	SMS       Notifier
	Module    ModuleUpdater
	Reporter  Reporter
	Toasts    notify.Notifier
	Settings  *config.LiveSettings
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Log       *logrus.Entry
}

// Options tune the simulated reader.
type Options struct {
	Latency    time.Duration
	ResetAfter time.Duration
	Firmware   string
	// Location is the zone used for late classification and SMS times.
	Location *time.Location
}

// Scanner turns card reads into attendance, SMS and toasts.
type Scanner struct {
	deps Deps
	opts Options

	mu             sync.Mutex
	status         Status
	scanning       int
	lastScan       *Event
	pending        *Event
	result         Result
	student        *directory.Student
	smsState       SMSState
	resetTimer     clock.Timer
	scanTimers     map[int]clock.Timer
	nextTimer      int
	lastSeen       map[string]time.Time
	onUnregistered func(Event)
}

// New creates a scanner reporting as connected.
func New(deps Deps, opts Options) *Scanner {
	if opts.Latency < 0 {
		opts.Latency = 0
	}
	if opts.ResetAfter <= 0 {
		opts.ResetAfter = 5 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Scanner{
		deps: deps,
		opts: opts,
		status: Status{
			Connected:     true,
			LastHeartbeat: deps.Clock.Now(),
			Location:      deps.Settings.Get().ScannerLocation,
			Firmware:      opts.Firmware,
		},
		result:     ResultIdle,
		smsState:   SMSIdle,
		scanTimers: make(map[int]clock.Timer),
		lastSeen:   make(map[string]time.Time),
	}
}

// OnUnregistered registers the callback invoked with every unregistered
// scan event.
func (s *Scanner) OnUnregistered(fn func(Event)) {
	s.mu.Lock()
	s.onUnregistered = fn
	s.mu.Unlock()
}

// Simulate models a physical tap: the card resolves after the reader
// latency on the scanner's clock.
func (s *Scanner) Simulate(cardID string) error {
	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		return errors.New("rfid card id required")
	}

	s.mu.Lock()
	s.scanning++
	s.nextTimer++
	id := s.nextTimer
	s.scanTimers[id] = s.deps.Clock.AfterFunc(s.opts.Latency, func() {
		s.mu.Lock()
		delete(s.scanTimers, id)
		s.mu.Unlock()

		if _, err := s.resolve(context.Background(), cardID); err != nil {
			s.deps.Log.WithError(err).WithField("card_id", cardID).Warn("simulated scan failed")
		}

		s.mu.Lock()
		s.scanning--
		s.mu.Unlock()
	})
	s.mu.Unlock()
	return nil
}

// ScanNow resolves a card read immediately.
func (s *Scanner) ScanNow(ctx context.Context, cardID string) (Outcome, error) {
	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		return Outcome{}, errors.New("rfid card id required")
	}
	return s.resolve(ctx, cardID)
}

func (s *Scanner) resolve(ctx context.Context, cardID string) (Outcome, error) {
	settings := s.deps.Settings.Get()
	now := s.deps.Clock.Now()
	event := Event{CardID: cardID, Timestamp: now, Location: settings.ScannerLocation}

	if s.coolingDown(cardID, now, settings.ScanCooldown) {
		s.deps.Metrics.Scan("cooldown")
		s.deps.Log.WithField("card_id", cardID).Debug("scan ignored during cooldown")
		return Outcome{Event: event, Ignored: true}, nil
	}

	student, ok := s.deps.Directory.Lookup(cardID)
	s.report(ctx, cardID)

	if !ok {
		s.mu.Lock()
		s.lastScan = &event
		pending := event
		s.pending = &pending
		s.result = ResultWarning
		s.student = nil
		s.smsState = SMSIdle
		fn := s.onUnregistered
		s.scheduleResetLocked()
		s.mu.Unlock()

		s.deps.Metrics.Scan("unregistered")
		s.deps.Log.WithField("card_id", cardID).Info("unregistered card scanned")
		if fn != nil {
			fn(event)
		}
		s.deps.Toasts.Publish(notify.KindWarning, "Unregistered RFID Card",
			"Card "+cardID+" is not registered. Please register the student.")
		return Outcome{Event: event}, nil
	}

	event.Registered = true
	event.StudentID = student.StudentID
	s.mu.Lock()
	s.lastScan = &event
	s.mu.Unlock()

	local := now.In(s.opts.Location)
	threshold, err := attendance.ParseThreshold(settings.LateThreshold)
	if err != nil {
		threshold = attendance.DefaultThreshold
	}
	status := attendance.Classify(threshold, local)

	rec, err := s.deps.Recorder.Record(ctx, student.StudentID, status)
	if err != nil {
		s.mu.Lock()
		s.result = ResultError
		s.student = &student
		s.smsState = SMSIdle
		s.scheduleResetLocked()
		s.mu.Unlock()

		s.deps.Metrics.Scan("error")
		s.deps.Toasts.Publish(notify.KindError, "Attendance Error", "Could not record attendance for "+student.FullName+".")
		return Outcome{Event: event, Student: &student}, errors.Wrap(err, "record attendance")
	}

	s.mu.Lock()
	s.result = ResultSuccess
	s.student = &student
	s.smsState = SMSIdle
	if settings.SMSEnabled && s.deps.SMS != nil {
		s.smsState = SMSSending
	}
	s.scheduleResetLocked()
	s.mu.Unlock()

	s.deps.Metrics.Scan("registered")
	s.deps.Log.WithFields(logrus.Fields{"card_id": cardID, "student_id": student.StudentID, "status": rec.Status}).Info("scan recorded")
	s.deps.Toasts.Publish(notify.KindSuccess, "Attendance Recorded", student.FullName+" checked in successfully.")

	out := Outcome{Event: event, Record: &rec, Student: &student}
	if settings.SMSEnabled && s.deps.SMS != nil {
		msg := sms.Render(settings.SMSTemplate, sms.MessageVars{StudentName: student.FullName, At: local, Status: string(status)})
		n, err := s.deps.SMS.Send(ctx, student.StudentID, msg)
		s.mu.Lock()
		if err != nil || n.Status == sms.StatusFailed {
			s.smsState = SMSFailed
		} else {
			s.smsState = SMSSent
		}
		s.mu.Unlock()
		if err != nil {
			s.deps.Log.WithError(err).WithField("student_id", student.StudentID).Warn("sms send failed")
		} else {
			out.Notification = &n
		}
	}
	return out, nil
}

func (s *Scanner) coolingDown(cardID string, now time.Time, cooldown time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cooldown > 0 {
		if last, ok := s.lastSeen[cardID]; ok && now.Sub(last) < cooldown {
			return true
		}
	}
	s.lastSeen[cardID] = now
	return false
}

func (s *Scanner) report(ctx context.Context, cardID string) {
	if s.deps.Reporter == nil {
		return
	}
	if _, err := s.deps.Reporter.ReportScan(ctx, cardID); err != nil {
		s.deps.Log.WithError(err).WithField("card_id", cardID).Warn("scan report to backend failed")
	}
}

func (s *Scanner) scheduleResetLocked() {
	if s.resetTimer != nil {
		s.resetTimer.Stop()
	}
	s.resetTimer = s.deps.Clock.AfterFunc(s.opts.ResetAfter, s.resetResult)
}

func (s *Scanner) resetResult() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = ResultIdle
	s.student = nil
	s.smsState = SMSIdle
	s.resetTimer = nil
}

// ClearPending dismisses the pending unregistered scan.
func (s *Scanner) ClearPending() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// ClearPendingFor clears the pending scan only when it is for cardID.
func (s *Scanner) ClearPendingFor(cardID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil || s.pending.CardID != cardID {
		return false
	}
	s.pending = nil
	return true
}

// Pending returns the pending unregistered scan, if any.
func (s *Scanner) Pending() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return Event{}, false
	}
	return *s.pending, true
}

// State returns a snapshot.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Scanner:  s.status,
		Scanning: s.scanning > 0,
		Result:   s.result,
		SMS:      s.smsState,
	}
	st.Scanner.Location = s.deps.Settings.Get().ScannerLocation
	if s.lastScan != nil {
		e := *s.lastScan
		st.LastScan = &e
	}
	if s.pending != nil {
		e := *s.pending
		st.Pending = &e
	}
	if s.student != nil {
		stu := *s.student
		st.Student = &stu
	}
	return st
}

// Heartbeat marks the reader as alive.
func (s *Scanner) Heartbeat() {
	now := s.deps.Clock.Now()
	s.mu.Lock()
	s.status.Connected = true
	s.status.LastHeartbeat = now
	s.mu.Unlock()
}

// Hardware event types.
const (
	EventRFIDScan      = "rfid_scan"
	EventScannerStatus = "scanner_status"
	EventSMSStatus     = "sms_status"
	EventError         = "error"
)

// HardwareEvent is a message from the reader firmware.
type HardwareEvent struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

type scanPayload struct {
	CardID string `json:"rfidCardId"`
}

type scannerStatusPayload struct {
	Connected *bool   `json:"is_connected"`
	Location  *string `json:"location"`
	Firmware  *string `json:"firmware_version"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// HandleEvent applies a hardware event. rfid_scan events resolve
// immediately and return the outcome.
func (s *Scanner) HandleEvent(ctx context.Context, ev HardwareEvent) (*Outcome, error) {
	switch ev.Type {
	case EventRFIDScan:
		var p scanPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return nil, err
		}
		out, err := s.ScanNow(ctx, p.CardID)
		if err != nil {
			return nil, err
		}
		return &out, nil

	case EventScannerStatus:
		var p scannerStatusPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return nil, err
		}
		s.mu.Lock()
		if p.Connected != nil {
			s.status.Connected = *p.Connected
		}
		if p.Firmware != nil {
			s.status.Firmware = *p.Firmware
		}
		s.mu.Unlock()
		if p.Location != nil && *p.Location != "" {
			cur := s.deps.Settings.Get()
			cur.ScannerLocation = *p.Location
			if err := s.deps.Settings.Update(cur); err != nil {
				return nil, err
			}
		}
		return nil, nil

	case EventSMSStatus:
		if s.deps.Module == nil {
			return nil, errors.New("sms module not configured")
		}
		var p sms.ModulePatch
		if err := decodePayload(ev.Payload, &p); err != nil {
			return nil, err
		}
		s.deps.Module.Update(p)
		return nil, nil

	case EventError:
		var p errorPayload
		_ = decodePayload(ev.Payload, &p)
		msg := p.Message
		if msg == "" {
			msg = "An error occurred with the hardware."
		}
		s.deps.Log.WithField("message", msg).Warn("hardware error")
		s.deps.Toasts.Publish(notify.KindError, "Hardware Error", msg)
		return nil, nil
	}
	return nil, errors.Errorf("unknown hardware event %q", ev.Type)
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(raw, v), "decode event payload")
}

// Close cancels pending simulated scans and the result reset.
func (s *Scanner) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.scanTimers {
		if t.Stop() {
			s.scanning--
		}
		delete(s.scanTimers, id)
	}
	if s.resetTimer != nil {
		s.resetTimer.Stop()
		s.resetTimer = nil
	}
}
