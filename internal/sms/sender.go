package sms

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"attendtrack/internal/clock"
	"attendtrack/internal/directory"
	"attendtrack/internal/metrics"
	"attendtrack/internal/notify"
	"attendtrack/internal/queue"
)

// ErrStudentNotFound is returned when the student id is not in the
// directory at send time.
var ErrStudentNotFound = errors.New("student not found")

// ErrNoRecipient marks a notification that failed because the student has
// no guardian phone on file.
var ErrNoRecipient = errors.New("no guardian phone on file")

// DeliveryStatus is the lifecycle state of a notification.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

// Notification is one SMS sent to a guardian.
type Notification struct {
	ID             string         `json:"id"`
	RecipientPhone string         `json:"recipient_phone"`
	StudentID      string         `json:"student_id"`
	StudentName    string         `json:"student_name"`
	Message        string         `json:"message"`
	SentAt         time.Time      `json:"sent_at"`
	Status         DeliveryStatus `json:"delivery_status"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	Error          string         `json:"error_message,omitempty"`
}

// StudentResolver resolves recipients.
type StudentResolver interface {
	LookupStudent(studentID string) (directory.Student, bool)
}

// AttendanceMarker flags today's attendance record once an SMS goes out.
type AttendanceMarker interface {
	MarkSMSSent(ctx context.Context, studentID string, at time.Time) bool
}

// Sender creates notifications and tracks their delivery.
type Sender struct {
	mu            sync.Mutex
	notifications []*Notification
	byID          map[string]*Notification
	timers        map[string]clock.Timer

	dir      StudentResolver
	marker   AttendanceMarker
	modem    Modem
	notifier notify.Notifier
	clock    clock.Clock
	delay    time.Duration
	outbox   queue.Queue
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

// NewSender wires a sender. Delivery is confirmed delay after Send.
func NewSender(dir StudentResolver, marker AttendanceMarker, modem Modem, notifier notify.Notifier,
	clk clock.Clock, delay time.Duration, log *logrus.Entry) *Sender {
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &Sender{
		byID:     make(map[string]*Notification),
		timers:   make(map[string]clock.Timer),
		dir:      dir,
		marker:   marker,
		modem:    modem,
		notifier: notifier,
		clock:    clk,
		delay:    delay,
		log:      log,
	}
}

// SetOutbox makes Send also enqueue each SMS for the gateway worker.
func (s *Sender) SetOutbox(q queue.Queue) { s.outbox = q }

// SetMetrics attaches collectors.
func (s *Sender) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// Send creates a sent notification for the student's guardian, marks today's
// attendance record as notified and schedules the delivery confirmation.
func (s *Sender) Send(ctx context.Context, studentID, message string) (Notification, error) {
	student, ok := s.dir.LookupStudent(studentID)
	if !ok {
		return Notification{}, errors.Wrapf(ErrStudentNotFound, "student %s", studentID)
	}

	now := s.clock.Now()
	n := &Notification{
		ID:             uuid.NewString(),
		RecipientPhone: student.GuardianPhone,
		StudentID:      studentID,
		StudentName:    student.FullName,
		Message:        message,
		SentAt:         now,
		Status:         StatusSent,
	}
	if n.RecipientPhone == "" {
		return s.fail(n), nil
	}
	out := *n

	s.modem.Accept(out)
	s.mu.Lock()
	s.notifications = append(s.notifications, n)
	s.byID[n.ID] = n
	s.timers[n.ID] = s.clock.AfterFunc(s.delay, func() { s.confirm(n.ID) })
	s.mu.Unlock()

	s.metrics.SMS(string(StatusSent))
	if s.marker != nil {
		s.marker.MarkSMSSent(ctx, studentID, now)
	}
	s.enqueue(ctx, out)
	s.log.WithFields(logrus.Fields{"sms_id": out.ID, "student_id": studentID, "phone": out.RecipientPhone}).Info("sms sent")
	return out, nil
}

// fail records n as failed without contacting the modem or the outbox.
func (s *Sender) fail(n *Notification) Notification {
	n.Status = StatusFailed
	n.Error = ErrNoRecipient.Error()
	out := *n

	s.mu.Lock()
	s.notifications = append(s.notifications, n)
	s.byID[n.ID] = n
	s.mu.Unlock()

	s.metrics.SMS(string(StatusFailed))
	s.log.WithFields(logrus.Fields{"sms_id": out.ID, "student_id": out.StudentID}).Warn("sms not sent, no recipient")
	s.notifier.Publish(notify.KindError, "SMS Failed", "No guardian phone on file for "+out.StudentName)
	return out
}

func (s *Sender) enqueue(ctx context.Context, n Notification) {
	if s.outbox == nil {
		return
	}
	msg, err := queue.NewMessage(queue.TypeSMSOutbound, queue.SMSOutbound{
		NotificationID: n.ID,
		StudentID:      n.StudentID,
		Phone:          n.RecipientPhone,
		Message:        n.Message,
		QueuedAt:       n.SentAt,
	})
	if err == nil {
		err = s.outbox.Publish(ctx, msg)
	}
	if err != nil {
		s.log.WithError(err).WithField("sms_id", n.ID).Warn("outbox publish failed")
	}
}

func (s *Sender) confirm(id string) {
	s.mu.Lock()
	delete(s.timers, id)
	n, ok := s.byID[id]
	if !ok || n.Status != StatusSent {
		s.mu.Unlock()
		return
	}
	snapshot := *n
	s.mu.Unlock()

	err := s.modem.Deliver(snapshot)

	s.mu.Lock()
	now := s.clock.Now()
	if err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
	} else {
		n.Status = StatusDelivered
		n.DeliveredAt = &now
	}
	phone := n.RecipientPhone
	s.mu.Unlock()

	if err != nil {
		s.metrics.SMS(string(StatusFailed))
		s.log.WithError(err).WithField("sms_id", id).Warn("sms delivery failed")
		s.notifier.Publish(notify.KindError, "SMS Failed", "Could not deliver to "+phone+": "+err.Error())
		return
	}
	s.metrics.SMS(string(StatusDelivered))
	s.log.WithField("sms_id", id).Info("sms delivered")
	s.notifier.Publish(notify.KindSuccess, "SMS Delivered", "Notification sent to "+phone)
}

// Get returns a notification by id.
func (s *Sender) Get(id string) (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.byID[id]
	if !ok {
		return Notification{}, false
	}
	return *n, true
}

// List returns notifications newest first, optionally restricted to status.
func (s *Sender) List(status DeliveryStatus) []Notification {
	s.mu.Lock()
	out := make([]Notification, 0, len(s.notifications))
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if status == "" || n.Status == status {
			out = append(out, *n)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	return out
}

// Counts tallies notifications by status.
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

func (s *Sender) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c Counts
	for _, n := range s.notifications {
		c.Total++
		switch n.Status {
		case StatusPending:
			c.Pending++
		case StatusSent:
			c.Sent++
		case StatusDelivered:
			c.Delivered++
		case StatusFailed:
			c.Failed++
		}
	}
	return c
}

// ModuleStatus reports the modem state.
func (s *Sender) ModuleStatus() ModuleStatus {
	return s.modem.Status()
}

// Close cancels outstanding delivery confirmations.
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		if t.Stop() {
			if n, ok := s.byID[id]; ok {
				s.modem.Release(*n)
			}
		}
		delete(s.timers, id)
	}
}
