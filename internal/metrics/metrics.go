package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	scans         *prometheus.CounterVec
	attendance    *prometheus.CounterVec
	sms           *prometheus.CounterVec
	registrations *prometheus.CounterVec
	students      prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendtrack",
			Name:      "scans_total",
			Help:      "RFID scans by outcome.",
		}, []string{"outcome"}),
		attendance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendtrack",
			Name:      "attendance_total",
			Help:      "Attendance records created by status.",
		}, []string{"status"}),
		sms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendtrack",
			Name:      "sms_total",
			Help:      "SMS notifications by delivery status.",
		}, []string{"status"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendtrack",
			Name:      "registrations_total",
			Help:      "Student registrations by result.",
		}, []string{"result"}),
		students: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "attendtrack",
			Name:      "directory_students",
			Help:      "Students currently in the directory cache.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.scans, m.attendance, m.sms, m.registrations, m.students)
	}
	return m
}

// Scan counts a scan outcome: registered, unregistered or error.
func (m *Metrics) Scan(outcome string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Attendance(status string) {
	if m == nil {
		return
	}
	m.attendance.WithLabelValues(status).Inc()
}

func (m *Metrics) SMS(status string) {
	if m == nil {
		return
	}
	m.sms.WithLabelValues(status).Inc()
}

func (m *Metrics) Registration(result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(result).Inc()
}

// DirectorySize sets the directory gauge.
func (m *Metrics) DirectorySize(n int) {
	if m == nil {
		return
	}
	m.students.Set(float64(n))
}
