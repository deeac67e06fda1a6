package sms

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrModemDisconnected = errors.New("sms module disconnected")
	ErrSIMNotReady       = errors.New("sim card not ready")
	ErrNoSignal          = errors.New("no network signal")
)

// SIM card states reported by the module.
const (
	SIMReady       = "ready"
	SIMNotInserted = "not_inserted"
	SIMError       = "error"
)

// ModuleStatus is the GSM module state shown on the dashboard.
type ModuleStatus struct {
	Connected bool `json:"is_connected"`
	// SignalStrength is 0-31, or 99 when unknown.
	SignalStrength  int    `json:"signal_strength"`
	NetworkOperator string `json:"network_operator,omitempty"`
	SIMStatus       string `json:"sim_card_status"`
	PendingMessages int    `json:"pending_messages"`
}

// ModulePatch is a partial update; nil fields are left unchanged.
type ModulePatch struct {
	Connected       *bool   `json:"is_connected"`
	SignalStrength  *int    `json:"signal_strength"`
	NetworkOperator *string `json:"network_operator"`
	SIMStatus       *string `json:"sim_card_status"`
}

// Modem confirms delivery of queued notifications.
type Modem interface {
	Accept(n Notification)
	Deliver(n Notification) error
	// Release drops an accepted notification that will never be delivered.
	Release(n Notification)
	Status() ModuleStatus
}

// SimulatedModem stands in for the GSM module. Delivery fails when the
// module is disconnected, the SIM is not ready or there is no signal.
type SimulatedModem struct {
	mu     sync.Mutex
	status ModuleStatus
}

// NewSimulatedModem returns a connected module with good signal.
func NewSimulatedModem() *SimulatedModem {
	return &SimulatedModem{status: ModuleStatus{
		Connected:       true,
		SignalStrength:  25,
		NetworkOperator: "SMART",
		SIMStatus:       SIMReady,
	}}
}

func (m *SimulatedModem) Accept(Notification) {
	m.mu.Lock()
	m.status.PendingMessages++
	m.mu.Unlock()
}

func (m *SimulatedModem) Deliver(Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.PendingMessages > 0 {
		m.status.PendingMessages--
	}
	switch {
	case !m.status.Connected:
		return ErrModemDisconnected
	case m.status.SIMStatus != SIMReady:
		return ErrSIMNotReady
	case m.status.SignalStrength == 0 || m.status.SignalStrength == 99:
		return ErrNoSignal
	}
	return nil
}

func (m *SimulatedModem) Release(Notification) {
	m.mu.Lock()
	if m.status.PendingMessages > 0 {
		m.status.PendingMessages--
	}
	m.mu.Unlock()
}

func (m *SimulatedModem) Status() ModuleStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Update applies a status patch, as reported by sms_status hardware events.
func (m *SimulatedModem) Update(p ModulePatch) ModuleStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Connected != nil {
		m.status.Connected = *p.Connected
	}
	if p.SignalStrength != nil {
		m.status.SignalStrength = *p.SignalStrength
	}
	if p.NetworkOperator != nil {
		m.status.NetworkOperator = *p.NetworkOperator
	}
	if p.SIMStatus != nil {
		m.status.SIMStatus = *p.SIMStatus
	}
	return m.status
}
