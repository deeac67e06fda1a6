package scanner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendtrack/internal/attendance"
	"attendtrack/internal/clock"
	"attendtrack/internal/config"
	"attendtrack/internal/directory"
	"attendtrack/internal/logging"
	"attendtrack/internal/notify"
	"attendtrack/internal/sms"
)

type fixture struct {
	scanner  *Scanner
	clock    *clock.Fake
	ledger   *attendance.Ledger
	sender   *sms.Sender
	modem    *sms.SimulatedModem
	bus      *notify.Bus
	settings *config.LiveSettings
}

func newFixture(t *testing.T, at time.Time) *fixture {
	t.Helper()
	log := logging.Discard()
	clk := clock.NewFake(at)
	dir := directory.New(directory.NewMemoryRemote(), clk, logging.Component(log, "directory"))
	dir.Seed(directory.SampleStudents()...)

	f := &fixture{clock: clk, modem: sms.NewSimulatedModem()}
	f.bus = notify.NewBus(clk, 5*time.Second, logging.Component(log, "notify"))
	f.ledger = attendance.NewLedger(dir, clk, time.UTC, logging.Component(log, "attendance"))
	f.sender = sms.NewSender(dir, f.ledger, f.modem, f.bus, clk, 2*time.Second, logging.Component(log, "sms"))
	f.settings = config.NewLiveSettings(config.Settings{
		SchoolName:      "Test School",
		LateThreshold:   "08:30",
		SMSEnabled:      true,
		SMSTemplate:     config.DefaultSMSTemplate,
		ScannerLocation: "Main Entrance",
	})
	f.scanner = New(Deps{
		Directory: dir,
		Recorder:  f.ledger,
		SMS:       f.sender,
		Module:    f.modem,
		Toasts:    f.bus,
		Settings:  f.settings,
		Clock:     clk,
		Log:       logging.Component(log, "scanner"),
	}, Options{Latency: 500 * time.Millisecond, ResetAfter: 5 * time.Second, Firmware: "1.0.3", Location: time.UTC})
	return f
}

func titles(toasts []notify.Toast) []string {
	var out []string
	for _, t := range toasts {
		out = append(out, t.Title)
	}
	return out
}

func TestSimulateRegisteredCardMorningThenAfternoon(t *testing.T) {
	f := newFixture(t, time.Date(2024, 9, 2, 8, 14, 59, 500_000_000, time.UTC))

	require.NoError(t, f.scanner.Simulate("RFID-001-ABC"))
	assert.True(t, f.scanner.State().Scanning)
	assert.Zero(t, f.ledger.Len())

	f.clock.Advance(500 * time.Millisecond)
	st := f.scanner.State()
	assert.False(t, st.Scanning)
	assert.Equal(t, ResultSuccess, st.Result)
	assert.Equal(t, SMSSent, st.SMS)
	require.NotNil(t, st.Student)
	assert.Equal(t, "2024-0001", st.Student.StudentID)

	recs := f.ledger.Filter(attendance.Criteria{})
	require.Len(t, recs, 1)
	assert.Equal(t, attendance.StatusPresent, recs[0].Status)
	assert.Equal(t, time.Date(2024, 9, 2, 8, 15, 0, 0, time.UTC), recs[0].CheckIn)
	assert.True(t, recs[0].SMSSent)

	msgs := f.sender.List("")
	require.Len(t, msgs, 1)
	assert.Equal(t, "[AttendTrack] Maria Santos checked in at 8:15:00 AM on 9/2/2024. Status: Present", msgs[0].Message)
	assert.Contains(t, titles(f.bus.Active()), "Attendance Recorded")

	f.clock.Advance(5 * time.Second)
	assert.Equal(t, ResultIdle, f.scanner.State().Result)
	assert.Equal(t, sms.StatusDelivered, f.sender.List("")[0].Status)

	f.clock.Set(time.Date(2024, 9, 2, 15, 59, 59, 500_000_000, time.UTC))
	require.NoError(t, f.scanner.Simulate("RFID-001-ABC"))
	f.clock.Advance(500 * time.Millisecond)

	recs = f.ledger.Filter(attendance.Criteria{})
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].CheckOut)
	assert.Equal(t, time.Date(2024, 9, 2, 16, 0, 0, 0, time.UTC), *recs[0].CheckOut)
	assert.Equal(t, attendance.StatusPresent, recs[0].Status)
}

func TestSimulateLateCard(t *testing.T) {
	f := newFixture(t, time.Date(2024, 9, 2, 8, 31, 0, 0, time.UTC))

	out, err := f.scanner.ScanNow(context.Background(), "RFID-002-DEF")
	require.NoError(t, err)
	require.NotNil(t, out.Record)
	assert.Equal(t, attendance.StatusLate, out.Record.Status)
	require.NotNil(t, out.Notification)
	assert.Contains(t, out.Notification.Message, "Status: LATE")
}

func TestThresholdFromSettings(t *testing.T) {
	f := newFixture(t, time.Date(2024, 9, 2, 8, 45, 0, 0, time.UTC))
	cur := f.settings.Get()
	cur.LateThreshold = "09:00"
	require.NoError(t, f.settings.Update(cur))

	out, err := f.scanner.ScanNow(context.Background(), "RFID-003-GHI")
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusPresent, out.Record.Status)
}

func TestSimulateUnregisteredCard(t *testing.T) {
	f := newFixture(t, time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC))
	var seen []Event
	f.scanner.OnUnregistered(func(e Event) { seen = append(seen, e) })

	require.NoError(t, f.scanner.Simulate("RFID-999-ZZZ"))
	f.clock.Advance(500 * time.Millisecond)

	pending, ok := f.scanner.Pending()
	require.True(t, ok)
	assert.Equal(t, "RFID-999-ZZZ", pending.CardID)
	assert.False(t, pending.Registered)
	require.Len(t, seen, 1)
	assert.Equal(t, "RFID-999-ZZZ", seen[0].CardID)

	assert.Zero(t, f.ledger.Len())
	assert.Empty(t, f.sender.List(""))

	toasts := f.bus.Active()
	require.Len(t, toasts, 1)
	assert.Equal(t, notify.KindWarning, toasts[0].Kind)
	assert.Equal(t, "Unregistered RFID Card", toasts[0].Title)
	assert.Equal(t, ResultWarning, f.scanner.State().Result)

	f.clock.Advance(5 * time.Second)
	assert.Equal(t, ResultIdle, f.scanner.State().Result)
	_, ok = f.scanner.Pending()
	assert.True(t, ok, "pending scan survives the result reset")

	assert.False(t, f.scanner.ClearPendingFor("RFID-001-ABC"))
	assert.True(t, f.scanner.ClearPendingFor("RFID-999-ZZZ"))
	_, ok = f.scanner.Pending()
	assert.False(t, ok)
}

func TestSMSDisabled(t *testing.T) {
	f := newFixture(t, time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC))
	cur := f.settings.Get()
	cur.SMSEnabled = false
	require.NoError(t, f.settings.Update(cur))

	out, err := f.scanner.ScanNow(context.Background(), "RFID-001-ABC")
	require.NoError(t, err)
	assert.Nil(t, out.Notification)
	assert.Empty(t, f.sender.List(""))
	assert.Equal(t, SMSIdle, f.scanner.State().SMS)
}

func TestCooldown(t *testing.T) {
	f := newFixture(t, time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC))
	cur := f.settings.Get()
	cur.ScanCooldown = 30 * time.Second
	require.NoError(t, f.settings.Update(cur))
	ctx := context.Background()

	_, err := f.scanner.ScanNow(ctx, "RFID-001-ABC")
	require.NoError(t, err)
	f.clock.Advance(10 * time.Second)
	out, err := f.scanner.ScanNow(ctx, "RFID-001-ABC")
	require.NoError(t, err)
	assert.True(t, out.Ignored)

	recs := f.ledger.Filter(attendance.Criteria{})
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].CheckOut)

	f.clock.Advance(30 * time.Second)
	out, err = f.scanner.ScanNow(ctx, "RFID-001-ABC")
	require.NoError(t, err)
	assert.False(t, out.Ignored)
}

func TestHandleEvents(t *testing.T) {
	f := newFixture(t, time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC))
	ctx := context.Background()

	out, err := f.scanner.HandleEvent(ctx, HardwareEvent{Type: EventRFIDScan, Payload: json.RawMessage(`{"rfidCardId":"RFID-002-DEF"}`)})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.Event.Registered)

	_, err = f.scanner.HandleEvent(ctx, HardwareEvent{Type: EventScannerStatus,
		Payload: json.RawMessage(`{"is_connected": false, "location": "Gate 2", "firmware_version": "1.1.0"}`)})
	require.NoError(t, err)
	st := f.scanner.State()
	assert.False(t, st.Scanner.Connected)
	assert.Equal(t, "Gate 2", st.Scanner.Location)
	assert.Equal(t, "1.1.0", st.Scanner.Firmware)

	f.clock.Advance(5 * time.Second)
	f.scanner.Heartbeat()
	st = f.scanner.State()
	assert.True(t, st.Scanner.Connected)
	assert.Equal(t, f.clock.Now(), st.Scanner.LastHeartbeat)

	_, err = f.scanner.HandleEvent(ctx, HardwareEvent{Type: EventSMSStatus, Payload: json.RawMessage(`{"signal_strength": 12, "network_operator": "GLOBE"}`)})
	require.NoError(t, err)
	assert.Equal(t, 12, f.modem.Status().SignalStrength)
	assert.Equal(t, "GLOBE", f.modem.Status().NetworkOperator)

	_, err = f.scanner.HandleEvent(ctx, HardwareEvent{Type: EventError, Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	active := f.bus.Active()
	last := active[len(active)-1]
	assert.Equal(t, "Hardware Error", last.Title)
	assert.Equal(t, "An error occurred with the hardware.", last.Message)

	_, err = f.scanner.HandleEvent(ctx, HardwareEvent{Type: "bogus"})
	assert.Error(t, err)
}

func TestCloseCancelsSimulatedScan(t *testing.T) {
	f := newFixture(t, time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC))
	require.NoError(t, f.scanner.Simulate("RFID-001-ABC"))
	f.scanner.Close()
	f.clock.Advance(time.Second)

	assert.Zero(t, f.ledger.Len())
	assert.False(t, f.scanner.State().Scanning)
	assert.Error(t, f.scanner.Simulate("  "))
}
