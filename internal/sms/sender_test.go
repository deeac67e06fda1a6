package sms

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendtrack/internal/clock"
	"attendtrack/internal/directory"
	"attendtrack/internal/logging"
	"attendtrack/internal/notify"
	"attendtrack/internal/queue"
)

type markerFunc func(ctx context.Context, studentID string, at time.Time) bool

func (f markerFunc) MarkSMSSent(ctx context.Context, studentID string, at time.Time) bool {
	return f(ctx, studentID, at)
}

type fixture struct {
	sender *Sender
	clock  *clock.Fake
	bus    *notify.Bus
	modem  *SimulatedModem
	dir    *directory.Cache
	marked []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 9, 2, 8, 15, 0, 0, time.UTC))
	log := logging.Discard()
	dir := directory.New(directory.NewMemoryRemote(), clk, logging.Component(log, "directory"))
	dir.Seed(directory.SampleStudents()...)

	f := &fixture{clock: clk, modem: NewSimulatedModem(), dir: dir}
	f.bus = notify.NewBus(clk, 5*time.Second, logging.Component(log, "notify"))
	marker := markerFunc(func(ctx context.Context, studentID string, at time.Time) bool {
		f.marked = append(f.marked, studentID)
		return true
	})
	f.sender = NewSender(dir, marker, f.modem, f.bus, clk, 2*time.Second, logging.Component(log, "sms"))
	return f
}

func TestSendThenDelivered(t *testing.T) {
	f := newFixture(t)

	n, err := f.sender.Send(context.Background(), "2024-0001", "hello")
	require.NoError(t, err)
	assert.Equal(t, StatusSent, n.Status)
	assert.Equal(t, "+639171234567", n.RecipientPhone)
	assert.Equal(t, []string{"2024-0001"}, f.marked)
	assert.Equal(t, 1, f.sender.ModuleStatus().PendingMessages)

	f.clock.Advance(1999 * time.Millisecond)
	got, _ := f.sender.Get(n.ID)
	assert.Equal(t, StatusSent, got.Status)

	f.clock.Advance(time.Millisecond)
	got, _ = f.sender.Get(n.ID)
	assert.Equal(t, StatusDelivered, got.Status)
	require.NotNil(t, got.DeliveredAt)
	assert.Equal(t, f.clock.Now(), *got.DeliveredAt)
	assert.Zero(t, f.sender.ModuleStatus().PendingMessages)

	toasts := f.bus.Active()
	require.Len(t, toasts, 1)
	assert.Equal(t, notify.KindSuccess, toasts[0].Kind)
	assert.Equal(t, "SMS Delivered", toasts[0].Title)
	assert.Equal(t, "Notification sent to +639171234567", toasts[0].Message)
}

func TestDeliveryFailures(t *testing.T) {
	no := false
	zero, unknown := 0, 99
	notInserted := SIMNotInserted
	tests := []struct {
		name  string
		patch ModulePatch
		want  error
	}{
		{name: "disconnected", patch: ModulePatch{Connected: &no}, want: ErrModemDisconnected},
		{name: "sim missing", patch: ModulePatch{SIMStatus: &notInserted}, want: ErrSIMNotReady},
		{name: "no signal", patch: ModulePatch{SignalStrength: &zero}, want: ErrNoSignal},
		{name: "unknown signal", patch: ModulePatch{SignalStrength: &unknown}, want: ErrNoSignal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.modem.Update(tc.patch)

			n, err := f.sender.Send(context.Background(), "2024-0002", "hello")
			require.NoError(t, err)
			f.clock.Advance(2 * time.Second)

			got, _ := f.sender.Get(n.ID)
			assert.Equal(t, StatusFailed, got.Status)
			assert.Equal(t, tc.want.Error(), got.Error)
			assert.Nil(t, got.DeliveredAt)

			toasts := f.bus.Active()
			require.Len(t, toasts, 1)
			assert.Equal(t, notify.KindError, toasts[0].Kind)
		})
	}

	t.Run("missing guardian phone", func(t *testing.T) {
		f := newFixture(t)
		q := queue.NewInMemory(1)
		f.sender.SetOutbox(q)
		f.dir.Seed(directory.Student{ID: "9", StudentID: "2024-0009", FullName: "Lito Ramos", CardID: "RFID-009"})

		n, err := f.sender.Send(context.Background(), "2024-0009", "hello")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, n.Status)
		assert.Equal(t, ErrNoRecipient.Error(), n.Error)
		assert.Empty(t, f.marked)
		assert.Zero(t, f.clock.Pending())
		assert.Zero(t, f.sender.ModuleStatus().PendingMessages)

		f.clock.Advance(3 * time.Second)
		got, ok := f.sender.Get(n.ID)
		require.True(t, ok)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Nil(t, got.DeliveredAt)
		assert.Equal(t, Counts{Total: 1, Failed: 1}, f.sender.Counts())

		toasts := f.bus.Active()
		require.Len(t, toasts, 1)
		assert.Equal(t, notify.KindError, toasts[0].Kind)
		assert.Equal(t, "SMS Failed", toasts[0].Title)
		assert.Equal(t, "No guardian phone on file for Lito Ramos", toasts[0].Message)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		ch, err := q.Consume(ctx)
		require.NoError(t, err)
		select {
		case msg, ok := <-ch:
			assert.False(t, ok, "unexpected outbox message %v", msg.Type)
		case <-ctx.Done():
		}
	})
}

func TestSendUnknownStudent(t *testing.T) {
	f := newFixture(t)
	_, err := f.sender.Send(context.Background(), "2099-0000", "hello")
	assert.True(t, errors.Is(err, ErrStudentNotFound))
	assert.Empty(t, f.sender.List(""))
	assert.Empty(t, f.marked)
	assert.Zero(t, f.clock.Pending())
}

func TestListAndCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.sender.Send(ctx, "2024-0001", "a")
	require.NoError(t, err)
	f.clock.Advance(3 * time.Second)
	second, err := f.sender.Send(ctx, "2024-0002", "b")
	require.NoError(t, err)

	all := f.sender.List("")
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)

	delivered := f.sender.List(StatusDelivered)
	require.Len(t, delivered, 1)
	assert.Equal(t, first.ID, delivered[0].ID)

	assert.Equal(t, Counts{Total: 2, Sent: 1, Delivered: 1}, f.sender.Counts())

	assert.Equal(t, 1, f.sender.ModuleStatus().PendingMessages)
	f.sender.Close()
	assert.Zero(t, f.sender.ModuleStatus().PendingMessages)
	f.clock.Advance(5 * time.Second)
	got, _ := f.sender.Get(second.ID)
	assert.Equal(t, StatusSent, got.Status)
	assert.Zero(t, f.sender.ModuleStatus().PendingMessages)
}

func TestOutboxReceivesMessage(t *testing.T) {
	f := newFixture(t)
	q := queue.NewInMemory(1)
	f.sender.SetOutbox(q)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := f.sender.Send(ctx, "2024-0003", "Elena checked in")
	require.NoError(t, err)

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case msg := <-ch:
		assert.Equal(t, queue.TypeSMSOutbound, msg.Type)
		var body queue.SMSOutbound
		require.NoError(t, msg.Decode(&body))
		assert.Equal(t, "+639195551234", body.Phone)
		assert.Equal(t, "Elena checked in", body.Message)
	case <-time.After(time.Second):
		t.Fatal("outbox message missing")
	}
}

func TestRender(t *testing.T) {
	at := time.Date(2024, 9, 2, 8, 15, 7, 0, time.UTC)
	tmpl := "[AttendTrack] {studentName} checked in at {time} on {date}. Status: {status}"

	assert.Equal(t, "[AttendTrack] Maria Santos checked in at 8:15:07 AM on 9/2/2024. Status: Present",
		Render(tmpl, MessageVars{StudentName: "Maria Santos", At: at, Status: "present"}))
	assert.Equal(t, "[AttendTrack] Carlos Reyes checked in at 8:15:07 AM on 9/2/2024. Status: LATE",
		Render(tmpl, MessageVars{StudentName: "Carlos Reyes", At: at, Status: "late"}))
}
