package sms

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendtrack/internal/logging"
	"attendtrack/internal/queue"
)

type recordingGateway struct {
	mu   sync.Mutex
	sent []string
	fail string
}

func (g *recordingGateway) SendSMS(ctx context.Context, phone, message string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if phone == g.fail {
		return errors.New("gateway down")
	}
	g.sent = append(g.sent, phone+": "+message)
	return nil
}

func TestForwardOutbox(t *testing.T) {
	q := queue.NewInMemory(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publish := func(typ string, body any) {
		msg, err := queue.NewMessage(typ, body)
		require.NoError(t, err)
		require.NoError(t, q.Publish(ctx, msg))
	}
	publish(queue.TypeSMSOutbound, queue.SMSOutbound{NotificationID: "1", Phone: "+639171234567", Message: "hello"})
	publish("other", map[string]string{})
	publish(queue.TypeSMSOutbound, queue.SMSOutbound{NotificationID: "2", Phone: "+639000000000", Message: "lost"})
	publish(queue.TypeSMSOutbound, queue.SMSOutbound{NotificationID: "3", Phone: "+639189876543", Message: "bye"})

	gw := &recordingGateway{fail: "+639000000000"}
	done := make(chan int)
	go func() {
		n, err := ForwardOutbox(ctx, q, gw, time.Second, logging.Component(logging.Discard(), "outbox"))
		assert.NoError(t, err)
		done <- n
	}()

	assert.Eventually(t, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return len(gw.sent) == 2
	}, time.Second, 10*time.Millisecond)
	cancel()
	assert.Equal(t, 2, <-done)
	assert.Equal(t, []string{"+639171234567: hello", "+639189876543: bye"}, gw.sent)
}
