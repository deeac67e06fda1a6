package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRoundTrip(t *testing.T) {
	q := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg, err := NewMessage(TypeSMSOutbound, SMSOutbound{StudentID: "2024-0001", Phone: "+639171234567", Message: "hi"})
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, msg))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, TypeSMSOutbound, got.Type)
		var body SMSOutbound
		require.NoError(t, got.Decode(&body))
		assert.Equal(t, "+639171234567", body.Phone)
	case <-time.After(time.Second):
		t.Fatal("no message consumed")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestPublishHonoursContext(t *testing.T) {
	q := NewInMemory(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, q.Publish(ctx, Message{Type: "x"}))
}
