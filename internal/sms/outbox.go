package sms

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"attendtrack/internal/queue"
)

// Gateway hands a text message to the carrier.
type Gateway interface {
	SendSMS(ctx context.Context, phone, message string) error
}

// ForwardOutbox consumes queued SMS and passes each to gw until ctx is done
// or the queue closes. Failures are logged and the message is dropped.
// It returns the number of messages the gateway accepted.
func ForwardOutbox(ctx context.Context, q queue.Queue, gw Gateway, timeout time.Duration, log *logrus.Entry) (int, error) {
	messages, err := q.Consume(ctx)
	if err != nil {
		return 0, err
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	forwarded := 0
	for msg := range messages {
		if msg.Type != queue.TypeSMSOutbound {
			log.WithField("type", msg.Type).Debug("skipping outbox message")
			continue
		}
		var out queue.SMSOutbound
		if err := msg.Decode(&out); err != nil {
			log.WithError(err).Warn("malformed outbox message")
			continue
		}

		entry := log.WithFields(logrus.Fields{"sms_id": out.NotificationID, "student_id": out.StudentID})
		sendCtx, cancel := context.WithTimeout(ctx, timeout)
		err := gw.SendSMS(sendCtx, out.Phone, out.Message)
		cancel()
		if err != nil {
			entry.WithError(err).Warn("gateway rejected sms")
			continue
		}
		forwarded++
		entry.Info("sms forwarded to gateway")
	}
	return forwarded, nil
}
