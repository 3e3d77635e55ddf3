package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// StartNotificationConsumer consumes the notification queue until ctx is
// done, reconnecting with backoff when the broker goes away.  Each message
// is appended as one line to notifications.log under logDir; undecodable
// messages are rejected without requeue.
func StartNotificationConsumer(ctx context.Context, url, logDir string) {
	backoff := time.Second
	for ctx.Err() == nil {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Printf("notify-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, logDir)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		log.Printf("notify-consumer: consume loop ended: %v; reconnecting", err)
		if !sleep(ctx, 2*time.Second) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, logDir string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Printf("notify-consumer: set QoS failed: %v", err)
	}
	if _, err := ch.QueueDeclare(NotificationQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, NotificationQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := HandleMessage(logDir, d.Body); err != nil {
			log.Printf("notify-consumer: handle message failed: %v", err)
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

// HandleMessage decodes one notification and appends it to the log.
func HandleMessage(logDir string, body []byte) error {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	line, err := FormatNotification(n)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, "notifications.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatNotification renders n as the single line a mail relay would send.
func FormatNotification(n Notification) (string, error) {
	prefix := fmt.Sprintf("[%s] to=%s user_id=%d", n.CreatedAt, n.Email, n.UserID)
	switch n.Kind {
	case KindWelcome:
		return fmt.Sprintf("%s | Welcome to AL AMEEN PHARMACY, %s!", prefix, n.Username), nil
	case KindOrderPlaced:
		return fmt.Sprintf("%s | Order Confirmation - #%d | total=%s AED | items=[%s]",
			prefix, n.OrderID, n.TotalAmount, strings.Join(n.Items, ", ")), nil
	case KindOrderStatus:
		return fmt.Sprintf("%s | Order #%d - Status Update | %s -> %s", prefix, n.OrderID, n.OldStatus, n.NewStatus), nil
	case KindPasswordReset:
		return fmt.Sprintf("%s | Password Reset Request | %s", prefix, n.ResetURL), nil
	}
	return "", fmt.Errorf("unknown notification kind %q", n.Kind)
}
