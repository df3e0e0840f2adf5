package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/fortressi/paysaga"
)

// NotificationEvent is the message published for each notification.
type NotificationEvent struct {
	SagaID        string               `json:"saga_id"`
	TransactionID string               `json:"transaction_id"`
	Notification  paysaga.Notification `json:"notification"`
	Body          map[string]any       `json:"body"`
	SentAt        time.Time            `json:"sent_at"`
}

// Publisher delivers notification events.
type Publisher interface {
	Publish(ctx context.Context, key string, event NotificationEvent) error
}

// messageWriter is the part of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes notification events to a Kafka topic, keyed by saga
// so all messages of a payment land on one partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a synchronous publisher for topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return &KafkaPublisher{writer: w, topic: topic}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, event NotificationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize notification: %w", err)
	}
	msg := kafka.Message{Topic: p.topic, Key: []byte(key), Value: data}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return paysaga.Transient(fmt.Errorf("failed to publish notification: %w", err))
	}
	return nil
}

// Close closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher only logs notifications.
type LogPublisher struct {
	Logger *slog.Logger
}

// Publish implements Publisher.
func (p LogPublisher) Publish(ctx context.Context, key string, event NotificationEvent) error {
	p.Logger.InfoContext(ctx, "Notification sent",
		"key", key,
		"channel", event.Notification.Channel,
		"recipient", event.Notification.Recipient,
		"subject", event.Notification.Subject)
	return nil
}

// Notifier sends the customer confirmation and the merchant webhook.
type Notifier struct {
	publisher Publisher
	clock     func() time.Time
}

// NewNotifier creates a notifier publishing through p.
func NewNotifier(p Publisher) *Notifier {
	return &Notifier{publisher: p, clock: time.Now}
}

// Notify publishes both notifications. A failure of either fails the
// activity; redelivery is safe because consumers dedupe on saga and channel.
func (n *Notifier) Notify(ctx context.Context, in paysaga.NotifyInput) (paysaga.NotifyResult, error) {
	req := in.Request
	amount := in.SettlementAmount.StringFixed(2) + " " + req.SettlementCurrency
	now := n.clock()

	events := []NotificationEvent{
		{
			Notification: paysaga.Notification{
				Channel:   "email",
				Recipient: req.Customer.Email,
				Subject:   "Payment confirmation " + in.TransactionID,
			},
			Body: map[string]any{
				"business_name":  req.Customer.BusinessName,
				"merchant":       req.Merchant.Name,
				"charged":        req.Amount.StringFixed(2) + " " + req.ChargeCurrency,
				"settled":        amount,
				"transaction_id": in.TransactionID,
			},
		},
		{
			Notification: paysaga.Notification{
				Channel:   "webhook",
				Recipient: req.Merchant.Name,
				Subject:   "payment.completed",
			},
			Body: map[string]any{
				"event":          "payment.completed",
				"transaction_id": in.TransactionID,
				"amount":         in.SettlementAmount.StringFixed(2),
				"currency":       req.SettlementCurrency,
				"status":         string(in.Status),
			},
		},
	}

	result := paysaga.NotifyResult{}
	for _, event := range events {
		event.SagaID = in.SagaID
		event.TransactionID = in.TransactionID
		event.SentAt = now
		event.Notification.Status = "sent"
		if err := n.publisher.Publish(ctx, in.SagaID, event); err != nil {
			return paysaga.NotifyResult{}, fmt.Errorf("%s notification to %s: %w",
				event.Notification.Channel, event.Notification.Recipient, err)
		}
		result.Notifications = append(result.Notifications, event.Notification)
	}
	return result, nil
}
