// Package events streams audit entries to Kafka for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
)

var _ ports.AuditPublisher = (*KafkaPublisher)(nil)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher returns an asynchronous publisher; delivery failures are
// logged from the writer's completion callback.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		RequiredAcks: kafka.RequireOne,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				slog.Error("audit events not delivered", "topic", topic, "count", len(msgs), "error", err)
			}
		},
	}
	return &KafkaPublisher{writer: w}
}

// auditEvent is the wire form of an audit entry.
type auditEvent struct {
	CorrelationID    string         `json:"correlation_id"`
	UserID           string         `json:"user_id,omitempty"`
	UserEmail        string         `json:"user_email,omitempty"`
	OrderNumber      string         `json:"order_number,omitempty"`
	CustomerName     string         `json:"customer_name,omitempty"`
	CustomerEmail    string         `json:"customer_email,omitempty"`
	AmountCents      int64          `json:"amount_cents,omitempty"`
	Result           string         `json:"result"`
	ErrorCode        string         `json:"error_code,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	StepsCompleted   []entity.Step  `json:"steps_completed"`
	RequestTimestamp string         `json:"request_timestamp,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	TraceID          string         `json:"trace_id,omitempty"`
	SpanID           string         `json:"span_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

func toEvent(e *entity.AuditEntry) auditEvent {
	steps := e.StepsCompleted
	if steps == nil {
		steps = []entity.Step{}
	}
	return auditEvent{
		CorrelationID:    e.CorrelationID,
		UserID:           e.UserID,
		UserEmail:        e.UserEmail,
		OrderNumber:      e.OrderNumber,
		CustomerName:     e.CustomerName,
		CustomerEmail:    e.CustomerEmail,
		AmountCents:      e.AmountCents,
		Result:           string(e.Result),
		ErrorCode:        string(e.ErrorCode),
		ErrorMessage:     e.ErrorMessage,
		StepsCompleted:   steps,
		RequestTimestamp: e.RequestTimestamp,
		Metadata:         e.Metadata,
		TraceID:          e.TraceID,
		SpanID:           e.SpanID,
		CreatedAt:        e.CreatedAt.UTC(),
	}
}

// Publish writes entry keyed by correlation id.
func (p *KafkaPublisher) Publish(ctx context.Context, entry *entity.AuditEntry) error {
	data, err := json.Marshal(toEvent(entry))
	if err != nil {
		return fmt.Errorf("events: encode audit entry %q: %w", entry.CorrelationID, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.CorrelationID),
		Value: data,
		Time:  entry.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("events: publish audit entry %q: %w", entry.CorrelationID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
