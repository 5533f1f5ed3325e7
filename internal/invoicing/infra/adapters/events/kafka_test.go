package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
)

type mockWriter struct {
	WriteFunc func(ctx context.Context, msgs ...kafka.Message) error
	msgs      []kafka.Message
	closed    bool
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.msgs = append(m.msgs, msgs...)
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, msgs...)
	}
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func TestPublish(t *testing.T) {
	w := &mockWriter{}
	p := &KafkaPublisher{writer: w}
	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), &entity.AuditEntry{
		CorrelationID: "corr-1",
		UserID:        "user-1",
		OrderNumber:   "7600",
		AmountCents:   3250,
		Result:        entity.ResultSuccess,
		CreatedAt:     at,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "corr-1" {
		t.Errorf("key = %q", msg.Key)
	}

	var ev auditEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Result != "SUCCESS" || ev.OrderNumber != "7600" || ev.AmountCents != 3250 {
		t.Errorf("event = %+v", ev)
	}
	if ev.StepsCompleted == nil {
		t.Error("steps_completed should encode as an empty list")
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("Close: %v closed=%v", err, w.closed)
	}
}

func TestPublish_WriteError(t *testing.T) {
	w := &mockWriter{WriteFunc: func(context.Context, ...kafka.Message) error {
		return errors.New("broker unavailable")
	}}
	p := &KafkaPublisher{writer: w}

	err := p.Publish(context.Background(), &entity.AuditEntry{CorrelationID: "corr-2", Result: entity.ResultFailure})
	if err == nil {
		t.Fatal("expected error")
	}
}
