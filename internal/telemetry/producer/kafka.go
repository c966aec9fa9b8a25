package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"ledgerguard/backend/internal/logger"
	"ledgerguard/backend/internal/telemetry/domain"
)

// KafkaProducer implements Producer using segmentio/kafka-go.
type KafkaProducer struct {
	writer messageWriter
	topic  string
	log    *zap.Logger
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaProducer creates a Kafka producer that writes alerts to the given topic.
// Returns nil without error when brokers or topic are unset so callers can treat Kafka as optional.
func NewKafkaProducer(brokers []string, topic string, log *zap.Logger) *KafkaProducer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaProducer{writer: writer, topic: topic, log: logger.OrNop(log)}
}

// Emit serializes the alert as JSON and writes it keyed by user id, so one user's alerts stay ordered.
func (p *KafkaProducer) Emit(ctx context.Context, alert *domain.SecurityAlert) error {
	if p == nil || p.writer == nil || alert == nil {
		return nil
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:     []byte(alert.UserID),
		Value:   payload,
		Headers: alertHeaders(alert),
	})
	if err != nil {
		p.log.Warn("telemetry: kafka emit failed", zap.Error(err), zap.String("topic", p.topic))
		return err
	}
	return nil
}

// alertHeaders lets consumers route on type, severity and tier without decoding the payload.
func alertHeaders(a *domain.SecurityAlert) []kafka.Header {
	h := []kafka.Header{
		{Key: "alert_type", Value: []byte(a.Type)},
		{Key: "severity", Value: []byte(a.Severity)},
	}
	if a.Tier != "" {
		h = append(h, kafka.Header{Key: "risk_tier", Value: []byte(a.Tier)})
	}
	return h
}

// Close closes the Kafka writer. Safe to call on a nil producer.
func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
