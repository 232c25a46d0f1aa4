package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/quipu/debitcheck/internal/logging"
	"github.com/quipu/debitcheck/internal/metrics"
)

// Publisher pushes finished decisions to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, rec *Record) error
	Close() error
}

// KafkaPublisher writes decision records to a Kafka topic, keyed by
// credit UID so all decisions for a credit land on one partition.
type KafkaPublisher struct {
	writer *kafkago.Writer
}

// NewKafkaPublisher creates a Kafka-backed publisher.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafkago.RequireOne,
		MaxAttempts:  5,
	}
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, rec *Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal decision record: %w", err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	headers := make([]kafkago.Header, 0, len(carrier))
	for k, v := range carrier {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	msg := kafkago.Message{
		Key:     []byte(rec.CreditUID),
		Value:   payload,
		Headers: headers,
		Time:    time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.ResultsPublishedTotal.WithLabelValues("error").Inc()
		logging.L(ctx).Error("failed to publish decision",
			"error", err, "credit_uid", rec.CreditUID)
		return fmt.Errorf("failed to publish decision: %w", err)
	}

	metrics.ResultsPublishedTotal.WithLabelValues("ok").Inc()
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
