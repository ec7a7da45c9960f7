package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/HyperCyx/otpbot/internal/domain"
)

// AuditProducer publishes audit events to Kafka using a sync producer.
type AuditProducer struct {
	producer sarama.SyncProducer
	topic    string
	logger   zerolog.Logger

	mu      sync.RWMutex
	healthy bool
}

var _ domain.AuditPublisher = (*AuditProducer)(nil)

// ProducerConfig holds configuration for the audit producer
type ProducerConfig struct {
	Brokers []string
	Topic   string
	Logger  zerolog.Logger
}

// NewAuditProducer creates a Kafka-backed audit publisher.
func NewAuditProducer(cfg ProducerConfig) (*AuditProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 3
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Compression = sarama.CompressionSnappy

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	logger := cfg.Logger.With().Str("component", "audit_producer").Logger()
	logger.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("Audit producer created")

	return &AuditProducer{
		producer: producer,
		topic:    cfg.Topic,
		logger:   logger,
		healthy:  true,
	}, nil
}

// Publish sends one audit event, keyed by user id.
func (p *AuditProducer) Publish(ctx context.Context, event domain.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(fmt.Sprintf("%d", event.UserID)),
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.setHealthy(false)
		p.logger.Error().Err(err).Str("kind", event.Kind).Msg("Failed to publish audit event")
		return fmt.Errorf("failed to send audit event: %w", err)
	}

	p.setHealthy(true)
	p.logger.Debug().
		Str("kind", event.Kind).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("Audit event published")
	return nil
}

// IsHealthy reports whether the last publish succeeded.
func (p *AuditProducer) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy
}

func (p *AuditProducer) setHealthy(ok bool) {
	p.mu.Lock()
	p.healthy = ok
	p.mu.Unlock()
}

// Close closes the underlying producer.
func (p *AuditProducer) Close() error {
	return p.producer.Close()
}

// NopPublisher discards audit events. Used when no brokers are
// configured.
type NopPublisher struct{}

var _ domain.AuditPublisher = NopPublisher{}

func (NopPublisher) Publish(ctx context.Context, event domain.AuditEvent) error { return nil }
func (NopPublisher) IsHealthy() bool                                            { return true }
