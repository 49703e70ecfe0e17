package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/IBM/sarama"
)

// Producer publishes outbox records synchronously.
type Producer struct {
	sync   sarama.SyncProducer
	logger *slog.Logger
}

// NewConfig returns idempotent producer settings: acks from every in-sync
// replica, one in-flight request per broker and hash partitioning on the key.
func NewConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Version = sarama.V2_8_0_0
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}

func NewProducer(brokers []string, cfg *sarama.Config, logger *slog.Logger) (*Producer, error) {
	if cfg == nil {
		cfg = NewConfig("")
	}
	sync, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka: connect %v: %w", brokers, err)
	}
	return &Producer{sync: sync, logger: logger}, nil
}

// Publish sends one record. Records sharing a key land on the same
// partition, which keeps a conversation's events ordered.
func (p *Producer) Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(payload),
		Headers: recordHeaders(headers),
	}
	partition, offset, err := p.sync.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("kafka: publish to %s: %w", topic, err)
	}
	if p.logger != nil {
		p.logger.Debug("kafka.published", "topic", topic, "key", key, "partition", partition, "offset", offset)
	}
	return nil
}

func (p *Producer) Close() error {
	if p.sync == nil {
		return nil
	}
	return p.sync.Close()
}

func recordHeaders(headers map[string]string) []sarama.RecordHeader {
	out := make([]sarama.RecordHeader, 0, len(headers))
	for _, k := range slices.Sorted(maps.Keys(headers)) {
		out = append(out, sarama.RecordHeader{Key: []byte(k), Value: []byte(headers[k])})
	}
	return out
}
