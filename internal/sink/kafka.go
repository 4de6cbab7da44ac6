package sink

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"logstream-server/config"
	"logstream-server/pkg/model"
)

type kafkaSink struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaSink forwards stored entries to a Kafka topic, keyed by daemon name
// so one daemon's records stay on one partition.
func NewKafkaSink(cfg *config.KafkaBackendConfig) (Sink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		log.Error().Msg("Kafka brokers or topic is not configured.")
		return nil, errors.New("kafka configuration missing")
	}
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.MaxBatchWait,
		Async:        true,
	})
	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("Kafka sink initialized")
	return &kafkaSink{writer: writer, topic: cfg.Topic}, nil
}

func (s *kafkaSink) Name() string { return "kafka" }

func (s *kafkaSink) StoreEntry(ctx context.Context, entry *model.LogEntry) error {
	value, err := entry.ToJSON()
	if err != nil {
		log.Error().Err(err).Str("daemon", entry.Daemon).Msg("Failed to marshal log entry for Kafka")
		return err
	}
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.Daemon),
		Value: []byte(value),
	})
	if err != nil {
		log.Error().Err(err).Str("topic", s.topic).Msg("Failed to write message to Kafka")
		return err
	}
	return nil
}

func (s *kafkaSink) Close() error {
	return s.writer.Close()
}
