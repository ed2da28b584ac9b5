package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/nee-hit476/Jenji/metrics"
)

const (
	kafkaMaxRetries     = 3
	kafkaInitialBackoff = 100 * time.Millisecond
	kafkaMaxBackoff     = 5 * time.Second
)

// KafkaSink publishes detection events to a Kafka topic.
type KafkaSink struct {
	topic    string
	producer sarama.SyncProducer
	log      *logrus.Logger
	mu       sync.RWMutex
	closed   bool
}

// NewKafkaSink creates a Kafka-backed detection sink.
func NewKafkaSink(brokers []string, topic string, log *logrus.Logger) (*KafkaSink, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = kafkaMaxRetries
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 500 * time.Millisecond

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &KafkaSink{
		topic:    topic,
		producer: producer,
		log:      log,
	}, nil
}

// Publish sends a detection event, keyed by client ID so that all events
// for one client land on the same partition, with retry capability.
func (s *KafkaSink) Publish(ctx context.Context, msg Message) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("sink is closed")
	}
	s.mu.RUnlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic:     s.topic,
		Key:       sarama.StringEncoder(msg.ClientID),
		Value:     sarama.ByteEncoder(data),
		Timestamp: msg.Timestamp,
	}

	operation := func() error {
		_, _, err := s.producer.SendMessage(kafkaMsg)
		return err
	}

	strategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(kafkaInitialBackoff),
				backoff.WithMaxInterval(kafkaMaxBackoff),
			),
			kafkaMaxRetries,
		),
		ctx,
	)

	return backoff.RetryNotify(operation, strategy, func(err error, d time.Duration) {
		metrics.SinkPublishRetries.WithLabelValues(s.Type()).Inc()
		s.log.Warnf("Retrying Kafka publish for %s: %v (next attempt in %s)", msg.ClientID, err, d)
	})
}

func (s *KafkaSink) Type() string {
	return "kafka"
}

// Close shuts down the producer. Publish fails afterwards.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.producer.Close(); err != nil {
		return fmt.Errorf("failed to close producer: %w", err)
	}
	return nil
}
