package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog"
)

// KafkaConfig for publishing stored reports
type KafkaConfig struct {
	Brokers string
	Topic   string
	// FlushTimeout bounds how long Close waits for queued messages
	FlushTimeout time.Duration
}

// PublishStats counts published messages by delivery outcome
type PublishStats struct {
	Sent   int64
	Acked  int64
	Failed int64
}

// KafkaPublisher publishes stored reports as JSON keyed by report ID
type KafkaPublisher struct {
	producer     *kafka.Producer
	topic        string
	flushTimeout time.Duration
	deliveries   chan kafka.Event
	log          zerolog.Logger

	sent   atomic.Int64
	acked  atomic.Int64
	failed atomic.Int64

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

// NewKafkaPublisher creates the producer and starts handling delivery
// reports
func NewKafkaPublisher(cfg KafkaConfig, log zerolog.Logger) (*KafkaPublisher, error) {

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"acks":               "all",
		"enable.idempotence": true,
		"linger.ms":          50,
		"request.timeout.ms": 30000,
	})

	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}

	kp := &KafkaPublisher{
		producer:     p,
		topic:        cfg.Topic,
		flushTimeout: cfg.FlushTimeout,
		deliveries:   make(chan kafka.Event, 256),
		log:          log,
		done:         make(chan struct{}),
	}

	kp.wg.Add(1)
	go kp.handleDeliveries()

	log.Info().Str("topic", cfg.Topic).Str("brokers", cfg.Brokers).
		Msg("kafka publisher started")

	return kp, nil
}

// handleDeliveries records the outcome of each produced message
func (kp *KafkaPublisher) handleDeliveries() {

	defer kp.wg.Done()

	for {
		select {
		case <-kp.done:
			return

		case e := <-kp.deliveries:
			m, ok := e.(*kafka.Message)
			if !ok {
				continue
			}

			if m.TopicPartition.Error != nil {
				kp.failed.Add(1)
				kp.log.Error().Err(m.TopicPartition.Error).Str("key", string(m.Key)).
					Msg("report delivery failed")
				continue
			}

			kp.acked.Add(1)
			kp.log.Debug().Str("key", string(m.Key)).
				Int32("partition", m.TopicPartition.Partition).
				Str("offset", m.TopicPartition.Offset.String()).
				Msg("report delivered")
		}
	}
}

// Publish queues the report for delivery
func (kp *KafkaPublisher) Publish(ctx context.Context, r Report) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(r)

	if err != nil {
		return fmt.Errorf("failed to serialise report: %w", err)
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &kp.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(r.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(r.Type)},
			{Key: "severity", Value: []byte(r.Severity)},
		},
	}

	if err := kp.producer.Produce(msg, kp.deliveries); err != nil {
		kp.failed.Add(1)
		return fmt.Errorf("failed to produce report %s: %w", r.ID, err)
	}

	kp.sent.Add(1)

	return nil
}

// Stats returns the message counters
func (kp *KafkaPublisher) Stats() PublishStats {
	return PublishStats{
		Sent:   kp.sent.Load(),
		Acked:  kp.acked.Load(),
		Failed: kp.failed.Load(),
	}
}

// Close flushes queued messages and shuts down the producer
func (kp *KafkaPublisher) Close() {

	kp.closeOnce.Do(func() {
		remaining := kp.producer.Flush(int(kp.flushTimeout.Milliseconds()))

		if remaining > 0 {
			kp.log.Warn().Int("remaining", remaining).
				Msg("messages still queued after flush timeout")
		}

		close(kp.done)
		kp.wg.Wait()
		kp.producer.Close()

		s := kp.Stats()
		kp.log.Info().Int64("sent", s.Sent).Int64("acked", s.Acked).
			Int64("failed", s.Failed).Msg("kafka publisher closed")
	})
}
