package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
	pkglog "github.com/weiawesome/wes-io-live/social-graph-engine/pkg/log"
)

const notificationPartitions = 3

// KafkaPublisher is a Sink that produces notifications to a Kafka topic,
// keyed by recipient so one user's notifications stay ordered. Deliver waits
// for the broker acknowledgement, so failures reach the dispatcher's metrics.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	doneCh   chan struct{}
}

// NewKafkaPublisher connects a producer and makes sure the topic exists.
func NewKafkaPublisher(brokers, topic string) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "all",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	if err := createNotificationTopic(p, topic); err != nil {
		l := pkglog.L()
		l.Warn().Err(err).Str("topic", topic).Msg("could not create notification topic")
	}

	kp := &KafkaPublisher{
		producer: p,
		topic:    topic,
		doneCh:   make(chan struct{}),
	}
	go kp.watchClientEvents()
	return kp, nil
}

// createNotificationTopic reuses the producer's connection for the admin call.
func createNotificationTopic(p *kafka.Producer, topic string) error {
	admin, err := kafka.NewAdminClientFromProducer(p)
	if err != nil {
		return err
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             topic,
		NumPartitions:     notificationPartitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return err
	}
	for _, r := range results {
		switch r.Error.Code() {
		case kafka.ErrNoError, kafka.ErrTopicAlreadyExists:
		default:
			return r.Error
		}
	}
	return nil
}

// watchClientEvents logs client-level errors. Per-message reports go to the
// channel each Deliver call passes to Produce.
func (kp *KafkaPublisher) watchClientEvents() {
	defer close(kp.doneCh)
	l := pkglog.L()
	for e := range kp.producer.Events() {
		if kerr, ok := e.(kafka.Error); ok {
			l.Warn().Err(kerr).Str("topic", kp.topic).Msg("kafka producer error")
		}
	}
}

func (kp *KafkaPublisher) Name() string { return "kafka" }

func (kp *KafkaPublisher) Deliver(ctx context.Context, n *domain.Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification %s: %w", n.ID, err)
	}

	report := make(chan kafka.Event, 1)
	err = kp.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &kp.topic, Partition: kafka.PartitionAny},
		Key:            []byte(n.Recipient),
		Value:          value,
		Headers:        []kafka.Header{{Key: "kind", Value: []byte(n.Kind)}},
	}, report)
	if err != nil {
		return fmt.Errorf("enqueue notification %s: %w", n.ID, err)
	}

	select {
	case e := <-report:
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			return fmt.Errorf("deliver notification %s: %w", n.ID, m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes queued notifications and shuts the producer down.
func (kp *KafkaPublisher) Close() error {
	if left := kp.producer.Flush(5000); left > 0 {
		l := pkglog.L()
		l.Warn().Int("unflushed", left).Str("topic", kp.topic).Msg("closing kafka publisher with undelivered notifications")
	}
	kp.producer.Close()
	<-kp.doneCh
	return nil
}
