package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	pkglog "github.com/weiawesome/wes-io-live/social-graph-engine/pkg/log"
)

const pollTimeout = 100 * time.Millisecond

// ConfluentConsumer reads the accounts CDC topic and hands each deletion
// event to an AccountEventHandler. Auto-commit is off; an offset is committed
// once its record has been handled or skipped, so a crash replays at most the
// in-flight record. Handler failures are logged and committed past, and the
// auditor cleans up what they leave behind.
type ConfluentConsumer struct {
	consumer *kafka.Consumer
	topic    string
	handler  AccountEventHandler
	doneCh   chan struct{}
}

// NewConfluentConsumer joins groupID on the given brokers.
func NewConfluentConsumer(brokers, topic, groupID string, handler AccountEventHandler) (*ConfluentConsumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"group.id":           groupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &ConfluentConsumer{
		consumer: c,
		topic:    topic,
		handler:  handler,
		doneCh:   make(chan struct{}),
	}, nil
}

// Start subscribes to the topic and runs the poll loop until ctx is done.
func (cc *ConfluentConsumer) Start(ctx context.Context) error {
	if err := cc.consumer.Subscribe(cc.topic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", cc.topic, err)
	}

	l := pkglog.L()
	l.Info().Str("topic", cc.topic).Msg("account CDC consumer started")

	go cc.run(ctx)
	return nil
}

func (cc *ConfluentConsumer) run(ctx context.Context) {
	defer close(cc.doneCh)
	l := pkglog.L().With().Str("topic", cc.topic).Logger()

	for ctx.Err() == nil {
		msg, err := cc.consumer.ReadMessage(pollTimeout)
		if err != nil {
			if !isPollTimeout(err) {
				l.Error().Err(err).Msg("account CDC read failed")
			}
			continue
		}

		cc.handle(context.WithoutCancel(ctx), msg)
		if _, err := cc.consumer.CommitMessage(msg); err != nil {
			l.Warn().Err(err).Str("offset", msg.TopicPartition.Offset.String()).Msg("failed to commit CDC offset")
		}
	}
	l.Info().Msg("account CDC consumer stopping")
}

func (cc *ConfluentConsumer) handle(ctx context.Context, msg *kafka.Message) {
	l := pkglog.L().With().
		Str("topic", cc.topic).
		Int32("partition", msg.TopicPartition.Partition).
		Str("offset", msg.TopicPartition.Offset.String()).
		Logger()

	event, err := DecodeMessage(msg.Value)
	switch {
	case errors.Is(err, ErrTombstone):
		l.Debug().Str("key", string(msg.Key)).Msg("skipping CDC tombstone")
		return
	case err != nil:
		l.Error().Err(err).Msg("undecodable account CDC record")
		return
	}

	l.Debug().
		Str("op", event.Payload.Op).
		Int64("ts_ms", event.Payload.TsMs).
		Msg("account CDC event")
	if err := cc.handler.HandleAccountEvent(ctx, event); err != nil {
		l.Error().Err(err).Str("op", event.Payload.Op).Msg("account CDC event failed")
	}
}

// isPollTimeout reports the idle result of ReadMessage.
func isPollTimeout(err error) bool {
	var kerr kafka.Error
	return errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut
}

// Close waits for the poll loop to exit, then leaves the group. Cancel the
// context passed to Start first.
func (cc *ConfluentConsumer) Close() error {
	<-cc.doneCh
	if err := cc.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	return nil
}

var _ AccountEventConsumer = (*ConfluentConsumer)(nil)
