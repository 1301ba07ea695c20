package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
)

// NATSPublisher is a Sink that publishes notifications to a JetStream
// stream on subject <prefix>.<kind>.<recipient>.
type NATSPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// NewNATSPublisher connects and makes sure the stream exists.
func NewNATSPublisher(url, stream, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("social-graph-engine"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: []string{prefix + ".>"},
		Storage:  jetstream.FileStorage,
		Replicas: 1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create stream: %w", err)
	}

	return &NATSPublisher{nc: nc, js: js, prefix: prefix}, nil
}

func (p *NATSPublisher) Name() string { return "nats" }

// Subject returns the subject a notification is published on.
func (p *NATSPublisher) Subject(n *domain.Notification) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, n.Kind, n.Recipient)
}

// Deliver publishes n and waits for the stream acknowledgement. The
// notification id is used as the message id so redeliveries are deduplicated.
func (p *NATSPublisher) Deliver(ctx context.Context, n *domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if _, err := p.js.Publish(ctx, p.Subject(n), data, jetstream.WithMsgID(n.ID)); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
