package notifier

import (
	"context"
	"fmt"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/social-graph-engine/pkg/pubsub"
)

// LiveSink pushes notifications onto the recipient's Redis channel so
// online sessions see them immediately. Offline users get them from the
// store sink instead.
type LiveSink struct {
	publisher pubsub.Publisher
}

// NewLiveSink creates a sink publishing through publisher.
func NewLiveSink(publisher pubsub.Publisher) *LiveSink {
	return &LiveSink{publisher: publisher}
}

func (s *LiveSink) Name() string { return "redis" }

func (s *LiveSink) Deliver(ctx context.Context, n *domain.Notification) error {
	event, err := pubsub.NewEvent(n.Kind, n.Recipient, n)
	if err != nil {
		return fmt.Errorf("build live event: %w", err)
	}
	return s.publisher.Publish(ctx, pubsub.UserNotificationChannel(n.Recipient), event)
}

// Close closes the underlying publisher.
func (s *LiveSink) Close() error {
	return s.publisher.Close()
}
