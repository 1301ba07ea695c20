package notifier

import (
	"context"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/repository"
)

// Sink delivers one follow notification to a downstream system.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n *domain.Notification) error
}

// StoreSink appends notifications to the notification table.
type StoreSink struct {
	repo repository.NotificationRepository
}

// NewStoreSink creates a sink backed by the notification repository.
func NewStoreSink(repo repository.NotificationRepository) *StoreSink {
	return &StoreSink{repo: repo}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Deliver(ctx context.Context, n *domain.Notification) error {
	return s.repo.Append(ctx, n)
}
