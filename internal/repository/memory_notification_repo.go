package repository

import (
	"context"
	"sync"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
)

// MemoryNotificationRepository keeps notifications in process.
type MemoryNotificationRepository struct {
	mu    sync.Mutex
	items []domain.Notification
}

// NewMemoryNotificationRepository creates an empty notification log.
func NewMemoryNotificationRepository() *MemoryNotificationRepository {
	return &MemoryNotificationRepository{}
}

func (r *MemoryNotificationRepository) Append(ctx context.Context, n *domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, *n)
	return nil
}

// ForRecipient returns the notifications addressed to id, oldest first.
func (r *MemoryNotificationRepository) ForRecipient(id string) []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Notification
	for _, n := range r.items {
		if n.Recipient == id {
			out = append(out, n)
		}
	}
	return out
}

var _ NotificationRepository = (*MemoryNotificationRepository)(nil)
