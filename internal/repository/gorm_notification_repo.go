package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
)

// GormNotificationRepository appends notifications to the notifications table.
type GormNotificationRepository struct {
	db *gorm.DB
}

// NewGormNotificationRepository creates a new GORM-backed notification log.
func NewGormNotificationRepository(db *gorm.DB) *GormNotificationRepository {
	return &GormNotificationRepository{db: db}
}

// Append inserts n. The table is never updated in place.
func (r *GormNotificationRepository) Append(ctx context.Context, n *domain.Notification) error {
	if err := r.db.WithContext(ctx).Create(domain.NotificationToModel(n)).Error; err != nil {
		return classify(err)
	}
	return nil
}

var _ NotificationRepository = (*GormNotificationRepository)(nil)
