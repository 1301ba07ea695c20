package domain

import (
	"time"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/social-graph-engine/pkg/database"
)

// AccountModel is the GORM model for the accounts table. Rows are created
// and soft-deleted by the identity subsystem; this service only touches the
// follow-related columns and the version used for optimistic concurrency.
type AccountModel struct {
	ID             string         `gorm:"column:id;type:varchar(36);primaryKey"`
	Followers      database.IDSet `gorm:"column:followers;type:text"`
	Following      database.IDSet `gorm:"column:following;type:text"`
	FollowerCount  int64          `gorm:"column:follower_count;not null;default:0"`
	FollowingCount int64          `gorm:"column:following_count;not null;default:0"`
	Version        int64          `gorm:"column:version;not null;default:0"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime"`
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

func (AccountModel) TableName() string { return "accounts" }

// ToDomain converts the row into the domain account.
func (m *AccountModel) ToDomain() *Account {
	return &Account{
		ID:             m.ID,
		Followers:      m.Followers.Clone(),
		Following:      m.Following.Clone(),
		FollowerCount:  m.FollowerCount,
		FollowingCount: m.FollowingCount,
		Version:        m.Version,
		UpdatedAt:      m.UpdatedAt,
	}
}

// NotificationModel is the GORM model for the append-only notifications table.
type NotificationModel struct {
	ID          string    `gorm:"column:id;type:varchar(36);primaryKey"`
	RecipientID string    `gorm:"column:recipient_id;type:varchar(36);not null;index"`
	Kind        string    `gorm:"column:kind;type:varchar(32);not null"`
	ActorID     string    `gorm:"column:actor_id;type:varchar(36);not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

func (NotificationModel) TableName() string { return "notifications" }

// NotificationToModel converts a domain notification into its row.
func NotificationToModel(n *Notification) *NotificationModel {
	return &NotificationModel{
		ID:          n.ID,
		RecipientID: n.Recipient,
		Kind:        n.Kind,
		ActorID:     n.Actor,
		CreatedAt:   n.CreatedAt,
	}
}
