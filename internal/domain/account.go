package domain

import (
	"time"

	"github.com/weiawesome/wes-io-live/social-graph-engine/pkg/database"
)

// Account is the follow-related slice of an account record.
type Account struct {
	ID             string
	Followers      database.IDSet
	Following      database.IDSet
	FollowerCount  int64
	FollowingCount int64
	Version        int64
	UpdatedAt      time.Time
}

// Clone returns a deep copy so mutations never alias a stored snapshot.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Followers = a.Followers.Clone()
	c.Following = a.Following.Clone()
	return &c
}

// Counts returns the account's denormalized counters.
func (a *Account) Counts() Counts {
	return Counts{
		AccountID: a.ID,
		Followers: a.FollowerCount,
		Following: a.FollowingCount,
		Version:   a.Version,
	}
}

// Consistent reports whether both counters match their sets.
func (a *Account) Consistent() bool {
	return a.FollowerCount == int64(a.Followers.Len()) &&
		a.FollowingCount == int64(a.Following.Len())
}

// Counts is the pair of denormalized counters exposed to callers.
type Counts struct {
	AccountID string `json:"account_id"`
	Followers int64  `json:"followers"`
	Following int64  `json:"following"`
	// Version lets caches reject stale fills.
	Version int64 `json:"-"`
}

// Edge is a directed follow relationship.
type Edge struct {
	Actor  string
	Target string
}

// Notification kinds.
const (
	NotificationKindFollow = "follow"
)

// Notification is a "you were followed" event for Recipient.
type Notification struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient_id"`
	Kind      string    `json:"kind"`
	Actor     string    `json:"actor_id"`
	CreatedAt time.Time `json:"created_at"`
}
