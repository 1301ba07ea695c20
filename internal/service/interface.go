package service

import (
	"context"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/consumer"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
)

// Outcome is the non-error result of a Follow or Unfollow call.
type Outcome string

const (
	OutcomeFollowed         Outcome = "followed"
	OutcomeAlreadyFollowing Outcome = "already_following"
	OutcomeUnfollowed       Outcome = "unfollowed"
	OutcomeNotFollowing     Outcome = "not_following"
)

// Changed reports whether the call created or removed an edge.
func (o Outcome) Changed() bool {
	return o == OutcomeFollowed || o == OutcomeUnfollowed
}

// Result carries the outcome and both accounts' counters as committed.
type Result struct {
	Outcome Outcome       `json:"outcome"`
	Actor   domain.Counts `json:"actor"`
	Target  domain.Counts `json:"target"`
}

// Notifier receives committed follows. It must not block.
type Notifier interface {
	NotifyFollowed(ctx context.Context, actorID, targetID string)
}

// Violation is one inconsistency found by AuditAccount.
type Violation struct {
	Code   string `json:"code"`
	PeerID string `json:"peer_id,omitempty"`
	Detail string `json:"detail"`
}

// AuditReport is the result of checking one account against its peers.
type AuditReport struct {
	AccountID  string      `json:"account_id"`
	Violations []Violation `json:"violations"`
	Repaired   int         `json:"repaired"`
}

// SocialGraphService is the follow engine.
type SocialGraphService interface {
	Follow(ctx context.Context, actorID, targetID string) (*Result, error)
	Unfollow(ctx context.Context, actorID, targetID string) (*Result, error)
	GetFollowingStatus(ctx context.Context, actorID string, candidateIDs []string) (map[string]bool, error)
	GetCounts(ctx context.Context, accountID string) (domain.Counts, error)

	// PurgeAccount removes a deleted account from every set that still
	// references it and returns how many accounts were updated.
	PurgeAccount(ctx context.Context, deletedID string) (int, error)
	AuditAccount(ctx context.Context, accountID string, repair bool) (*AuditReport, error)
	HandleAccountEvent(ctx context.Context, event *consumer.DebeziumMessage) error
}
