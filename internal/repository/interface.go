package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	// ErrConflict means a record changed between read and write, or the
	// backend aborted the transaction for contention. Retrying is safe.
	ErrConflict = errors.New("concurrent modification")
	// ErrUnavailable means the backend could not be reached. Retrying is safe.
	ErrUnavailable = errors.New("account store unavailable")
)

// AccountNotFoundError names the account that does not exist.
type AccountNotFoundError struct {
	ID string
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account %q not found", e.ID)
}

// Is makes errors.Is(err, ErrAccountNotFound) match.
func (e *AccountNotFoundError) Is(target error) bool {
	return target == ErrAccountNotFound
}

// PairMutation edits copies of two account records. It reports whether it
// changed anything; when it returns false or an error nothing is written.
// It runs inside the store transaction and must not block.
type PairMutation func(first, second *domain.Account) (changed bool, err error)

// Mutation is the single-record form of PairMutation.
type Mutation func(acc *domain.Account) (changed bool, err error)

// AccountRepository is the account store port. Every write is an optimistic
// compare-and-swap on each record's version: a write commits only if no
// record it read has changed since, otherwise ErrConflict is returned and
// nothing is written.
type AccountRepository interface {
	Get(ctx context.Context, id string) (*domain.Account, error)
	// UpdatePair reads both records, applies fn and commits both or neither.
	// It returns the records as they are after the call.
	UpdatePair(ctx context.Context, firstID, secondID string, fn PairMutation) (*domain.Account, *domain.Account, error)
	Update(ctx context.Context, id string, fn Mutation) (*domain.Account, error)
	// FindReferencing lists live accounts whose follower or following set
	// may contain id. False positives are allowed; callers re-check inside Update.
	FindReferencing(ctx context.Context, id string) ([]string, error)
}

// NotificationRepository is the append-only notification log.
type NotificationRepository interface {
	Append(ctx context.Context, n *domain.Notification) error
}

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrUnavailable)
}
