package service

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies every error the engine returns.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidRequest
	KindNotFound
	KindConflict
	KindUnauthorized
	KindTransient
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindTransient:
		return "transient"
	case KindInvariant:
		return "invariant"
	default:
		return "internal"
	}
}

// FollowError is the typed error returned by the engine. Two FollowErrors
// match under errors.Is when their codes are equal, so the package-level
// sentinels can be compared against errors carrying request details.
type FollowError struct {
	Kind      Kind
	Code      string
	Message   string
	AccountID string
	Err       error
}

func (e *FollowError) Error() string {
	msg := e.Message
	if e.AccountID != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.AccountID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FollowError) Unwrap() error { return e.Err }

func (e *FollowError) Is(target error) bool {
	t, ok := target.(*FollowError)
	return ok && t.Code == e.Code
}

var (
	ErrSelfFollow       = &FollowError{Kind: KindInvalidRequest, Code: "self_follow", Message: "cannot follow yourself"}
	ErrMissingID        = &FollowError{Kind: KindInvalidRequest, Code: "missing_id", Message: "account id is required"}
	ErrActorNotFound    = &FollowError{Kind: KindNotFound, Code: "actor_not_found", Message: "actor account not found"}
	ErrTargetNotFound   = &FollowError{Kind: KindNotFound, Code: "target_not_found", Message: "target account not found"}
	ErrAccountNotFound  = &FollowError{Kind: KindNotFound, Code: "account_not_found", Message: "account not found"}
	ErrAccountExists    = &FollowError{Kind: KindInvalidRequest, Code: "account_exists", Message: "account still exists"}
	ErrPermission       = &FollowError{Kind: KindUnauthorized, Code: "permission_denied", Message: "caller may not act as this account"}
	ErrTransient        = &FollowError{Kind: KindTransient, Code: "transient", Message: "account store busy, retry later"}
	ErrCounterUnderflow = &FollowError{Kind: KindInvariant, Code: "counter_underflow", Message: "follow counter would become negative"}
	ErrEdgeMismatch     = &FollowError{Kind: KindInvariant, Code: "edge_mismatch", Message: "follower and following sets disagree"}
)

// withDetail copies a sentinel and attaches the account and cause.
func withDetail(sentinel *FollowError, accountID string, cause error) *FollowError {
	e := *sentinel
	e.AccountID = accountID
	e.Err = cause
	return &e
}

// KindOf classifies err. Errors not produced by the engine are KindInternal,
// except context cancellation and deadlines, which are KindTransient.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var fe *FollowError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindInternal
}
