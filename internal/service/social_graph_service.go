package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/audit"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/metrics"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/repository"
	pkglog "github.com/weiawesome/wes-io-live/social-graph-engine/pkg/log"
)

// Options tunes the retry loop around account transactions.
type Options struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// MaxAuditPeers bounds how many neighbours AuditAccount inspects per set.
	MaxAuditPeers int
}

// DefaultOptions returns the settings used when config leaves them unset.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:    5,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
		MaxAuditPeers:  1000,
	}
}

// socialGraphService implements SocialGraphService.
type socialGraphService struct {
	repo     repository.AccountRepository
	notifier Notifier
	opts     Options
	reads    singleflight.Group
	// readEpochs advance whenever a shared read starts; see readShared.
	readEpochs [readStripes]atomic.Uint64
}

// NewSocialGraphService creates a new SocialGraphService instance. notifier
// may be nil, in which case committed follows produce no side effects.
func NewSocialGraphService(repo repository.AccountRepository, notifier Notifier, opts Options) SocialGraphService {
	def := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = def.InitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.MaxAuditPeers <= 0 {
		opts.MaxAuditPeers = def.MaxAuditPeers
	}
	return &socialGraphService{
		repo:     repo,
		notifier: notifier,
		opts:     opts,
	}
}

// Follow creates the edge actorID -> targetID.
func (s *socialGraphService) Follow(ctx context.Context, actorID, targetID string) (*Result, error) {
	return s.mutate(ctx, "follow", actorID, targetID, followMutation)
}

// Unfollow removes the edge actorID -> targetID.
func (s *socialGraphService) Unfollow(ctx context.Context, actorID, targetID string) (*Result, error) {
	return s.mutate(ctx, "unfollow", actorID, targetID, unfollowMutation)
}

type edgeMutation func(actorID, targetID string, outcome *Outcome) repository.PairMutation

func (s *socialGraphService) mutate(ctx context.Context, op, actorID, targetID string, build edgeMutation) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	res, err := s.runMutation(ctx, op, actorID, targetID, build)
	if err != nil {
		s.logFailure(ctx, op, actorID, targetID, err)
		return nil, err
	}
	metrics.Outcomes.WithLabelValues(op, string(res.Outcome)).Inc()

	if res.Outcome.Changed() {
		userID := ""
		if c, ok := CallerFrom(ctx); ok {
			userID = c.ID
		}
		action := audit.ActionFollow
		if op == "unfollow" {
			action = audit.ActionUnfollow
		}
		audit.Log(ctx, action, userID, actorID, targetID, string(res.Outcome))
	}
	if res.Outcome == OutcomeFollowed && s.notifier != nil {
		s.notifier.NotifyFollowed(ctx, actorID, targetID)
	}
	return res, nil
}

func (s *socialGraphService) runMutation(ctx context.Context, op, actorID, targetID string, build edgeMutation) (*Result, error) {
	if actorID == "" {
		return nil, withDetail(ErrMissingID, "actor", nil)
	}
	if targetID == "" {
		return nil, withDetail(ErrMissingID, "target", nil)
	}
	if actorID == targetID {
		return nil, withDetail(ErrSelfFollow, actorID, nil)
	}
	if err := authorize(ctx, actorID); err != nil {
		return nil, err
	}

	var (
		outcome       Outcome
		actor, target *domain.Account
	)
	err := s.withRetry(ctx, op, func() error {
		var err error
		actor, target, err = s.repo.UpdatePair(ctx, actorID, targetID, build(actorID, targetID, &outcome))
		return err
	})
	if err != nil {
		return nil, s.translate(err, actorID)
	}
	return &Result{
		Outcome: outcome,
		Actor:   actor.Counts(),
		Target:  target.Counts(),
	}, nil
}

// withRetry runs fn until it succeeds, fails with a non-retryable error, or
// the attempt budget is spent.
func (s *socialGraphService) withRetry(ctx context.Context, op string, fn func() error) error {
	l := pkglog.Ctx(ctx)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialBackoff
	b.MaxInterval = s.opts.MaxBackoff

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := fn()
		if err == nil {
			return struct{}{}, nil
		}
		if !repository.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		metrics.Retries.WithLabelValues(op).Inc()
		l.Debug().Err(err).
			Str("operation", op).
			Int(pkglog.FieldAttempt, attempt).
			Msg("account transaction aborted, retrying")
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.opts.MaxAttempts)),
	)

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return err
}

// translate maps repository errors onto the engine's taxonomy.
func (s *socialGraphService) translate(err error, actorID string) error {
	var fe *FollowError
	if errors.As(err, &fe) {
		return err
	}
	var nf *repository.AccountNotFoundError
	if errors.As(err, &nf) {
		if nf.ID == actorID {
			return withDetail(ErrActorNotFound, nf.ID, nil)
		}
		return withDetail(ErrTargetNotFound, nf.ID, nil)
	}
	if repository.IsRetryable(err) {
		return withDetail(ErrTransient, "", err)
	}
	return err
}

func (s *socialGraphService) logFailure(ctx context.Context, op, actorID, targetID string, err error) {
	kind := KindOf(err)
	metrics.Errors.WithLabelValues(op, kind.String()).Inc()

	l := pkglog.Pair(ctx, actorID, targetID)
	switch kind {
	case KindInvariant:
		var fe *FollowError
		if errors.As(err, &fe) {
			metrics.InvariantViolations.WithLabelValues(fe.Code).Inc()
		}
		l.Error().Err(err).
			Str("operation", op).
			Str(pkglog.FieldKind, kind.String()).
			Msg("stored accounts violate follow invariants")
	case KindTransient:
		l.Warn().Err(err).Str("operation", op).Msg("account store unavailable")
	case KindInternal:
		l.Error().Err(err).Str("operation", op).Msg("follow operation failed")
	default:
		l.Debug().Err(err).Str("operation", op).Msg("follow request rejected")
	}
}

func followMutation(actorID, targetID string, outcome *Outcome) repository.PairMutation {
	return func(actor, target *domain.Account) (bool, error) {
		forward := actor.Following.Has(targetID)
		backward := target.Followers.Has(actorID)
		switch {
		case forward && backward:
			*outcome = OutcomeAlreadyFollowing
			return false, nil
		case forward != backward:
			return false, edgeMismatch(actorID, forward, backward)
		}

		actor.Following = actor.Following.Add(targetID)
		actor.FollowingCount++
		target.Followers = target.Followers.Add(actorID)
		target.FollowerCount++
		*outcome = OutcomeFollowed
		return true, nil
	}
}

func unfollowMutation(actorID, targetID string, outcome *Outcome) repository.PairMutation {
	return func(actor, target *domain.Account) (bool, error) {
		forward := actor.Following.Has(targetID)
		backward := target.Followers.Has(actorID)
		switch {
		case !forward && !backward:
			*outcome = OutcomeNotFollowing
			return false, nil
		case forward != backward:
			return false, edgeMismatch(actorID, forward, backward)
		}

		if actor.FollowingCount <= 0 {
			return false, withDetail(ErrCounterUnderflow, actorID, errors.New("following count"))
		}
		if target.FollowerCount <= 0 {
			return false, withDetail(ErrCounterUnderflow, targetID, errors.New("follower count"))
		}

		actor.Following = actor.Following.Remove(targetID)
		actor.FollowingCount--
		target.Followers = target.Followers.Remove(actorID)
		target.FollowerCount--
		*outcome = OutcomeUnfollowed
		return true, nil
	}
}

func edgeMismatch(actorID string, forward, backward bool) error {
	msg := "target lists actor as follower but actor does not follow target"
	if forward && !backward {
		msg = "actor follows target but target does not list actor as follower"
	}
	return withDetail(ErrEdgeMismatch, actorID, errors.New(msg))
}
