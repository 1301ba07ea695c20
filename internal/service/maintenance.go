package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/audit"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/consumer"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/metrics"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/repository"
	pkglog "github.com/weiawesome/wes-io-live/social-graph-engine/pkg/log"
)

// Violation codes reported by AuditAccount.
const (
	ViolationFollowerCount  = "follower_count_mismatch"
	ViolationFollowingCount = "following_count_mismatch"
	ViolationSelfEdge       = "self_edge"
	ViolationDangling       = "dangling_reference"
	ViolationAsymmetric     = "asymmetric_edge"
)

// PurgeAccount removes deletedID from the sets of every account that still
// references it, decrementing the matching counters. It refuses to run while
// the account is still live.
func (s *socialGraphService) PurgeAccount(ctx context.Context, deletedID string) (int, error) {
	if deletedID == "" {
		return 0, withDetail(ErrMissingID, "account", nil)
	}
	l := pkglog.Ctx(ctx).With().Str(pkglog.FieldTargetID, deletedID).Logger()

	if _, err := s.repo.Get(ctx, deletedID); err == nil {
		return 0, withDetail(ErrAccountExists, deletedID, nil)
	} else if !errors.Is(err, repository.ErrAccountNotFound) {
		return 0, s.translate(err, "")
	}

	refs, err := s.repo.FindReferencing(ctx, deletedID)
	if err != nil {
		return 0, s.translate(err, "")
	}

	purged := 0
	var errs []error
	for _, id := range refs {
		changed := false
		err := s.withRetry(ctx, "purge", func() error {
			_, err := s.repo.Update(ctx, id, removeReferences(deletedID, &changed))
			return err
		})
		switch {
		case err == nil:
			if changed {
				purged++
			}
		case errors.Is(err, repository.ErrAccountNotFound):
			// Deleted concurrently; its own purge handles it.
		default:
			l.Error().Err(err).Str("account_id", id).Msg("failed to purge reference to deleted account")
			errs = append(errs, fmt.Errorf("account %s: %w", id, s.translate(err, "")))
		}
	}

	if purged > 0 {
		metrics.Repairs.WithLabelValues("purge").Add(float64(purged))
		audit.LogAccount(ctx, audit.ActionPurgeAccount, deletedID, purged, "removed deleted account from follow sets")
	}
	return purged, errors.Join(errs...)
}

// removeReferences drops id from both sets of an account. A counter that
// is already zero while its set still holds id is reported, never clamped.
func removeReferences(id string, changed *bool) repository.Mutation {
	return func(acc *domain.Account) (bool, error) {
		*changed = false
		if acc.Followers.Has(id) {
			if acc.FollowerCount <= 0 {
				return false, withDetail(ErrCounterUnderflow, acc.ID, errors.New("follower count"))
			}
			acc.Followers = acc.Followers.Remove(id)
			acc.FollowerCount--
			*changed = true
		}
		if acc.Following.Has(id) {
			if acc.FollowingCount <= 0 {
				return false, withDetail(ErrCounterUnderflow, acc.ID, errors.New("following count"))
			}
			acc.Following = acc.Following.Remove(id)
			acc.FollowingCount--
			*changed = true
		}
		return *changed, nil
	}
}

// AuditAccount checks one account's counters against its sets and each
// listed neighbour against the reverse half of the edge. With repair set,
// references to accounts that no longer exist are removed. Asymmetric edges
// and count mismatches are only reported.
func (s *socialGraphService) AuditAccount(ctx context.Context, accountID string, repair bool) (*AuditReport, error) {
	if accountID == "" {
		return nil, withDetail(ErrMissingID, "account", nil)
	}
	acc, err := s.repo.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, withDetail(ErrAccountNotFound, accountID, nil)
		}
		return nil, s.translate(err, "")
	}

	report := &AuditReport{AccountID: accountID}
	add := func(code, peer, detail string) {
		report.Violations = append(report.Violations, Violation{Code: code, PeerID: peer, Detail: detail})
		metrics.InvariantViolations.WithLabelValues(code).Inc()
	}

	if acc.FollowerCount != int64(acc.Followers.Len()) {
		add(ViolationFollowerCount, "", fmt.Sprintf("count %d, set size %d", acc.FollowerCount, acc.Followers.Len()))
	}
	if acc.FollowingCount != int64(acc.Following.Len()) {
		add(ViolationFollowingCount, "", fmt.Sprintf("count %d, set size %d", acc.FollowingCount, acc.Following.Len()))
	}
	if acc.Followers.Has(accountID) || acc.Following.Has(accountID) {
		add(ViolationSelfEdge, accountID, "account references itself")
	}

	dangling := make(map[string]struct{})
	check := func(peers []string, reverse func(peer *domain.Account) bool, detail string) error {
		if len(peers) > s.opts.MaxAuditPeers {
			peers = peers[:s.opts.MaxAuditPeers]
		}
		for _, peerID := range peers {
			if peerID == accountID {
				continue
			}
			peer, err := s.repo.Get(ctx, peerID)
			if errors.Is(err, repository.ErrAccountNotFound) {
				dangling[peerID] = struct{}{}
				add(ViolationDangling, peerID, "referenced account does not exist")
				continue
			}
			if err != nil {
				return s.translate(err, "")
			}
			if !reverse(peer) {
				add(ViolationAsymmetric, peerID, detail)
			}
		}
		return nil
	}

	if err := check(acc.Following, func(p *domain.Account) bool { return p.Followers.Has(accountID) },
		"followed account does not list this account as follower"); err != nil {
		return nil, err
	}
	if err := check(acc.Followers, func(p *domain.Account) bool { return p.Following.Has(accountID) },
		"follower does not list this account as followed"); err != nil {
		return nil, err
	}

	if len(report.Violations) > 0 {
		l := pkglog.Ctx(ctx)
		l.Error().
			Str(pkglog.FieldTargetID, accountID).
			Int("violations", len(report.Violations)).
			Str(pkglog.FieldKind, KindInvariant.String()).
			Msg("account failed consistency audit")
	}

	if repair && len(dangling) > 0 {
		for peerID := range dangling {
			changed := false
			err := s.withRetry(ctx, "repair", func() error {
				_, err := s.repo.Update(ctx, accountID, removeReferences(peerID, &changed))
				return err
			})
			if err != nil {
				return report, s.translate(err, "")
			}
			if changed {
				report.Repaired++
			}
		}
		if report.Repaired > 0 {
			metrics.Repairs.WithLabelValues("audit").Add(float64(report.Repaired))
			audit.LogAccount(ctx, audit.ActionRepair, accountID, report.Repaired, "removed dangling follow references")
		}
	}
	return report, nil
}

// HandleAccountEvent purges follow references when the identity subsystem
// deletes an account, either by hard delete or by setting deleted_at.
func (s *socialGraphService) HandleAccountEvent(ctx context.Context, event *consumer.DebeziumMessage) error {
	l := pkglog.Ctx(ctx)
	p := event.Payload

	var deletedID string
	switch p.Op {
	case "r", "c":
		return nil

	case "u":
		if p.After == nil {
			l.Warn().Msg("CDC update event missing 'after' field")
			return nil
		}
		if !p.After.SoftDeleted() || p.Before.SoftDeleted() {
			return nil
		}
		deletedID = p.After.ID

	case "d":
		if p.Before == nil {
			l.Warn().Msg("CDC hard-delete event missing 'before' field")
			return nil
		}
		deletedID = p.Before.ID

	default:
		l.Warn().Str("op", p.Op).Msg("unknown CDC operation, skipping")
		return nil
	}

	purged, err := s.PurgeAccount(ctx, deletedID)
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			l.Warn().Str(pkglog.FieldTargetID, deletedID).Msg("delete event for live account, skipping purge")
			return nil
		}
		return err
	}
	l.Info().Str(pkglog.FieldTargetID, deletedID).Int("purged", purged).Msg("purged deleted account")
	return nil
}

// Ensure interface is satisfied at compile time.
var _ SocialGraphService = (*socialGraphService)(nil)
var _ consumer.AccountEventHandler = (*socialGraphService)(nil)
