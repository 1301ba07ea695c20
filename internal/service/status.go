package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/metrics"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/repository"
	pkglog "github.com/weiawesome/wes-io-live/social-graph-engine/pkg/log"
)

// GetFollowingStatus answers "does actorID follow X" for every candidate
// with a single read of the actor. Concurrent calls for the same actor share
// that read. An anonymous or unknown actor gets an all-false map.
func (s *socialGraphService) GetFollowingStatus(ctx context.Context, actorID string, candidateIDs []string) (map[string]bool, error) {
	status := make(map[string]bool, len(candidateIDs))
	for _, id := range candidateIDs {
		status[id] = false
	}
	if actorID == "" || len(candidateIDs) == 0 {
		return status, nil
	}

	actor, err := s.readShared(ctx, actorID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			l := pkglog.Ctx(ctx)
			l.Debug().Str(pkglog.FieldActorID, actorID).Msg("status query for unknown actor")
			return status, nil
		}
		return nil, s.translate(err, actorID)
	}

	for _, id := range candidateIDs {
		status[id] = id != actorID && actor.Following.Has(id)
	}
	return status, nil
}

const readStripes = 64

// readShared collapses concurrent reads of the same account into one store
// call. A caller only joins a read that had not started when the caller
// arrived: the read bumps its stripe's epoch before touching the store, and
// later arrivals key on the new epoch. A caller therefore never sees state
// older than its own call, including its own committed follows. The shared
// read is detached from any single caller's cancellation; each caller still
// stops waiting when its own context ends.
func (s *socialGraphService) readShared(ctx context.Context, id string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	epoch := &s.readEpochs[xxhash.Sum64String(id)%readStripes]
	key := id + "#" + strconv.FormatUint(epoch.Load(), 10)

	ch := s.reads.DoChan(key, func() (interface{}, error) {
		epoch.Add(1)
		return s.repo.Get(context.WithoutCancel(ctx), id)
	})
	select {
	case res := <-ch:
		if res.Shared {
			metrics.StatusDeduplicated.Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Account), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetCounts returns the denormalized counters of one account.
func (s *socialGraphService) GetCounts(ctx context.Context, accountID string) (domain.Counts, error) {
	if accountID == "" {
		return domain.Counts{}, withDetail(ErrMissingID, "account", nil)
	}
	acc, err := s.repo.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return domain.Counts{}, withDetail(ErrAccountNotFound, accountID, nil)
		}
		if repository.IsRetryable(err) {
			return domain.Counts{}, withDetail(ErrTransient, "", err)
		}
		return domain.Counts{}, err
	}
	return acc.Counts(), nil
}
