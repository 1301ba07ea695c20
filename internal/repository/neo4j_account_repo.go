package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/social-graph-engine/pkg/database"
)

// Neo4jAccountRepository stores accounts as (:Account) nodes carrying the
// follow sets as list properties. A write transaction first takes the node
// write locks, then reads, so the version check in the final SET runs against
// state no other transaction can change before commit.
type Neo4jAccountRepository struct {
	driver neo4j.DriverWithContext
}

// NewNeo4jAccountRepository creates a Neo4j-backed account repository.
func NewNeo4jAccountRepository(driver neo4j.DriverWithContext) *Neo4jAccountRepository {
	return &Neo4jAccountRepository{driver: driver}
}

// EnsureSchema creates the uniqueness constraint on Account.id.
func (r *Neo4jAccountRepository) EnsureSchema(ctx context.Context) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx,
			`CREATE CONSTRAINT account_id_unique IF NOT EXISTS FOR (a:Account) REQUIRE a.id IS UNIQUE`, nil)
		return nil, err
	})
	return err
}

const neo4jReadAccount = `
	MATCH (a:Account {id: $id})
	WHERE a.deleted_at IS NULL
	RETURN a.id AS id,
	       coalesce(a.followers, []) AS followers,
	       coalesce(a.following, []) AS following,
	       coalesce(a.follower_count, 0) AS follower_count,
	       coalesce(a.following_count, 0) AS following_count,
	       coalesce(a.version, 0) AS version`

// Cypher evaluates a WHERE clause before SET waits on the node lock, so a
// version predicate alone lets two writers through. Touching the nodes in id
// order grabs the locks up front and keeps lock order stable across writers.
const neo4jLockAccounts = `
	MATCH (a:Account)
	WHERE a.id IN $ids
	WITH a ORDER BY a.id
	SET a.version = coalesce(a.version, 0)
	RETURN count(a) AS locked`

const neo4jWriteAccount = `
	MATCH (a:Account {id: $id})
	WHERE a.deleted_at IS NULL AND coalesce(a.version, 0) = $expected
	SET a.followers = $followers,
	    a.following = $following,
	    a.follower_count = $follower_count,
	    a.following_count = $following_count,
	    a.version = $expected + 1,
	    a.updated_at = datetime()
	RETURN a.version AS version`

// Get returns a live account.
func (r *Neo4jAccountRepository) Get(ctx context.Context, id string) (*domain.Account, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return readNeo4jAccount(ctx, tx, id)
	})
	if err != nil {
		return nil, classifyNeo4j(err)
	}
	return result.(*domain.Account), nil
}

// UpdatePair implements AccountRepository.
func (r *Neo4jAccountRepository) UpdatePair(ctx context.Context, firstID, secondID string, fn PairMutation) (*domain.Account, *domain.Account, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := lockNeo4jAccounts(ctx, tx, firstID, secondID); err != nil {
			return nil, err
		}
		first, err := readNeo4jAccount(ctx, tx, firstID)
		if err != nil {
			return nil, err
		}
		second, err := readNeo4jAccount(ctx, tx, secondID)
		if err != nil {
			return nil, err
		}

		origFirst, origSecond := first.Clone(), second.Clone()
		changed, err := fn(first, second)
		if err != nil {
			return nil, err
		}
		if !changed {
			return [2]*domain.Account{origFirst, origSecond}, nil
		}

		writes := []struct {
			acc      *domain.Account
			expected int64
		}{{first, origFirst.Version}, {second, origSecond.Version}}
		if secondID < firstID {
			writes[0], writes[1] = writes[1], writes[0]
		}
		for _, w := range writes {
			if err := writeNeo4jAccount(ctx, tx, w.acc, w.expected); err != nil {
				return nil, err
			}
		}
		return [2]*domain.Account{first, second}, nil
	})
	if err != nil {
		return nil, nil, classifyNeo4j(err)
	}
	pair := result.([2]*domain.Account)
	return pair[0], pair[1], nil
}

// Update implements AccountRepository.
func (r *Neo4jAccountRepository) Update(ctx context.Context, id string, fn Mutation) (*domain.Account, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := lockNeo4jAccounts(ctx, tx, id); err != nil {
			return nil, err
		}
		acc, err := readNeo4jAccount(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		orig := acc.Clone()
		changed, err := fn(acc)
		if err != nil {
			return nil, err
		}
		if !changed {
			return orig, nil
		}
		if err := writeNeo4jAccount(ctx, tx, acc, orig.Version); err != nil {
			return nil, err
		}
		return acc, nil
	})
	if err != nil {
		return nil, classifyNeo4j(err)
	}
	return result.(*domain.Account), nil
}

// FindReferencing implements AccountRepository.
func (r *Neo4jAccountRepository) FindReferencing(ctx context.Context, id string) ([]string, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (a:Account)
			WHERE a.deleted_at IS NULL AND a.id <> $id
			  AND ($id IN coalesce(a.followers, []) OR $id IN coalesce(a.following, []))
			RETURN a.id AS id ORDER BY id`,
			map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		var ids []string
		for res.Next(ctx) {
			v, _ := res.Record().Get("id")
			if s, ok := v.(string); ok {
				ids = append(ids, s)
			}
		}
		return ids, res.Err()
	})
	if err != nil {
		return nil, classifyNeo4j(err)
	}
	ids, _ := result.([]string)
	return ids, nil
}

func lockNeo4jAccounts(ctx context.Context, tx neo4j.ManagedTransaction, ids ...string) error {
	res, err := tx.Run(ctx, neo4jLockAccounts, map[string]any{"ids": ids})
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

func readNeo4jAccount(ctx context.Context, tx neo4j.ManagedTransaction, id string) (*domain.Account, error) {
	res, err := tx.Run(ctx, neo4jReadAccount, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return nil, err
		}
		return nil, &AccountNotFoundError{ID: id}
	}
	rec := res.Record()

	followers, _ := rec.Get("followers")
	following, _ := rec.Get("following")
	followerCount, _ := rec.Get("follower_count")
	followingCount, _ := rec.Get("following_count")
	version, _ := rec.Get("version")

	return &domain.Account{
		ID:             id,
		Followers:      toIDSet(followers),
		Following:      toIDSet(following),
		FollowerCount:  toInt64(followerCount),
		FollowingCount: toInt64(followingCount),
		Version:        toInt64(version),
	}, nil
}

func writeNeo4jAccount(ctx context.Context, tx neo4j.ManagedTransaction, acc *domain.Account, expected int64) error {
	res, err := tx.Run(ctx, neo4jWriteAccount, map[string]any{
		"id":              acc.ID,
		"expected":        expected,
		"followers":       []string(acc.Followers),
		"following":       []string(acc.Following),
		"follower_count":  acc.FollowerCount,
		"following_count": acc.FollowingCount,
	})
	if err != nil {
		return err
	}
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: account %s moved past version %d", ErrConflict, acc.ID, expected)
	}
	acc.Version = expected + 1
	return nil
}

func toIDSet(v any) database.IDSet {
	list, _ := v.([]any)
	ids := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			ids = append(ids, s)
		}
	}
	return database.NewIDSet(ids...)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func classifyNeo4j(err error) error {
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if neo4j.IsRetryable(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

var _ AccountRepository = (*Neo4jAccountRepository)(nil)
