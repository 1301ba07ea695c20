package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
)

func TestToIDSet(t *testing.T) {
	set := toIDSet([]any{"b", "a", 7, "b"})
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Has("a"))
	assert.True(t, set.Has("b"))

	assert.Zero(t, toIDSet(nil).Len())
	assert.Zero(t, toIDSet("not a list").Len())
}

func TestToInt64(t *testing.T) {
	assert.Equal(t, int64(3), toInt64(int64(3)))
	assert.Equal(t, int64(4), toInt64(4))
	assert.Equal(t, int64(5), toInt64(5.0))
	assert.Zero(t, toInt64(nil))
	assert.Zero(t, toInt64("7"))
}

func TestClassifyNeo4j(t *testing.T) {
	conflict := fmt.Errorf("%w: account a moved past version 1", ErrConflict)
	assert.Same(t, conflict, classifyNeo4j(conflict))

	notFound := &AccountNotFoundError{ID: "a"}
	assert.ErrorIs(t, classifyNeo4j(notFound), ErrAccountNotFound)
	assert.ErrorIs(t, classifyNeo4j(context.Canceled), context.Canceled)

	deadlock := &neo4j.Neo4jError{Code: "Neo.TransientError.Transaction.DeadlockDetected", Msg: "deadlock"}
	assert.ErrorIs(t, classifyNeo4j(deadlock), ErrUnavailable)
	assert.True(t, IsRetryable(classifyNeo4j(deadlock)))

	syntax := &neo4j.Neo4jError{Code: "Neo.ClientError.Statement.SyntaxError", Msg: "bad query"}
	assert.False(t, IsRetryable(classifyNeo4j(syntax)))
	assert.False(t, IsRetryable(classifyNeo4j(errors.New("boom"))))
}

// newNeo4jTestRepo connects to NEO4J_URI and skips when it is unset.
func newNeo4jTestRepo(t *testing.T) (*Neo4jAccountRepository, neo4j.DriverWithContext) {
	t.Helper()
	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		t.Skip("NEO4J_URI not set")
	}
	ctx := context.Background()
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(os.Getenv("NEO4J_USER"), os.Getenv("NEO4J_PASSWORD"), ""))
	require.NoError(t, err)
	require.NoError(t, driver.VerifyConnectivity(ctx))
	t.Cleanup(func() { driver.Close(context.Background()) })

	repo := NewNeo4jAccountRepository(driver)
	require.NoError(t, repo.EnsureSchema(ctx))
	return repo, driver
}

func seedNeo4jAccounts(t *testing.T, driver neo4j.DriverWithContext, ids ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := neo4j.ExecuteQuery(ctx, driver,
		`UNWIND $ids AS id MERGE (a:Account {id: id})
		 SET a.followers = [], a.following = [], a.follower_count = 0, a.following_count = 0, a.version = 0`,
		map[string]any{"ids": ids}, neo4j.EagerResultTransformer)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = neo4j.ExecuteQuery(context.Background(), driver,
			`MATCH (a:Account) WHERE a.id IN $ids DETACH DELETE a`,
			map[string]any{"ids": ids}, neo4j.EagerResultTransformer)
	})
}

func TestNeo4jAccountRepository_ConcurrentFollowCountsOnce(t *testing.T) {
	repo, driver := newNeo4jTestRepo(t)
	ctx := context.Background()
	suffix := fmt.Sprint(time.Now().UnixNano())
	actor, target := "actor-"+suffix, "target-"+suffix
	seedNeo4jAccounts(t, driver, actor, target)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for attempt := 0; attempt < 50; attempt++ {
				var added bool
				_, _, err := repo.UpdatePair(ctx, actor, target, func(a, b *domain.Account) (bool, error) {
					added = false
					if a.Following.Has(target) {
						return false, nil
					}
					a.Following = a.Following.Add(target)
					a.FollowingCount++
					b.Followers = b.Followers.Add(actor)
					b.FollowerCount++
					added = true
					return true, nil
				})
				if IsRetryable(err) {
					continue
				}
				assert.NoError(t, err)
				if added {
					mu.Lock()
					created++
					mu.Unlock()
				}
				return
			}
			t.Error("follow did not settle")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	got, err := repo.Get(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.FollowerCount)
	assert.True(t, got.Consistent())
}
