package repository_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/repository"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/service"
	"github.com/weiawesome/wes-io-live/social-graph-engine/pkg/database"
)

// newFileDB opens a sqlite file with several connections so transactions
// really overlap.
func newFileDB(t *testing.T, ids ...string) *gorm.DB {
	t.Helper()
	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     filepath.Join(t.TempDir(), "graph.db") + "?_busy_timeout=5000",
		MaxOpenConns: 8,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, &domain.AccountModel{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	for _, id := range ids {
		require.NoError(t, db.Create(&domain.AccountModel{ID: id}).Error)
	}
	return db
}

func newSQLService(db *gorm.DB) (service.SocialGraphService, *repository.GormAccountRepository) {
	repo := repository.NewGormAccountRepository(db)
	return service.NewSocialGraphService(repo, nil, service.Options{
		MaxAttempts:    100,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	}), repo
}

func TestGormConcurrentDuplicateFollow(t *testing.T) {
	ctx := context.Background()
	svc, repo := newSQLService(newFileDB(t, "a", "b"))

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[service.Outcome]int{}
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Follow(ctx, "a", "b")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, map[service.Outcome]int{
		service.OutcomeFollowed:         1,
		service.OutcomeAlreadyFollowing: callers - 1,
	}, outcomes)

	b, err := repo.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.FollowerCount)
	assert.Equal(t, []string{"a"}, []string(b.Followers))
	assert.True(t, b.Consistent())

	a, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.FollowingCount)
	assert.True(t, a.Consistent())
}

func TestGormConcurrentReversePair(t *testing.T) {
	ctx := context.Background()
	svc, repo := newSQLService(newFileDB(t, "a", "b"))

	var wg sync.WaitGroup
	for _, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
		wg.Add(1)
		go func(actor, target string) {
			defer wg.Done()
			res, err := svc.Follow(ctx, actor, target)
			if assert.NoError(t, err) {
				assert.Equal(t, service.OutcomeFollowed, res.Outcome)
			}
		}(pair[0], pair[1])
	}
	wg.Wait()

	for _, id := range []string{"a", "b"} {
		acc, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), acc.FollowerCount, id)
		assert.Equal(t, int64(1), acc.FollowingCount, id)
		assert.True(t, acc.Consistent(), id)
	}
}
