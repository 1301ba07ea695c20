package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/repository"
)

type countingRepo struct {
	*repository.MemoryAccountRepository
	gets int32
}

func (r *countingRepo) Get(ctx context.Context, id string) (*domain.Account, error) {
	atomic.AddInt32(&r.gets, 1)
	return r.MemoryAccountRepository.Get(ctx, id)
}

func TestGetFollowingStatus_SingleRead(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{MemoryAccountRepository: repository.NewMemoryAccountRepository()}
	repo.Create("me")
	candidates := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("c%d", i)
		repo.Create(id)
		candidates = append(candidates, id)
	}
	svc := NewSocialGraphService(repo, nil, testOptions())

	for _, id := range []string{"c1", "c50"} {
		_, err := svc.Follow(ctx, "me", id)
		require.NoError(t, err)
	}
	atomic.StoreInt32(&repo.gets, 0)

	status, err := svc.GetFollowingStatus(ctx, "me", candidates)
	require.NoError(t, err)
	assert.Len(t, status, 100)
	assert.True(t, status["c1"])
	assert.True(t, status["c50"])
	assert.False(t, status["c2"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&repo.gets))
}

func TestGetFollowingStatus_EdgeCases(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, "me", "other")
	_, err := svc.Follow(ctx, "me", "other")
	require.NoError(t, err)

	t.Run("anonymous actor", func(t *testing.T) {
		status, err := svc.GetFollowingStatus(ctx, "", []string{"other", "me"})
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"other": false, "me": false}, status)
	})

	t.Run("actor is never reported as following itself", func(t *testing.T) {
		status, err := svc.GetFollowingStatus(ctx, "me", []string{"me", "other"})
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"me": false, "other": true}, status)
	})

	t.Run("unknown actor", func(t *testing.T) {
		status, err := svc.GetFollowingStatus(ctx, "ghost", []string{"other"})
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"other": false}, status)
	})

	t.Run("unknown candidates", func(t *testing.T) {
		status, err := svc.GetFollowingStatus(ctx, "me", []string{"nobody"})
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"nobody": false}, status)
	})

	t.Run("no candidates", func(t *testing.T) {
		status, err := svc.GetFollowingStatus(ctx, "me", nil)
		require.NoError(t, err)
		assert.Empty(t, status)
	})
}

func TestGetFollowingStatus_CancelledCaller(t *testing.T) {
	svc, _, _ := newTestService(t, "me")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.GetFollowingStatus(ctx, "me", []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}

// stallingRepo takes its snapshot, then parks the first Get until released.
type stallingRepo struct {
	*repository.MemoryAccountRepository
	gets    int32
	parked  chan struct{}
	release chan struct{}
}

func (r *stallingRepo) Get(ctx context.Context, id string) (*domain.Account, error) {
	acc, err := r.MemoryAccountRepository.Get(ctx, id)
	if atomic.AddInt32(&r.gets, 1) == 1 {
		close(r.parked)
		<-r.release
	}
	return acc, err
}

func TestGetFollowingStatus_DoesNotJoinOlderRead(t *testing.T) {
	ctx := context.Background()
	repo := &stallingRepo{
		MemoryAccountRepository: repository.NewMemoryAccountRepository(),
		parked:                  make(chan struct{}),
		release:                 make(chan struct{}),
	}
	repo.Create("me")
	repo.Create("x")
	svc := NewSocialGraphService(repo, nil, testOptions())

	early := make(chan map[string]bool, 1)
	go func() {
		status, err := svc.GetFollowingStatus(ctx, "me", []string{"x"})
		assert.NoError(t, err)
		early <- status
	}()
	<-repo.parked

	_, err := svc.Follow(ctx, "me", "x")
	require.NoError(t, err)

	late := make(chan map[string]bool, 1)
	go func() {
		status, err := svc.GetFollowingStatus(ctx, "me", []string{"x"})
		assert.NoError(t, err)
		late <- status
	}()

	select {
	case status := <-late:
		assert.True(t, status["x"], "a query issued after the follow sees it")
	case <-time.After(2 * time.Second):
		t.Fatal("status query waited on a read that started before it")
	}

	close(repo.release)
	assert.False(t, (<-early)["x"])
	assert.Equal(t, int32(2), atomic.LoadInt32(&repo.gets))
}
