package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/social-graph-engine/pkg/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     ":memory:",
		MaxOpenConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, &domain.AccountModel{}, &domain.NotificationModel{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func seedAccounts(t *testing.T, db *gorm.DB, models ...*domain.AccountModel) {
	t.Helper()
	for _, m := range models {
		require.NoError(t, db.Create(m).Error)
	}
}

func TestGormAccountRepository_UpdatePair(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedAccounts(t, db, &domain.AccountModel{ID: "u1"}, &domain.AccountModel{ID: "u2"})
	repo := NewGormAccountRepository(db)

	first, second, err := repo.UpdatePair(ctx, "u2", "u1", addEdge)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)
	assert.Equal(t, int64(1), second.Version)

	u2, err := repo.Get(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, u2.Following.Has("u1"))
	assert.Equal(t, int64(1), u2.FollowingCount)

	u1, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u1.Followers.Has("u2"))
	assert.Equal(t, int64(1), u1.FollowerCount)
	assert.True(t, u1.Consistent())
}

func TestGormAccountRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedAccounts(t, db, &domain.AccountModel{ID: "u1"})
	repo := NewGormAccountRepository(db)

	_, _, err := repo.UpdatePair(ctx, "u1", "ghost", addEdge)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = repo.Get(ctx, "ghost")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestGormAccountRepository_SoftDeletedIsNotFound(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedAccounts(t, db, &domain.AccountModel{ID: "u1"})
	require.NoError(t, db.Delete(&domain.AccountModel{ID: "u1"}).Error)

	_, err := NewGormAccountRepository(db).Get(ctx, "u1")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestGormAccountRepository_StaleVersionConflicts(t *testing.T) {
	db := newTestDB(t)
	seedAccounts(t, db, &domain.AccountModel{ID: "u1", Version: 3})

	acc := &domain.Account{ID: "u1", FollowerCount: 1, Followers: database.NewIDSet("u2")}
	err := casUpdate(db, acc, 2)
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, casUpdate(db, acc, 3))
	assert.Equal(t, int64(4), acc.Version)
}

func TestGormAccountRepository_FindReferencing(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedAccounts(t, db,
		&domain.AccountModel{ID: "a", Following: database.NewIDSet("x", "xy"), FollowingCount: 2},
		&domain.AccountModel{ID: "b", Followers: database.NewIDSet("x"), FollowerCount: 1},
		&domain.AccountModel{ID: "c", Followers: database.NewIDSet("xy"), FollowerCount: 1},
	)

	ids, err := NewGormAccountRepository(db).FindReferencing(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestGormAccountRepository_FindReferencingAwkwardIDs(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedAccounts(t, db,
		&domain.AccountModel{ID: "a", Following: database.NewIDSet(`q"id`, "u_1"), FollowingCount: 2},
		&domain.AccountModel{ID: "b", Followers: database.NewIDSet(`back\\slash`, "50%"), FollowerCount: 2},
		&domain.AccountModel{ID: "c", Followers: database.NewIDSet("uX1", "50x"), FollowerCount: 2},
		&domain.AccountModel{ID: "d", Following: database.NewIDSet("<tag>"), FollowingCount: 1},
	)
	repo := NewGormAccountRepository(db)

	tests := []struct {
		id   string
		want []string
	}{
		{`q"id`, []string{"a"}},
		{`back\\slash`, []string{"b"}},
		{"u_1", []string{"a"}},
		{"50%", []string{"b"}},
		{"<tag>", []string{"d"}},
		{"q", []string{}},
	}
	for _, tt := range tests {
		ids, err := repo.FindReferencing(ctx, tt.id)
		require.NoError(t, err, tt.id)
		assert.Equal(t, tt.want, ids, tt.id)
	}
}

func TestGormNotificationRepository_Append(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewGormNotificationRepository(db)

	require.NoError(t, repo.Append(ctx, &domain.Notification{
		ID: "n1", Recipient: "u2", Kind: domain.NotificationKindFollow, Actor: "u1",
	}))

	var rows []domain.NotificationModel
	require.NoError(t, db.Where("recipient_id = ?", "u2").Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "u1", rows[0].ActorID)
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify(assertErr("database is locked")), ErrConflict)
	assert.ErrorIs(t, classify(assertErr("ERROR: could not serialize access (SQLSTATE 40001)")), ErrConflict)
	assert.ErrorIs(t, classify(assertErr("dial tcp: connection refused")), ErrUnavailable)
	assert.False(t, IsRetryable(classify(assertErr("syntax error"))))
	assert.NoError(t, classify(nil))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
