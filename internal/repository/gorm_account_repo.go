package repository

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
)

// GormAccountRepository implements AccountRepository on the accounts table.
type GormAccountRepository struct {
	db *gorm.DB
}

// NewGormAccountRepository creates a new GORM-backed account repository.
func NewGormAccountRepository(db *gorm.DB) *GormAccountRepository {
	return &GormAccountRepository{db: db}
}

// Get returns a live account.
func (r *GormAccountRepository) Get(ctx context.Context, id string) (*domain.Account, error) {
	m, err := loadAccount(r.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

// UpdatePair runs fn against both accounts inside one transaction and writes
// them back with a version check on each row.
func (r *GormAccountRepository) UpdatePair(ctx context.Context, firstID, secondID string, fn PairMutation) (*domain.Account, *domain.Account, error) {
	var first, second *domain.Account

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fm, err := loadAccount(tx, firstID)
		if err != nil {
			return err
		}
		sm, err := loadAccount(tx, secondID)
		if err != nil {
			return err
		}

		first, second = fm.ToDomain(), sm.ToDomain()
		changed, err := fn(first, second)
		if err != nil {
			return err
		}
		if !changed {
			first, second = fm.ToDomain(), sm.ToDomain()
			return nil
		}

		// Fixed write order keeps reverse-pair transactions from deadlocking.
		writes := []struct {
			acc      *domain.Account
			expected int64
		}{{first, fm.Version}, {second, sm.Version}}
		if secondID < firstID {
			writes[0], writes[1] = writes[1], writes[0]
		}
		for _, w := range writes {
			if err := casUpdate(tx, w.acc, w.expected); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, classify(err)
	}
	return first, second, nil
}

// Update is the single-row form of UpdatePair.
func (r *GormAccountRepository) Update(ctx context.Context, id string, fn Mutation) (*domain.Account, error) {
	var acc *domain.Account

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := loadAccount(tx, id)
		if err != nil {
			return err
		}
		acc = m.ToDomain()
		changed, err := fn(acc)
		if err != nil {
			return err
		}
		if !changed {
			acc = m.ToDomain()
			return nil
		}
		return casUpdate(tx, acc, m.Version)
	})
	if err != nil {
		return nil, classify(err)
	}
	return acc, nil
}

// FindReferencing scans the JSON set columns for id. LIKE narrows the scan on
// the encoded element; membership is confirmed on the decoded sets.
func (r *GormAccountRepository) FindReferencing(ctx context.Context, id string) ([]string, error) {
	pattern, err := jsonElementPattern(id)
	if err != nil {
		return nil, err
	}

	var rows []domain.AccountModel
	err = r.db.WithContext(ctx).
		Select("id", "followers", "following").
		Where("id <> ? AND (followers LIKE ? ESCAPE '!' OR following LIKE ? ESCAPE '!')", id, pattern, pattern).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, classify(err)
	}

	ids := make([]string, 0, len(rows))
	for _, m := range rows {
		if m.Followers.Has(id) || m.Following.Has(id) {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// jsonElementPattern matches id as a quoted element of a JSON array, encoded
// the same way IDSet.Value writes it.
func jsonElementPattern(id string) (string, error) {
	encoded, err := json.Marshal(id)
	if err != nil {
		return "", err
	}
	return "%" + likeEscaper.Replace(string(encoded)) + "%", nil
}

func loadAccount(tx *gorm.DB, id string) (*domain.AccountModel, error) {
	var m domain.AccountModel
	if err := tx.Where("id = ?", id).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &AccountNotFoundError{ID: id}
		}
		return nil, err
	}
	return &m, nil
}

// casUpdate writes acc only if the row still carries the expected version.
// The soft-delete scope also makes a concurrently deleted row a conflict.
func casUpdate(tx *gorm.DB, acc *domain.Account, expected int64) error {
	result := tx.Model(&domain.AccountModel{}).
		Where("id = ? AND version = ?", acc.ID, expected).
		Updates(map[string]interface{}{
			"followers":       acc.Followers,
			"following":       acc.Following,
			"follower_count":  acc.FollowerCount,
			"following_count": acc.FollowingCount,
			"version":         expected + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: account %s moved past version %d", ErrConflict, acc.ID, expected)
	}
	acc.Version = expected + 1
	return nil
}

// classify maps driver-specific contention and connectivity errors onto
// ErrConflict and ErrUnavailable. Domain errors pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"),
		strings.Contains(msg, "sqlstate 40001"), // serialization_failure
		strings.Contains(msg, "sqlstate 40p01"), // deadlock_detected
		strings.Contains(msg, "could not serialize"),
		strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "lock wait timeout"):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "connection reset"):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

var _ AccountRepository = (*GormAccountRepository)(nil)
