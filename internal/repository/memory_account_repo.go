package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
)

// MemoryAccountRepository is an in-process AccountRepository with the same
// optimistic semantics as the SQL adapter: mutations run on snapshots and
// commit only if every record read is still at the version that was read.
// It backs local development and tests.
type MemoryAccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account

	// beforeCommit runs after the mutation and before the version check.
	beforeCommit func()
}

// NewMemoryAccountRepository creates an empty store.
func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{accounts: make(map[string]*domain.Account)}
}

// SetBeforeCommit installs a hook that runs between the read and the commit
// of every write. Used for fault injection.
func (r *MemoryAccountRepository) SetBeforeCommit(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeCommit = fn
}

// Create adds an empty account. It is a no-op if the account exists.
func (r *MemoryAccountRepository) Create(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[id]; !ok {
		r.accounts[id] = &domain.Account{ID: id, UpdatedAt: time.Now()}
	}
}

// Put stores acc as-is, overwriting any existing record. Used to seed
// arbitrary (including inconsistent) state.
func (r *MemoryAccountRepository) Put(acc *domain.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[acc.ID] = acc.Clone()
}

// Delete removes an account without touching references to it, the way
// the identity subsystem does.
func (r *MemoryAccountRepository) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, id)
}

// Get returns a copy of the account.
func (r *MemoryAccountRepository) Get(ctx context.Context, id string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.accounts[id]
	if !ok {
		return nil, &AccountNotFoundError{ID: id}
	}
	return acc.Clone(), nil
}

// UpdatePair implements AccountRepository.
func (r *MemoryAccountRepository) UpdatePair(ctx context.Context, firstID, secondID string, fn PairMutation) (*domain.Account, *domain.Account, error) {
	first, second, err := r.getPair(ctx, firstID, secondID)
	if err != nil {
		return nil, nil, err
	}
	readFirst, readSecond := first.Version, second.Version
	origFirst, origSecond := first.Clone(), second.Clone()

	changed, err := fn(first, second)
	if err != nil {
		return nil, nil, err
	}
	if !changed {
		return origFirst, origSecond, nil
	}

	r.runHook()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkVersion(firstID, readFirst); err != nil {
		return nil, nil, err
	}
	if err := r.checkVersion(secondID, readSecond); err != nil {
		return nil, nil, err
	}
	first.Version, second.Version = readFirst+1, readSecond+1
	now := time.Now()
	first.UpdatedAt, second.UpdatedAt = now, now
	r.accounts[firstID] = first.Clone()
	r.accounts[secondID] = second.Clone()
	return first, second, nil
}

// Update implements AccountRepository.
func (r *MemoryAccountRepository) Update(ctx context.Context, id string, fn Mutation) (*domain.Account, error) {
	acc, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	read := acc.Version
	orig := acc.Clone()

	changed, err := fn(acc)
	if err != nil {
		return nil, err
	}
	if !changed {
		return orig, nil
	}

	r.runHook()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkVersion(id, read); err != nil {
		return nil, err
	}
	acc.Version = read + 1
	acc.UpdatedAt = time.Now()
	r.accounts[id] = acc.Clone()
	return acc, nil
}

// FindReferencing implements AccountRepository.
func (r *MemoryAccountRepository) FindReferencing(ctx context.Context, id string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for accID, acc := range r.accounts {
		if accID != id && (acc.Followers.Has(id) || acc.Following.Has(id)) {
			ids = append(ids, accID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// getPair reads both records under one lock so they form a consistent snapshot.
func (r *MemoryAccountRepository) getPair(ctx context.Context, firstID, secondID string) (*domain.Account, *domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	first, ok := r.accounts[firstID]
	if !ok {
		return nil, nil, &AccountNotFoundError{ID: firstID}
	}
	second, ok := r.accounts[secondID]
	if !ok {
		return nil, nil, &AccountNotFoundError{ID: secondID}
	}
	return first.Clone(), second.Clone(), nil
}

func (r *MemoryAccountRepository) runHook() {
	r.mu.RLock()
	hook := r.beforeCommit
	r.mu.RUnlock()
	if hook != nil {
		hook()
	}
}

// checkVersion must be called with r.mu held.
func (r *MemoryAccountRepository) checkVersion(id string, version int64) error {
	cur, ok := r.accounts[id]
	if !ok || cur.Version != version {
		return fmt.Errorf("%w: account %s moved past version %d", ErrConflict, id, version)
	}
	return nil
}

var _ AccountRepository = (*MemoryAccountRepository)(nil)
