package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/repository"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/service"
	"github.com/weiawesome/wes-io-live/social-graph-engine/pkg/database"
	"github.com/weiawesome/wes-io-live/social-graph-engine/pkg/jwt"
	"github.com/weiawesome/wes-io-live/social-graph-engine/pkg/middleware"
)

type fakeCountStore struct {
	mu          sync.Mutex
	entries     map[string]domain.Counts
	accessed    []string
	invalidated []string
}

func newFakeCountStore() *fakeCountStore {
	return &fakeCountStore{entries: make(map[string]domain.Counts)}
}

func (f *fakeCountStore) GetCounts(_ context.Context, id string) (domain.Counts, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.entries[id]
	return c, ok, nil
}

func (f *fakeCountStore) SetCounts(_ context.Context, c domain.Counts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[c.AccountID] = c
	return nil
}

func (f *fakeCountStore) Invalidate(_ context.Context, stale ...domain.Counts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range stale {
		delete(f.entries, c.AccountID)
		f.invalidated = append(f.invalidated, c.AccountID)
	}
	return nil
}

func (f *fakeCountStore) RecordAccess(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessed = append(f.accessed, id)
	return nil
}

func (f *fakeCountStore) GetTopHotKeys(context.Context, int64) ([]string, error) { return nil, nil }
func (f *fakeCountStore) ResetHotKeyScores(context.Context) error                { return nil }
func (f *fakeCountStore) Close() error                                           { return nil }

type testEnv struct {
	router   *gin.Engine
	repo     *repository.MemoryAccountRepository
	cache    *fakeCountStore
	verifier *jwt.Verifier
}

func newTestEnv(t *testing.T, ids ...string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryAccountRepository()
	for _, id := range ids {
		repo.Create(id)
	}
	svc := service.NewSocialGraphService(repo, nil, service.Options{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})

	verifier, err := jwt.NewVerifier("test-secret", "")
	require.NoError(t, err)

	cache := newFakeCountStore()
	r := gin.New()
	NewHandler(svc, cache, middleware.NewAuthMiddleware(verifier)).RegisterRoutes(r)

	return &testEnv{router: r, repo: repo, cache: cache, verifier: verifier}
}

func (e *testEnv) token(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	tok, err := e.verifier.Issue(userID, roles, time.Hour)
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decodeResult(t *testing.T, env envelope) service.Result {
	t.Helper()
	var res service.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	return res
}

func TestFollowAndUnfollow(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	tok := env.token(t, "alice")

	code, body := env.do(t, http.MethodPost, "/api/v1/users/bob/follow", tok, nil)
	require.Equal(t, http.StatusCreated, code)
	res := decodeResult(t, body)
	assert.Equal(t, service.OutcomeFollowed, res.Outcome)
	assert.Equal(t, int64(1), res.Actor.Following)
	assert.Equal(t, int64(1), res.Target.Followers)
	assert.ElementsMatch(t, []string{"alice", "bob"}, env.cache.invalidated)

	code, body = env.do(t, http.MethodPost, "/api/v1/users/bob/follow", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, service.OutcomeAlreadyFollowing, decodeResult(t, body).Outcome)
	assert.Len(t, env.cache.invalidated, 2, "no-op outcomes leave the cache alone")

	code, body = env.do(t, http.MethodDelete, "/api/v1/users/bob/follow", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, service.OutcomeUnfollowed, decodeResult(t, body).Outcome)

	code, body = env.do(t, http.MethodDelete, "/api/v1/users/bob/follow", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, service.OutcomeNotFollowing, decodeResult(t, body).Outcome)
}

func TestFollow_Errors(t *testing.T) {
	env := newTestEnv(t, "alice", "bob", "carol")
	env.repo.Put(&domain.Account{ID: "dave", Following: database.NewIDSet("carol"), FollowingCount: 1})

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
		code   string
	}{
		{"no token", http.MethodPost, "/api/v1/users/bob/follow", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"garbage token", http.MethodPost, "/api/v1/users/bob/follow", "nope", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"self follow", http.MethodPost, "/api/v1/users/alice/follow", env.token(t, "alice"), http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown target", http.MethodPost, "/api/v1/users/ghost/follow", env.token(t, "alice"), http.StatusNotFound, "NOT_FOUND"},
		{"acting for someone else", http.MethodPut, "/api/v1/users/bob/following/carol", env.token(t, "alice"), http.StatusForbidden, "FORBIDDEN"},
		{"edge mismatch", http.MethodPost, "/api/v1/users/carol/follow", env.token(t, "dave"), http.StatusInternalServerError, "INVARIANT_VIOLATION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := env.do(t, tt.method, tt.path, tt.token, nil)
			assert.Equal(t, tt.status, code)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.False(t, body.Success)
		})
	}
}

func TestFollowAs_Admin(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")

	code, body := env.do(t, http.MethodPut, "/api/v1/users/alice/following/bob", env.token(t, "ops", "admin"), nil)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, service.OutcomeFollowed, decodeResult(t, body).Outcome)

	code, body = env.do(t, http.MethodDelete, "/api/v1/users/alice/following/bob", env.token(t, "alice"), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, service.OutcomeUnfollowed, decodeResult(t, body).Outcome)
}

func TestGetCounts_CacheFill(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	_, _ = env.do(t, http.MethodPost, "/api/v1/users/bob/follow", env.token(t, "alice"), nil)

	code, body := env.do(t, http.MethodGet, "/api/v1/users/bob/counts", "", nil)
	require.Equal(t, http.StatusOK, code)
	var counts domain.Counts
	require.NoError(t, json.Unmarshal(body.Data, &counts))
	assert.Equal(t, domain.Counts{AccountID: "bob", Followers: 1}, counts)

	cached, ok, _ := env.cache.GetCounts(context.Background(), "bob")
	require.True(t, ok)
	assert.Equal(t, int64(1), cached.Followers)
	assert.Equal(t, []string{"bob"}, env.cache.accessed)

	// Served from cache even though the store has moved on.
	env.repo.Put(&domain.Account{ID: "bob", Followers: database.NewIDSet("alice", "x"), FollowerCount: 2})
	_, body = env.do(t, http.MethodGet, "/api/v1/users/bob/counts", "", nil)
	require.NoError(t, json.Unmarshal(body.Data, &counts))
	assert.Equal(t, int64(1), counts.Followers)

	code, body = env.do(t, http.MethodGet, "/api/v1/users/ghost/counts", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
}

func TestGetFollowingStatus(t *testing.T) {
	env := newTestEnv(t, "alice", "bob", "carol")
	_, _ = env.do(t, http.MethodPost, "/api/v1/users/bob/follow", env.token(t, "alice"), nil)

	req := map[string][]string{"target_ids": {"bob", "carol", "alice"}}

	code, body := env.do(t, http.MethodPost, "/api/v1/following/status", env.token(t, "alice"), req)
	require.Equal(t, http.StatusOK, code)
	var out struct {
		Results map[string]bool `json:"results"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &out))
	assert.Equal(t, map[string]bool{"bob": true, "carol": false, "alice": false}, out.Results)

	code, body = env.do(t, http.MethodPost, "/api/v1/following/status", "", req)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body.Data, &out))
	assert.Equal(t, map[string]bool{"bob": false, "carol": false, "alice": false}, out.Results)

	code, _ = env.do(t, http.MethodPost, "/api/v1/following/status", "bad", req)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = env.do(t, http.MethodPost, "/api/v1/following/status", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "BAD_REQUEST", body.Error.Code)
}

func TestAuditAccount_AdminOnly(t *testing.T) {
	env := newTestEnv(t, "alice")
	env.repo.Put(&domain.Account{ID: "bob", Followers: database.NewIDSet("gone"), FollowerCount: 1})

	code, _ := env.do(t, http.MethodPost, "/api/v1/admin/accounts/bob/audit", env.token(t, "alice"), nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body := env.do(t, http.MethodPost, "/api/v1/admin/accounts/bob/audit?repair=true", env.token(t, "ops", "admin"), nil)
	require.Equal(t, http.StatusOK, code)
	var report service.AuditReport
	require.NoError(t, json.Unmarshal(body.Data, &report))
	assert.Equal(t, "bob", report.AccountID)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, 1, report.Repaired)

	code, _ = env.do(t, http.MethodPost, "/api/v1/admin/accounts/ghost/audit", env.token(t, "ops", "admin"), nil)
	assert.Equal(t, http.StatusNotFound, code)
}
