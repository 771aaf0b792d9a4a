package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/unipost/unipost/internal/auth"
	"github.com/unipost/unipost/internal/pipeline"
	"github.com/unipost/unipost/internal/search"
	"github.com/unipost/unipost/internal/session"
	"github.com/unipost/unipost/internal/store"
)

type fakeGenerator struct {
	err error
}

func (f *fakeGenerator) Generate(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{
		Post: &store.Post{
			ID:          "p1",
			Description: req.Topic,
			Content:     "Generated text.",
			Platform:    req.Platform,
			Model:       "gpt-4o-mini",
			CreatedBy:   req.UserID,
			CreatedAt:   time.Now(),
		},
	}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	posts    map[string]*store.Post
	approved map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{posts: map[string]*store.Post{}, approved: map[string]bool{}}
}

func (f *fakeStore) GetPost(_ context.Context, id string) (*store.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) ListPosts(_ context.Context, createdBy string, _ int) ([]store.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Post
	for _, p := range f.posts {
		if createdBy == "" || p.CreatedBy == createdBy {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) SetApproval(_ context.Context, id string, approved bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return store.ErrNotFound
	}
	p.IsApproved = sql.NullBool{Valid: true, Bool: approved}
	f.approved[id] = approved
	return nil
}

func (f *fakeStore) GetStats(_ context.Context) (*store.Stats, error) {
	return &store.Stats{GeneratedTexts: 7, ApprovedTexts: 3, DeniedTexts: 1}, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
	done  chan struct{}
}

func (f *fakeNotifier) Enabled() bool { return true }

func (f *fakeNotifier) NotifyApproval(_ context.Context, postID string, approved bool) error {
	f.mu.Lock()
	f.calls = append(f.calls, postID)
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return nil
}

func newTestServer(t *testing.T, gen Generator, posts PostStore, notifier Notifier) (http.Handler, *auth.JWTManager) {
	t.Helper()
	mgr := auth.NewJWTManager("test-key", time.Hour)
	mw := auth.NewMiddleware(auth.NewService(nil), mgr, false)
	h := NewHandler(gen, posts, nil, notifier, zaptest.NewLogger(t))
	srv := NewServer(h, mw, NewRateLimiter(100, 100), nil, 0, 0, zaptest.NewLogger(t))
	return srv.Routes(), mgr
}

func authedRequest(t *testing.T, mgr *auth.JWTManager, role, method, path string, body []byte) *http.Request {
	t.Helper()
	token, err := mgr.GenerateToken("u1", "alice", role)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestGenerateEndpoint(t *testing.T) {
	routes, mgr := newTestServer(t, &fakeGenerator{}, newFakeStore(), nil)

	body := []byte(`{"topic":"coffee tips","platform":"FCB"}`)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, authedRequest(t, mgr, auth.RoleUser, http.MethodPost, "/api/v1/posts/generate", body))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		Post struct {
			ID      string `json:"id"`
			Content string `json:"content"`
			Status  string `json:"status"`
		} `json:"post"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "p1", resp.Post.ID)
	assert.Equal(t, "Generated text.", resp.Post.Content)
	assert.Equal(t, "pending", resp.Post.Status)
}

func TestGenerateEndpointNoContext(t *testing.T) {
	routes, mgr := newTestServer(t, &fakeGenerator{err: search.ErrNoContext}, newFakeStore(), nil)

	body := []byte(`{"topic":"obscure","platform":"FCB"}`)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, authedRequest(t, mgr, auth.RoleUser, http.MethodPost, "/api/v1/posts/generate", body))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "no context found")
}

func TestGenerateEndpointEmptyTopic(t *testing.T) {
	routes, mgr := newTestServer(t, &fakeGenerator{err: pipeline.ErrEmptyTopic}, newFakeStore(), nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, authedRequest(t, mgr, auth.RoleUser, http.MethodPost, "/api/v1/posts/generate", []byte(`{"topic":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateEndpointUnauthenticated(t *testing.T) {
	routes, _ := newTestServer(t, &fakeGenerator{}, newFakeStore(), nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/posts/generate", bytes.NewReader([]byte(`{}`))))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetPostEndpoint(t *testing.T) {
	fs := newFakeStore()
	fs.posts["p1"] = &store.Post{ID: "p1", Description: "t", Content: "c", CreatedBy: "u1"}
	routes, mgr := newTestServer(t, &fakeGenerator{}, fs, nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, authedRequest(t, mgr, auth.RoleUser, http.MethodGet, "/api/v1/posts/p1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, authedRequest(t, mgr, auth.RoleUser, http.MethodGet, "/api/v1/posts/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApproveEndpoint(t *testing.T) {
	fs := newFakeStore()
	fs.posts["p1"] = &store.Post{ID: "p1", CreatedBy: "u1"}
	notifier := &fakeNotifier{done: make(chan struct{})}
	routes, mgr := newTestServer(t, &fakeGenerator{}, fs, notifier)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, authedRequest(t, mgr, auth.RoleEditor, http.MethodPost, "/api/v1/posts/p1/approve", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, fs.approved["p1"])

	select {
	case <-notifier.done:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not dispatched")
	}
}

func TestDenyEndpoint(t *testing.T) {
	fs := newFakeStore()
	fs.posts["p1"] = &store.Post{ID: "p1", CreatedBy: "u1"}
	routes, mgr := newTestServer(t, &fakeGenerator{}, fs, nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, authedRequest(t, mgr, auth.RoleEditor, http.MethodPost, "/api/v1/posts/p1/deny", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	v, ok := fs.approved["p1"]
	require.True(t, ok)
	assert.False(t, v)
}

func TestApproveRequiresEditorRole(t *testing.T) {
	fs := newFakeStore()
	fs.posts["p1"] = &store.Post{ID: "p1"}
	routes, mgr := newTestServer(t, &fakeGenerator{}, fs, nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, authedRequest(t, mgr, auth.RoleUser, http.MethodPost, "/api/v1/posts/p1/approve", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	routes, mgr := newTestServer(t, &fakeGenerator{}, newFakeStore(), nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, authedRequest(t, mgr, auth.RoleAdmin, http.MethodGet, "/api/v1/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats store.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 7, stats.GeneratedTexts)

	// non-admins cannot read statistics
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, authedRequest(t, mgr, auth.RoleEditor, http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimiting(t *testing.T) {
	mgr := auth.NewJWTManager("test-key", time.Hour)
	mw := auth.NewMiddleware(auth.NewService(nil), mgr, false)
	h := NewHandler(&fakeGenerator{}, newFakeStore(), nil, nil, zaptest.NewLogger(t))
	srv := NewServer(h, mw, NewRateLimiter(1, 1), nil, 0, 0, zaptest.NewLogger(t))
	routes := srv.Routes()

	body := []byte(`{"topic":"coffee","platform":"FCB"}`)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, authedRequest(t, mgr, auth.RoleUser, http.MethodPost, "/api/v1/posts/generate", body))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, authedRequest(t, mgr, auth.RoleUser, http.MethodPost, "/api/v1/posts/generate", body))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestSessionEndpoints(t *testing.T) {
	mgr := auth.NewJWTManager("test-key", time.Hour)
	mw := auth.NewMiddleware(auth.NewService(nil), mgr, false)
	sessions := &fakeSessions{store: map[string]*session.Session{}}
	h := NewHandler(&fakeGenerator{}, newFakeStore(), sessions, nil, zaptest.NewLogger(t))
	srv := NewServer(h, mw, NewRateLimiter(100, 100), nil, 0, 0, zaptest.NewLogger(t))
	routes := srv.Routes()

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, authedRequest(t, mgr, auth.RoleUser, http.MethodPost, "/api/v1/sessions", nil))
	require.Equal(t, http.StatusCreated, rec.Code)

	var sess session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, "u1", sess.UserID)

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, authedRequest(t, mgr, auth.RoleUser, http.MethodGet, "/api/v1/sessions/"+sess.ID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, authedRequest(t, mgr, auth.RoleUser, http.MethodGet, "/api/v1/sessions/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeSessions struct {
	mu    sync.Mutex
	store map[string]*session.Session
}

func (f *fakeSessions) CreateSession(_ context.Context, userID string, metadata map[string]string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &session.Session{ID: "s1", UserID: userID, Metadata: metadata, ExpiresAt: time.Now().Add(time.Hour)}
	f.store[s.ID] = s
	return s, nil
}

func (f *fakeSessions) GetSession(_ context.Context, id string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.store[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSessions) RecordGeneration(_ context.Context, id string, ref session.PostRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.store[id]
	if !ok {
		return session.ErrSessionNotFound
	}
	s.RecentPosts = append(s.RecentPosts, ref)
	return nil
}
