package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poetry-feed/pkg/bundled"
	"poetry-feed/pkg/domain"
	"poetry-feed/pkg/feed"
	"poetry-feed/pkg/fetcher"
	"poetry-feed/pkg/metrics"
	"poetry-feed/pkg/platform"
)

const testEndpoint = "https://poems.example.com/random"

type memoryGetter struct {
	n atomic.Int64
}

func (g *memoryGetter) Get(ctx context.Context, _ string) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := g.n.Add(1)
	rec := httptest.NewRecorder()
	fmt.Fprintf(rec, `{"id":%d,"title":"t","plainText":"a\nb","poet":{"id":1,"name":"سعدی"}}`, id)
	return rec.Result(), nil
}

type fakeAuth struct{}

func (fakeAuth) SignUp(_ context.Context, email, _, name string) (*domain.User, error) {
	if email == "taken@example.com" {
		return nil, platform.ErrEmailExists
	}
	return &domain.User{ID: "u-new", Email: email, Name: name}, nil
}

func (fakeAuth) SignIn(context.Context, string, string) (*platform.Session, error) {
	return &platform.Session{AccessToken: "good", UserID: "u-1"}, nil
}

func (fakeAuth) RequestOTP(context.Context, string) error { return nil }

func (fakeAuth) VerifyOTP(context.Context, string, string) (*platform.Session, error) {
	return &platform.Session{AccessToken: "good", UserID: "u-1"}, nil
}

func (fakeAuth) UserFromToken(_ context.Context, token string) (*domain.User, error) {
	if token != "good" {
		return nil, platform.ErrUnauthorized
	}
	return &domain.User{ID: "u-1", Name: "Reader"}, nil
}

// favoritesStore keeps favorites in memory; lists are not supported.
type favoritesStore struct {
	mu        sync.Mutex
	favorites map[int64]domain.Favorite
}

func (f *favoritesStore) GetProfile(context.Context, string) (*domain.Profile, error) {
	return nil, platform.ErrNotFound
}
func (f *favoritesStore) UpsertProfile(context.Context, domain.Profile) error { return nil }
func (f *favoritesStore) ListFavorites(context.Context, string) ([]domain.Favorite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Favorite{}
	for _, fav := range f.favorites {
		out = append(out, fav)
	}
	return out, nil
}
func (f *favoritesStore) InsertFavorite(_ context.Context, fav domain.Favorite) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.favorites[fav.ID]; ok {
		return platform.ErrDuplicate
	}
	f.favorites[fav.ID] = fav
	return nil
}
func (f *favoritesStore) DeleteFavorite(_ context.Context, _ string, poemID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.favorites, poemID)
	return nil
}
func (f *favoritesStore) HasFavorite(_ context.Context, _ string, poemID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.favorites[poemID]
	return ok, nil
}
func (f *favoritesStore) ListLists(context.Context, string) ([]domain.PoemList, error) {
	return []domain.PoemList{}, nil
}
func (f *favoritesStore) GetList(context.Context, string, int64) (*domain.PoemList, error) {
	return nil, platform.ErrNotFound
}
func (f *favoritesStore) InsertList(_ context.Context, l domain.PoemList) (*domain.PoemList, error) {
	l.ID = 1
	return &l, nil
}
func (f *favoritesStore) DeleteList(context.Context, string, int64) error { return platform.ErrNotFound }
func (f *favoritesStore) InsertListItem(context.Context, int64, domain.Poem) error {
	return nil
}
func (f *favoritesStore) DeleteListItem(context.Context, int64, int64) error { return nil }

type testServer struct {
	handler http.Handler
	manager *feed.Manager
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, cfg Config, withPlatform bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := metrics.New()
	settings := feed.DefaultSettings()
	manager := feed.NewManager(feed.ManagerConfig{
		Settings:  settings,
		Endpoints: map[domain.Language]string{domain.Persian: testEndpoint},
		Client:    &memoryGetter{},
		Pool:      bundled.MustDefault(),
		FetcherOptions: []fetcher.Option{
			fetcher.WithSleep(func(context.Context, time.Duration) error { return nil }),
		},
		Recorder: m,
	})
	t.Cleanup(manager.CloseAll)

	deps := Deps{Sessions: manager, Metrics: m.Handler(), Observer: m}
	if withPlatform {
		deps.Platform = platform.NewService(fakeAuth{}, &favoritesStore{favorites: map[int64]domain.Favorite{}})
	}
	srv := NewServer(cfg, deps)
	return &testServer{handler: srv.Handler(), manager: manager, metrics: m}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
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
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Config{}, false)

	rec := ts.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["platform"])
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t, Config{}, false)

	rec := ts.do(t, http.MethodPost, "/api/v1/sessions", map[string]string{"language": "fa"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	snap := decode[feed.Snapshot](t, rec)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, domain.Persian, snap.Language)
	assert.Len(t, snap.Poems, 5)
	assert.False(t, snap.Fallback)

	base := "/api/v1/sessions/" + snap.ID

	rec = ts.do(t, http.MethodPost, base+"/next", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[feed.Snapshot](t, rec).Cursor)

	rec = ts.do(t, http.MethodPost, base+"/prev", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[feed.Snapshot](t, rec).Cursor)

	rec = ts.do(t, http.MethodPost, base+"/navigate", map[string]int{"index": 99}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, base+"/navigate", map[string]int{"index": 1}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[feed.Snapshot](t, rec).Cursor)

	rec = ts.do(t, http.MethodPut, base+"/language", map[string]string{"language": "en"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap = decode[feed.Snapshot](t, rec)
	assert.Equal(t, domain.English, snap.Language)
	assert.True(t, snap.Fallback, "english has no remote source")
	assert.Zero(t, snap.Cursor)

	rec = ts.do(t, http.MethodPut, base+"/language", map[string]string{"language": "de"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, base, nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, base, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSession_DefaultLanguageWithoutBody(t *testing.T) {
	ts := newTestServer(t, Config{}, false)

	rec := ts.do(t, http.MethodPost, "/api/v1/sessions", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, domain.Persian, decode[feed.Snapshot](t, rec).Language)
}

func TestCreateSession_RateLimited(t *testing.T) {
	ts := newTestServer(t, Config{SessionRPS: 0.001, SessionBurst: 1}, false)

	rec := ts.do(t, http.MethodPost, "/api/v1/sessions", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/sessions", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1, ts.manager.Len())
}

func TestPlatformRoutesDisabled(t *testing.T) {
	ts := newTestServer(t, Config{}, false)

	rec := ts.do(t, http.MethodGet, "/api/v1/favorites", nil, "good")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthRoutes(t *testing.T) {
	ts := newTestServer(t, Config{}, true)

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/signup",
		map[string]string{"email": "reader@example.com", "password": "secret123", "name": "Reader"}, "")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/signup",
		map[string]string{"email": "taken@example.com", "password": "secret123"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/signup", map[string]string{"email": "x@example.com"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/signin",
		map[string]string{"email": "reader@example.com", "password": "secret123"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "good", decode[platform.Session](t, rec).AccessToken)

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/otp", map[string]string{"email": "reader@example.com"}, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/verify",
		map[string]string{"email": "reader@example.com", "code": "123456"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFavoritesRoutes(t *testing.T) {
	ts := newTestServer(t, Config{}, true)
	poem := domain.Poem{ID: 42, Title: "غزل", Text: "بیت", Poet: domain.Poet{ID: 2, Name: "حافظ"}}

	rec := ts.do(t, http.MethodGet, "/api/v1/favorites", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/v1/favorites", nil, "expired")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/favorites", poem, "good")
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/v1/favorites", poem, "good")
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/v1/favorites", domain.Poem{Title: "no id"}, "good")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/favorites/42/status", nil, "good")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["favorited"])

	rec = ts.do(t, http.MethodGet, "/api/v1/favorites", nil, "good")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]domain.Favorite](t, rec)["favorites"], 1)

	rec = ts.do(t, http.MethodDelete, "/api/v1/favorites/42", nil, "good")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/v1/favorites/abc", nil, "good")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProfileAndListRoutes(t *testing.T) {
	ts := newTestServer(t, Config{}, true)

	rec := ts.do(t, http.MethodGet, "/api/v1/profile", nil, "good")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Reader", decode[domain.Profile](t, rec).Name)

	rec = ts.do(t, http.MethodPut, "/api/v1/profile", map[string]string{"name": "Shirin"}, "good")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Shirin", decode[domain.Profile](t, rec).Name)

	rec = ts.do(t, http.MethodPost, "/api/v1/lists", map[string]string{"name": "Night"}, "good")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/v1/lists/9", nil, "good")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/lists/9/poems", domain.Poem{ID: 1}, "good")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, Config{}, false)
	ts.do(t, http.MethodGet, "/health", nil, "")

	rec := ts.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `poetry_http_requests_total{method="GET",route="/health",status="200"} 1`)
}
