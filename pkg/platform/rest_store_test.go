package platform

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	supabase "github.com/supabase-community/supabase-go"

	"poetry-feed/pkg/domain"
)

func newRESTStore(t *testing.T, h http.HandlerFunc) *RESTStore {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	client, err := supabase.NewClient(srv.URL, "service-key", nil)
	require.NoError(t, err)
	return NewRESTStore(client, nil)
}

func TestRESTStore_ListFavorites(t *testing.T) {
	store := newRESTStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/favorites", r.URL.Path)
		assert.Equal(t, "eq.u-1", r.URL.Query().Get("user_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"user_id":"u-1","poem_id":42,"title":"غزل","text":"بیت","html_text":"بیت",
			"poet_id":2,"poet_name":"حافظ","poet_full_name":"حافظ","favorited_at":"2025-03-21T12:00:00Z"}]`)
	})

	favorites, err := store.ListFavorites(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, favorites, 1)
	assert.Equal(t, int64(42), favorites[0].ID)
	assert.Equal(t, "حافظ", favorites[0].Poet.Name)
	assert.Equal(t, fixedNow, favorites[0].FavoritedAt.UTC())
}

func TestRESTStore_InsertFavoriteDuplicate(t *testing.T) {
	store := newRESTStore(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.True(t, strings.Contains(string(body), `"poem_id":42`))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"code":"23505","message":"duplicate key value violates unique constraint"}`)
	})

	err := store.InsertFavorite(context.Background(), domain.Favorite{Poem: testPoem, UserID: "u-1", FavoritedAt: fixedNow})
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestRESTStore_GetProfileMissing(t *testing.T) {
	store := newRESTStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[]`)
	})

	_, err := store.GetProfile(context.Background(), "u-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRESTStore_DeleteListNotOwned(t *testing.T) {
	store := newRESTStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "eq.7", r.URL.Query().Get("id"))
		assert.Equal(t, "eq.u-2", r.URL.Query().Get("user_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[]`)
	})

	require.ErrorIs(t, store.DeleteList(context.Background(), "u-2", 7), ErrNotFound)
}

func TestRESTStore_CanceledContext(t *testing.T) {
	store := newRESTStore(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.ListLists(ctx, "u-1")
	require.ErrorIs(t, err, context.Canceled)
}
