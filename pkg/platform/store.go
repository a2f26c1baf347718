package platform

import (
	"context"
	"errors"

	"poetry-feed/pkg/db"
	"poetry-feed/pkg/domain"
	"poetry-feed/pkg/logger"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned by a Store when a unique key already exists.
	ErrDuplicate = errors.New("duplicate")
)

// Store persists profiles, favorites and lists. Every read and write is
// scoped to a user id; list ownership is enforced by the store.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	UpsertProfile(ctx context.Context, p domain.Profile) error

	ListFavorites(ctx context.Context, userID string) ([]domain.Favorite, error)
	InsertFavorite(ctx context.Context, f domain.Favorite) error
	DeleteFavorite(ctx context.Context, userID string, poemID int64) error
	HasFavorite(ctx context.Context, userID string, poemID int64) (bool, error)

	ListLists(ctx context.Context, userID string) ([]domain.PoemList, error)
	GetList(ctx context.Context, userID string, listID int64) (*domain.PoemList, error)
	InsertList(ctx context.Context, l domain.PoemList) (*domain.PoemList, error)
	DeleteList(ctx context.Context, userID string, listID int64) error
	InsertListItem(ctx context.Context, listID int64, p domain.Poem) error
	DeleteListItem(ctx context.Context, listID, poemID int64) error
}

// NewStore picks SQL when the platform client has a direct database and
// falls back to REST otherwise.
func NewStore(client *db.SupabaseClient, log logger.Logger) (Store, error) {
	if client == nil {
		return nil, errors.New("platform store: no supabase client")
	}
	if client.HasDirectDB() {
		return NewSQLStore(client), nil
	}
	if client.SDK() != nil {
		return NewRESTStore(client.SDK(), log), nil
	}
	return nil, errors.New("platform store: supabase client is not connected")
}
