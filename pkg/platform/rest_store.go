package platform

import (
	"context"
	"fmt"
	"strconv"
	"time"

	postgrest "github.com/supabase-community/postgrest-go"
	supabase "github.com/supabase-community/supabase-go"

	"poetry-feed/pkg/domain"
	"poetry-feed/pkg/logger"
)

const (
	tableProfiles  = "profiles"
	tableFavorites = "favorites"
	tableLists     = "poem_lists"
	tableListItems = "poem_list_items"
)

// RESTStore implements Store through the platform's PostgREST API. The
// SDK calls are not cancellable; ctx is only checked before each call.
type RESTStore struct {
	client *supabase.Client
	log    logger.Logger
}

func NewRESTStore(client *supabase.Client, log logger.Logger) *RESTStore {
	if log == nil {
		log = logger.NewNop()
	}
	return &RESTStore{client: client, log: log}
}

type profileRow struct {
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	ProfileImage string    `json:"profile_image"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type poemColumns struct {
	PoemID       int64  `json:"poem_id"`
	Title        string `json:"title"`
	Text         string `json:"text"`
	HTMLText     string `json:"html_text"`
	PoetID       int64  `json:"poet_id"`
	PoetName     string `json:"poet_name"`
	PoetFullName string `json:"poet_full_name"`
}

type favoriteRow struct {
	UserID string `json:"user_id"`
	poemColumns
	FavoritedAt time.Time `json:"favorited_at"`
}

type listRow struct {
	ID          int64     `json:"id,omitempty"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type listItemRow struct {
	ListID int64 `json:"list_id"`
	poemColumns
}

func columnsOf(p domain.Poem) poemColumns {
	return poemColumns{
		PoemID:       p.ID,
		Title:        p.Title,
		Text:         p.Text,
		HTMLText:     p.HTMLText,
		PoetID:       p.Poet.ID,
		PoetName:     p.Poet.Name,
		PoetFullName: p.Poet.FullName,
	}
}

func (c poemColumns) poem() domain.Poem {
	return domain.Poem{
		ID:       c.PoemID,
		Title:    c.Title,
		Text:     c.Text,
		HTMLText: c.HTMLText,
		Poet:     domain.Poet{ID: c.PoetID, Name: c.PoetName, FullName: c.PoetFullName},
	}
}

func idParam(n int64) string {
	return strconv.FormatInt(n, 10)
}

// restError maps a PostgREST failure, folding unique violations into ErrDuplicate.
func restError(op string, err error) error {
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *RESTStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []profileRow
	if _, err := s.client.From(tableProfiles).
		Select("*", "", false).
		Eq("user_id", userID).
		ExecuteTo(&rows); err != nil {
		return nil, restError("get profile", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	r := rows[0]
	return &domain.Profile{UserID: r.UserID, Name: r.Name, ProfileImage: r.ProfileImage, UpdatedAt: r.UpdatedAt}, nil
}

func (s *RESTStore) UpsertProfile(ctx context.Context, p domain.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	row := profileRow{UserID: p.UserID, Name: p.Name, ProfileImage: p.ProfileImage, UpdatedAt: p.UpdatedAt}
	if _, _, err := s.client.From(tableProfiles).
		Upsert(row, "user_id", "minimal", "").
		Execute(); err != nil {
		return restError("upsert profile", err)
	}
	return nil
}

func (s *RESTStore) ListFavorites(ctx context.Context, userID string) ([]domain.Favorite, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []favoriteRow
	if _, err := s.client.From(tableFavorites).
		Select("*", "", false).
		Eq("user_id", userID).
		Order("favorited_at", &postgrest.OrderOpts{Ascending: false}).
		ExecuteTo(&rows); err != nil {
		return nil, restError("list favorites", err)
	}

	favorites := make([]domain.Favorite, 0, len(rows))
	for _, r := range rows {
		favorites = append(favorites, domain.Favorite{Poem: r.poem(), UserID: r.UserID, FavoritedAt: r.FavoritedAt})
	}
	return favorites, nil
}

func (s *RESTStore) InsertFavorite(ctx context.Context, f domain.Favorite) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	row := favoriteRow{UserID: f.UserID, poemColumns: columnsOf(f.Poem), FavoritedAt: f.FavoritedAt}
	if _, _, err := s.client.From(tableFavorites).
		Insert(row, false, "", "minimal", "").
		Execute(); err != nil {
		return restError("insert favorite", err)
	}
	return nil
}

func (s *RESTStore) DeleteFavorite(ctx context.Context, userID string, poemID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, _, err := s.client.From(tableFavorites).
		Delete("minimal", "").
		Eq("user_id", userID).
		Eq("poem_id", idParam(poemID)).
		Execute(); err != nil {
		return restError("delete favorite", err)
	}
	return nil
}

func (s *RESTStore) HasFavorite(ctx context.Context, userID string, poemID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var rows []struct {
		PoemID int64 `json:"poem_id"`
	}
	if _, err := s.client.From(tableFavorites).
		Select("poem_id", "", false).
		Eq("user_id", userID).
		Eq("poem_id", idParam(poemID)).
		ExecuteTo(&rows); err != nil {
		return false, restError("check favorite", err)
	}
	return len(rows) > 0, nil
}

func (s *RESTStore) ListLists(ctx context.Context, userID string) ([]domain.PoemList, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []listRow
	if _, err := s.client.From(tableLists).
		Select("*", "", false).
		Eq("user_id", userID).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows); err != nil {
		return nil, restError("list poem lists", err)
	}

	lists := make([]domain.PoemList, 0, len(rows))
	if len(rows) == 0 {
		return lists, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, idParam(r.ID))
	}
	var items []listItemRow
	if _, err := s.client.From(tableListItems).
		Select("*", "", false).
		In("list_id", ids).
		Order("added_at", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&items); err != nil {
		return nil, restError("list items", err)
	}
	byList := make(map[int64][]domain.Poem, len(rows))
	for _, it := range items {
		byList[it.ListID] = append(byList[it.ListID], it.poem())
	}

	for _, r := range rows {
		poems := byList[r.ID]
		if poems == nil {
			poems = []domain.Poem{}
		}
		lists = append(lists, domain.PoemList{
			ID:          r.ID,
			UserID:      r.UserID,
			Name:        r.Name,
			Description: r.Description,
			CreatedAt:   r.CreatedAt,
			Poems:       poems,
		})
	}
	return lists, nil
}

func (s *RESTStore) GetList(ctx context.Context, userID string, listID int64) (*domain.PoemList, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []listRow
	if _, err := s.client.From(tableLists).
		Select("*", "", false).
		Eq("id", idParam(listID)).
		Eq("user_id", userID).
		ExecuteTo(&rows); err != nil {
		return nil, restError("get poem list", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	var items []listItemRow
	if _, err := s.client.From(tableListItems).
		Select("*", "", false).
		Eq("list_id", idParam(listID)).
		ExecuteTo(&items); err != nil {
		return nil, restError("list items", err)
	}
	r := rows[0]
	l := &domain.PoemList{ID: r.ID, UserID: r.UserID, Name: r.Name, Description: r.Description, CreatedAt: r.CreatedAt, Poems: []domain.Poem{}}
	for _, it := range items {
		l.Poems = append(l.Poems, it.poem())
	}
	return l, nil
}

func (s *RESTStore) InsertList(ctx context.Context, l domain.PoemList) (*domain.PoemList, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var created []listRow
	row := listRow{UserID: l.UserID, Name: l.Name, Description: l.Description, CreatedAt: l.CreatedAt}
	if _, err := s.client.From(tableLists).
		Insert(row, false, "", "representation", "").
		ExecuteTo(&created); err != nil {
		return nil, restError("insert poem list", err)
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("insert poem list: empty response")
	}
	l.ID = created[0].ID
	if l.Poems == nil {
		l.Poems = []domain.Poem{}
	}
	return &l, nil
}

func (s *RESTStore) DeleteList(ctx context.Context, userID string, listID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var deleted []listRow
	if _, err := s.client.From(tableLists).
		Delete("representation", "").
		Eq("id", idParam(listID)).
		Eq("user_id", userID).
		ExecuteTo(&deleted); err != nil {
		return restError("delete poem list", err)
	}
	if len(deleted) == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RESTStore) InsertListItem(ctx context.Context, listID int64, p domain.Poem) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	row := listItemRow{ListID: listID, poemColumns: columnsOf(p)}
	if _, _, err := s.client.From(tableListItems).
		Insert(row, false, "", "minimal", "").
		Execute(); err != nil {
		return restError("insert list item", err)
	}
	return nil
}

func (s *RESTStore) DeleteListItem(ctx context.Context, listID, poemID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, _, err := s.client.From(tableListItems).
		Delete("minimal", "").
		Eq("list_id", idParam(listID)).
		Eq("poem_id", idParam(poemID)).
		Execute(); err != nil {
		return restError("delete list item", err)
	}
	return nil
}
