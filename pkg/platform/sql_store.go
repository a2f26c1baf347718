package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"poetry-feed/pkg/db"
	"poetry-feed/pkg/domain"
)

// SQLStore implements Store over a direct Postgres connection.
type SQLStore struct {
	pg db.DBProvider
}

func NewSQLStore(pg db.DBProvider) *SQLStore {
	return &SQLStore{pg: pg}
}

func (s *SQLStore) conn() (*sql.DB, error) {
	conn := s.pg.DB()
	if conn == nil {
		return nil, errors.New("postgres DB not connected")
	}
	return conn, nil
}

func (s *SQLStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}

	p := domain.Profile{UserID: userID}
	err = conn.QueryRowContext(ctx,
		`SELECT name, profile_image, updated_at FROM profiles WHERE user_id = $1`, userID,
	).Scan(&p.Name, &p.ProfileImage, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

func (s *SQLStore) UpsertProfile(ctx context.Context, p domain.Profile) error {
	conn, err := s.conn()
	if err != nil {
		return err
	}

	const q = `
INSERT INTO profiles (user_id, name, profile_image, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE
SET name = EXCLUDED.name, profile_image = EXCLUDED.profile_image, updated_at = EXCLUDED.updated_at`
	if _, err := conn.ExecContext(ctx, q, p.UserID, p.Name, p.ProfileImage, p.UpdatedAt); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *SQLStore) ListFavorites(ctx context.Context, userID string) ([]domain.Favorite, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `
SELECT poem_id, title, text, html_text, poet_id, poet_name, poet_full_name, favorited_at
FROM favorites WHERE user_id = $1 ORDER BY favorited_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()

	favorites := []domain.Favorite{}
	for rows.Next() {
		f := domain.Favorite{UserID: userID}
		if err := rows.Scan(&f.ID, &f.Title, &f.Text, &f.HTMLText,
			&f.Poet.ID, &f.Poet.Name, &f.Poet.FullName, &f.FavoritedAt); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		favorites = append(favorites, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return favorites, nil
}

func (s *SQLStore) InsertFavorite(ctx context.Context, f domain.Favorite) error {
	conn, err := s.conn()
	if err != nil {
		return err
	}

	res, err := conn.ExecContext(ctx, `
INSERT INTO favorites (user_id, poem_id, title, text, html_text, poet_id, poet_name, poet_full_name, favorited_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (user_id, poem_id) DO NOTHING`,
		f.UserID, f.ID, f.Title, f.Text, f.HTMLText, f.Poet.ID, f.Poet.Name, f.Poet.FullName, f.FavoritedAt)
	if err != nil {
		return fmt.Errorf("insert favorite: %w", err)
	}
	return duplicateIfNoRows(res)
}

func (s *SQLStore) DeleteFavorite(ctx context.Context, userID string, poemID int64) error {
	conn, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx,
		`DELETE FROM favorites WHERE user_id = $1 AND poem_id = $2`, userID, poemID); err != nil {
		return fmt.Errorf("delete favorite: %w", err)
	}
	return nil
}

func (s *SQLStore) HasFavorite(ctx context.Context, userID string, poemID int64) (bool, error) {
	conn, err := s.conn()
	if err != nil {
		return false, err
	}

	var exists bool
	if err := conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM favorites WHERE user_id = $1 AND poem_id = $2)`, userID, poemID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check favorite: %w", err)
	}
	return exists, nil
}

func (s *SQLStore) ListLists(ctx context.Context, userID string) ([]domain.PoemList, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `
SELECT id, name, description, created_at
FROM poem_lists WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list poem lists: %w", err)
	}
	defer rows.Close()

	lists := []domain.PoemList{}
	for rows.Next() {
		l := domain.PoemList{UserID: userID, Poems: []domain.Poem{}}
		if err := rows.Scan(&l.ID, &l.Name, &l.Description, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan poem list: %w", err)
		}
		lists = append(lists, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for i := range lists {
		poems, err := s.listItems(ctx, conn, lists[i].ID)
		if err != nil {
			return nil, err
		}
		lists[i].Poems = poems
	}
	return lists, nil
}

func (s *SQLStore) GetList(ctx context.Context, userID string, listID int64) (*domain.PoemList, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}

	l := domain.PoemList{ID: listID, UserID: userID}
	err = conn.QueryRowContext(ctx,
		`SELECT name, description, created_at FROM poem_lists WHERE id = $1 AND user_id = $2`, listID, userID,
	).Scan(&l.Name, &l.Description, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get poem list: %w", err)
	}

	if l.Poems, err = s.listItems(ctx, conn, listID); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *SQLStore) listItems(ctx context.Context, conn *sql.DB, listID int64) ([]domain.Poem, error) {
	rows, err := conn.QueryContext(ctx, `
SELECT poem_id, title, text, html_text, poet_id, poet_name, poet_full_name
FROM poem_list_items WHERE list_id = $1 ORDER BY added_at`, listID)
	if err != nil {
		return nil, fmt.Errorf("list items of %d: %w", listID, err)
	}
	defer rows.Close()

	poems := []domain.Poem{}
	for rows.Next() {
		var p domain.Poem
		if err := rows.Scan(&p.ID, &p.Title, &p.Text, &p.HTMLText,
			&p.Poet.ID, &p.Poet.Name, &p.Poet.FullName); err != nil {
			return nil, fmt.Errorf("scan list item: %w", err)
		}
		poems = append(poems, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return poems, nil
}

func (s *SQLStore) InsertList(ctx context.Context, l domain.PoemList) (*domain.PoemList, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}

	if err := conn.QueryRowContext(ctx, `
INSERT INTO poem_lists (user_id, name, description, created_at)
VALUES ($1, $2, $3, $4) RETURNING id`,
		l.UserID, l.Name, l.Description, l.CreatedAt,
	).Scan(&l.ID); err != nil {
		return nil, fmt.Errorf("insert poem list: %w", err)
	}
	if l.Poems == nil {
		l.Poems = []domain.Poem{}
	}
	return &l, nil
}

func (s *SQLStore) DeleteList(ctx context.Context, userID string, listID int64) error {
	conn, err := s.conn()
	if err != nil {
		return err
	}

	res, err := conn.ExecContext(ctx, `DELETE FROM poem_lists WHERE id = $1 AND user_id = $2`, listID, userID)
	if err != nil {
		return fmt.Errorf("delete poem list: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete poem list: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) InsertListItem(ctx context.Context, listID int64, p domain.Poem) error {
	conn, err := s.conn()
	if err != nil {
		return err
	}

	res, err := conn.ExecContext(ctx, `
INSERT INTO poem_list_items (list_id, poem_id, title, text, html_text, poet_id, poet_name, poet_full_name)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (list_id, poem_id) DO NOTHING`,
		listID, p.ID, p.Title, p.Text, p.HTMLText, p.Poet.ID, p.Poet.Name, p.Poet.FullName)
	if err != nil {
		return fmt.Errorf("insert list item: %w", err)
	}
	return duplicateIfNoRows(res)
}

func (s *SQLStore) DeleteListItem(ctx context.Context, listID, poemID int64) error {
	conn, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx,
		`DELETE FROM poem_list_items WHERE list_id = $1 AND poem_id = $2`, listID, poemID); err != nil {
		return fmt.Errorf("delete list item: %w", err)
	}
	return nil
}

func duplicateIfNoRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

// isUniqueViolation reports whether err carries Postgres code 23505.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
