package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"poetry-feed/pkg/domain"
	"poetry-feed/pkg/logger"
)

var (
	ErrAlreadyFavorited = errors.New("poem already in favorites")
	ErrAlreadyInList    = errors.New("poem already in list")
	ErrInvalidPoem      = errors.New("poem id is required")
	ErrInvalidList      = errors.New("list name is required")
)

// Service is the collaborator-platform client used by the API: account
// operations delegate to the Authenticator, the rest to the Store.
type Service struct {
	auth  Authenticator
	store Store
	log   logger.Logger
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(log logger.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithClock replaces time.Now for timestamps written to the store.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(auth Authenticator, store Store, opts ...Option) *Service {
	s := &Service{auth: auth, store: store, log: logger.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) SignUp(ctx context.Context, email, password, name string) (*domain.User, error) {
	return s.auth.SignUp(ctx, email, password, strings.TrimSpace(name))
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	return s.auth.SignIn(ctx, email, password)
}

func (s *Service) RequestOTP(ctx context.Context, email string) error {
	return s.auth.RequestOTP(ctx, email)
}

func (s *Service) VerifyOTP(ctx context.Context, email, code string) (*Session, error) {
	return s.auth.VerifyOTP(ctx, email, code)
}

func (s *Service) UserFromToken(ctx context.Context, token string) (*domain.User, error) {
	return s.auth.UserFromToken(ctx, token)
}

// Profile returns the stored profile, or a default one built from the
// account metadata when none has been saved yet.
func (s *Service) Profile(ctx context.Context, user domain.User) (*domain.Profile, error) {
	p, err := s.store.GetProfile(ctx, user.ID)
	if errors.Is(err, ErrNotFound) {
		return &domain.Profile{UserID: user.ID, Name: user.Name}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	return p, nil
}

// UpdateProfile saves name and image. An empty name keeps the account name.
func (s *Service) UpdateProfile(ctx context.Context, user domain.User, name, image string) (*domain.Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = user.Name
	}
	p := domain.Profile{
		UserID:       user.ID,
		Name:         name,
		ProfileImage: strings.TrimSpace(image),
		UpdatedAt:    s.now().UTC(),
	}
	if err := s.store.UpsertProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return &p, nil
}

func (s *Service) Favorites(ctx context.Context, user domain.User) ([]domain.Favorite, error) {
	favorites, err := s.store.ListFavorites(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("favorites: %w", err)
	}
	return favorites, nil
}

func (s *Service) AddFavorite(ctx context.Context, user domain.User, poem domain.Poem) (*domain.Favorite, error) {
	if poem.ID == 0 {
		return nil, ErrInvalidPoem
	}

	f := domain.Favorite{Poem: poem, UserID: user.ID, FavoritedAt: s.now().UTC()}
	err := s.store.InsertFavorite(ctx, f)
	if errors.Is(err, ErrDuplicate) {
		return nil, ErrAlreadyFavorited
	}
	if err != nil {
		return nil, fmt.Errorf("add favorite: %w", err)
	}
	s.log.Debug("Favorite added", logger.String("user_id", user.ID), logger.Int64("poem_id", poem.ID))
	return &f, nil
}

// RemoveFavorite succeeds whether or not the poem was a favorite.
func (s *Service) RemoveFavorite(ctx context.Context, user domain.User, poemID int64) error {
	if err := s.store.DeleteFavorite(ctx, user.ID, poemID); err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}

func (s *Service) IsFavorited(ctx context.Context, user domain.User, poemID int64) (bool, error) {
	ok, err := s.store.HasFavorite(ctx, user.ID, poemID)
	if err != nil {
		return false, fmt.Errorf("favorite status: %w", err)
	}
	return ok, nil
}

func (s *Service) Lists(ctx context.Context, user domain.User) ([]domain.PoemList, error) {
	lists, err := s.store.ListLists(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("lists: %w", err)
	}
	return lists, nil
}

func (s *Service) CreateList(ctx context.Context, user domain.User, name, description string) (*domain.PoemList, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidList
	}

	l, err := s.store.InsertList(ctx, domain.PoemList{
		UserID:      user.ID,
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create list: %w", err)
	}
	return l, nil
}

func (s *Service) DeleteList(ctx context.Context, user domain.User, listID int64) error {
	err := s.store.DeleteList(ctx, user.ID, listID)
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	return nil
}

func (s *Service) AddToList(ctx context.Context, user domain.User, listID int64, poem domain.Poem) error {
	if poem.ID == 0 {
		return ErrInvalidPoem
	}
	if err := s.ownsList(ctx, user, listID); err != nil {
		return err
	}

	err := s.store.InsertListItem(ctx, listID, poem)
	if errors.Is(err, ErrDuplicate) {
		return ErrAlreadyInList
	}
	if err != nil {
		return fmt.Errorf("add to list: %w", err)
	}
	return nil
}

func (s *Service) RemoveFromList(ctx context.Context, user domain.User, listID, poemID int64) error {
	if err := s.ownsList(ctx, user, listID); err != nil {
		return err
	}
	if err := s.store.DeleteListItem(ctx, listID, poemID); err != nil {
		return fmt.Errorf("remove from list: %w", err)
	}
	return nil
}

func (s *Service) ownsList(ctx context.Context, user domain.User, listID int64) error {
	_, err := s.store.GetList(ctx, user.ID, listID)
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get list: %w", err)
	}
	return nil
}
