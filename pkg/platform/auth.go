package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gotrue "github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"

	"poetry-feed/pkg/domain"
	"poetry-feed/pkg/logger"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrEmailExists        = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password too weak")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// Session is the token pair handed to a client after sign-in.
type Session struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
	UserID       string `json:"userId"`
}

// Authenticator covers the account operations of the platform.
type Authenticator interface {
	SignUp(ctx context.Context, email, password, name string) (*domain.User, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	RequestOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) (*Session, error)
	UserFromToken(ctx context.Context, token string) (*domain.User, error)
}

// GoTrueAuth implements Authenticator over the platform's auth server.
type GoTrueAuth struct {
	client gotrue.Client
	log    logger.Logger
}

// NewGoTrueAuth wraps client, normally supabase.Client.Auth. Sign-in goes
// through client directly so the shared SDK keeps its service credentials.
func NewGoTrueAuth(client gotrue.Client, log logger.Logger) *GoTrueAuth {
	if log == nil {
		log = logger.NewNop()
	}
	return &GoTrueAuth{client: client, log: log}
}

func (a *GoTrueAuth) SignUp(ctx context.Context, email, password, name string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	resp, err := a.client.Signup(types.SignupRequest{
		Email:    email,
		Password: password,
		Data:     map[string]interface{}{"name": name},
	})
	if err != nil {
		return nil, classifyAuthError("sign up", err)
	}

	u := userFrom(resp.User)
	if u.Name == "" {
		u.Name = name
	}
	a.log.Info("Account created", logger.String("user_id", u.ID))
	return u, nil
}

func (a *GoTrueAuth) SignIn(ctx context.Context, email, password string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	tok, err := a.client.SignInWithEmailPassword(strings.TrimSpace(email), password)
	if err != nil {
		return nil, classifyAuthError("sign in", err)
	}
	return sessionFrom(tok.Session), nil
}

func (a *GoTrueAuth) RequestOTP(ctx context.Context, email string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrInvalidCredentials
	}
	if err := a.client.OTP(types.OTPRequest{Email: email}); err != nil {
		return classifyAuthError("request otp", err)
	}
	return nil
}

func (a *GoTrueAuth) VerifyOTP(ctx context.Context, email, code string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if email == "" || code == "" {
		return nil, ErrInvalidCredentials
	}

	resp, err := a.client.VerifyForUser(types.VerifyForUserRequest{
		Type:  types.VerificationTypeSignup,
		Token: code,
		Email: strings.TrimSpace(email),
	})
	if err != nil {
		return nil, classifyAuthError("verify otp", err)
	}
	return sessionFrom(resp.Session), nil
}

// UserFromToken resolves the account behind a bearer token.
func (a *GoTrueAuth) UserFromToken(ctx context.Context, token string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, ErrUnauthorized
	}

	resp, err := a.client.WithToken(token).GetUser()
	if err != nil {
		a.log.Debug("Token rejected", logger.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return userFrom(resp.User), nil
}

func userFrom(u types.User) *domain.User {
	name, _ := u.UserMetadata["name"].(string)
	return &domain.User{ID: u.ID.String(), Email: u.Email, Name: name}
}

func sessionFrom(s types.Session) *Session {
	return &Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresIn:    s.ExpiresIn,
		UserID:       s.User.ID.String(),
	}
}

// classifyAuthError maps the auth server's error text onto sentinels.
func classifyAuthError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already registered"),
		strings.Contains(msg, "already been registered"),
		strings.Contains(msg, "user_already_exists"):
		return fmt.Errorf("%s: %w", op, ErrEmailExists)
	case strings.Contains(msg, "weak_password"),
		strings.Contains(msg, "password should be"):
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	case strings.Contains(msg, "invalid login credentials"),
		strings.Contains(msg, "invalid_grant"),
		strings.Contains(msg, "otp_expired"),
		strings.Contains(msg, "token has expired or is invalid"):
		return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	case strings.Contains(msg, "status code 401"),
		strings.Contains(msg, "status code 403"):
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}
	return fmt.Errorf("%s: %w", op, err)
}
