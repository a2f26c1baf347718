package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	supabase "github.com/supabase-community/supabase-go"

	"poetry-feed/pkg/logger"
)

var errNoSupabaseAccess = errors.New("either connection string/password or Supabase URL+key must be provided")

// SupabaseConfig holds the settings for the hosted platform.
type SupabaseConfig struct {
	// URL is the project URL, e.g. https://[project-ref].supabase.co.
	URL string
	// Key is the API key. The platform client needs the service-role key
	// to manage other users' rows through REST.
	Key string
	// Password is the database password, used to derive ConnectionString.
	Password string
	// ConnectionString overrides the derived Postgres DSN.
	ConnectionString string

	MaxOpenConns int
	ConnMaxLife  time.Duration
}

// SupabaseClient gives access to the platform in two modes: REST (auth and
// PostgREST through the SDK) and direct SQL. Either or both may be available.
type SupabaseClient struct {
	db  *sql.DB
	sdk *supabase.Client
	cfg SupabaseConfig
	log logger.Logger
}

// NewSupabaseClient creates an unconnected client.
func NewSupabaseClient(cfg SupabaseConfig, log logger.Logger) *SupabaseClient {
	if log == nil {
		log = logger.NewNop()
	}
	return &SupabaseClient{cfg: cfg, log: log}
}

// Connect initialises the SDK when URL and key are set and opens a direct
// connection when a DSN can be had. A failed direct connection is tolerated
// when the SDK is available.
func (c *SupabaseClient) Connect(ctx context.Context) error {
	if c.cfg.URL != "" && c.cfg.Key != "" {
		sdk, err := supabase.NewClient(c.cfg.URL, c.cfg.Key, nil)
		if err != nil {
			return fmt.Errorf("initialize supabase SDK: %w", err)
		}
		c.sdk = sdk
	}

	dsn := c.cfg.ConnectionString
	if dsn == "" && c.cfg.Password != "" {
		derived, err := ConnectionStringFor(c.cfg.URL, c.cfg.Password)
		if err != nil && c.sdk == nil {
			return fmt.Errorf("build connection string: %w", err)
		}
		dsn = derived
	}

	if dsn != "" {
		dsn = withParam(dsn, "statement_cache_capacity", "0")
		dsn = withParam(dsn, "default_query_exec_mode", "simple_protocol")

		db, err := openPool(ctx, dsn, poolSettings{maxOpen: c.cfg.MaxOpenConns, life: c.cfg.ConnMaxLife})
		switch {
		case err == nil:
			c.db = db
		case c.sdk != nil:
			c.log.Warn("Supabase direct database unavailable, using REST only", logger.Error(err))
		default:
			return fmt.Errorf("supabase postgres: %w", err)
		}
	}

	if c.db == nil && c.sdk == nil {
		return errNoSupabaseAccess
	}
	c.log.Info("Supabase connected",
		logger.Bool("rest", c.sdk != nil),
		logger.Bool("direct_db", c.db != nil),
	)
	return nil
}

// Close closes the direct connection, if any.
func (c *SupabaseClient) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// DB returns the direct handle, or nil in REST-only mode.
func (c *SupabaseClient) DB() *sql.DB {
	return c.db
}

// HasDirectDB reports whether SQL access is available.
func (c *SupabaseClient) HasDirectDB() bool {
	return c.db != nil
}

// SDK returns the REST client, or nil when URL or key is missing.
func (c *SupabaseClient) SDK() *supabase.Client {
	return c.sdk
}

// ConnectionStringFor derives the direct Postgres DSN of a project from its
// URL (https://[project-ref].supabase.co) and database password.
func ConnectionStringFor(projectURL, password string) (string, error) {
	if projectURL == "" {
		return "", errors.New("supabase URL is required when connection string is not provided")
	}
	if password == "" {
		return "", errors.New("supabase password is required when connection string is not provided")
	}

	parsed, err := url.Parse(projectURL)
	if err != nil {
		return "", fmt.Errorf("parse supabase URL: %w", err)
	}
	parts := strings.Split(parsed.Host, ".")
	if len(parts) < 2 || parts[0] == "" {
		return "", errors.New("invalid supabase URL format: expected [project-ref].supabase.co")
	}

	return fmt.Sprintf("postgresql://postgres:%s@db.%s.supabase.co:5432/postgres?sslmode=require",
		url.QueryEscape(password), parts[0]), nil
}

// withParam appends key=value to a DSN unless key is already present.
func withParam(dsn, key, value string) string {
	if strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + value
}
