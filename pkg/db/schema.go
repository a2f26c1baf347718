package db

import (
	"context"
	"fmt"
)

// Schema creates the tables used by the archive replica and the platform
// store. Every statement is idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS poems (
		poem_id        BIGINT PRIMARY KEY,
		title          TEXT NOT NULL,
		text           TEXT NOT NULL,
		html_text      TEXT NOT NULL,
		poet_id        BIGINT NOT NULL,
		poet_name      TEXT NOT NULL,
		poet_full_name TEXT NOT NULL,
		fetched_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		user_id       TEXT PRIMARY KEY,
		name          TEXT NOT NULL DEFAULT '',
		profile_image TEXT NOT NULL DEFAULT '',
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS favorites (
		user_id        TEXT NOT NULL,
		poem_id        BIGINT NOT NULL,
		title          TEXT NOT NULL,
		text           TEXT NOT NULL,
		html_text      TEXT NOT NULL,
		poet_id        BIGINT NOT NULL,
		poet_name      TEXT NOT NULL,
		poet_full_name TEXT NOT NULL,
		favorited_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, poem_id)
	)`,
	`CREATE TABLE IF NOT EXISTS poem_lists (
		id          BIGSERIAL PRIMARY KEY,
		user_id     TEXT NOT NULL,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS poem_list_items (
		list_id        BIGINT NOT NULL REFERENCES poem_lists(id) ON DELETE CASCADE,
		poem_id        BIGINT NOT NULL,
		title          TEXT NOT NULL,
		text           TEXT NOT NULL,
		html_text      TEXT NOT NULL,
		poet_id        BIGINT NOT NULL,
		poet_name      TEXT NOT NULL,
		poet_full_name TEXT NOT NULL,
		added_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (list_id, poem_id)
	)`,
}

// EnsureSchema applies Schema through p.
func EnsureSchema(ctx context.Context, p DBProvider) error {
	db := p.DB()
	if db == nil {
		return fmt.Errorf("ensure schema: no direct database connection")
	}
	for _, stmt := range Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
