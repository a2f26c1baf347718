package db

import "database/sql"

// DBProvider gives access to a sql.DB handle. PostgresClient and
// SupabaseClient both satisfy it.
type DBProvider interface {
	DB() *sql.DB
}

// sqlProvider adapts a bare handle, mostly for tests.
type sqlProvider struct{ db *sql.DB }

func (p sqlProvider) DB() *sql.DB { return p.db }

// Provider wraps db as a DBProvider.
func Provider(db *sql.DB) DBProvider { return sqlProvider{db: db} }
