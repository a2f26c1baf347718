package replication

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"poetry-feed/pkg/db"
	"poetry-feed/pkg/domain"
	"poetry-feed/pkg/logger"
)

const (
	defaultBatchSize   = 100
	defaultParallelism = 5
	progressEvery      = 1000
)

// ArchiveSource lists every archived poem. db.ArchiveClient implements it.
type ArchiveSource interface {
	Poems(ctx context.Context) ([]domain.ArchivedPoem, error)
}

// Config wires the replication dependencies.
type Config struct {
	Archive  ArchiveSource
	Postgres db.DBProvider

	BatchSize   int
	Parallelism int
	// SkipSchema leaves table creation to someone else.
	SkipSchema bool
	Logger     logger.Logger
}

// Result summarizes one replication run.
type Result struct {
	Processed int
	Inserted  int
}

// Replicator copies the poem archive from Mongo into the Postgres poems
// table. Poems already present are left untouched.
type Replicator struct {
	archive ArchiveSource
	pg      db.DBProvider
	cfg     Config
	log     logger.Logger
}

func NewReplicator(cfg Config) (*Replicator, error) {
	if cfg.Archive == nil {
		return nil, fmt.Errorf("archive source is required")
	}
	if cfg.Postgres == nil {
		return nil, fmt.Errorf("postgres client is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Replicator{
		archive: cfg.Archive,
		pg:      cfg.Postgres,
		cfg:     cfg,
		log:     cfg.Logger,
	}, nil
}

// Run reads the whole archive and inserts the poems Postgres does not have
// yet, one transaction per batch, up to Parallelism batches at a time. The
// first failing batch cancels the rest.
func (r *Replicator) Run(ctx context.Context) (Result, error) {
	if r.pg.DB() == nil {
		return Result{}, fmt.Errorf("postgres DB not connected")
	}
	if !r.cfg.SkipSchema {
		if err := db.EnsureSchema(ctx, r.pg); err != nil {
			return Result{}, err
		}
	}

	poems, err := r.archive.Poems(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read archive: %w", err)
	}
	r.log.Info("Loaded archived poems", logger.Int("count", len(poems)))

	var (
		mu  sync.Mutex
		res Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallelism)

	for start := 0; start < len(poems); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(poems))
		batch := poems[start:end]

		g.Go(func() error {
			inserted, err := r.processBatch(gctx, batch)
			if err != nil {
				return fmt.Errorf("batch [%d:%d]: %w", start, end, err)
			}

			mu.Lock()
			before := res.Processed
			res.Processed += len(batch)
			res.Inserted += inserted
			snapshot := res
			mu.Unlock()

			if before/progressEvery != snapshot.Processed/progressEvery {
				r.log.Info("Replication progress",
					logger.Int("processed", snapshot.Processed),
					logger.Int("total", len(poems)),
					logger.Int("inserted", snapshot.Inserted),
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}
	r.log.Info("Replication complete",
		logger.Int("processed", res.Processed),
		logger.Int("inserted", res.Inserted),
	)
	return res, nil
}

func (r *Replicator) processBatch(ctx context.Context, batch []domain.ArchivedPoem) (int, error) {
	existing, err := r.existingIDs(ctx, batch)
	if err != nil {
		return 0, err
	}

	toInsert := filterNew(batch, existing)
	if len(toInsert) == 0 {
		return 0, nil
	}
	return r.insertTx(ctx, toInsert)
}

// existingIDs returns which poem ids of batch are already in Postgres.
func (r *Replicator) existingIDs(ctx context.Context, batch []domain.ArchivedPoem) (map[int64]bool, error) {
	if len(batch) == 0 {
		return map[int64]bool{}, nil
	}

	query, args := buildIDInQuery(batch)
	rows, err := r.pg.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query existing ids: %w", err)
	}
	defer rows.Close()

	set := make(map[int64]bool, len(batch))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		set[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return set, nil
}

func buildIDInQuery(batch []domain.ArchivedPoem) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT poem_id FROM poems WHERE poem_id IN (")
	args := make([]any, len(batch))
	for i, p := range batch {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i+1)
		args[i] = p.ID
	}
	b.WriteString(")")
	return b.String(), args
}

func filterNew(all []domain.ArchivedPoem, existing map[int64]bool) []domain.ArchivedPoem {
	out := make([]domain.ArchivedPoem, 0, len(all))
	for _, p := range all {
		if p.ID == 0 || existing[p.ID] {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (r *Replicator) insertTx(ctx context.Context, batch []domain.ArchivedPoem) (int, error) {
	tx, err := r.pg.DB().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insertQuery = `
INSERT INTO poems (poem_id, title, text, html_text, poet_id, poet_name, poet_full_name, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (poem_id) DO NOTHING`

	stmt, err := tx.PrepareContext(ctx, insertQuery)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, p := range batch {
		res, err := stmt.ExecContext(ctx, p.ID, p.Title, p.Text, p.HTMLText,
			p.Poet.ID, p.Poet.Name, p.Poet.FullName, p.FetchedAt)
		if err != nil {
			return 0, fmt.Errorf("insert poem id=%d: %w", p.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}
