package cli

import (
	"context"
	"fmt"

	"poetry-feed/pkg/archive"
	"poetry-feed/pkg/bundled"
	"poetry-feed/pkg/config"
	"poetry-feed/pkg/db"
	"poetry-feed/pkg/domain"
	"poetry-feed/pkg/feed"
	"poetry-feed/pkg/fetcher"
	"poetry-feed/pkg/httpclient"
	"poetry-feed/pkg/logger"
	"poetry-feed/pkg/metrics"
	"poetry-feed/pkg/platform"
	"poetry-feed/pkg/seen"
)

// app holds the wired services of one process.
type app struct {
	cfg      *config.Config
	log      logger.Logger
	metrics  *metrics.Metrics
	manager  *feed.Manager
	platform *platform.Service
	closers  []func(context.Context) error
}

type appOptions struct {
	// storage enables Redis, the Mongo archive and the platform client.
	storage bool
	// client overrides the poem API client.
	client fetcher.Getter
}

func newApp(ctx context.Context, cfg *config.Config, log logger.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}

	client := opts.client
	if client == nil {
		client = httpclient.NewClient(httpclient.APIClient, httpclient.WithClientID(cfg.Source.ClientID))
	}

	pool, err := bundled.Default()
	if err != nil {
		return nil, fmt.Errorf("load bundled poems: %w", err)
	}
	a.importFallbackFeeds(ctx, pool)

	fetcherOpts := []fetcher.Option{
		fetcher.WithRecorder(a.metrics),
		fetcher.WithRequestTimeout(cfg.Source.RequestTimeout),
	}
	newSeenSet := func(string) seen.Set { return seen.NewMemorySet() }

	if opts.storage {
		if set, err := a.connectRedis(); err != nil {
			a.closeAll(ctx)
			return nil, err
		} else if set != nil {
			newSeenSet = set
		}

		writer, err := a.connectArchive(ctx)
		if err != nil {
			a.closeAll(ctx)
			return nil, err
		}
		if writer != nil {
			fetcherOpts = append(fetcherOpts, fetcher.WithSink(writer))
		}

		if err := a.connectPlatform(ctx); err != nil {
			a.closeAll(ctx)
			return nil, err
		}
	}

	a.manager = feed.NewManager(feed.ManagerConfig{
		Settings:        feedSettings(cfg.Feed),
		Endpoints:       endpoints(cfg.Source, log),
		DefaultLanguage: domain.Language(cfg.Feed.DefaultLanguage),
		SessionTTL:      cfg.Feed.SessionTTL,
		BreakerCooldown: cfg.Breaker.Cooldown,
		Client:          client,
		Pool:            pool,
		NewSeenSet:      newSeenSet,
		FetcherOptions:  fetcherOpts,
		OnBreakerChange: a.metrics.BreakerChanged,
		Recorder:        a.metrics,
		Logger:          log,
	})
	return a, nil
}

func feedSettings(f config.FeedConfig) feed.Settings {
	return feed.Settings{
		InitialBatch:    f.InitialBatch,
		InitialTimeout:  f.InitialTimeout,
		InitialMin:      f.InitialMin,
		BackfillBatch:   f.BackfillBatch,
		BackfillTimeout: f.BackfillTimeout,
		BackfillMin:     f.BackfillMin,
		Proximity:       f.Proximity,
		MaxLength:       f.MaxLength,
	}
}

func endpoints(src config.SourceConfig, log logger.Logger) map[domain.Language]string {
	out := make(map[domain.Language]string, len(src.Endpoints))
	for code, url := range src.Endpoints {
		lang, ok := domain.ParseLanguage(code)
		if !ok {
			log.Warn("Ignoring endpoint for unsupported language", logger.String("language", code))
			continue
		}
		if url != "" {
			out[lang] = url
		}
	}
	return out
}

func (a *app) importFallbackFeeds(ctx context.Context, pool *bundled.Pool) {
	if len(a.cfg.Fallback.FeedURLs) == 0 {
		return
	}
	importer := bundled.NewFeedImporter(httpclient.NewClient(httpclient.FeedClient))
	for code, url := range a.cfg.Fallback.FeedURLs {
		lang, ok := domain.ParseLanguage(code)
		if !ok || url == "" {
			continue
		}
		n, err := importer.Import(ctx, pool, lang, url)
		if err != nil {
			a.log.Warn("Fallback feed import failed", logger.String("url", url), logger.Error(err))
			continue
		}
		a.log.Info("Fallback feed imported", logger.String("language", code), logger.Int("poems", n))
	}
}

func (a *app) connectRedis() (func(string) seen.Set, error) {
	rc := a.cfg.Redis
	if !rc.Enabled() {
		return nil, nil
	}
	client, err := seen.NewRedisClient(seen.RedisConfig{Address: rc.Address, Password: rc.Password, DB: rc.DB})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	a.log.Info("Redis seen-id store enabled", logger.String("address", rc.Address))

	return func(sessionID string) seen.Set {
		return seen.NewRedisSet(client, sessionID, rc.TTL)
	}, nil
}

func (a *app) connectArchive(ctx context.Context) (*archive.Writer, error) {
	mc := a.cfg.Mongo
	if !mc.Enabled() {
		return nil, nil
	}
	client, err := db.NewArchiveClient(mc.URI, mc.Database, mc.Collection)
	if err != nil {
		return nil, fmt.Errorf("create archive client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	writer := archive.NewWriter(client, archive.Config{
		Workers:   mc.Workers,
		QueueSize: mc.QueueSize,
		Logger:    a.log,
		Observer:  a.metrics,
	})
	writer.Start()

	// Drain the writer before disconnecting.
	a.closers = append(a.closers, client.Close, writer.Close)
	return writer, nil
}

func (a *app) connectPlatform(ctx context.Context) error {
	sc := a.cfg.Supabase
	if !sc.Enabled() {
		return nil
	}
	client := db.NewSupabaseClient(db.SupabaseConfig{
		URL:              sc.URL,
		Key:              sc.Key,
		Password:         sc.Password,
		ConnectionString: sc.ConnectionString,
	}, a.log)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect supabase: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })

	if client.SDK() == nil {
		a.log.Warn("Supabase auth unavailable without URL and key, platform routes disabled")
		return nil
	}
	if client.HasDirectDB() {
		if err := db.EnsureSchema(ctx, client); err != nil {
			return err
		}
	}

	store, err := platform.NewStore(client, a.log)
	if err != nil {
		return err
	}
	a.platform = platform.NewService(
		platform.NewGoTrueAuth(client.SDK().Auth, a.log),
		store,
		platform.WithLogger(a.log),
	)
	return nil
}

// closeAll runs the closers in reverse order of registration.
func (a *app) closeAll(ctx context.Context) {
	if a.manager != nil {
		a.manager.CloseAll()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Warn("Shutdown step failed", logger.Error(err))
		}
	}
	a.closers = nil
}
