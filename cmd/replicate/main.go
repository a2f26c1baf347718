package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"poetry-feed/pkg/config"
	"poetry-feed/pkg/db"
	"poetry-feed/pkg/logger"
	"poetry-feed/pkg/replication"
)

func main() {
	var (
		configPath  = flag.String("config", config.Path(), "Config file supplying defaults for the flags below")
		mongoURI    = flag.String("mongo-uri", "", "MongoDB connection string (default mongo.uri)")
		dbName      = flag.String("db", "", "MongoDB database name (default mongo.database)")
		collection  = flag.String("collection", "", "MongoDB collection holding archived poems (default mongo.collection)")
		postgresDSN = flag.String("postgres-dsn", "", "Postgres connection string (default postgres.dsn)")
		batchSize   = flag.Int("batch", 500, "Poems per insert transaction")
		parallel    = flag.Int("parallel", 4, "Batches inserted concurrently")
		skipSchema  = flag.Bool("skip-schema", false, "Do not create the poems table")
		verbose     = flag.Bool("v", false, "Debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	orDefault(mongoURI, cfg.Mongo.URI)
	orDefault(dbName, cfg.Mongo.Database)
	orDefault(collection, cfg.Mongo.Collection)
	orDefault(postgresDSN, cfg.Postgres.DSN)
	if *mongoURI == "" || *postgresDSN == "" {
		log.Fatal("Both a MongoDB URI and a Postgres DSN are required")
	}

	logCfg := cfg.Logging
	logCfg.Format = "console"
	if *verbose {
		logCfg.Level = "debug"
	}
	lg, err := logger.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	archive, err := db.NewArchiveClient(*mongoURI, *dbName, *collection)
	if err != nil {
		lg.Fatal("Failed to create archive client", logger.Error(err))
	}
	if err := archive.Connect(ctx); err != nil {
		lg.Fatal("Failed to connect to MongoDB", logger.Error(err))
	}
	defer archive.Close(context.Background())

	pg := db.NewPostgresClient(db.PostgresConfig{DSN: *postgresDSN})
	if err := pg.Connect(ctx); err != nil {
		lg.Fatal("Failed to connect to Postgres", logger.Error(err))
	}
	defer pg.Close()

	r, err := replication.NewReplicator(replication.Config{
		Archive:     archive,
		Postgres:    pg,
		BatchSize:   *batchSize,
		Parallelism: *parallel,
		SkipSchema:  *skipSchema,
		Logger:      lg,
	})
	if err != nil {
		lg.Fatal("Invalid replication settings", logger.Error(err))
	}

	start := time.Now()
	res, err := r.Run(ctx)
	if err != nil {
		lg.Fatal("Replication failed", logger.Error(err), logger.Int("processed", res.Processed))
	}
	lg.Info("Replication complete",
		logger.Int("processed", res.Processed),
		logger.Int("inserted", res.Inserted),
		logger.Duration("duration", time.Since(start)),
	)
}

func orDefault(flagValue *string, fallback string) {
	if *flagValue == "" {
		*flagValue = fallback
	}
}
