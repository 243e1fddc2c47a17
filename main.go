package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gohye/auction-core/internal/clock"
	"github.com/gohye/auction-core/internal/config"
	"github.com/gohye/auction-core/internal/domain/auction"
	"github.com/gohye/auction-core/internal/gateways/backup"
	"github.com/gohye/auction-core/internal/gateways/database"
	"github.com/gohye/auction-core/internal/gateways/database/repositories"
	"github.com/gohye/auction-core/internal/gateways/events"
	"github.com/gohye/auction-core/internal/logger"
	"github.com/gohye/auction-core/internal/metrics"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	path := flag.String("config", "config.toml", "path to config, empty to use defaults")
	envFile := flag.String("env", ".env", "path to an optional dotenv file")
	migrateOnly := flag.Bool("migrate", false, "apply store migrations and exit")
	flag.Parse()

	cfg, err := config.Load(*path, *envFile)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}

	slog.SetDefault(slog.New(logger.NewHandler(os.Stdout, logger.Options{
		Level:     cfg.Log.Level,
		AddSource: cfg.Log.AddSource,
		NoColor:   cfg.Log.NoColor,
	})))
	logger.LogSystem("Starting auction core",
		slog.String("version", version),
		slog.String("commit", commit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *migrateOnly); err != nil {
		logger.LogError("Auction core stopped", err, slog.String("status", "failed"))
		stop()
		os.Exit(-1)
	}
}

func run(ctx context.Context, cfg *config.Config, migrateOnly bool) error {
	dbStartTime := time.Now()
	openCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	db, err := database.Open(openCtx, database.Config{
		StorePath:  cfg.StorePath,
		SlowQuery:  200 * time.Millisecond,
		LogQueries: cfg.Log.LogQueries,
	})
	if err != nil {
		return fmt.Errorf("store connection failed: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(openCtx); err != nil {
		return fmt.Errorf("store migration failed: %w", err)
	}
	schema, err := db.SchemaVersion(openCtx)
	if err != nil {
		return err
	}
	logger.LogSystem("Store ready",
		slog.String("dialect", string(db.Dialect())),
		slog.Int("schema_version", schema),
		slog.Duration("took", time.Since(dbStartTime)),
	)
	if migrateOnly {
		return nil
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sinks, closeSinks, err := connectSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	engine, err := auction.NewEngine(auction.EngineConfig{
		Repository: repositories.NewAuctionRepository(db.BunDB()),
		Clock:      clock.System(),
		Options:    cfg.EngineOptions(),
		Sinks:      sinks,
		Metrics:    metrics.New(registry),
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	var wg sync.WaitGroup
	if cfg.Spaces.Enabled() {
		if err := startBackups(ctx, &wg, cfg, db); err != nil {
			return err
		}
	}

	sweeper := auction.NewSweeper(engine, cfg.SweepInterval())
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(registry))
		srv = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.LogError("Metrics server failed", err, slog.String("addr", cfg.Metrics.Addr))
			}
		}()
		logger.LogSystem("Serving metrics", slog.String("addr", cfg.Metrics.Addr))
	}

	logger.LogSystem("Auction core is running. Press CTRL-C to exit.",
		slog.Int("sinks", len(sinks)),
		slog.Duration("sweep_interval", cfg.SweepInterval()),
	)
	<-ctx.Done()
	logger.LogSystem("Shutting down auction core...")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.LogError("Metrics server shutdown failed", err)
		}
	}
	wg.Wait()
	return nil
}

// connectSinks dials every configured event sink. The returned func closes
// the connections and is safe to call when no sink was configured.
func connectSinks(ctx context.Context, cfg *config.Config) ([]auction.EventSink, func(), error) {
	var (
		sinks   []auction.EventSink
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Discord.Token != "" {
		sink, err := events.NewDiscordSink(events.NewDiscordRest(cfg.Discord.Token), cfg.Discord.AuditChannelID)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, sink)
	}

	if cfg.NATS.URL != "" {
		conn, err := events.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, conn.Close)
		sinks = append(sinks, events.NewNATSSink(conn, cfg.NATS.SubjectPrefix))
	}

	if cfg.Redis.Addr != "" {
		rdb, err := events.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = rdb.Close() })
		ttl := time.Duration(cfg.Redis.DedupeTTLMinutes) * time.Minute
		sinks = append(sinks, events.NewRedisSink(rdb, cfg.Redis.ChannelPrefix, ttl))
	}

	if cfg.Mongo.URI != "" {
		client, err := events.ConnectMongo(ctx, cfg.Mongo.URI)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = client.Disconnect(ctx)
		})
		coll := client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection)
		sinks = append(sinks, events.NewMongoSink(coll))
	}

	for _, s := range sinks {
		logger.LogSystem("Event sink connected", slog.String("sink", s.Name()))
	}
	return sinks, closeAll, nil
}

func startBackups(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, db *database.DB) error {
	if db.Dialect() != database.DialectSQLite {
		slog.Warn("Store backups need a sqlite store, skipping",
			slog.String("type", "sys"),
			slog.String("dialect", string(db.Dialect())),
		)
		return nil
	}

	bcfg := backup.Config{
		Key:      cfg.Spaces.Key,
		Secret:   cfg.Spaces.Secret,
		Region:   cfg.Spaces.Region,
		Bucket:   cfg.Spaces.Bucket,
		Prefix:   cfg.Spaces.Prefix,
		Endpoint: cfg.Spaces.Endpoint,
		Interval: time.Duration(cfg.Spaces.IntervalMinutes) * time.Minute,
	}
	client, err := backup.NewSpacesClient(ctx, bcfg)
	if err != nil {
		return err
	}

	svc := backup.NewSpacesService(client, db, bcfg, nil)
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.Run(ctx)
	}()
	return nil
}
