package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/kindergarten-notify/internal/api"
	"github.com/LeventeLantos/kindergarten-notify/internal/auth"
	"github.com/LeventeLantos/kindergarten-notify/internal/cache"
	"github.com/LeventeLantos/kindergarten-notify/internal/channel"
	"github.com/LeventeLantos/kindergarten-notify/internal/config"
	"github.com/LeventeLantos/kindergarten-notify/internal/metrics"
	"github.com/LeventeLantos/kindergarten-notify/internal/repo"
	"github.com/LeventeLantos/kindergarten-notify/internal/scheduler"
	"github.com/LeventeLantos/kindergarten-notify/internal/service"
	"github.com/LeventeLantos/kindergarten-notify/internal/token"
	"github.com/LeventeLantos/kindergarten-notify/internal/trigger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("notifier exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	var envFile string
	var once, migrateOnly bool

	flagSet := pflag.NewFlagSet("notifier", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "load environment variables from this file if it exists")
	flagSet.BoolVar(&once, "once", false, "run a single dispatch batch and exit (for external cron)")
	flagSet.BoolVar(&migrateOnly, "migrate", false, "apply the database schema and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	_ = godotenv.Load(envFile)

	cfg, err := config.LoadAll()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, dialect, err := openDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repo.Migrate(ctx, db, dialect); err != nil {
		return err
	}
	if migrateOnly {
		slog.Info("schema applied", "driver", cfg.Database.Driver)
		return nil
	}

	messages, tokenStore := repositories(db, dialect)

	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		redisCache = cache.NewRedisCache(rdb, cfg.Redis.TTL)
	}

	var channels *channel.File
	if cfg.Webhook.ChannelsFile != "" {
		channels, err = channel.LoadFile(cfg.Webhook.ChannelsFile)
		if err != nil {
			return err
		}
	}
	registry := channel.NewRegistry(cfg.Webhook.URL, cfg.Webhook.Secret, channels)

	dispatcher := service.NewDispatcher(messages, registry, service.DispatcherOptions{
		BatchSize:   cfg.Scheduler.BatchSize,
		ContentMax:  cfg.Webhook.ContentMax,
		SendTimeout: cfg.Webhook.SendTimeout,
	})
	if redisCache != nil {
		dispatcher.WithCache(redisCache)
	}

	slog.Info("notifier starting",
		"addr", cfg.Server.Address,
		"driver", cfg.Database.Driver,
		"interval", cfg.Scheduler.Interval.String(),
		"batch", cfg.Scheduler.BatchSize,
		"tenant_channels", registry.Tenants(),
		"redis", cfg.Redis.Enabled,
		"amqp", cfg.AMQP.Enabled,
	)

	if once {
		res, err := dispatcher.RunBatch(ctx)
		if err != nil {
			return err
		}
		sent, failed := res.Counts()
		slog.Info("dispatch run finished", "processed", res.Processed, "sent", sent, "failed", failed, "released", res.Released)
		return nil
	}

	tokens, err := token.NewService(tokenStore, cfg.Reports.BaseURL)
	if err != nil {
		return err
	}
	if redisCache != nil {
		tokens.WithCache(redisCache)
	}

	sched, err := scheduler.New(cfg.Scheduler.Interval, func(ctx context.Context) error {
		_, err := dispatcher.RunBatch(ctx)
		return err
	})
	if err != nil {
		return err
	}
	sched.WithTimeout(dispatcher.RunBudget())

	authn, err := auth.New(cfg.Auth.JWTSecret, 0)
	if err != nil {
		return err
	}

	metrics.Init()

	queue := service.NewQueue(messages)
	h := api.NewHandler(sched, dispatcher, queue, tokens)
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(h, authn)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sched.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Scheduler.Enabled {
		sched.Start()
	}

	if cfg.AMQP.Enabled {
		sub, err := trigger.Dial(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		defer sub.Close()

		consumer := trigger.NewConsumer(cfg.AMQP.Queue, queue)
		g.Go(func() error {
			return consumer.Run(gctx, sub.Msgs)
		})
	}

	return g.Wait()
}

func openDB(cfg config.DatabaseConfig) (*sql.DB, repo.Dialect, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := repo.OpenSQLite(cfg.SQLitePath)
		return db, repo.SQLite, err
	default:
		db, err := sql.Open("pgx", cfg.PostgresURL)
		if err != nil {
			return nil, repo.Postgres, fmt.Errorf("open postgres: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, repo.Postgres, fmt.Errorf("ping postgres: %w", err)
		}
		return db, repo.Postgres, nil
	}
}

func repositories(db *sql.DB, d repo.Dialect) (repo.MessageRepository, repo.TokenRepository) {
	if d == repo.SQLite {
		return repo.NewSQLiteMessageRepo(db), repo.NewSQLiteTokenRepo(db)
	}
	return repo.NewPostgresMessageRepo(db), repo.NewPostgresTokenRepo(db)
}
