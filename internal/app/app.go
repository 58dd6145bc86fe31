package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sundayezeilo/shortly/internal/config"
	"github.com/sundayezeilo/shortly/internal/httpx"
	"github.com/sundayezeilo/shortly/internal/idgen"
	"github.com/sundayezeilo/shortly/internal/server"
	"github.com/sundayezeilo/shortly/internal/shortener"
	"github.com/sundayezeilo/shortly/internal/storage/cache"
	"github.com/sundayezeilo/shortly/internal/storage/memory"
	"github.com/sundayezeilo/shortly/internal/storage/postgres"
	"github.com/sundayezeilo/shortly/internal/storage/sqlite"
	"github.com/sundayezeilo/shortly/internal/title"
)

// backend is a link store that can report its health.
type backend interface {
	shortener.Store
	server.Pinger
}

// App holds the application dependencies and configuration.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   backend
	Server  *server.Server
	Handler *shortener.Handler

	closers []func() error
}

// New initializes and returns a new App instance with all dependencies wired up.
func New(ctx context.Context) (*App, error) {
	if err := loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a := &App{Config: cfg}

	logger, logFile := setupLogger(cfg.App)
	a.Logger = logger
	if logFile != nil {
		a.closers = append(a.closers, logFile.Close)
	}

	logger.Info("starting application",
		"env", cfg.App.Environment,
		"service", cfg.App.ServiceName,
		"version", cfg.App.ServiceVersion,
		"db_driver", cfg.Database.Driver,
	)

	store, err := a.openStore(ctx)
	if err != nil {
		_ = a.Shutdown()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if cfg.Cache.Enabled {
		rdb := connectRedis(ctx, cfg.Cache, logger)
		a.closers = append(a.closers, rdb.Close)
		store = cache.New(store, rdb, cache.Config{
			TTL:         cfg.Cache.TTL,
			NegativeTTL: cfg.Cache.NegativeTTL,
			Logger:      logger,
		})
	}
	a.Store = store

	version, err := idgen.ParseVersion(cfg.Shortener.IDVersion)
	if err != nil {
		_ = a.Shutdown()
		return nil, err
	}

	fetcher := title.New(title.Config{
		Timeout:      cfg.Title.Timeout,
		MaxBodyBytes: cfg.Title.MaxBodyBytes,
		UserAgent:    cfg.Title.UserAgent,
	})

	svc := shortener.NewService(store, fetcher, &shortener.ServiceConfig{
		IDGenerator:    idgen.New(version),
		Logger:         logger,
		BaseURL:        cfg.Server.BaseURL,
		CodeLength:     cfg.Shortener.CodeLength,
		CodeMaxRetries: cfg.Shortener.CodeMaxRetries,
		TitleTimeout:   cfg.Title.Timeout,
		CreateTimeout:  cfg.Shortener.CreateTimeout,
		RequireCaller:  cfg.Auth.Required,
	})

	a.Handler = shortener.NewHandler(shortener.HandlerConfig{
		Service: svc,
		Logger:  logger,
		BaseURL: cfg.Server.BaseURL,
		HomeURL: cfg.Shortener.HomeURL,
	})

	var auth *httpx.AuthConfig
	if cfg.Auth.Enabled() {
		auth = &httpx.AuthConfig{
			Secret:   []byte(cfg.Auth.JWTSecret),
			Issuer:   cfg.Auth.Issuer,
			Required: cfg.Auth.Required,
			Logger:   logger,
		}
	}

	var limit *httpx.RateLimitConfig
	if cfg.RateLimit.Enabled {
		limit = &httpx.RateLimitConfig{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst}
	}

	a.Server = server.New(server.Options{
		Config:    cfg,
		Logger:    logger,
		Handler:   a.Handler,
		Health:    store,
		Auth:      auth,
		RateLimit: limit,
	})

	logger.Info("application initialized",
		"addr", cfg.Server.Addr(),
		"base_url", cfg.Server.BaseURL,
		"cache", cfg.Cache.Enabled,
		"auth", cfg.Auth.Enabled(),
	)

	return a, nil
}

// Start starts the application server.
func (a *App) Start(ctx context.Context) error {
	a.Logger.Info("server starting",
		"addr", a.Config.Server.Addr(),
		"base_url", a.Config.Server.BaseURL,
	)

	if err := a.Server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown releases every resource New acquired, newest first.
func (a *App) Shutdown() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openStore connects the configured backend and registers its cleanup.
func (a *App) openStore(ctx context.Context) (backend, error) {
	cfg, logger := a.Config, a.Logger

	switch cfg.Database.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory store, data will not survive a restart")
		return memory.New(), nil

	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.Database.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		logger.Info("sqlite store ready")
		return store, nil

	default:
		if cfg.Database.Migrate {
			if err := postgres.Migrate(cfg.Database.URL(), logger); err != nil {
				return nil, fmt.Errorf("failed to migrate database: %w", err)
			}
		}

		pool, err := connectDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, func() error {
			pool.Close()
			logger.Info("database connection closed")
			return nil
		})
		return postgres.New(pool), nil
	}
}

// loadEnv loads .env file only in non-production environments.
func loadEnv() error {
	env := os.Getenv("APP_ENV")
	if env == "" || env == "development" || env == "test" {
		if err := godotenv.Load(); err != nil {
			log.Println("no .env file found.")
		}
	}
	return nil
}

// setupLogger creates a JSON logger at the configured level. When a log
// file is configured, records also go to a size-rotated file, which is
// returned so it can be closed on shutdown.
func setupLogger(cfg config.AppConfig) (*slog.Logger, io.Closer) {
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var (
		out  io.Writer = os.Stdout
		file *lumberjack.Logger
	)
	if cfg.LogFile != "" {
		file = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, file)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler).With("service", cfg.ServiceName)

	if file == nil {
		return logger, nil
	}
	return logger, file
}

// connectDatabase establishes a connection to the PostgreSQL database.
func connectDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns

	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established")

	return pool, nil
}

// connectRedis returns a client for the link cache. An unreachable Redis at
// startup is logged; the cache then degrades to the backend until it
// recovers.
func connectRedis(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: 20,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, continuing with cache degraded", "addr", cfg.Addr, "error", err)
		return rdb
	}

	logger.Info("redis connection established", "addr", cfg.Addr)
	return rdb
}
