package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"jobboard/internal/auth"
	"jobboard/internal/config"
	"jobboard/internal/db"
	"jobboard/internal/jobs"
	"jobboard/internal/maintenance"
	"jobboard/internal/observability"
)

// AbilityJobsWrite guards the job mutation routes.
const AbilityJobsWrite = "jobs:write"

type Options struct {
	LoadDotEnv bool
}

type Runtime struct {
	Config  config.Config
	Handler http.Handler
	Close   func() error
}

// Dependencies are the stores and settings the router is assembled from.
type Dependencies struct {
	Config   config.Config
	Logger   *observability.Logger
	Users    auth.UserStore
	Tokens   auth.TokenStore
	Attempts auth.AttemptStore
	Limiter  auth.LimiterStore
	Jobs     jobs.Store
	Cleaner  maintenance.Cleaner
	Ping     func(ctx context.Context) error
}

func Build(options Options) (*Runtime, error) {
	cfg, err := config.Load(config.Options{LoadDotEnv: options.LoadDotEnv})
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger().With(map[string]any{"env": cfg.AppEnv})

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv, cfg.Release); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	database.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	database.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DB.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.RunMigrations {
		if err := db.RunMigrations(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	limiter, redisClient, err := newLimiterStore(ctx, cfg)
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	if redisClient != nil {
		logger.Info("login_rate_limit_backend", map[string]any{"backend": "redis"})
	}

	authRepo := auth.NewRepository(database)
	handler, err := NewRouter(Dependencies{
		Config:   cfg,
		Logger:   logger,
		Users:    authRepo,
		Tokens:   authRepo,
		Attempts: authRepo,
		Limiter:  limiter,
		Jobs:     jobs.NewRepository(database),
		Cleaner:  authRepo,
		Ping:     database.PingContext,
	})
	if err != nil {
		_ = database.Close()
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, err
	}

	return &Runtime{
		Config:  cfg,
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			if redisClient != nil {
				_ = redisClient.Close()
			}
			return database.Close()
		},
	}, nil
}

// newLimiterStore picks Redis when REDIS_URL is set so several instances share
// one login budget, and an in-process limiter otherwise.
func newLimiterStore(ctx context.Context, cfg config.Config) (auth.LimiterStore, *redis.Client, error) {
	if cfg.RedisURL == "" {
		return auth.NewMemoryLimiterStore(cfg.Auth.LoginRateLimitMax, cfg.Auth.LoginRateLimitWindow), nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	return auth.NewRedisLimiterStore(client, cfg.Auth.LoginRateLimitMax, cfg.Auth.LoginRateLimitWindow), client, nil
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewLogger()
	}

	authService, err := auth.NewService(deps.Users, deps.Tokens, deps.Attempts, logger, auth.ServiceConfig{
		BcryptCost:   deps.Config.Auth.BcryptCost,
		TokenTTL:     deps.Config.Auth.TokenTTL,
		MaxAttempts:  deps.Config.Auth.LoginMaxAttempts,
		LockDuration: deps.Config.Auth.LoginLockDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("init auth service: %w", err)
	}

	authHandler := auth.NewHandler(authService, logger)
	gate := auth.NewGate(authService.Validator(), logger)
	protect := func(h http.HandlerFunc) http.Handler {
		return gate.Middleware(h)
	}
	protectWrite := func(h http.HandlerFunc) http.Handler {
		return gate.RequireAbility(AbilityJobsWrite, h)
	}

	limiter := deps.Limiter
	if limiter == nil {
		limiter = auth.NewMemoryLimiterStore(deps.Config.Auth.LoginRateLimitMax, deps.Config.Auth.LoginRateLimitWindow)
	}
	loginLimiter := auth.NewLoginRateLimiter(limiter, logger)

	jobHandler := jobs.NewHandler(deps.Jobs)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/register", authHandler.Register)
	mux.Handle("POST /api/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.Handle("POST /api/logout", protect(authHandler.Logout))
	mux.Handle("POST /api/logout-all", protect(authHandler.LogoutAll))
	mux.Handle("GET /api/user", protect(authHandler.Me))
	mux.Handle("PUT /api/user/password", protect(authHandler.ChangePassword))

	mux.HandleFunc("GET /api/jobs", jobHandler.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", jobHandler.GetJob)
	mux.Handle("POST /api/jobs", protectWrite(jobHandler.CreateJob))
	mux.Handle("PUT /api/jobs/{id}", protectWrite(jobHandler.UpdateJob))
	mux.Handle("DELETE /api/jobs/{id}", protectWrite(jobHandler.DeleteJob))

	if deps.Cleaner != nil {
		cleanupHandler := maintenance.NewCleanupHandler(
			deps.Cleaner,
			logger,
			deps.Config.CronSecret,
			deps.Config.Auth.LoginAttemptRetention,
			deps.Config.Auth.CleanupBatchSize,
		)
		mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
		mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	}

	mux.HandleFunc("GET /health", healthHandler(deps.Ping))

	return observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux)), nil
}

func healthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if ping != nil {
			if err := ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
