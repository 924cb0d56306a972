package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"

	"inventory-auth/internal/auth"
	"inventory-auth/internal/config"
	"inventory-auth/internal/db"
	"inventory-auth/internal/mail"
	"inventory-auth/internal/maintenance"
	"inventory-auth/internal/observability"
	"inventory-auth/internal/product"
)

type Runtime struct {
	Handler http.Handler

	tokens        *auth.TokenService
	sweepInterval time.Duration
	closers       []func(ctx context.Context) error
}

// RunSweeper purges expired session records every SESSION_SWEEP_MINUTES
// until ctx is done. Serverless entry points never call it and rely on the
// purge done at issuance and on the maintenance endpoint instead.
func (rt *Runtime) RunSweeper(ctx context.Context) {
	rt.tokens.RunSweeper(ctx, rt.sweepInterval)
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	observability.FlushSentry()
	return errors.Join(errs...)
}

type authStores struct {
	users       auth.UserStore
	attempts    auth.AttemptStore
	sessions    auth.SessionStore
	resets      auth.ResetTokenStore
	provisioner auth.UserProvisioner
	cleaner     auth.Cleaner
	products    product.Store
}

func Build(cfg config.Config, logger *observability.Logger) (*Runtime, error) {
	if err := observability.InitSentry(cfg.SentryDSN, cfg.Environment); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err})
	}

	rt := &Runtime{sweepInterval: cfg.SweepInterval}
	fail := func(err error) (*Runtime, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Close(ctx)
		return nil, err
	}

	var stores authStores
	var pingers []func(ctx context.Context) error

	if cfg.SessionStore == config.StoreMemory {
		memory := auth.NewMemoryStore()
		stores = authStores{
			users:       memory,
			attempts:    memory,
			sessions:    memory,
			resets:      memory,
			provisioner: memory,
			cleaner:     memory,
			products:    product.NewMemoryStore(),
		}
		logger.Warn("memory_store_enabled", map[string]any{"environment": cfg.Environment})
	} else {
		database, err := openDatabase(cfg, logger)
		if err != nil {
			return fail(err)
		}
		rt.closers = append(rt.closers, func(context.Context) error { return database.Close() })
		pingers = append(pingers, database.PingContext)

		repo := auth.NewRepository(database)
		stores = authStores{
			users:       repo,
			attempts:    repo,
			sessions:    repo,
			resets:      repo,
			provisioner: repo,
			cleaner:     repo,
			products:    product.NewRepository(database),
		}

		if cfg.SessionStore == config.StoreRedis {
			client, err := auth.NewRedisClient(cfg.RedisURL)
			if err != nil {
				return fail(fmt.Errorf("connect redis: %w", err))
			}
			rt.closers = append(rt.closers, func(context.Context) error { return client.Close() })
			pingers = append(pingers, func(ctx context.Context) error { return client.Ping(ctx).Err() })
			stores.sessions = auth.NewRedisSessionStore(client)
		}
	}

	bootCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := auth.BootstrapAdmin(bootCtx, stores.provisioner, cfg.AdminUsername, cfg.AdminPassword, cfg.AdminEmail, cfg.PasswordHashMethod); err != nil {
		return fail(fmt.Errorf("bootstrap admin: %w", err))
	}

	dispatcher := mail.NewDispatcher(newMailSender(cfg, logger), mail.DispatcherConfig{
		RatePerMinute: cfg.MailRatePerMinute,
		ResetValidFor: cfg.ResetTokenTTL,
	}, logger)
	rt.closers = append(rt.closers, dispatcher.Close)

	tokens := auth.NewTokenService(stores.sessions, auth.TokenConfig{
		Secret: cfg.JWTSecret,
		TTL:    cfg.SessionTTL,
		Leeway: cfg.TokenLeeway,
	}, logger)
	rt.tokens = tokens

	attempts := auth.NewAttemptTracker(stores.attempts, logger).WithPolicy(cfg.MaxLoginAttempts, cfg.LockDuration)
	service := auth.NewService(stores.users, attempts, tokens, logger)
	resetFlow := auth.NewResetFlow(stores.users, stores.resets, dispatcher, auth.ResetConfig{
		TTL:                cfg.ResetTokenTTL,
		MinPasswordLength:  cfg.PasswordMinLength,
		HashMethod:         cfg.PasswordHashMethod,
		InvalidatePrevious: cfg.ResetInvalidatePrevious,
	}, logger)

	cookieStore := sessions.NewCookieStore([]byte(cfg.SessionKey))
	gate := auth.NewGate(cookieStore, tokens, auth.SessionConfig{
		MaxAge: cfg.SessionTTL,
		Secure: cfg.CookieSecure,
	}, logger)

	authHandler := auth.NewHandler(service, resetFlow, tokens, gate, auth.HandlerConfig{
		BaseURL:           cfg.BaseURL,
		LandingPath:       cfg.LandingPath,
		GenericLoginError: cfg.GenericLoginError,
	}, logger)
	cleanupHandler := maintenance.NewCleanupHandler(
		stores.cleaner,
		tokens,
		logger,
		cfg.CronSecret,
		cfg.LoginAttemptRetention,
		cfg.CleanupBatchSize,
	)
	productHandler := product.NewHandler(stores.products, gate)

	mux := http.NewServeMux()
	authHandler.Register(mux)
	cleanupHandler.Register(mux)
	productHandler.Register(mux)
	mux.HandleFunc("GET /health", healthHandler(pingers...))

	rt.Handler = observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))
	return rt, nil
}

func openDatabase(cfg config.Config, logger *observability.Logger) (*sql.DB, error) {
	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(30 * time.Minute)
	database.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.RunMigrations {
		if _, err := db.Migrate(ctx, database, logger); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return database, nil
}

func newMailSender(cfg config.Config, logger *observability.Logger) mail.Sender {
	if !cfg.SMTP.Enabled() {
		logger.Warn("smtp_disabled", map[string]any{"fallback": "log"})
		return mail.LogSender{Logger: logger}
	}
	return mail.SMTPSender{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}
}

func healthHandler(pingers ...func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		for _, ping := range pingers {
			if err := ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				break
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
