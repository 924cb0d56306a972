package api

import (
	"encoding/json"
	"net/http"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"inventory-auth/internal/app"
	"inventory-auth/internal/config"
	"inventory-auth/internal/observability"
)

var (
	initOnce   sync.Once
	apiRuntime *app.Runtime
	initErr    error
)

func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(func() {
		logger := observability.NewLogger()

		cfg, err := config.Load(false)
		if err != nil {
			logger.Error("load_config_failed", map[string]any{"error": err})
			initErr = err
			return
		}
		cfg.RunMigrations = config.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false)

		apiRuntime, initErr = app.Build(cfg, logger)
		if initErr != nil {
			logger.Error("bootstrap_failed", map[string]any{"error": initErr})
		}
	})

	if initErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "application bootstrap failed"})
		return
	}

	apiRuntime.Handler.ServeHTTP(w, r)
}
