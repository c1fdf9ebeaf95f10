package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/digistore-backend/api/responses"
	"github.com/angelmondragon/digistore-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/digistore-backend/pkg/errors"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Digistore-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the database and redis. Either failing reports 503.
func HealthReady(cfg *config.Config, logg *logger.Logger, database, cache pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Digistore-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{"db": "ok", "redis": "ok"}
		var failed error
		if database == nil {
			checks["db"] = "unconfigured"
		} else if err := database.Ping(ctx); err != nil {
			checks["db"] = "down"
			failed = err
		}
		if cache == nil {
			checks["redis"] = "unconfigured"
		} else if err := cache.Ping(ctx); err != nil {
			checks["redis"] = "down"
			failed = err
		}

		if failed != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, failed, "readiness check failed").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
