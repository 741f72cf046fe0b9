package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/barberdeskapp/barberdesk-backend/api/responses"
	"github.com/barberdeskapp/barberdesk-backend/pkg/config"
	"github.com/barberdeskapp/barberdesk-backend/pkg/db"
	pkgerrors "github.com/barberdeskapp/barberdesk-backend/pkg/errors"
	"github.com/barberdeskapp/barberdesk-backend/pkg/logger"
	"github.com/barberdeskapp/barberdesk-backend/pkg/redis"
)

const readinessTimeout = 3 * time.Second

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-BarberDesk-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady checks the store and the bus. A failing dependency returns 503
// so the load balancer stops routing before writes start failing.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-BarberDesk-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		if dbP != nil {
			if err := dbP.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store unavailable"))
				return
			}
		}
		if redisP != nil {
			if err := redisP.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bus unavailable"))
				return
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
