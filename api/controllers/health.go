package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/amaruortiz/vendora-backend/api/responses"
	"github.com/amaruortiz/vendora-backend/pkg/config"
	pkgerrors "github.com/amaruortiz/vendora-backend/pkg/errors"
	"github.com/amaruortiz/vendora-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Vendora-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the hard dependencies and fails fast when any is down.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps ...pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Vendora-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		for _, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "dependency not ready"))
				return
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
