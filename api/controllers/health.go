package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/creditcore/creditcore-backend/api/responses"
	"github.com/creditcore/creditcore-backend/pkg/config"
	pkgerrors "github.com/creditcore/creditcore-backend/pkg/errors"
	"github.com/creditcore/creditcore-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger is the health surface a datasource exposes.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-CreditCore-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady verifies the datasources the API cannot serve without.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-CreditCore-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{}
		healthy := true
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				checks[name] = "down"
				healthy = false
				if logg != nil {
					logg.Error(logg.WithField(ctx, "dependency", name), "readiness check failed", err)
				}
				continue
			}
			checks[name] = "up"
		}

		if !healthy {
			responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeDependency, "dependency not ready").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
