package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/pawfinds/pawfinds-backend/api/responses"
	"github.com/pawfinds/pawfinds-backend/pkg/config"
	"github.com/pawfinds/pawfinds-backend/pkg/db"
	pkgerrors "github.com/pawfinds/pawfinds-backend/pkg/errors"
	"github.com/pawfinds/pawfinds-backend/pkg/logger"
)

const readinessTimeout = 3 * time.Second

// Dependency is a named readiness probe.
type Dependency struct {
	Name   string
	Pinger db.Pinger
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-PawFinds-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every dependency and answers 503 with the failing ones
// listed in details.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps ...Dependency) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-PawFinds-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		failed := map[string]string{}
		for _, dep := range deps {
			if dep.Pinger == nil {
				continue
			}
			if err := dep.Pinger.Ping(ctx); err != nil {
				failed[dep.Name] = err.Error()
			}
		}
		if len(failed) > 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(failed))
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
