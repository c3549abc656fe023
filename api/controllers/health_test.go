package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pawfinds/pawfinds-backend/pkg/config"
	"github.com/pawfinds/pawfinds-backend/pkg/logger"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthLive(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}
	resp := httptest.NewRecorder()
	HealthLive(cfg).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "dev", resp.Header().Get("X-PawFinds-Env"))
}

func TestHealthReadyReportsFailingDependencies(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}

	resp := httptest.NewRecorder()
	HealthReady(cfg, logger.Nop(),
		Dependency{Name: "db", Pinger: stubPinger{}},
		Dependency{Name: "redis", Pinger: stubPinger{}},
	).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	HealthReady(cfg, logger.Nop(),
		Dependency{Name: "db", Pinger: stubPinger{}},
		Dependency{Name: "chain", Pinger: stubPinger{err: errors.New("dial tcp: refused")}},
	).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Contains(t, resp.Body.String(), `"chain":"dial tcp: refused"`)
}
