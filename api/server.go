package api

import (
	"net/http"
	"time"

	"github.com/pawfinds/pawfinds-backend/pkg/config"
)

const readHeaderTimeout = 10 * time.Second

// NewServer returns the http.Server cmd/api listens with. The caller owns
// ListenAndServe and Shutdown.
func NewServer(cfg *config.Config, addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       2 * cfg.HTTP.WriteTimeout,
	}
}
