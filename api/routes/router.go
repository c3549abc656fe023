package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pawfinds/pawfinds-backend/api/controllers"
	"github.com/pawfinds/pawfinds-backend/api/middleware"
	"github.com/pawfinds/pawfinds-backend/internal/adminauth"
	"github.com/pawfinds/pawfinds-backend/internal/listings"
	"github.com/pawfinds/pawfinds-backend/internal/uploads"
	"github.com/pawfinds/pawfinds-backend/pkg/config"
	"github.com/pawfinds/pawfinds-backend/pkg/db"
	"github.com/pawfinds/pawfinds-backend/pkg/db/models"
	"github.com/pawfinds/pawfinds-backend/pkg/enums"
	"github.com/pawfinds/pawfinds-backend/pkg/logger"
	"github.com/pawfinds/pawfinds-backend/pkg/metrics"
	"github.com/pawfinds/pawfinds-backend/pkg/outbox"
	pkgredis "github.com/pawfinds/pawfinds-backend/pkg/redis"
)

// redisStore is the Redis surface shared by the idempotency and rate limit
// middleware.
type redisStore interface {
	pkgredis.IdempotencyStore
	Ping(context.Context) error
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

type dlqLister interface {
	List(ctx context.Context, filter outbox.DLQFilter) ([]models.OutboxDLQ, error)
}

// NewRouter wires every HTTP route. chainPinger may be nil when chain writes
// are disabled.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	dbP db.Pinger,
	redisClient redisStore,
	chainPinger db.Pinger,
	images *uploads.LocalStore,
	authService adminauth.Service,
	listingService listings.Service,
	dlq dlqLister,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, m),
		middleware.CORS(cfg.HTTP.CORSAllowedOrigins),
	)

	loginPolicy := middleware.NewRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	submissionPolicy := middleware.NewRateLimitPolicy(
		"submission",
		cfg.AuthRateLimit.SubmissionWindow,
		cfg.AuthRateLimit.SubmissionIPLimit,
		0,
	)
	submissionIdempotency := middleware.Idempotency(redisClient, cfg.Eventing.IdempotencyTTL, controllers.SubmissionBodyLimit(cfg.Uploads.MaxBytes()), logg)
	decisionIdempotency := middleware.Idempotency(redisClient, cfg.Eventing.IdempotencyTTL, controllers.DecisionBodyLimit(), logg)

	deps := []controllers.Dependency{
		{Name: "db", Pinger: dbP},
		{Name: "redis", Pinger: redisClient},
	}
	if chainPinger != nil {
		deps = append(deps, controllers.Dependency{Name: "chain", Pinger: chainPinger})
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps...))
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))
	}

	r.Get("/images/{filename}", controllers.ListingImage(images, logg))

	r.Get("/api/v1/listings", controllers.PublicListings(listingService, logg))
	r.With(
		middleware.RateLimit(submissionPolicy, redisClient, logg),
		submissionIdempotency,
	).Post("/api/v1/listings", controllers.SubmitListing(listingService, cfg.Uploads.MaxBytes(), logg))

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.With(middleware.RateLimit(loginPolicy, redisClient, logg)).Post("/auth/login", controllers.AdminAuthLogin(authService, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.RequireRole(enums.ActorRoleAdmin, logg))

			r.Route("/listings", func(r chi.Router) {
				r.Get("/", controllers.AdminListings(listingService, logg))
				r.Get("/{listingId}", controllers.AdminListingDetail(listingService, logg))
				r.With(decisionIdempotency).Post("/{listingId}/decision", controllers.AdminDecideListing(listingService, logg))
				r.Delete("/{listingId}", controllers.AdminDeleteListing(listingService, logg))
			})
			r.Get("/outbox/dlq", controllers.AdminOutboxDLQ(dlq, logg))
		})
	})

	return r
}
