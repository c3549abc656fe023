package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/pawfinds/pawfinds-backend/api/responses"
	"github.com/pawfinds/pawfinds-backend/api/validators"
	"github.com/pawfinds/pawfinds-backend/pkg/db/models"
	"github.com/pawfinds/pawfinds-backend/pkg/enums"
	pkgerrors "github.com/pawfinds/pawfinds-backend/pkg/errors"
	"github.com/pawfinds/pawfinds-backend/pkg/logger"
	"github.com/pawfinds/pawfinds-backend/pkg/outbox"
)

type dlqLister interface {
	List(ctx context.Context, filter outbox.DLQFilter) ([]models.OutboxDLQ, error)
}

// AdminOutboxDLQ lists dead-lettered events, newest failure first. The
// optional listingId and eventType query parameters narrow the list.
func AdminOutboxDLQ(repo dlqLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		listingID, err := validators.ParseQueryUUID(r, "listingId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter := outbox.DLQFilter{ListingID: listingID, Limit: limit}
		if raw := strings.TrimSpace(r.URL.Query().Get("eventType")); raw != "" {
			eventType, err := enums.ParseOutboxEventType(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown event type").
					WithDetails(map[string]any{"eventType": raw}))
				return
			}
			filter.EventType = eventType
		}

		ctx := r.Context()
		if listingID != nil && logg != nil {
			ctx = logg.WithListingID(ctx, listingID.String())
		}
		rows, err := repo.List(ctx, filter)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters"))
			return
		}
		if rows == nil {
			rows = []models.OutboxDLQ{}
		}
		responses.WriteSuccess(w, map[string]any{"items": rows})
	}
}
