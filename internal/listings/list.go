package listings

import (
	"context"

	"github.com/pawfinds/pawfinds-backend/pkg/db/models"
	"github.com/pawfinds/pawfinds-backend/pkg/enums"
	pkgerrors "github.com/pawfinds/pawfinds-backend/pkg/errors"
	"github.com/pawfinds/pawfinds-backend/pkg/pagination"
)

// ListParams configures a status query.
type ListParams struct {
	Status enums.ListingStatus
	pagination.Params
}

// ListResult is one page of listings, newest update first.
type ListResult = pagination.Page[models.Listing]

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if !params.Status.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid status %q", params.Status)
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.ListByStatus(ctx, params.Status, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list listings")
	}

	page := pagination.Trim(rows, params.Limit, func(l models.Listing) pagination.Cursor {
		return pagination.Cursor{At: l.UpdatedAt, ID: l.ID}
	})
	return &page, nil
}
