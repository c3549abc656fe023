package controllers

import (
	"net/http"

	"github.com/pawfinds/pawfinds-backend/api/responses"
	"github.com/pawfinds/pawfinds-backend/api/validators"
	"github.com/pawfinds/pawfinds-backend/internal/adminauth"
	pkgerrors "github.com/pawfinds/pawfinds-backend/pkg/errors"
	"github.com/pawfinds/pawfinds-backend/pkg/logger"
)

// AdminAuthLogin exchanges the admin credentials for a bearer token.
func AdminAuthLogin(svc adminauth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			err := pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable")
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body adminauth.LoginRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Login(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}
