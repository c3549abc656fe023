package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pawfinds/pawfinds-backend/api/middleware"
	"github.com/pawfinds/pawfinds-backend/api/responses"
	"github.com/pawfinds/pawfinds-backend/api/validators"
	"github.com/pawfinds/pawfinds-backend/internal/listings"
	"github.com/pawfinds/pawfinds-backend/pkg/enums"
	pkgerrors "github.com/pawfinds/pawfinds-backend/pkg/errors"
	"github.com/pawfinds/pawfinds-backend/pkg/logger"
	"github.com/pawfinds/pawfinds-backend/pkg/pagination"
)

// multipartOverhead is added to the image cap to leave room for the text
// fields and part headers.
const multipartOverhead = 1 << 20

// decisionBodyLimit caps the JSON body of a decision request.
const decisionBodyLimit = 64 << 10

// SubmissionBodyLimit is the largest multipart body a submission may carry.
func SubmissionBodyLimit(maxUploadBytes int64) int64 {
	return maxUploadBytes + multipartOverhead
}

// DecisionBodyLimit is the largest JSON body a decision may carry.
func DecisionBodyLimit() int64 {
	return decisionBodyLimit
}

// SubmitListingForm mirrors the multipart fields of the adoption form.
type SubmitListingForm struct {
	Name          string `form:"name" validate:"required,max=100"`
	Age           string `form:"age" validate:"required,max=50"`
	Area          string `form:"area" validate:"required,max=200"`
	Justification string `form:"justification" validate:"required,max=2000"`
	Email         string `form:"email" validate:"required,email,max=254"`
	Phone         string `form:"phone" validate:"required,max=32"`
	Type          string `form:"type" validate:"required,max=50"`
}

// DecisionRequest is the admin approval payload. Contact fields are optional
// overrides of the submitted values.
type DecisionRequest struct {
	Status string  `json:"status" validate:"required,max=20"`
	Name   *string `json:"name,omitempty" validate:"omitempty,max=100"`
	Email  *string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Phone  *string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

// SubmitListing accepts the public multipart submission.
func SubmitListing(svc listings.Service, maxUploadBytes int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var form SubmitListingForm
		if err := validators.DecodeMultipartForm(w, r, SubmissionBodyLimit(maxUploadBytes), &form); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		defer func() {
			if r.MultipartForm != nil {
				_ = r.MultipartForm.RemoveAll()
			}
		}()

		picture, _, err := validators.FormFile(r, "picture")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		defer picture.Close()

		listing, err := svc.Submit(r.Context(), listings.SubmitInput{
			Name:          form.Name,
			Age:           form.Age,
			Area:          form.Area,
			Justification: form.Justification,
			Email:         form.Email,
			Phone:         form.Phone,
			Type:          form.Type,
			Picture:       picture,
			Actor:         middleware.ActorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, listing)
	}
}

// PublicListings lists approved pets, newest update first.
func PublicListings(svc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.List(r.Context(), listings.ListParams{Status: enums.ListingStatusApproved, Params: params})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// AdminListings lists listings in the requested status.
func AdminListings(svc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.URL.Query().Get("status"))
		if raw == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "status is required").
				WithDetails(map[string]any{"field": "status"}))
			return
		}
		status, err := enums.ParseListingStatus(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error()).
				WithDetails(map[string]any{"field": "status"}))
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.List(r.Context(), listings.ListParams{Status: status, Params: params})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// AdminListingDetail returns one listing with its chain trail.
func AdminListingDetail(svc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := listingIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

func AdminDecideListing(svc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := listingIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body DecisionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseListingStatus(body.Status)
		if err != nil || !status.IsDecision() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "status must be Approved or Rejected").
				WithDetails(map[string]any{"status": "must be Approved or Rejected"}))
			return
		}

		listing, err := svc.Decide(r.Context(), listings.DecisionInput{
			ListingID: id,
			Status:    status,
			Name:      body.Name,
			Email:     body.Email,
			Phone:     body.Phone,
			Actor:     middleware.ActorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, listing)
	}
}

func AdminDeleteListing(svc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := listingIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), listings.DeleteInput{
			ListingID: id,
			Actor:     middleware.ActorFromContext(r.Context()),
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"deleted": true})
	}
}

func listingIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "listingId"))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid listing id").
			WithDetails(map[string]any{"field": "listingId"})
	}
	return id, nil
}

func pageParams(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}, nil
}
