package controllers

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/pawfinds/pawfinds-backend/api/responses"
	pkgerrors "github.com/pawfinds/pawfinds-backend/pkg/errors"
	"github.com/pawfinds/pawfinds-backend/pkg/logger"
)

type imageOpener interface {
	Open(filename string) (*os.File, error)
}

// ListingImage serves an uploaded pet picture by its stored filename.
func ListingImage(store imageOpener, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")
		f, err := store.Open(filename)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "stat image"))
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		http.ServeContent(w, r, filename, info.ModTime(), f)
	}
}
