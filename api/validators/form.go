package validators

import (
	"errors"
	"mime/multipart"
	"net/http"
	"reflect"

	pkgerrors "github.com/pawfinds/pawfinds-backend/pkg/errors"
)

const (
	// formMemory is the part of a multipart body kept in memory; file parts
	// beyond it spill to temp files.
	formMemory      = 8 << 20
	maxFormValueLen = 8 << 10
)

// DecodeMultipartForm parses a multipart body capped at maxBytes, copies the
// text fields named by `form` tags into dest and validates it. dest must be a
// pointer to a struct of string fields.
func DecodeMultipartForm(w http.ResponseWriter, r *http.Request, maxBytes int64, dest any) error {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return pkgerrors.Newf(pkgerrors.CodePayloadTooLarge, "request body exceeds %d bytes", tooLarge.Limit)
		}
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid multipart form").WithDetails(map[string]any{"error": err.Error()})
	}

	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return pkgerrors.New(pkgerrors.CodeInternal, "form destination must be a struct pointer")
	}
	rv = rv.Elem()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		name := field.Tag.Get("form")
		if name == "" || field.Type.Kind() != reflect.String {
			continue
		}
		rv.Field(i).SetString(SanitizeString(r.FormValue(name), maxFormValueLen))
	}
	return ValidateStruct(dest)
}

// FormFile opens a required file part of an already parsed multipart form.
func FormFile(r *http.Request, field string) (multipart.File, *multipart.FileHeader, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
				WithDetails(map[string]string{field: "is required"})
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid file part")
	}
	return file, header, nil
}
