package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pawfinds/pawfinds-backend/pkg/logger"
)

func TestRecovererLogsListingRoute(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})

	r := chi.NewRouter()
	r.Use(Recoverer(logg))
	r.Delete("/api/admin/v1/listings/{listingId}", func(http.ResponseWriter, *http.Request) {
		panic("nil chain record")
	})

	listingID := "7b0c1e2a-4d1f-4a7e-9a51-0f8f7d1c2b3a"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/admin/v1/listings/"+listingID, nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "nil chain record") {
		t.Fatalf("panic value leaked to client: %s", rec.Body.String())
	}

	first, _, _ := strings.Cut(buf.String(), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(first), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", first, err)
	}
	if entry["message"] != "panic.recovered" {
		t.Fatalf("unexpected first log line: %v", entry)
	}
	if entry["listing_id"] != listingID {
		t.Fatalf("expected listing_id %s, got %v", listingID, entry["listing_id"])
	}
	if entry["method"] != http.MethodDelete {
		t.Fatalf("expected method DELETE, got %v", entry["method"])
	}
}
