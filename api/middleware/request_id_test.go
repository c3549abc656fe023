package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pawfinds/pawfinds-backend/pkg/outbox"
)

func TestRequestIDThreadsIntoOutboxContext(t *testing.T) {
	var seen string
	handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = outbox.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/listings", nil)
	req.Header.Set(requestIDHeader, "edge-7f3a")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "edge-7f3a" {
		t.Fatalf("expected upstream id in context, got %q", seen)
	}
	if got := rec.Header().Get(requestIDHeader); got != "edge-7f3a" {
		t.Fatalf("expected echoed id, got %q", got)
	}
}

func TestRequestIDReplacesUnusableHeader(t *testing.T) {
	for _, bad := range []string{"", "has space", "line\nbreak", strings.Repeat("a", maxRequestIDLen+1)} {
		var seen string
		handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = outbox.RequestIDFromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/listings", nil)
		req.Header[requestIDHeader] = []string{bad}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		got := rec.Header().Get(requestIDHeader)
		if got == "" || got == bad || seen != got {
			t.Fatalf("header %q: expected a fresh id, got %q (context %q)", bad, got, seen)
		}
	}
}
