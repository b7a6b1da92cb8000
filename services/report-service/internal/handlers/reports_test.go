package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReportsRequireAdminRole(t *testing.T) {
	h := NewReportHandler(nil, nil)

	for _, path := range []string{"/api/v1/admin/reports/bookings", "/api/v1/admin/reports/revenue"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Role", "customer")
		rec := httptest.NewRecorder()
		if path == "/api/v1/admin/reports/bookings" {
			h.Bookings(rec, req)
		} else {
			h.Revenue(rec, req)
		}
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s: status = %d, want 403", path, rec.Code)
		}
	}
}

func TestBookingsRejectsBadGranularity(t *testing.T) {
	h := NewReportHandler(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/reports/bookings?granularity=week", nil)
	req.Header.Set("X-Role", "admin")
	rec := httptest.NewRecorder()
	h.Bookings(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDateRange(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?from=2026-08-01&to=2026-08-31", nil)
	from, to, err := dateRange(req)
	if err != nil {
		t.Fatalf("dateRange: %v", err)
	}
	if from != "2026-08-01" || to != "2026-08-31" {
		t.Fatalf("range = %s..%s", from, to)
	}

	req = httptest.NewRequest(http.MethodGet, "/x?from=2026-08-31&to=2026-08-01", nil)
	if _, _, err := dateRange(req); err == nil {
		t.Fatal("inverted range accepted")
	}

	req = httptest.NewRequest(http.MethodGet, "/x?from=31-08-2026", nil)
	if _, _, err := dateRange(req); err == nil {
		t.Fatal("malformed from accepted")
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	if _, _, err := dateRange(req); err != nil {
		t.Fatalf("default range: %v", err)
	}
}
