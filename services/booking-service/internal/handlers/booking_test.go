package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/arif-mahmud/poolbook/services/booking-service/internal/availability"
	"github.com/arif-mahmud/poolbook/services/booking-service/internal/model"
)

func TestFindWindow(t *testing.T) {
	windows := []availability.DayWindow{
		{StartTime: "09:00", EndTime: "10:00", Available: true},
		{StartTime: "10:00", EndTime: "11:00", Available: false},
	}

	w, ok := findWindow(windows, "09:00")
	if !ok || w.EndTime != "10:00" {
		t.Fatalf("expected open 09:00 window, got ok=%v %+v", ok, w)
	}
	if _, ok := findWindow(windows, "10:00"); ok {
		t.Fatal("taken window should not be returned as open")
	}
	if _, ok := findWindow(windows, "11:00"); ok {
		t.Fatal("missing window should not be returned")
	}
}

func TestCreateMethodGuard(t *testing.T) {
	h := NewBookingHandler(nil, nil, nil, nil, 3, 150000, "BDT")
	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodGet, "/api/v1/bookings/create", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestCreateRequiresIdentity(t *testing.T) {
	h := NewBookingHandler(nil, nil, nil, nil, 3, 150000, "BDT")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/create", strings.NewReader(`{}`))
	h.Create(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without X-User-Id, got %d", rec.Code)
	}
}

func TestCancelRequiresExactlyOneTarget(t *testing.T) {
	h := NewBookingHandler(nil, nil, nil, nil, 3, 150000, "BDT")
	cases := []string{
		`{}`,
		`{"booking_id":"bk-1","group_id":"grp-1"}`,
	}
	for _, body := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/cancel", strings.NewReader(body))
		req.Header.Set("X-User-Id", "user-1")
		h.Cancel(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestCancelledEventCarriesPriorStatus(t *testing.T) {
	evt, err := cancelledEvent(model.Booking{
		ID:      "bk-1",
		GroupID: "grp-1",
		UserID:  "user-1",
		Date:    "2026-09-01",
		Status:  model.StatusBooked,
	}, "change of plans")
	if err != nil {
		t.Fatalf("cancelledEvent failed: %v", err)
	}
	if evt.EventType != "booking.cancelled.v1" || evt.AggregateID != "bk-1" {
		t.Fatalf("unexpected event %+v", evt)
	}

	var payload struct {
		GroupID     string `json:"group_id"`
		PriorStatus string `json:"prior_status"`
		Reason      string `json:"reason"`
	}
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.GroupID != "grp-1" || payload.PriorStatus != model.StatusBooked || payload.Reason != "change of plans" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	h := NewBookingHandler(nil, nil, nil, nil, 3, 150000, "BDT")
	cases := []string{
		`{"start_date":"2026-09-01","start_time":"09:00"}`,                            // no name
		`{"start_date":"bad","start_time":"09:00","customer_name":"A"}`,               // bad date
		`{"start_date":"2026-09-01","start_time":"9am","customer_name":"A"}`,          // bad clock
		`not json`,
	}
	for _, body := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/create", strings.NewReader(body))
		req.Header.Set("X-User-Id", "user-1")
		h.Create(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}
