package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/arif-mahmud/poolbook/services/report-service/internal/storage"
)

type ReportHandler struct {
	repo   *storage.Repository
	logger *slog.Logger
}

func NewReportHandler(repo *storage.Repository, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{repo: repo, logger: logger}
}

// Bookings returns distinct-group counts per bucket and status.
// GET /api/v1/admin/reports/bookings?granularity=day|month|year&from=&to=
func (h *ReportHandler) Bookings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !isAdmin(r) {
		http.Error(w, "admin role required", http.StatusForbidden)
		return
	}

	granularity := r.URL.Query().Get("granularity")
	switch granularity {
	case "", "day":
		granularity = "day"
	case "month", "year":
	default:
		http.Error(w, "granularity must be day, month, or year", http.StatusBadRequest)
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	buckets, err := h.repo.BookingBuckets(r.Context(), granularity, from, to)
	if err != nil {
		h.logger.Error("booking report query failed", "err", err)
		http.Error(w, "failed to build report", http.StatusInternalServerError)
		return
	}
	if buckets == nil {
		buckets = []storage.BookingBucket{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Granularity string                  `json:"granularity"`
		From        string                  `json:"from"`
		To          string                  `json:"to"`
		Buckets     []storage.BookingBucket `json:"buckets"`
	}{granularity, from, to, buckets})
}

// Revenue returns captured and refunded totals per day plus range totals.
// GET /api/v1/admin/reports/revenue?from=&to=
func (h *ReportHandler) Revenue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !isAdmin(r) {
		http.Error(w, "admin role required", http.StatusForbidden)
		return
	}

	from, to, err := dateRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	days, err := h.repo.RevenueByDay(r.Context(), from, to)
	if err != nil {
		h.logger.Error("revenue report query failed", "err", err)
		http.Error(w, "failed to build report", http.StatusInternalServerError)
		return
	}
	if days == nil {
		days = []storage.RevenueDay{}
	}

	var capturedTotal, refundedTotal, failedTotal int64
	for _, d := range days {
		capturedTotal += d.CapturedCents
		refundedTotal += d.RefundedCents
		failedTotal += d.FailedCents
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		From          string               `json:"from"`
		To            string               `json:"to"`
		CapturedCents int64                `json:"captured_cents"`
		RefundedCents int64                `json:"refunded_cents"`
		FailedCents   int64                `json:"failed_cents"`
		NetCents      int64                `json:"net_cents"`
		Days          []storage.RevenueDay `json:"days"`
	}{from, to, capturedTotal, refundedTotal, failedTotal, capturedTotal - refundedTotal, days})
}

func isAdmin(r *http.Request) bool {
	return r.Header.Get("X-Role") == "admin"
}

// dateRange parses from/to query params, defaulting to the last 30 days.
func dateRange(r *http.Request) (string, string, error) {
	const layout = "2006-01-02"
	now := time.Now().UTC()
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" {
		from = now.AddDate(0, 0, -30).Format(layout)
	}
	if to == "" {
		to = now.Format(layout)
	}
	fromT, err := time.Parse(layout, from)
	if err != nil {
		return "", "", errBadDate("from")
	}
	toT, err := time.Parse(layout, to)
	if err != nil {
		return "", "", errBadDate("to")
	}
	if toT.Before(fromT) {
		return "", "", errBadDate("to")
	}
	return from, to, nil
}

type errBadDate string

func (e errBadDate) Error() string {
	return string(e) + " must be YYYY-MM-DD and form a valid range"
}
