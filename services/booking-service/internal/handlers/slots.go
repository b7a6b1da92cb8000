package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arif-mahmud/poolbook/services/booking-service/internal/availability"
	"github.com/arif-mahmud/poolbook/services/booking-service/internal/model"
	"github.com/arif-mahmud/poolbook/services/booking-service/internal/slotwindow"
	"github.com/arif-mahmud/poolbook/services/booking-service/internal/storage"
)

// SlotHandler serves the admin slot calendar and the public availability views.
type SlotHandler struct {
	slots    *storage.SlotRepository
	bookings *storage.BookingRepository
	logger   *slog.Logger
	spanDays int
}

func NewSlotHandler(slots *storage.SlotRepository, bookings *storage.BookingRepository, logger *slog.Logger, spanDays int) *SlotHandler {
	if spanDays <= 0 {
		spanDays = 3
	}
	return &SlotHandler{slots: slots, bookings: bookings, logger: logger, spanDays: spanDays}
}

type slotRequest struct {
	ID           string `json:"id,omitempty"`
	Date         string `json:"date"`
	EndDate      string `json:"end_date,omitempty"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	DurationMins int    `json:"duration_mins"`
	Holiday      bool   `json:"holiday"`
}

type slotResponse struct {
	ID string `json:"id"`
}

func (h *SlotHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	slot, ok := h.decodeSlot(w, r)
	if !ok {
		return
	}

	id, err := h.slots.Create(r.Context(), &slot)
	if err != nil {
		if storage.IsConflict(err) {
			http.Error(w, "a slot already exists for that date", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create slot", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(slotResponse{ID: id})
}

func (h *SlotHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	slot, ok := h.decodeSlot(w, r)
	if !ok {
		return
	}
	if slot.ID == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	if err := h.slots.Update(r.Context(), &slot); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "slot not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to update slot", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(slotResponse{ID: slot.ID})
}

func (h *SlotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ID) == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	if err := h.slots.Delete(r.Context(), strings.TrimSpace(req.ID)); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "slot not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to delete slot", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SlotHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	from := strings.TrimSpace(r.URL.Query().Get("from"))
	to := strings.TrimSpace(r.URL.Query().Get("to"))
	if from == "" {
		from = time.Now().UTC().Format("2006-01-02")
	}
	if to == "" {
		to = time.Now().UTC().AddDate(0, 1, 0).Format("2006-01-02")
	}

	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	slots, err := h.slots.List(r.Context(), from, to, limit)
	if err != nil {
		http.Error(w, "failed to list slots", http.StatusInternalServerError)
		return
	}
	if slots == nil {
		slots = []model.Slot{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(slots)
}

// Availability returns the day's windows with their taken/open flags.
func (h *SlotHandler) Availability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if _, err := time.Parse("2006-01-02", date); err != nil {
		http.Error(w, "date required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	windows, err := h.dayWindows(r, date)
	if err != nil {
		http.Error(w, "failed to load availability", http.StatusInternalServerError)
		return
	}
	if windows == nil {
		windows = []availability.DayWindow{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(windows)
}

// SpanAvailability lists the start clocks open on every day of the multi-day
// span beginning at start_date. An unconfigured or holiday day empties the list.
func (h *SlotHandler) SpanAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	startDate := strings.TrimSpace(r.URL.Query().Get("start_date"))
	dates, err := availability.SpanDates(startDate, h.spanDays)
	if err != nil {
		http.Error(w, "start_date required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	perDay := make([][]availability.DayWindow, 0, len(dates))
	for _, date := range dates {
		windows, err := h.dayWindows(r, date)
		if err != nil {
			http.Error(w, "failed to load availability", http.StatusInternalServerError)
			return
		}
		perDay = append(perDay, windows)
	}

	common := availability.CommonWindows(perDay)
	if common == nil {
		common = []availability.SpanWindow{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		StartDate string                     `json:"start_date"`
		Days      int                        `json:"days"`
		Windows   []availability.SpanWindow  `json:"windows"`
		PerDay    [][]availability.DayWindow `json:"per_day"`
	}{startDate, h.spanDays, common, perDay})
}

func (h *SlotHandler) dayWindows(r *http.Request, date string) ([]availability.DayWindow, error) {
	slot, err := h.slots.ForDate(r.Context(), date)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	slot.Date = date

	taken, err := h.bookings.TakenWindows(r.Context(), h.bookings.Pool(), []string{date})
	if err != nil {
		return nil, err
	}
	return availability.MarkWindows(slot, taken), nil
}

func (h *SlotHandler) decodeSlot(w http.ResponseWriter, r *http.Request) (model.Slot, bool) {
	var req slotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return model.Slot{}, false
	}

	req.Date = strings.TrimSpace(req.Date)
	req.EndDate = strings.TrimSpace(req.EndDate)
	if req.EndDate == "" {
		req.EndDate = req.Date
	}
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return model.Slot{}, false
	}
	if _, err := time.Parse("2006-01-02", req.EndDate); err != nil {
		http.Error(w, "invalid end_date", http.StatusBadRequest)
		return model.Slot{}, false
	}
	if req.EndDate < req.Date {
		http.Error(w, "end_date before date", http.StatusBadRequest)
		return model.Slot{}, false
	}

	startTime, err := slotwindow.NormalizeClock(req.StartTime)
	if err != nil && !req.Holiday {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return model.Slot{}, false
	}
	endTime, err := slotwindow.NormalizeClock(req.EndTime)
	if err != nil && !req.Holiday {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return model.Slot{}, false
	}
	if !req.Holiday && req.DurationMins <= 0 {
		http.Error(w, "duration_mins must be positive", http.StatusBadRequest)
		return model.Slot{}, false
	}

	return model.Slot{
		ID:           strings.TrimSpace(req.ID),
		Date:         req.Date,
		EndDate:      req.EndDate,
		StartTime:    startTime,
		EndTime:      endTime,
		DurationMins: req.DurationMins,
		Holiday:      req.Holiday,
	}, true
}
