package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arif-mahmud/poolbook/libs/eventbus"
	"github.com/arif-mahmud/poolbook/services/booking-service/internal/availability"
	"github.com/arif-mahmud/poolbook/services/booking-service/internal/model"
	"github.com/arif-mahmud/poolbook/services/booking-service/internal/slotwindow"
	"github.com/arif-mahmud/poolbook/services/booking-service/internal/storage"
)

type BookingHandler struct {
	repo         *storage.BookingRepository
	slots        *storage.SlotRepository
	outbox       *eventbus.Outbox
	logger       *slog.Logger
	spanDays     int
	dayPriceCent int64
	currency     string
}

func NewBookingHandler(repo *storage.BookingRepository, slots *storage.SlotRepository, outbox *eventbus.Outbox, logger *slog.Logger, spanDays int, dayPriceCents int64, currency string) *BookingHandler {
	if spanDays <= 0 {
		spanDays = 3
	}
	if currency == "" {
		currency = "BDT"
	}
	return &BookingHandler{
		repo:         repo,
		slots:        slots,
		outbox:       outbox,
		logger:       logger,
		spanDays:     spanDays,
		dayPriceCent: dayPriceCents,
		currency:     currency,
	}
}

type createBookingRequest struct {
	StartDate     string `json:"start_date"`
	StartTime     string `json:"start_time"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
}

type bookingItem struct {
	BookingID string `json:"booking_id"`
	SlotID    string `json:"slot_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Status    string `json:"status"`
}

type createBookingResponse struct {
	GroupID     string        `json:"group_id"`
	Status      string        `json:"status"`
	AmountCents int64         `json:"amount_cents"`
	Currency    string        `json:"currency"`
	Bookings    []bookingItem `json:"bookings"`
}

// Create reserves the same window on each day of the span in a single transaction.
// The group starts in payment_pending; it only turns booked once billing reports a
// captured payment.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.CustomerName == "" {
		http.Error(w, "customer_name required", http.StatusBadRequest)
		return
	}

	startTime, err := slotwindow.NormalizeClock(req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	dates, err := availability.SpanDates(strings.TrimSpace(req.StartDate), h.spanDays)
	if err != nil {
		http.Error(w, "invalid start_date", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, userID, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if exists && rec.StatusCode > 0 && len(rec.ResponsePayload) > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	// Resolve the window on each day of the span. Every day must carry a slot
	// row, not be a holiday, and have the requested clock open.
	taken, err := h.repo.TakenWindows(ctx, tx, dates)
	if err != nil {
		http.Error(w, "failed to load availability", http.StatusInternalServerError)
		return
	}

	var endTime string
	items := make([]bookingItem, 0, len(dates))
	for _, date := range dates {
		slot, err := h.slots.ForDate(ctx, date)
		if err != nil {
			if storage.IsNotFound(err) {
				http.Error(w, "no slot configured for "+date, http.StatusUnprocessableEntity)
				return
			}
			http.Error(w, "failed to load slot", http.StatusInternalServerError)
			return
		}
		slot.Date = date

		window, ok := findWindow(availability.MarkWindows(slot, taken), startTime)
		if !ok {
			http.Error(w, "window not available on "+date, http.StatusConflict)
			return
		}
		endTime = window.EndTime
		items = append(items, bookingItem{
			SlotID:    slot.ID,
			Date:      date,
			StartTime: window.StartTime,
			EndTime:   window.EndTime,
			Status:    model.StatusPaymentPending,
		})
	}

	group := &model.BookingGroup{
		UserID:      userID,
		StartDate:   dates[0],
		Days:        h.spanDays,
		StartTime:   startTime,
		EndTime:     endTime,
		Status:      model.StatusPaymentPending,
		AmountCents: h.dayPriceCent * int64(h.spanDays),
		Currency:    h.currency,
	}
	groupID, err := h.repo.CreateGroup(ctx, tx, group)
	if err != nil {
		http.Error(w, "failed to create booking group", http.StatusInternalServerError)
		return
	}

	for i := range items {
		id, err := h.repo.CreateBooking(ctx, tx, &model.Booking{
			GroupID:       groupID,
			UserID:        userID,
			SlotID:        items[i].SlotID,
			Date:          items[i].Date,
			StartTime:     items[i].StartTime,
			EndTime:       items[i].EndTime,
			Status:        model.StatusPaymentPending,
			CustomerName:  req.CustomerName,
			CustomerEmail: strings.TrimSpace(req.CustomerEmail),
			CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		})
		if err != nil {
			if storage.IsConflict(err) {
				http.Error(w, "window already booked", http.StatusConflict)
				return
			}
			http.Error(w, "failed to create booking", http.StatusInternalServerError)
			return
		}
		items[i].BookingID = id
	}

	evtPayload, err := json.Marshal(map[string]any{
		"group_id":       groupID,
		"user_id":        userID,
		"start_date":     group.StartDate,
		"days":           group.Days,
		"start_time":     group.StartTime,
		"end_time":       group.EndTime,
		"amount_cents":   group.AmountCents,
		"currency":       group.Currency,
		"customer_name":  req.CustomerName,
		"customer_email": strings.TrimSpace(req.CustomerEmail),
		"customer_phone": strings.TrimSpace(req.CustomerPhone),
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outbox.Insert(ctx, tx, eventbus.Event{
		AggregateType: "booking_group",
		AggregateID:   groupID,
		EventType:     "booking.group.created.v1",
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	respBody, err := json.Marshal(createBookingResponse{
		GroupID:     groupID,
		Status:      model.StatusPaymentPending,
		AmountCents: group.AmountCents,
		Currency:    group.Currency,
		Bookings:    items,
	})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, userID, idempotencyKey, groupID, http.StatusCreated, respBody); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

func findWindow(windows []availability.DayWindow, startTime string) (availability.DayWindow, bool) {
	for _, w := range windows {
		if w.StartTime == startTime {
			return w, w.Available
		}
	}
	return availability.DayWindow{}, false
}

type cancelBookingRequest struct {
	BookingID string `json:"booking_id"`
	GroupID   string `json:"group_id"`
	Reason    string `json:"reason"`
}

// Cancel cancels a single day (booking_id) or every remaining active day of a
// purchase (group_id). Refunds are billing's concern; each cancelled event
// carries what billing needs to decide.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	req.GroupID = strings.TrimSpace(req.GroupID)
	req.Reason = strings.TrimSpace(req.Reason)
	if (req.BookingID == "") == (req.GroupID == "") {
		http.Error(w, "exactly one of booking_id or group_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if req.GroupID != "" {
		h.cancelGroup(w, r, tx, userID, req.GroupID, req.Reason)
		return
	}

	booking, err := h.repo.GetBookingForUpdate(ctx, tx, req.BookingID, userID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load booking", http.StatusInternalServerError)
		return
	}

	if booking.Status == model.StatusCancelled {
		h.writeStatus(w, booking.ID, model.StatusCancelled)
		return
	}
	if booking.Status != model.StatusBooked && booking.Status != model.StatusPaymentPending {
		http.Error(w, "booking cannot be cancelled", http.StatusConflict)
		return
	}

	if err := h.repo.CancelBooking(ctx, tx, booking.ID, req.Reason); err != nil {
		http.Error(w, "failed to cancel booking", http.StatusInternalServerError)
		return
	}

	evt, err := cancelledEvent(booking, req.Reason)
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outbox.Insert(ctx, tx, evt); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.writeStatus(w, booking.ID, model.StatusCancelled)
}

// cancelGroup cancels every remaining blocking day of the group. Rescheduled
// and already-cancelled rows are left alone; each cancelled day gets its own
// event so billing refunds booked days one by one.
func (h *BookingHandler) cancelGroup(w http.ResponseWriter, r *http.Request, tx pgx.Tx, userID, groupID, reason string) {
	ctx := r.Context()

	group, err := h.repo.GetGroupForUpdate(ctx, tx, groupID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "booking group not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load booking group", http.StatusInternalServerError)
		return
	}
	if group.UserID != userID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if group.Status == model.StatusCancelled {
		h.writeGroupStatus(w, group.ID, model.StatusCancelled, nil)
		return
	}

	bookings, err := h.repo.LockGroupBookings(ctx, tx, groupID)
	if err != nil {
		http.Error(w, "failed to load group bookings", http.StatusInternalServerError)
		return
	}

	cancelled := make([]string, 0, len(bookings))
	for _, b := range bookings {
		if !model.Blocks(b.Status) {
			continue
		}
		if err := h.repo.CancelBooking(ctx, tx, b.ID, reason); err != nil {
			http.Error(w, "failed to cancel booking", http.StatusInternalServerError)
			return
		}
		evt, err := cancelledEvent(b, reason)
		if err != nil {
			http.Error(w, "failed to build event payload", http.StatusInternalServerError)
			return
		}
		if err := h.outbox.Insert(ctx, tx, evt); err != nil {
			http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
			return
		}
		cancelled = append(cancelled, b.ID)
	}

	if err := h.repo.CancelGroup(ctx, tx, groupID); err != nil {
		http.Error(w, "failed to cancel booking group", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.writeGroupStatus(w, group.ID, model.StatusCancelled, cancelled)
}

func cancelledEvent(b model.Booking, reason string) (eventbus.Event, error) {
	payload, err := json.Marshal(map[string]any{
		"booking_id":     b.ID,
		"group_id":       b.GroupID,
		"user_id":        b.UserID,
		"date":           b.Date,
		"start_time":     b.StartTime,
		"end_time":       b.EndTime,
		"prior_status":   b.Status,
		"reason":         reason,
		"customer_email": b.CustomerEmail,
		"cancelled_at":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return eventbus.Event{}, err
	}
	return eventbus.Event{
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     "booking.cancelled.v1",
		Payload:       payload,
	}, nil
}

type rescheduleRequest struct {
	BookingID string `json:"booking_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
}

// Reschedule moves one booked day to a new open window. The old row stays as a
// rescheduled tombstone pointing at its replacement, so it no longer blocks.
func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	req.Date = strings.TrimSpace(req.Date)
	if req.BookingID == "" {
		http.Error(w, "booking_id required", http.StatusBadRequest)
		return
	}
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	startTime, err := slotwindow.NormalizeClock(req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	booking, err := h.repo.GetBookingForUpdate(ctx, tx, req.BookingID, userID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load booking", http.StatusInternalServerError)
		return
	}
	if booking.Status != model.StatusBooked {
		http.Error(w, "only booked days can be rescheduled", http.StatusConflict)
		return
	}

	slot, err := h.slots.ForDate(ctx, req.Date)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "no slot configured for "+req.Date, http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, "failed to load slot", http.StatusInternalServerError)
		return
	}
	slot.Date = req.Date

	taken, err := h.repo.TakenWindows(ctx, tx, []string{req.Date})
	if err != nil {
		http.Error(w, "failed to load availability", http.StatusInternalServerError)
		return
	}
	window, ok := findWindow(availability.MarkWindows(slot, taken), startTime)
	if !ok {
		http.Error(w, "window not available on "+req.Date, http.StatusConflict)
		return
	}

	replacementID, err := h.repo.CreateBooking(ctx, tx, &model.Booking{
		GroupID:       booking.GroupID,
		UserID:        userID,
		SlotID:        slot.ID,
		Date:          req.Date,
		StartTime:     window.StartTime,
		EndTime:       window.EndTime,
		Status:        model.StatusBooked,
		CustomerName:  booking.CustomerName,
		CustomerEmail: booking.CustomerEmail,
		CustomerPhone: booking.CustomerPhone,
	})
	if err != nil {
		if storage.IsConflict(err) {
			http.Error(w, "window already booked", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create replacement booking", http.StatusInternalServerError)
		return
	}

	if err := h.repo.MarkRescheduled(ctx, tx, booking.ID, replacementID); err != nil {
		http.Error(w, "failed to mark booking rescheduled", http.StatusInternalServerError)
		return
	}

	evtPayload, err := json.Marshal(map[string]any{
		"booking_id":     booking.ID,
		"replacement_id": replacementID,
		"group_id":       booking.GroupID,
		"user_id":        userID,
		"old_date":       booking.Date,
		"old_start_time": booking.StartTime,
		"new_date":       req.Date,
		"new_start_time": window.StartTime,
		"new_end_time":   window.EndTime,
		"customer_email": booking.CustomerEmail,
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outbox.Insert(ctx, tx, eventbus.Event{
		AggregateType: "booking",
		AggregateID:   booking.ID,
		EventType:     "booking.rescheduled.v1",
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		BookingID     string `json:"booking_id"`
		ReplacementID string `json:"replacement_id"`
		Status        string `json:"status"`
	}{booking.ID, replacementID, model.StatusRescheduled})
}

func (h *BookingHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	bookings, err := h.repo.ListUserBookings(r.Context(), userID)
	if err != nil {
		http.Error(w, "failed to list bookings", http.StatusInternalServerError)
		return
	}

	items := make([]bookingItem, 0, len(bookings))
	for _, b := range bookings {
		items = append(items, bookingItem{
			BookingID: b.ID,
			SlotID:    b.SlotID,
			Date:      b.Date,
			StartTime: b.StartTime,
			EndTime:   b.EndTime,
			Status:    b.Status,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(items)
}

func (h *BookingHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	groupID := strings.TrimSpace(r.URL.Query().Get("group_id"))
	if groupID == "" {
		http.Error(w, "group_id required", http.StatusBadRequest)
		return
	}

	group, err := h.repo.GetGroup(r.Context(), groupID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "booking group not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load booking group", http.StatusInternalServerError)
		return
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	role := strings.TrimSpace(r.Header.Get("X-Role"))
	if role != "admin" && group.UserID != userID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	bookings, err := h.repo.ListGroupBookings(r.Context(), groupID)
	if err != nil {
		http.Error(w, "failed to list group bookings", http.StatusInternalServerError)
		return
	}

	items := make([]bookingItem, 0, len(bookings))
	for _, b := range bookings {
		items = append(items, bookingItem{
			BookingID: b.ID,
			SlotID:    b.SlotID,
			Date:      b.Date,
			StartTime: b.StartTime,
			EndTime:   b.EndTime,
			Status:    b.Status,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(createBookingResponse{
		GroupID:     group.ID,
		Status:      group.Status,
		AmountCents: group.AmountCents,
		Currency:    group.Currency,
		Bookings:    items,
	})
}

func (h *BookingHandler) writeGroupStatus(w http.ResponseWriter, groupID, status string, cancelled []string) {
	if cancelled == nil {
		cancelled = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		GroupID   string   `json:"group_id"`
		Status    string   `json:"status"`
		Cancelled []string `json:"cancelled_booking_ids"`
	}{groupID, status, cancelled})
}

func (h *BookingHandler) writeStatus(w http.ResponseWriter, bookingID, status string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		BookingID string `json:"booking_id"`
		Status    string `json:"status"`
	}{bookingID, status})
}
