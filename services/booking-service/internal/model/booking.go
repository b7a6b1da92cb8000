package model

import "time"

// Booking statuses. A booking blocks its time window unless it has been
// cancelled or superseded by a reschedule.
const (
	StatusPaymentPending = "payment_pending"
	StatusBooked         = "booked"
	StatusCompleted      = "completed"
	StatusCancelled      = "cancelled"
	StatusRescheduled    = "rescheduled"
	StatusExpired        = "expired"
)

// Slot is one calendar day's bookable window. At most one slot exists per
// date (unique index on date).
type Slot struct {
	ID           string
	Date         string // 2006-01-02
	EndDate      string // optional; last date of a recurring range
	StartTime    string // HH:MM
	EndTime      string // HH:MM
	DurationMins int
	Holiday      bool
	CreatedAt    time.Time
}

// Booking links a user to a slot date and start/end clock. Bookings created
// as part of a multi-day purchase share a group id.
type Booking struct {
	ID             string
	GroupID        string
	UserID         string
	SlotID         string
	Date           string // 2006-01-02
	StartTime      string // HH:MM
	EndTime        string // HH:MM
	Status         string
	RescheduledTo  string
	CancelReason   string
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
	CreatedAt      time.Time
}

// BookingGroup is the purchase aggregate: one group per checkout, one
// booking row per covered day, all sharing the same time of day.
type BookingGroup struct {
	ID          string
	UserID      string
	StartDate   string
	Days        int
	StartTime   string
	EndTime     string
	Status      string
	AmountCents int64
	Currency    string
	CreatedAt   time.Time
}

// BlockingStatuses lists the statuses that hold a window against new
// bookings. Availability queries filter on it so the SQL and Blocks can
// never drift apart.
func BlockingStatuses() []string {
	return []string{StatusPaymentPending, StatusBooked, StatusCompleted}
}

// Blocks reports whether a booking in this status holds its window against
// new bookings. Cancelled rows never block; rescheduled rows are superseded
// by their replacement and do not block either.
func Blocks(status string) bool {
	for _, s := range BlockingStatuses() {
		if status == s {
			return true
		}
	}
	return false
}
