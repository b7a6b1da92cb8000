package availability

import (
	"testing"

	"github.com/arif-mahmud/poolbook/services/booking-service/internal/model"
)

func daySlot(date string) model.Slot {
	return model.Slot{
		ID:           "slot-" + date,
		Date:         date,
		StartTime:    "09:00",
		EndTime:      "12:00",
		DurationMins: 60,
	}
}

func TestMarkWindowsFlagsTaken(t *testing.T) {
	taken := []Booked{{Date: "2026-09-01", Start: "10:00"}}
	windows := MarkWindows(daySlot("2026-09-01"), taken)
	if len(windows) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(windows))
	}
	for _, w := range windows {
		want := w.StartTime != "10:00"
		if w.Available != want {
			t.Fatalf("window %s available=%v, want %v", w.StartTime, w.Available, want)
		}
	}
}

func TestMarkWindowsNormalizesClock(t *testing.T) {
	// Bookings stored as "9:00" or "09:00:00" still block the 09:00 window.
	for _, start := range []string{"9:00", "09:00:00"} {
		windows := MarkWindows(daySlot("2026-09-01"), []Booked{{Date: "2026-09-01", Start: start}})
		if windows[0].Available {
			t.Fatalf("booking at %q did not block the 09:00 window", start)
		}
	}
}

func TestMarkWindowsOtherDateDoesNotBlock(t *testing.T) {
	taken := []Booked{{Date: "2026-09-02", Start: "09:00"}}
	windows := MarkWindows(daySlot("2026-09-01"), taken)
	for _, w := range windows {
		if !w.Available {
			t.Fatalf("window %s blocked by a booking on another date", w.StartTime)
		}
	}
}

func TestSpanDates(t *testing.T) {
	dates, err := SpanDates("2026-08-31", 3)
	if err != nil {
		t.Fatalf("SpanDates failed: %v", err)
	}
	want := []string{"2026-08-31", "2026-09-01", "2026-09-02"}
	for i := range want {
		if dates[i] != want[i] {
			t.Fatalf("dates[%d] = %s, want %s", i, dates[i], want[i])
		}
	}
	if _, err := SpanDates("31-08-2026", 3); err == nil {
		t.Fatal("expected error for malformed date")
	}
}

func TestCommonWindowsIntersection(t *testing.T) {
	day1 := MarkWindows(daySlot("2026-09-01"), nil)
	day2 := MarkWindows(daySlot("2026-09-02"), []Booked{{Date: "2026-09-02", Start: "10:00"}})
	day3 := MarkWindows(daySlot("2026-09-03"), []Booked{{Date: "2026-09-03", Start: "11:00"}})

	common := CommonWindows([][]DayWindow{day1, day2, day3})
	if len(common) != 1 {
		t.Fatalf("expected 1 common window, got %d", len(common))
	}
	if common[0].StartTime != "09:00" || common[0].EndTime != "10:00" {
		t.Fatalf("unexpected common window %+v", common[0])
	}
}

func TestCommonWindowsHolidayEmptiesSpan(t *testing.T) {
	holiday := daySlot("2026-09-02")
	holiday.Holiday = true

	perDay := [][]DayWindow{
		MarkWindows(daySlot("2026-09-01"), nil),
		MarkWindows(holiday, nil),
		MarkWindows(daySlot("2026-09-03"), nil),
	}
	if common := CommonWindows(perDay); len(common) != 0 {
		t.Fatalf("expected no common windows across a holiday, got %d", len(common))
	}
}
