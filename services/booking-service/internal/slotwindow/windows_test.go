package slotwindow

import (
	"testing"

	"github.com/arif-mahmud/poolbook/services/booking-service/internal/model"
)

func slot(start, end string, duration int) model.Slot {
	return model.Slot{
		ID:           "slot-1",
		Date:         "2026-09-01",
		StartTime:    start,
		EndTime:      end,
		DurationMins: duration,
	}
}

func TestGenerateEvenDivision(t *testing.T) {
	windows := Generate(slot("09:00", "11:00", 60))
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}
	if windows[0].Start != "09:00" || windows[0].End != "10:00" {
		t.Fatalf("unexpected first window %+v", windows[0])
	}
	if windows[1].Start != "10:00" || windows[1].End != "11:00" {
		t.Fatalf("unexpected second window %+v", windows[1])
	}
}

func TestGenerateDropsPartialWindow(t *testing.T) {
	// 09:00-10:30 with 60-minute duration: only 09:00-10:00 fits.
	windows := Generate(slot("09:00", "10:30", 60))
	if len(windows) != 1 {
		t.Fatalf("expected 1 window, got %d", len(windows))
	}
	if windows[0].End != "10:00" {
		t.Fatalf("expected window to end 10:00, got %s", windows[0].End)
	}
}

func TestGenerateCounts(t *testing.T) {
	cases := []struct {
		start, end string
		duration   int
		want       int
	}{
		{"09:00", "17:00", 60, 8},
		{"09:00", "17:00", 45, 10},
		{"06:30", "07:30", 20, 3},
		{"09:00", "09:00", 60, 0},
		{"09:00", "10:00", 0, 0},
		{"09:00", "10:00", -15, 0},
		{"10:00", "09:00", 60, 0},
	}
	for _, tc := range cases {
		got := len(Generate(slot(tc.start, tc.end, tc.duration)))
		if got != tc.want {
			t.Fatalf("%s-%s/%d: expected %d windows, got %d", tc.start, tc.end, tc.duration, tc.want, got)
		}
	}
}

func TestGenerateHoliday(t *testing.T) {
	s := slot("09:00", "17:00", 60)
	s.Holiday = true
	if windows := Generate(s); len(windows) != 0 {
		t.Fatalf("expected no windows for holiday slot, got %d", len(windows))
	}
}

func TestGenerateBadClock(t *testing.T) {
	if windows := Generate(slot("9am", "11:00", 60)); windows != nil {
		t.Fatalf("expected nil for unparseable clock, got %v", windows)
	}
}

func TestNormalizeClock(t *testing.T) {
	cases := map[string]string{
		"9:00":     "09:00",
		"09:00":    "09:00",
		"09:00:00": "09:00",
		"9:5":      "09:05",
		"23:59":    "23:59",
	}
	for in, want := range cases {
		got, err := NormalizeClock(in)
		if err != nil {
			t.Fatalf("NormalizeClock(%q) failed: %v", in, err)
		}
		if got != want {
			t.Fatalf("NormalizeClock(%q) = %q, want %q", in, got, want)
		}
	}
	for _, in := range []string{"", "24:00", "12:60", "noon", "12"} {
		if _, err := NormalizeClock(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}
