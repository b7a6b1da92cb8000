package availability

import (
	"time"

	"github.com/arif-mahmud/poolbook/services/booking-service/internal/model"
	"github.com/arif-mahmud/poolbook/services/booking-service/internal/slotwindow"
)

// DayWindow is a bookable window on a specific date with an availability flag.
type DayWindow struct {
	SlotID    string `json:"slot_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Available bool   `json:"available"`
}

// Booked identifies a taken window by date and normalized start clock.
type Booked struct {
	Date  string
	Start string
}

// MarkWindows generates the windows for a slot and flags each one unavailable when
// an active booking exists on the same date with the same start clock. Clock strings
// are normalized before comparison so "9:00" and "09:00:00" refer to the same window.
func MarkWindows(slot model.Slot, taken []Booked) []DayWindow {
	windows := slotwindow.Generate(slot)
	if len(windows) == 0 {
		return nil
	}

	busy := make(map[Booked]struct{}, len(taken))
	for _, b := range taken {
		start, err := slotwindow.NormalizeClock(b.Start)
		if err != nil {
			continue
		}
		busy[Booked{Date: b.Date, Start: start}] = struct{}{}
	}

	out := make([]DayWindow, 0, len(windows))
	for _, w := range windows {
		_, isTaken := busy[Booked{Date: w.Date, Start: w.Start}]
		out = append(out, DayWindow{
			SlotID:    w.SlotID,
			Date:      w.Date,
			StartTime: w.Start,
			EndTime:   w.End,
			Available: !isTaken,
		})
	}
	return out
}

// SpanWindow is a start clock that is open on every day of a multi-day span.
type SpanWindow struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// SpanDates returns the consecutive dates covered by a span of days starting at
// startDate (inclusive). startDate must be in YYYY-MM-DD form.
func SpanDates(startDate string, days int) ([]string, error) {
	t, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, err
	}
	dates := make([]string, 0, days)
	for i := 0; i < days; i++ {
		dates = append(dates, t.AddDate(0, 0, i).Format("2006-01-02"))
	}
	return dates, nil
}

// CommonWindows intersects per-day availability: a start clock qualifies only if a
// window with that clock exists and is available on every day of the span. Days with
// no windows at all (holidays, missing slot rows) empty the intersection.
func CommonWindows(perDay [][]DayWindow) []SpanWindow {
	if len(perDay) == 0 {
		return nil
	}

	type windowEnd struct {
		end   string
		count int
	}
	open := make(map[string]*windowEnd)
	for _, w := range perDay[0] {
		if w.Available {
			open[w.StartTime] = &windowEnd{end: w.EndTime, count: 1}
		}
	}
	for _, day := range perDay[1:] {
		for _, w := range day {
			if !w.Available {
				continue
			}
			if e, ok := open[w.StartTime]; ok {
				e.count++
			}
		}
	}

	var out []SpanWindow
	for _, w := range perDay[0] {
		e, ok := open[w.StartTime]
		if ok && e.count == len(perDay) {
			out = append(out, SpanWindow{StartTime: w.StartTime, EndTime: e.end})
		}
	}
	return out
}
