package slotwindow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arif-mahmud/poolbook/services/booking-service/internal/model"
)

// Window is one bookable interval of exactly the slot's duration. Windows
// are derived on demand and never persisted.
type Window struct {
	SlotID string
	Date   string // 2006-01-02
	Start  string // HH:MM, zero padded
	End    string // HH:MM, zero padded
}

// Generate subdivides a slot into duration-sized windows from its start
// clock up to its end clock, in chronological order. A trailing interval
// shorter than the duration is dropped. Holiday slots, zero-length slots
// and non-positive durations yield no windows.
func Generate(slot model.Slot) []Window {
	if slot.Holiday || slot.DurationMins <= 0 {
		return nil
	}
	start, err := ParseClock(slot.StartTime)
	if err != nil {
		return nil
	}
	end, err := ParseClock(slot.EndTime)
	if err != nil {
		return nil
	}
	if end <= start {
		return nil
	}

	var windows []Window
	for t := start; t+slot.DurationMins <= end; t += slot.DurationMins {
		windows = append(windows, Window{
			SlotID: slot.ID,
			Date:   slot.Date,
			Start:  FormatClock(t),
			End:    FormatClock(t + slot.DurationMins),
		})
	}
	return windows
}

// ParseClock parses a time-of-day string into minutes since midnight.
// Accepted forms: "H:MM", "HH:MM" and "HH:MM:SS" (seconds ignored); the
// upstream store is not consistent about padding.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	min, err := strconv.Atoi(parts[1])
	if err != nil || min < 0 || min > 59 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return hour*60 + min, nil
}

// FormatClock renders minutes since midnight as zero-padded HH:MM.
func FormatClock(mins int) string {
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}

// NormalizeClock maps any accepted clock form onto canonical HH:MM so that
// "9:00", "09:00" and "09:00:00" compare equal.
func NormalizeClock(s string) (string, error) {
	mins, err := ParseClock(s)
	if err != nil {
		return "", err
	}
	return FormatClock(mins), nil
}
