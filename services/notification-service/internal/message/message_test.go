package message

import (
	"strings"
	"testing"
)

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		cents    int64
		currency string
		want     string
	}{
		{150000, "BDT", "BDT 1500.00"},
		{5, "BDT", "BDT 0.05"},
		{0, "USD", "USD 0.00"},
		{-2550, "BDT", "BDT -25.50"},
	}
	for _, tc := range cases {
		if got := FormatAmount(tc.cents, tc.currency); got != tc.want {
			t.Errorf("FormatAmount(%d, %q) = %q, want %q", tc.cents, tc.currency, got, tc.want)
		}
	}
}

func TestPasscodeMessage(t *testing.T) {
	msg := Passcode("Anika", "482913", "2026-08-29T10:00:00Z")
	if !strings.Contains(msg.Body, "482913") {
		t.Fatalf("body missing code: %q", msg.Body)
	}
	if !strings.Contains(msg.Body, "Hello Anika,") {
		t.Fatalf("body missing greeting: %q", msg.Body)
	}
	if !strings.Contains(msg.SMS, "482913") {
		t.Fatalf("sms missing code: %q", msg.SMS)
	}
}

func TestGreetingFallsBackWithoutName(t *testing.T) {
	msg := Passcode("  ", "000000", "2026-08-29T10:00:00Z")
	if !strings.HasPrefix(msg.Body, "Hello,") {
		t.Fatalf("expected anonymous greeting, got %q", msg.Body)
	}
}

func TestBookingConfirmedMessage(t *testing.T) {
	msg := BookingConfirmed("Rafi", "2026-08-31", 3, "09:00", "10:00", 450000, "BDT")
	for _, want := range []string{"2026-08-31", "3 consecutive days", "09:00 - 10:00", "BDT 4500.00"} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q: %q", want, msg.Body)
		}
	}
}

func TestRefundMessage(t *testing.T) {
	msg := Refund("Rafi", 450000, "BDT", "2026-09-01T12:00:00Z")
	for _, want := range []string{"BDT 4500.00", "refunded", "2026-09-01T12:00:00Z"} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q: %q", want, msg.Body)
		}
	}
	if !strings.Contains(msg.SMS, "BDT 4500.00") {
		t.Fatalf("sms missing amount: %q", msg.SMS)
	}
}

func TestBookingCancelledOmitsEmptyReason(t *testing.T) {
	msg := BookingCancelled("Rafi", "2026-08-31", "09:00", "  ")
	if strings.Contains(msg.Body, "Reason:") {
		t.Fatalf("blank reason should be omitted: %q", msg.Body)
	}
	msg = BookingCancelled("Rafi", "2026-08-31", "09:00", "pool maintenance")
	if !strings.Contains(msg.Body, "Reason: pool maintenance") {
		t.Fatalf("reason missing: %q", msg.Body)
	}
}
