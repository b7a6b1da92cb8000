package storage

import (
	"regexp"
	"testing"
	"time"
)

func TestInvoiceNumberFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^INV-\d{8}-\d{6}$`)
	now := time.Date(2026, 8, 29, 15, 4, 5, 0, time.UTC)

	cases := []struct {
		seq  int64
		want string
	}{
		{1, "INV-20260829-000001"},
		{42, "INV-20260829-000042"},
		{999999, "INV-20260829-999999"},
		{1000000, "INV-20260829-000000"}, // counter wraps, width holds
		{1000001, "INV-20260829-000001"},
	}
	for _, tc := range cases {
		got := InvoiceNumber(now, tc.seq)
		if got != tc.want {
			t.Errorf("seq %d: got %q, want %q", tc.seq, got, tc.want)
		}
		if !pattern.MatchString(got) {
			t.Errorf("seq %d: %q does not match INV-YYYYMMDD-NNNNNN", tc.seq, got)
		}
	}
}

func TestInvoiceNumberUsesUTCDate(t *testing.T) {
	// 23:30 in Dhaka is still the previous UTC day.
	dhaka := time.FixedZone("BST", 6*3600)
	got := InvoiceNumber(time.Date(2026, 8, 30, 3, 30, 0, 0, dhaka), 7)
	if got != "INV-20260829-000007" {
		t.Fatalf("got %q, want the UTC date in the prefix", got)
	}
}
