package main

import "testing"

func TestSpanDates(t *testing.T) {
	dates, err := spanDates("2026-08-31", 3)
	if err != nil {
		t.Fatalf("spanDates: %v", err)
	}
	want := []string{"2026-08-31", "2026-09-01", "2026-09-02"}
	if len(dates) != len(want) {
		t.Fatalf("len = %d, want %d", len(dates), len(want))
	}
	for i := range want {
		if dates[i] != want[i] {
			t.Errorf("dates[%d] = %s, want %s", i, dates[i], want[i])
		}
	}

	if _, err := spanDates("31/08/2026", 3); err == nil {
		t.Fatal("malformed date accepted")
	}
}
