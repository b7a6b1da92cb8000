package model

import "testing"

func TestBlocks(t *testing.T) {
	blocking := []string{StatusPaymentPending, StatusBooked, StatusCompleted}
	for _, s := range blocking {
		if !Blocks(s) {
			t.Errorf("%s should block its window", s)
		}
	}
	for _, s := range []string{StatusCancelled, StatusRescheduled, StatusExpired, "unknown"} {
		if Blocks(s) {
			t.Errorf("%s should not block its window", s)
		}
	}
	if len(BlockingStatuses()) != len(blocking) {
		t.Fatalf("BlockingStatuses = %v", BlockingStatuses())
	}
}
