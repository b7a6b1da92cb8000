package main

import (
	"log/slog"
	"testing"
)

func TestParseWebhookSecrets(t *testing.T) {
	logger := slog.Default()

	secrets := parseWebhookSecrets("1:alpha, 2:beta, ,bad-entry, 3:", logger)
	if len(secrets) != 2 {
		t.Fatalf("expected 2 secrets, got %d: %v", len(secrets), secrets)
	}
	if secrets["1"] != "alpha" || secrets["2"] != "beta" {
		t.Fatalf("unexpected secrets map: %v", secrets)
	}

	if got := parseWebhookSecrets("", logger); len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}
