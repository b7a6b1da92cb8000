package gateway

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestChecksumRoundTrip(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{"order_id": "ord-1", "amount_cents": 450000})
	encoded := EncodePayload(raw)
	secrets := map[string]string{"1": "test-secret"}

	header := Checksum(encoded, "/pg/v1/pay", "test-secret", "1")
	if !strings.HasSuffix(header, "###1") {
		t.Fatalf("header missing salt index suffix: %s", header)
	}
	if !VerifyChecksum(header, encoded, "/pg/v1/pay", secrets) {
		t.Fatal("checksum should verify with matching secret")
	}
}

func TestVerifyChecksumRejects(t *testing.T) {
	raw := []byte(`{"order_id":"ord-1"}`)
	encoded := EncodePayload(raw)
	secrets := map[string]string{"1": "test-secret"}
	header := Checksum(encoded, "/pg/v1/pay", "test-secret", "1")

	if VerifyChecksum(header, encoded, "/pg/v1/status", secrets) {
		t.Fatal("checksum bound to a different endpoint should fail")
	}
	if VerifyChecksum(header, EncodePayload([]byte(`{"order_id":"ord-2"}`)), "/pg/v1/pay", secrets) {
		t.Fatal("tampered payload should fail")
	}
	if VerifyChecksum(header, encoded, "/pg/v1/pay", map[string]string{"1": "other-secret"}) {
		t.Fatal("wrong secret should fail")
	}
	if VerifyChecksum(Checksum(encoded, "/pg/v1/pay", "test-secret", "2"), encoded, "/pg/v1/pay", secrets) {
		t.Fatal("unknown salt index should fail")
	}
	if VerifyChecksum("no-separator", encoded, "/pg/v1/pay", secrets) {
		t.Fatal("malformed header should fail")
	}
}

func TestDecodePayload(t *testing.T) {
	raw := []byte(`{"ok":true}`)
	decoded, err := DecodePayload(EncodePayload(raw))
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if string(decoded) != string(raw) {
		t.Fatalf("got %s, want %s", decoded, raw)
	}
	if _, err := DecodePayload("!!not base64!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}
