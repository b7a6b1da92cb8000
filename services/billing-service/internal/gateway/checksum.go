package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// The gateway authenticates requests and webhooks with a shared-secret checksum:
//
//	X-VERIFY = sha256(base64(payload) + endpoint + secret) + "###" + saltIndex
//
// The salt index names which configured secret was used, so secrets can rotate
// without a flag day.

// Checksum computes the X-VERIFY value for an already base64-encoded payload.
func Checksum(encodedPayload, endpoint, secret, saltIndex string) string {
	sum := sha256.Sum256([]byte(encodedPayload + endpoint + secret))
	return hex.EncodeToString(sum[:]) + "###" + saltIndex
}

// VerifyChecksum checks a received X-VERIFY header against the configured
// secrets, keyed by salt index.
func VerifyChecksum(header, encodedPayload, endpoint string, secrets map[string]string) bool {
	digest, saltIndex, ok := strings.Cut(header, "###")
	if !ok || digest == "" {
		return false
	}
	secret, ok := secrets[saltIndex]
	if !ok {
		return false
	}
	want := Checksum(encodedPayload, endpoint, secret, saltIndex)
	return subtle.ConstantTimeCompare([]byte(header), []byte(want)) == 1 && digest != ""
}

// EncodePayload wraps a JSON payload the way the gateway expects it on the wire.
func EncodePayload(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodePayload reverses EncodePayload.
func DecodePayload(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
}
