// gateway-webhook-sim sends a signed payment gateway webhook to a local
// stack, standing in for the real provider during development.
package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	var (
		baseURL   = flag.String("base-url", getenv("BASE_URL", "http://localhost:8080"), "gateway-service base url")
		evtType   = flag.String("type", getenv("EVENT_TYPE", "payment.captured"), "event type: payment.captured | payment.failed | refund.completed")
		orderID   = flag.String("order-id", getenv("ORDER_ID", ""), "merchant order id")
		amount    = flag.Int64("amount-cents", 450000, "amount in minor units")
		reason    = flag.String("reason", "insufficient funds", "failure reason for payment.failed")
		secret    = flag.String("secret", getenv("GATEWAY_WEBHOOK_SECRET", ""), "webhook signing secret")
		saltIndex = flag.String("salt-index", getenv("GATEWAY_SALT_INDEX", "1"), "salt index sent with the checksum")
		path      = flag.String("path", getenv("GATEWAY_WEBHOOK_PATH", "/api/v1/payments/webhook"), "webhook path used in the checksum")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("GATEWAY_WEBHOOK_SECRET is required")
	}
	if strings.TrimSpace(*orderID) == "" {
		fatal("ORDER_ID is required")
	}
	switch *evtType {
	case "payment.captured", "payment.failed", "refund.completed":
	default:
		fatal("unsupported event type: " + *evtType)
	}

	now := time.Now().UTC()
	event := map[string]any{
		"event_id":          fmt.Sprintf("evt_test_%d", now.UnixNano()),
		"type":              *evtType,
		"merchant_order_id": *orderID,
		"transaction_id":    fmt.Sprintf("txn_test_%d", now.UnixNano()),
		"amount_cents":      *amount,
		"occurred_at":       now.Format(time.RFC3339),
	}
	if *evtType == "payment.failed" {
		event["failure_reason"] = *reason
	}

	payload, err := json.Marshal(event)
	if err != nil {
		fatal(err.Error())
	}
	encoded := base64.StdEncoding.EncodeToString(payload)
	body, err := json.Marshal(map[string]string{"response": encoded})
	if err != nil {
		fatal(err.Error())
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+*path, bytes.NewReader(body))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-VERIFY", checksum(encoded, *path, *secret, *saltIndex))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	fmt.Printf("status=%d\n", resp.StatusCode)
}

// checksum mirrors the X-VERIFY scheme billing-service verifies:
// sha256(base64(payload) + endpoint + secret) + "###" + saltIndex.
func checksum(encodedPayload, endpoint, secret, saltIndex string) string {
	sum := sha256.Sum256([]byte(encodedPayload + endpoint + secret))
	return hex.EncodeToString(sum[:]) + "###" + saltIndex
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
