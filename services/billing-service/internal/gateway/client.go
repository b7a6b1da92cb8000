package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	payEndpoint    = "/pg/v1/pay"
	statusEndpoint = "/pg/v1/status"
)

// Payment states the gateway reports.
const (
	StateCaptured = "captured"
	StatePending  = "pending"
	StateFailed   = "failed"
	StateRefunded = "refunded"
)

// Client talks to the hosted payment gateway. Every request body is the
// base64-encoded JSON payload wrapped in {"request": ...} with an X-VERIFY
// checksum header.
type Client struct {
	baseURL    string
	merchantID string
	secret     string
	saltIndex  string
	httpClient *http.Client
}

type Config struct {
	BaseURL    string
	MerchantID string
	Secret     string
	SaltIndex  string
	Timeout    time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.SaltIndex == "" {
		cfg.SaltIndex = "1"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		merchantID: cfg.MerchantID,
		secret:     cfg.Secret,
		saltIndex:  cfg.SaltIndex,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Enabled() bool {
	return c.baseURL != "" && c.secret != ""
}

type PayRequest struct {
	MerchantID      string `json:"merchant_id"`
	OrderID         string `json:"merchant_order_id"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
	CustomerEmail   string `json:"customer_email,omitempty"`
	CustomerPhone   string `json:"customer_phone,omitempty"`
	RedirectURL     string `json:"redirect_url"`
	CallbackURL     string `json:"callback_url"`
}

type PayResponse struct {
	ProviderOrderID string `json:"provider_order_id"`
	PayPageURL      string `json:"pay_page_url"`
	State           string `json:"state"`
}

// CreateOrder registers the order with the gateway and returns the hosted pay
// page the customer should be redirected to.
func (c *Client) CreateOrder(ctx context.Context, req PayRequest) (PayResponse, error) {
	req.MerchantID = c.merchantID
	var resp PayResponse
	if err := c.post(ctx, payEndpoint, req, &resp); err != nil {
		return PayResponse{}, err
	}
	return resp, nil
}

type StatusResponse struct {
	ProviderOrderID string `json:"provider_order_id"`
	OrderID         string `json:"merchant_order_id"`
	State           string `json:"state"`
	AmountCents     int64  `json:"amount_cents"`
	TransactionID   string `json:"transaction_id,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
}

// Status fetches the authoritative state of an order from the gateway.
func (c *Client) Status(ctx context.Context, orderID string) (StatusResponse, error) {
	var resp StatusResponse
	err := c.post(ctx, statusEndpoint, map[string]string{
		"merchant_id":       c.merchantID,
		"merchant_order_id": orderID,
	}, &resp)
	if err != nil {
		return StatusResponse{}, err
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	encoded := EncodePayload(raw)

	body, err := json.Marshal(map[string]string{"request": encoded})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-VERIFY", Checksum(encoded, endpoint, c.secret, c.saltIndex))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway %s returned %d: %s", endpoint, resp.StatusCode, respBody)
	}
	return json.Unmarshal(respBody, out)
}
