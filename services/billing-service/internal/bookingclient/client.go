package bookingclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client reads booking groups from booking-service over its internal HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type Booking struct {
	BookingID string `json:"booking_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Status    string `json:"status"`
}

type Group struct {
	GroupID     string    `json:"group_id"`
	Status      string    `json:"status"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Bookings    []Booking `json:"bookings"`
}

func (c *Client) GetGroup(ctx context.Context, groupID string) (Group, error) {
	u := c.baseURL + "/api/v1/booking-groups?group_id=" + url.QueryEscape(groupID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Group{}, err
	}
	// Internal service-to-service call; booking-service trusts the role header
	// behind the gateway boundary.
	req.Header.Set("X-Role", "admin")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Group{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Group{}, ErrGroupNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return Group{}, fmt.Errorf("booking-service returned %d", resp.StatusCode)
	}

	var g Group
	if err := json.NewDecoder(resp.Body).Decode(&g); err != nil {
		return Group{}, err
	}
	return g, nil
}

var ErrGroupNotFound = fmt.Errorf("booking group not found")
