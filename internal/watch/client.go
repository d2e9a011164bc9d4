package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/minsuk-ha/sentinel/internal/models"
)

// Client hands dispatched alerts to the hub's ingest gateway.
type Client struct {
	http       *resty.Client
	gatewayKey string
}

// NewClient builds a gateway client. gatewayKey may be empty when the hub
// runs with authentication disabled.
func NewClient(gatewayURL, gatewayKey string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(gatewayURL, "/")).
			SetTimeout(timeout),
		gatewayKey: gatewayKey,
	}
}

type alertReply struct {
	Accepted       bool   `json:"accepted"`
	IdempotencyKey string `json:"idempotency_key"`
	Error          string `json:"error"`
}

// SendAlert posts one alert to the gateway. The hub owns idempotency, so a
// retried handoff of the same observation is safe.
func (c *Client) SendAlert(ctx context.Context, alert models.Alert) error {
	var reply alertReply
	req := c.http.R().
		SetContext(ctx).
		SetBody(alert).
		SetResult(&reply)
	if c.gatewayKey != "" {
		req.SetHeader("x-sentinel-key", c.gatewayKey)
	}
	resp, err := req.Post("/alert")
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("gateway rejected alert: %d %s", resp.StatusCode(), resp.String())
	}
	if !reply.Accepted {
		return fmt.Errorf("gateway did not accept alert: %s", reply.Error)
	}
	return nil
}
