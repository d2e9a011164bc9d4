package brokerage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/minsuk-ha/sentinel/internal/models"
)

// TokenSource hands out a valid access token. Satisfied by *TokenManager.
type TokenSource interface {
	Token(ctx context.Context) (models.AccessToken, error)
}

// FuturesClient polls the domestic futures quote endpoint. Unlike the public
// index feed it requires a Bearer token per request.
type FuturesClient struct {
	http   *resty.Client
	tokens TokenSource
	appKey string
	appSec string
}

// NewFuturesClient builds a futures quote client sharing the token manager.
func NewFuturesClient(baseURL, appKey, appSecret string, timeout time.Duration, tokens TokenSource) *FuturesClient {
	http := resty.New().
		SetBaseURL(strings.TrimRight(strings.TrimSpace(baseURL), "/")).
		SetTimeout(timeout)
	return &FuturesClient{
		http:   http,
		tokens: tokens,
		appKey: strings.TrimSpace(appKey),
		appSec: strings.TrimSpace(appSecret),
	}
}

type futuresResponse struct {
	Output struct {
		Price      string `json:"fut_prpr"`  // current price
		OpenPrice  string `json:"fut_oprc"`  // session open
		ChangeRate string `json:"prdy_ctrt"` // day-over-day percent, when present
	} `json:"output"`
}

// Quote fetches the current futures print for code (e.g. the front-month
// K200 contract). The percent change prefers the provider's own field and
// falls back to the move off the session open.
func (c *FuturesClient) Quote(ctx context.Context, code string) (models.Quote, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return models.Quote{}, fmt.Errorf("futures quote blocked: %w", err)
	}

	var body futuresResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("authorization", "Bearer "+tok.Value).
		SetHeader("appkey", c.appKey).
		SetHeader("appsecret", c.appSec).
		SetHeader("tr_id", "FHMIF10000000").
		SetQueryParams(map[string]string{
			"FID_COND_MRKT_DIV_CODE": "F",
			"FID_INPUT_ISCD":         code,
		}).
		SetResult(&body).
		Get("/uapi/domestic-futureoption/v1/quotations/inquire-price")
	if err != nil {
		return models.Quote{}, fmt.Errorf("futures quote failed: %w", err)
	}
	if resp.IsError() {
		return models.Quote{}, fmt.Errorf("futures quote rejected: %d %s", resp.StatusCode(), resp.String())
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(body.Output.Price), 64)
	if err != nil || price == 0 {
		return models.Quote{}, fmt.Errorf("futures quote missing price for %s", code)
	}
	q := models.Quote{
		Symbol:     code,
		Price:      price,
		MarketTime: time.Now(),
		Source:     "brokerage",
	}
	if rate, err := strconv.ParseFloat(strings.TrimSpace(body.Output.ChangeRate), 64); err == nil && body.Output.ChangeRate != "" {
		q.ChangePct = rate
		return q, nil
	}
	open, err := strconv.ParseFloat(strings.TrimSpace(body.Output.OpenPrice), 64)
	if err != nil || open == 0 {
		return models.Quote{}, fmt.Errorf("futures quote missing change rate and open for %s", code)
	}
	q.ChangePct = (price - open) / open * 100.0
	return q, nil
}
