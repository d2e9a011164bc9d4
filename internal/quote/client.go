// Package quote fetches index and volatility quotes from a Yahoo-style
// quote endpoint.
package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/minsuk-ha/sentinel/internal/logger"
	"github.com/minsuk-ha/sentinel/internal/models"
)

// ErrNoQuote is returned when the provider answered but carried no usable
// quote for the requested symbol.
var ErrNoQuote = errors.New("no usable quote for symbol")

// ClientConfig tunes the provider HTTP client.
type ClientConfig struct {
	MaxRetries     int
	RetryDelayBase time.Duration
}

// Client calls the v7 finance quote endpoint.
type Client struct {
	http           *resty.Client
	maxRetries     int
	retryDelayBase time.Duration
}

// quoteResponse mirrors the provider's v7 wire format.
type quoteResponse struct {
	QuoteResponse struct {
		Result []wireQuote `json:"result"`
	} `json:"quoteResponse"`
}

type wireQuote struct {
	Symbol                     string   `json:"symbol"`
	RegularMarketPrice         *float64 `json:"regularMarketPrice"`
	RegularMarketPreviousClose *float64 `json:"regularMarketPreviousClose"`
	RegularMarketChangePercent *float64 `json:"regularMarketChangePercent"`
	RegularMarketTime          int64    `json:"regularMarketTime"` // unix seconds
}

// NewClient builds a quote client against baseURL.
func NewClient(baseURL string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	http := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "Mozilla/5.0 (compatible; sentinel-watch/1.0)")
	return &Client{
		http:           http,
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
	}
}

// Quote fetches the current quote for one symbol. Transient provider errors
// (429 and 5xx) are retried with linear backoff up to the configured cap.
func (c *Client) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	var body quoteResponse
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("symbols", symbol).
			SetResult(&body).
			Get("/v7/finance/quote")
		if err != nil {
			lastErr = err
		} else if resp.StatusCode() == 429 || resp.StatusCode() >= 500 {
			lastErr = fmt.Errorf("provider error: %d", resp.StatusCode())
		} else if resp.IsError() {
			return models.Quote{}, fmt.Errorf("quote request rejected: %d", resp.StatusCode())
		} else {
			return extract(symbol, body)
		}
		logger.Debug("quote fetch %s attempt %d/%d failed: %v", symbol, i+1, c.maxRetries, lastErr)
		select {
		case <-ctx.Done():
			return models.Quote{}, ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return models.Quote{}, fmt.Errorf("quote fetch failed after %d retries: %w", c.maxRetries, lastErr)
}

// Delta tries each symbol of a fallback chain in order and returns the first
// usable quote.
func (c *Client) Delta(ctx context.Context, symbols []string) (models.Quote, error) {
	var lastErr error
	for _, sym := range symbols {
		q, err := c.Quote(ctx, sym)
		if err == nil {
			return q, nil
		}
		lastErr = err
		logger.Debug("fallback: symbol %s unusable: %v", sym, err)
	}
	if lastErr == nil {
		lastErr = ErrNoQuote
	}
	return models.Quote{}, fmt.Errorf("all symbols failed: %w", lastErr)
}

// extract pulls a percent change out of the wire quote, preferring the
// provider-computed field and falling back to (price-prevClose)/prevClose.
func extract(symbol string, body quoteResponse) (models.Quote, error) {
	for _, w := range body.QuoteResponse.Result {
		if w.Symbol != symbol {
			continue
		}
		q := models.Quote{Symbol: symbol, Source: "quote-api"}
		if w.RegularMarketTime > 0 {
			q.MarketTime = time.Unix(w.RegularMarketTime, 0)
		}
		if w.RegularMarketPrice != nil {
			q.Price = *w.RegularMarketPrice
		}
		switch {
		case w.RegularMarketChangePercent != nil:
			q.ChangePct = *w.RegularMarketChangePercent
		case w.RegularMarketPrice != nil && w.RegularMarketPreviousClose != nil && *w.RegularMarketPreviousClose != 0:
			q.ChangePct = (*w.RegularMarketPrice - *w.RegularMarketPreviousClose) / *w.RegularMarketPreviousClose * 100.0
		default:
			return models.Quote{}, ErrNoQuote
		}
		return q, nil
	}
	return models.Quote{}, ErrNoQuote
}
